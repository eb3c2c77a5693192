package bdd

import (
	"fmt"
	"strings"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		c := &conversationSteps{s: s}
		ctx.Step(`^I have a direct conversation with "([^"]*)"$`, c.iHaveADirectConversationWith)
		ctx.Step(`^I have a group conversation "([^"]*)" with "([^"]*)"$`, c.iHaveAGroupConversationWith)
	})
}

type conversationSteps struct {
	s *cucumber.TestScenario
}

// iHaveADirectConversationWith resolves the direct conversation with the
// named user and stores its id as ${conversationId}.
func (c *conversationSteps) iHaveADirectConversationWith(name string) error {
	body := fmt.Sprintf(`{"userId": "${%sId}"}`, name)
	err := c.s.SendHTTPRequestWithJSONBody("POST", "/v1/conversations/direct", &godog.DocString{Content: body})
	if err != nil {
		return err
	}
	return c.captureConversationID()
}

// iHaveAGroupConversationWith creates a group that includes the current user
// and the comma-separated member names, and stores its id as ${conversationId}.
func (c *conversationSteps) iHaveAGroupConversationWith(groupName, members string) error {
	memberIDs := ""
	for i, name := range splitNames(members) {
		if i > 0 {
			memberIDs += ", "
		}
		memberIDs += fmt.Sprintf(`"${%sId}"`, name)
	}
	body := fmt.Sprintf(`{"name": %q, "memberIds": [%s]}`, groupName, memberIDs)
	err := c.s.SendHTTPRequestWithJSONBody("POST", "/v1/conversations", &godog.DocString{Content: body})
	if err != nil {
		return err
	}
	return c.captureConversationID()
}

func (c *conversationSteps) captureConversationID() error {
	session := c.s.Session()
	if session.Resp == nil || (session.Resp.StatusCode != 200 && session.Resp.StatusCode != 201) {
		return fmt.Errorf("conversation setup failed with status %d: %s", session.Resp.StatusCode, string(session.RespBytes))
	}
	respJSON, err := session.RespJSON()
	if err != nil {
		return err
	}
	m, ok := respJSON.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected conversation response: %s", string(session.RespBytes))
	}
	id, _ := m["id"].(string)
	if id == "" {
		return fmt.Errorf("conversation response has no id: %s", string(session.RespBytes))
	}
	c.s.Variables["conversationId"] = id
	return nil
}

func splitNames(names string) []string {
	var out []string
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
