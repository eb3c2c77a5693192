package bdd

import (
	"fmt"
	"strings"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		m := &messageSteps{s: s}
		ctx.Step(`^I send "([^"]*)" to the conversation$`, m.iSendToTheConversation)
		ctx.Step(`^I send (\d+) messages "([^"]*)" to the conversation$`, m.iSendMessagesToTheConversation)
	})
}

type messageSteps struct {
	s *cucumber.TestScenario
}

// iSendToTheConversation posts a text message to ${conversationId} and stores
// the created message id as ${messageId}.
func (m *messageSteps) iSendToTheConversation(content string) error {
	body := fmt.Sprintf(`{"conversationId": "${conversationId}", "content": %q}`, content)
	err := m.s.SendHTTPRequestWithJSONBody("POST", "/v1/messages", &godog.DocString{Content: body})
	if err != nil {
		return err
	}
	session := m.s.Session()
	if session.Resp == nil || session.Resp.StatusCode != 201 {
		return fmt.Errorf("send failed with status %d: %s", session.Resp.StatusCode, string(session.RespBytes))
	}
	respJSON, err := session.RespJSON()
	if err != nil {
		return err
	}
	if msg, ok := respJSON.(map[string]interface{}); ok {
		if id, ok := msg["id"].(string); ok {
			m.s.Variables["messageId"] = id
		}
	}
	return nil
}

// iSendMessagesToTheConversation seeds a conversation for pagination
// scenarios. The %d in the content template is replaced with the 1-based
// message number, and each message id is stored as ${messageId<n>}.
func (m *messageSteps) iSendMessagesToTheConversation(count int, contentTemplate string) error {
	for i := 1; i <= count; i++ {
		content := contentTemplate
		if strings.Contains(contentTemplate, "%d") {
			content = fmt.Sprintf(contentTemplate, i)
		}
		if err := m.iSendToTheConversation(content); err != nil {
			return fmt.Errorf("sending message %d: %w", i, err)
		}
		m.s.Variables[fmt.Sprintf("messageId%d", i)] = m.s.Variables["messageId"]
	}
	return nil
}
