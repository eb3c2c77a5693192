package bdd

import (
	"fmt"
	"math/rand"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &authSteps{s: s}
		ctx.Step(`^user "([^"]*)" is registered$`, a.userIsRegistered)
		ctx.Step(`^users "([^"]*)" and "([^"]*)" are registered$`, a.usersAreRegistered)
		ctx.Step(`^I am authenticated as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^I authenticate as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^I am not authenticated$`, a.iAmNotAuthenticated)
	})
}

type authSteps struct {
	s *cucumber.TestScenario
}

// userIsRegistered creates the account through the public registration
// endpoint and stores its id as ${<name>Id} and phone as ${<name>Phone}.
// In testing mode the bearer token is the user id, so the captured id doubles
// as the credential.
func (a *authSteps) userIsRegistered(name string) error {
	a.s.Suite.Mu.Lock()
	_, exists := a.s.Users[name]
	a.s.Suite.Mu.Unlock()
	if exists {
		return nil
	}

	phone := fmt.Sprintf("+1555%07d", rand.Intn(10000000))
	body := fmt.Sprintf(`{"name": %q, "email": "%s@example.com", "phoneNumber": %q}`, name, name, phone)

	savedUser := a.s.CurrentUser
	a.s.CurrentUser = name
	err := a.s.SendHTTPRequestWithJSONBody("POST", "/v1/users", &godog.DocString{Content: body})
	if err != nil {
		a.s.CurrentUser = savedUser
		return err
	}
	session := a.s.Session()
	if session.Resp == nil || session.Resp.StatusCode != 201 {
		a.s.CurrentUser = savedUser
		return fmt.Errorf("registration of %q failed with status %d: %s", name, session.Resp.StatusCode, string(session.RespBytes))
	}
	respJSON, err := session.RespJSON()
	if err != nil {
		a.s.CurrentUser = savedUser
		return err
	}
	m, ok := respJSON.(map[string]interface{})
	if !ok {
		a.s.CurrentUser = savedUser
		return fmt.Errorf("unexpected registration response: %s", string(session.RespBytes))
	}
	id, _ := m["id"].(string)
	if id == "" {
		a.s.CurrentUser = savedUser
		return fmt.Errorf("registration response has no id: %s", string(session.RespBytes))
	}

	a.s.Suite.Mu.Lock()
	a.s.Users[name] = &cucumber.TestUser{Name: name, Subject: id}
	a.s.Suite.Mu.Unlock()
	session.TestUser = a.s.Users[name]
	a.s.Variables[name+"Id"] = id
	a.s.Variables[name+"Phone"] = phone
	a.s.CurrentUser = savedUser
	return nil
}

func (a *authSteps) usersAreRegistered(name1, name2 string) error {
	if err := a.userIsRegistered(name1); err != nil {
		return err
	}
	return a.userIsRegistered(name2)
}

func (a *authSteps) iAmAuthenticatedAsUser(name string) error {
	if err := a.userIsRegistered(name); err != nil {
		return err
	}
	a.s.CurrentUser = name
	return nil
}

func (a *authSteps) iAmNotAuthenticated() error {
	a.s.CurrentUser = ""
	return nil
}
