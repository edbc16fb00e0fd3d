package tools

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

type RunJSInput struct {
	Code string `json:"code" jsonschema_description:"JavaScript to execute in the chat page. It runs inside an async function, so await is allowed."`
}

var RunJSInputSchema = GenerateSchema[RunJSInput]()

// RunJS is executed by the browser. The round hands the code to the page
// and waits for the page to post the result back.
type RunJS struct{}

func NewRunJS() *RunJS { return &RunJS{} }

func (r *RunJS) Name() string { return "run_js" }
func (r *RunJS) Description() string {
	return "Execute JavaScript in the user's browser. Use it to build or update UI inside the current bubble, draw on canvases, or compute values. The return value of the last expression is sent back as the result."
}
func (r *RunJS) Parameters() json.RawMessage { return RunJSInputSchema }

// Payload returns the code the browser must run.
func (r *RunJS) Payload(args json.RawMessage) (string, error) {
	code := gjson.GetBytes(args, "code")
	if !code.Exists() || code.Type != gjson.String {
		return "", errors.New("code is required")
	}
	return code.String(), nil
}
