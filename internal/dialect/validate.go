package dialect

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

// Inbound schema validation leans on the provider SDKs' own request types:
// unmarshalling an inbound body into them catches gross malformation (wrong
// JSON types on known fields) before the gjson/sjson transforms run. The
// hot path never round-trips through these structs.

// ValidateAnthropicBody checks the top-level body against the
// anthropic-sdk-go Message shape and every tools[] entry against ToolParam.
func ValidateAnthropicBody(body []byte) error {
	var msg anthropic.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("dialect: anthropic request failed schema validation: %w", err)
	}
	return validateAnthropicTools(body)
}

func validateAnthropicTools(body []byte) error {
	tools := gjson.GetBytes(body, "tools")
	if !tools.IsArray() {
		return nil
	}
	var outerErr error
	tools.ForEach(func(_, tool gjson.Result) bool {
		var param anthropic.ToolParam
		if err := json.Unmarshal([]byte(tool.Raw), &param); err != nil {
			outerErr = fmt.Errorf("dialect: anthropic tool definition failed schema validation: %w", err)
			return false
		}
		// ToolParam's decoder accepts a non-string name without error, so
		// the type of name is checked here directly.
		if name := tool.Get("name"); name.Exists() && name.Type != gjson.String {
			outerErr = fmt.Errorf("dialect: anthropic tool definition failed schema validation: name must be a string")
			return false
		}
		return true
	})
	return outerErr
}

// ValidateOpenAIChatBody checks the body against go-openai's
// ChatCompletionRequest, which matches the inbound shape (model, messages,
// tools, stream) directly.
func ValidateOpenAIChatBody(body []byte) error {
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("dialect: openai chat request failed schema validation: %w", err)
	}
	return nil
}
