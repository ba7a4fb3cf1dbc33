package dispatch

import (
	"bytes"
	"io"

	"github.com/tidwall/gjson"
)

func newBodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}

// extractNonStreamUsage pulls prompt/completion token counts out of a
// non-streaming response body, recognizing both the OpenAI/Anthropic
// "usage.{prompt,completion}_tokens" shape and Gemini's
// "usageMetadata.{prompt,candidates}TokenCount" shape.
func extractNonStreamUsage(body []byte) (input, output int64) {
	if !gjson.ValidBytes(body) {
		return 0, 0
	}
	if u := gjson.GetBytes(body, "usage"); u.Exists() {
		input = u.Get("prompt_tokens").Int()
		output = u.Get("completion_tokens").Int()
		if input == 0 {
			input = u.Get("input_tokens").Int()
		}
		if output == 0 {
			output = u.Get("output_tokens").Int()
		}
		return input, output
	}
	if u := gjson.GetBytes(body, "usageMetadata"); u.Exists() {
		return u.Get("promptTokenCount").Int(), u.Get("candidatesTokenCount").Int()
	}
	return 0, 0
}
