package dialect

import (
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// geminiFinishReasonToOpenAI maps Gemini's finishReason enum to the OpenAI
// chat-completions finish_reason strings clients expect.
func geminiFinishReasonToOpenAI(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}

// GeminiContentsToOpenAIChat translates a Gemini generateContent response
// body back into an OpenAI chat-completion object, the mirror of
// OpenAIChatToGeminiContents on the way out. A candidate carrying
// functionCall parts becomes a tool_calls choice; anything else falls back
// to a plain text choice.
func GeminiContentsToOpenAIChat(body []byte, model string) ([]byte, error) {
	if geminiHasFunctionCalls(body) {
		return finishOpenAIChatEnvelope(geminiFunctionCallsToOpenAIChat(body), model)
	}

	text := gjson.GetBytes(body, "candidates.0.content.parts.0.text").String()
	finishReason := geminiFinishReasonToOpenAI(gjson.GetBytes(body, "candidates.0.finishReason").String())

	out := []byte(`{"choices":[{"index":0,"message":{"role":"assistant"},"finish_reason":""}]}`)
	var err error
	out, err = sjson.SetBytes(out, "choices.0.message.content", text)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "choices.0.finish_reason", finishReason)
	if err != nil {
		return nil, err
	}

	if usageMeta := gjson.GetBytes(body, "usageMetadata"); usageMeta.Exists() {
		openAIUsage := `{}`
		openAIUsage, _ = sjson.Set(openAIUsage, "prompt_tokens", usageMeta.Get("promptTokenCount").Int())
		openAIUsage, _ = sjson.Set(openAIUsage, "completion_tokens", usageMeta.Get("candidatesTokenCount").Int())
		openAIUsage, _ = sjson.Set(openAIUsage, "total_tokens", usageMeta.Get("totalTokenCount").Int())
		out, err = sjson.SetRawBytes(out, "usage", []byte(openAIUsage))
		if err != nil {
			return nil, err
		}
	}

	return finishOpenAIChatEnvelope(out, model)
}

// finishOpenAIChatEnvelope stamps the id/object/created/model fields the
// converter helpers above leave unset.
func finishOpenAIChatEnvelope(out []byte, model string) ([]byte, error) {
	var err error
	out, err = sjson.SetBytes(out, "id", "chatcmpl-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "object", "chat.completion")
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "model", model)
	if err != nil {
		return nil, err
	}
	return out, nil
}
