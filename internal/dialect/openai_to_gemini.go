package dialect

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	defaultTemperature     = 0.7
	defaultMaxOutputTokens = 4096
	defaultTopP            = 0.95
	defaultTopK            = 40
)

// OpenAIChatToGeminiContents translates an OpenAI chat-completions request
// body into a Gemini generateContent body: messages[] becomes contents[]
// with role renamed (assistant -> model, everything else kept),
// and the sampling parameters move under generationConfig with their Gemini
// names, falling back to Gemini's own defaults when absent upstream.
func OpenAIChatToGeminiContents(body []byte) ([]byte, error) {
	out := []byte(`{}`)

	messages := gjson.GetBytes(body, "messages")
	var err error
	messages.ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		if role == "assistant" {
			role = "model"
		}
		content := msg.Get("content").String()

		entry := []byte(`{"parts":[{}]}`)
		entry, err = sjson.SetBytes(entry, "role", role)
		if err != nil {
			return false
		}
		entry, err = sjson.SetBytes(entry, "parts.0.text", content)
		if err != nil {
			return false
		}
		out, err = sjson.SetRawBytes(out, "contents.-1", entry)
		return err == nil
	})
	if err != nil {
		return nil, err
	}

	temperature := defaultTemperature
	if v := gjson.GetBytes(body, "temperature"); v.Exists() {
		temperature = v.Float()
	}
	maxTokens := defaultMaxOutputTokens
	if v := gjson.GetBytes(body, "max_tokens"); v.Exists() {
		maxTokens = int(v.Int())
	}
	topP := defaultTopP
	if v := gjson.GetBytes(body, "top_p"); v.Exists() {
		topP = v.Float()
	}
	topK := defaultTopK
	if v := gjson.GetBytes(body, "top_k"); v.Exists() {
		topK = int(v.Int())
	}

	out, err = sjson.SetBytes(out, "generationConfig.temperature", temperature)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "generationConfig.maxOutputTokens", maxTokens)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "generationConfig.topP", topP)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "generationConfig.topK", topK)
	if err != nil {
		return nil, err
	}

	if rawTools := gjson.GetBytes(body, "tools"); rawTools.Exists() && rawTools.IsArray() {
		out, err = sjson.SetRawBytes(out, "tools", openAIToolsToGemini([]byte(rawTools.Raw)))
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}
