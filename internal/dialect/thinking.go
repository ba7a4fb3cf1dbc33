package dialect

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Extended-thinking handling for the two dialects that carry it on the
// wire: Anthropic messages interleave {"type":"thinking"} content blocks
// and meter them in usage.thinking_tokens; Gemini marks parts with
// "thought": true and meters usageMetadata.thinkingTokenCount.

// ThinkingProvider selects which wire shape the parser reads.
type ThinkingProvider string

const (
	ThinkingClaude ThinkingProvider = "claude"
	ThinkingGemini ThinkingProvider = "gemini"
)

// ThinkingConfig controls whether thinking blocks are stripped from
// responses before they reach the client. Token extraction always runs;
// the gateway meters thinking tokens regardless of whether clients see
// the content.
type ThinkingConfig struct {
	Enabled      bool `yaml:"enabled" json:"enabled"`
	ShowToClient bool `yaml:"show-to-client" json:"show_to_client"`
}

// ThinkingParser reads and optionally strips thinking content.
type ThinkingParser struct {
	cfg ThinkingConfig
}

func NewThinkingParser(cfg ThinkingConfig) *ThinkingParser {
	return &ThinkingParser{cfg: cfg}
}

// ThinkingTokens returns the thinking-token count the provider metered in
// the response, 0 when absent.
func (p *ThinkingParser) ThinkingTokens(body []byte, provider ThinkingProvider) int64 {
	switch provider {
	case ThinkingClaude:
		return gjson.GetBytes(body, "usage.thinking_tokens").Int()
	case ThinkingGemini:
		if n := gjson.GetBytes(body, "usageMetadata.thinkingTokenCount").Int(); n > 0 {
			return n
		}
		return gjson.GetBytes(body, "usageMetadata.thoughtsTokenCount").Int()
	default:
		return 0
	}
}

// StripThinking removes thinking content from a non-streaming response
// body. It is a no-op unless thinking handling is enabled and the config
// hides thinking from clients.
func (p *ThinkingParser) StripThinking(body []byte, provider ThinkingProvider) []byte {
	if !p.cfg.Enabled || p.cfg.ShowToClient {
		return body
	}
	switch provider {
	case ThinkingClaude:
		return stripClaudeThinkingBlocks(body)
	case ThinkingGemini:
		return stripGeminiThoughtParts(body)
	default:
		return body
	}
}

func stripClaudeThinkingBlocks(body []byte) []byte {
	content := gjson.GetBytes(body, "content")
	if !content.IsArray() {
		return body
	}
	kept := []byte(`[]`)
	changed := false
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "thinking", "redacted_thinking":
			changed = true
		default:
			kept, _ = sjson.SetRawBytes(kept, "-1", []byte(block.Raw))
		}
		return true
	})
	if !changed {
		return body
	}
	out, err := sjson.SetRawBytes(body, "content", kept)
	if err != nil {
		return body
	}
	return out
}

func stripGeminiThoughtParts(body []byte) []byte {
	parts := gjson.GetBytes(body, "candidates.0.content.parts")
	if !parts.IsArray() {
		return body
	}
	kept := []byte(`[]`)
	changed := false
	parts.ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			changed = true
			return true
		}
		kept, _ = sjson.SetRawBytes(kept, "-1", []byte(part.Raw))
		return true
	})
	if !changed {
		return body
	}
	out, err := sjson.SetRawBytes(body, "candidates.0.content.parts", kept)
	if err != nil {
		return body
	}
	return out
}
