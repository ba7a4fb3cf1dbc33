package dialect

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestThinkingTokensPerProvider(t *testing.T) {
	p := NewThinkingParser(ThinkingConfig{Enabled: true})

	claude := []byte(`{"usage":{"input_tokens":10,"output_tokens":20,"thinking_tokens":7}}`)
	if got := p.ThinkingTokens(claude, ThinkingClaude); got != 7 {
		t.Fatalf("claude thinking tokens = %d, want 7", got)
	}

	gemini := []byte(`{"usageMetadata":{"promptTokenCount":10,"thinkingTokenCount":5}}`)
	if got := p.ThinkingTokens(gemini, ThinkingGemini); got != 5 {
		t.Fatalf("gemini thinking tokens = %d, want 5", got)
	}

	geminiAlt := []byte(`{"usageMetadata":{"thoughtsTokenCount":3}}`)
	if got := p.ThinkingTokens(geminiAlt, ThinkingGemini); got != 3 {
		t.Fatalf("gemini thoughtsTokenCount fallback = %d, want 3", got)
	}
}

func TestStripThinkingRemovesClaudeBlocks(t *testing.T) {
	p := NewThinkingParser(ThinkingConfig{Enabled: true, ShowToClient: false})
	body := []byte(`{"content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"answer"}]}`)
	out := p.StripThinking(body, ThinkingClaude)

	content := gjson.GetBytes(out, "content")
	if len(content.Array()) != 1 || content.Array()[0].Get("type").String() != "text" {
		t.Fatalf("thinking block not stripped: %s", out)
	}
}

func TestStripThinkingRemovesGeminiThoughtParts(t *testing.T) {
	p := NewThinkingParser(ThinkingConfig{Enabled: true})
	body := []byte(`{"candidates":[{"content":{"parts":[{"thought":true,"text":"planning"},{"text":"answer"}]}}]}`)
	out := p.StripThinking(body, ThinkingGemini)

	parts := gjson.GetBytes(out, "candidates.0.content.parts")
	if len(parts.Array()) != 1 || parts.Array()[0].Get("text").String() != "answer" {
		t.Fatalf("thought part not stripped: %s", out)
	}
}

func TestStripThinkingNoOpWhenShownToClient(t *testing.T) {
	p := NewThinkingParser(ThinkingConfig{Enabled: true, ShowToClient: true})
	body := []byte(`{"content":[{"type":"thinking","thinking":"hmm"}]}`)
	if got := string(p.StripThinking(body, ThinkingClaude)); got != string(body) {
		t.Fatalf("expected pass-through when ShowToClient is set")
	}
}

func TestStripThinkingNoOpWhenDisabled(t *testing.T) {
	p := NewThinkingParser(ThinkingConfig{})
	body := []byte(`{"content":[{"type":"thinking","thinking":"hmm"}]}`)
	if got := string(p.StripThinking(body, ThinkingClaude)); got != string(body) {
		t.Fatalf("expected pass-through when disabled")
	}
}
