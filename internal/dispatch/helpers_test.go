package dispatch

import "testing"

func TestExtractNonStreamUsageOpenAIShape(t *testing.T) {
	body := []byte(`{"usage":{"prompt_tokens":12,"completion_tokens":34}}`)
	input, output := extractNonStreamUsage(body)
	if input != 12 || output != 34 {
		t.Fatalf("got input=%d output=%d, want 12/34", input, output)
	}
}

func TestExtractNonStreamUsageResponsesShape(t *testing.T) {
	body := []byte(`{"usage":{"input_tokens":5,"output_tokens":7}}`)
	input, output := extractNonStreamUsage(body)
	if input != 5 || output != 7 {
		t.Fatalf("got input=%d output=%d, want 5/7", input, output)
	}
}

func TestExtractNonStreamUsageGeminiShape(t *testing.T) {
	body := []byte(`{"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":9}}`)
	input, output := extractNonStreamUsage(body)
	if input != 3 || output != 9 {
		t.Fatalf("got input=%d output=%d, want 3/9", input, output)
	}
}

func TestExtractNonStreamUsageInvalidJSON(t *testing.T) {
	input, output := extractNonStreamUsage([]byte("not json"))
	if input != 0 || output != 0 {
		t.Fatalf("got input=%d output=%d, want 0/0 for invalid JSON", input, output)
	}
}

func TestExtractNonStreamUsageNoUsageField(t *testing.T) {
	input, output := extractNonStreamUsage([]byte(`{"foo":"bar"}`))
	if input != 0 || output != 0 {
		t.Fatalf("got input=%d output=%d, want 0/0 when no usage field present", input, output)
	}
}

func TestNewBodyReaderNilBody(t *testing.T) {
	if r := newBodyReader(nil); r != nil {
		t.Fatalf("expected nil reader for nil body, got %v", r)
	}
}

func TestRebaseURLSwapsHostKeepsPathAndQuery(t *testing.T) {
	got := rebaseURL("https://api.openai.com/v1/chat/completions?alt=sse", "https://my-proxy.example.com")
	want := "https://my-proxy.example.com/v1/chat/completions?alt=sse"
	if got != want {
		t.Fatalf("rebaseURL = %q, want %q", got, want)
	}
}

func TestRebaseURLTrimsTrailingSlash(t *testing.T) {
	got := rebaseURL("https://api.anthropic.com/v1/messages", "https://relay.internal/")
	want := "https://relay.internal/v1/messages"
	if got != want {
		t.Fatalf("rebaseURL = %q, want %q", got, want)
	}
}
