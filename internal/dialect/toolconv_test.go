package dialect

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestOpenAIToolsToGeminiDeclarations(t *testing.T) {
	in := []byte(`[{"type":"function","function":{"name":"get_weather","description":"look up weather","parameters":{"type":"object","properties":{"city":{"type":"string"}}}}}]`)
	out := openAIToolsToGemini(in)

	decls := gjson.GetBytes(out, "0.functionDeclarations")
	if !decls.IsArray() || len(decls.Array()) != 1 {
		t.Fatalf("expected one functionDeclaration, got %s", out)
	}
	fn := decls.Array()[0]
	if fn.Get("name").String() != "get_weather" {
		t.Fatalf("name = %q", fn.Get("name").String())
	}
	if fn.Get("parameters.properties.city.type").String() != "string" {
		t.Fatalf("parameters not carried over: %s", fn.Raw)
	}
}

func TestOpenAIToolsToGeminiSkipsNonFunctionEntries(t *testing.T) {
	in := []byte(`[{"type":"web_search"},{"type":"function","function":{"name":"f"}}]`)
	out := openAIToolsToGemini(in)
	if n := len(gjson.GetBytes(out, "0.functionDeclarations").Array()); n != 1 {
		t.Fatalf("expected 1 declaration, got %d", n)
	}
}

func TestGeminiFunctionCallsToOpenAIChat(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Tokyo"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":4,"totalTokenCount":14}}`)
	if !geminiHasFunctionCalls(body) {
		t.Fatalf("geminiHasFunctionCalls = false, want true")
	}
	out := geminiFunctionCallsToOpenAIChat(body)

	if got := gjson.GetBytes(out, "choices.0.finish_reason").String(); got != "tool_calls" {
		t.Fatalf("finish_reason = %q", got)
	}
	call := gjson.GetBytes(out, "choices.0.message.tool_calls.0")
	if call.Get("function.name").String() != "get_weather" {
		t.Fatalf("tool call name = %q", call.Get("function.name").String())
	}
	args := call.Get("function.arguments").String()
	if gjson.Get(args, "city").String() != "Tokyo" {
		t.Fatalf("arguments not re-serialized as JSON string: %q", args)
	}
	if gjson.GetBytes(out, "usage.total_tokens").Int() != 14 {
		t.Fatalf("usage not carried: %s", gjson.GetBytes(out, "usage").Raw)
	}
}

func TestGeminiHasFunctionCallsFalseForTextOnly(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)
	if geminiHasFunctionCalls(body) {
		t.Fatalf("text-only candidate reported as tool call")
	}
}
