package dialect

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestOpenAIChatToGeminiContentsRoleRenameAndDefaults(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`)
	out, err := OpenAIChatToGeminiContents(body)
	if err != nil {
		t.Fatalf("OpenAIChatToGeminiContents: %v", err)
	}
	if role := gjson.GetBytes(out, "contents.1.role").String(); role != "model" {
		t.Fatalf("assistant role = %q, want model", role)
	}
	if temp := gjson.GetBytes(out, "generationConfig.temperature").Float(); temp != defaultTemperature {
		t.Fatalf("default temperature = %v, want %v", temp, defaultTemperature)
	}
	if topK := gjson.GetBytes(out, "generationConfig.topK").Int(); topK != defaultTopK {
		t.Fatalf("default topK = %v, want %v", topK, defaultTopK)
	}
}

func TestPrepareGeminiStandardRequestRejectsEmptyContents(t *testing.T) {
	_, err := PrepareGeminiStandardRequest([]byte(`{"contents":[]}`), false)
	if err != ErrEmptyContents {
		t.Fatalf("err = %v, want ErrEmptyContents", err)
	}
}

func TestPrepareGeminiStandardRequestSystemInstructionRoleDefault(t *testing.T) {
	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}],"systemInstruction":{"parts":[{"text":"be nice"}]}}`)
	out, err := PrepareGeminiStandardRequest(body, false)
	if err != nil {
		t.Fatalf("PrepareGeminiStandardRequest: %v", err)
	}
	if role := gjson.GetBytes(out, "systemInstruction.role").String(); role != "user" {
		t.Fatalf("systemInstruction.role = %q, want user", role)
	}
}

func TestPrepareGeminiStandardRequestDropsEmptySystemInstruction(t *testing.T) {
	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}],"systemInstruction":{"parts":[{"text":""}]}}`)
	out, err := PrepareGeminiStandardRequest(body, false)
	if err != nil {
		t.Fatalf("PrepareGeminiStandardRequest: %v", err)
	}
	if gjson.GetBytes(out, "systemInstruction").Exists() {
		t.Fatalf("systemInstruction should be dropped when it has no non-empty text part")
	}
}

func TestSanitizeFunctionResponsesForApiKeyDropsExtraKeys(t *testing.T) {
	contents := []byte(`[{"role":"user","parts":[{"functionResponse":{"id":"abc","name":"lookup","response":{"ok":true}}}]}]`)
	out := SanitizeFunctionResponsesForApiKey(contents)
	fr := gjson.GetBytes(out, "0.parts.0.functionResponse")
	if fr.Get("id").Exists() {
		t.Fatalf("id should have been dropped from sanitised functionResponse")
	}
	if fr.Get("name").String() != "lookup" {
		t.Fatalf("name = %q, want lookup", fr.Get("name").String())
	}
	if !fr.Get("response.ok").Bool() {
		t.Fatalf("response payload should be preserved")
	}
}

func TestSanitizeFunctionResponsesForApiKeyPreservesNonFunctionParts(t *testing.T) {
	contents := []byte(`[{"role":"model","parts":[{"text":"hi"}]}]`)
	out := SanitizeFunctionResponsesForApiKey(contents)
	if gjson.GetBytes(out, "0.parts.0.text").String() != "hi" {
		t.Fatalf("non-functionResponse parts must pass through unchanged")
	}
}

func TestWrapGeminiInternalSynthesizesUserPromptID(t *testing.T) {
	out, err := WrapGeminiInternal([]byte(`{"contents":[]}`), "gemini-2.5-flash", "proj-1", "")
	if err != nil {
		t.Fatalf("WrapGeminiInternal: %v", err)
	}
	id := gjson.GetBytes(out, "user_prompt_id").String()
	if !strings.HasSuffix(id, "########0") {
		t.Fatalf("user_prompt_id = %q, want suffix ########0", id)
	}
	if gjson.GetBytes(out, "model").String() != "gemini-2.5-flash" {
		t.Fatalf("model not set correctly")
	}
	if gjson.GetBytes(out, "project").String() != "proj-1" {
		t.Fatalf("project not set correctly")
	}
}

func TestRejectAPIKeyAccountForGeminiInternal(t *testing.T) {
	if err := RejectAPIKeyAccount(false); err != nil {
		t.Fatalf("oauth account should be accepted, got %v", err)
	}
	err := RejectAPIKeyAccount(true)
	if err == nil {
		t.Fatalf("expected ErrInvalidAccountType for API-key account")
	}
	if _, ok := err.(*ErrInvalidAccountType); !ok {
		t.Fatalf("err = %T, want *ErrInvalidAccountType", err)
	}
}

func TestCodexModelNormalization(t *testing.T) {
	cases := map[string]string{
		"gpt-5-2025-08-07": "gpt-5",
		"gpt-5-codex":      "gpt-5-codex",
		"gpt-5-preview":    "gpt-5",
		"gpt-4o":           "gpt-4o",
	}
	for in, want := range cases {
		if got := NormalizeCodexModel(in); got != want {
			t.Fatalf("NormalizeCodexModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPrepareCodexRequestAdaptsNonNativeClient(t *testing.T) {
	body := []byte(`{"temperature":0.5,"model":"gpt-5-preview","user":"u1"}`)
	out, err := PrepareCodexRequest(body, "curl/8", false)
	if err != nil {
		t.Fatalf("PrepareCodexRequest: %v", err)
	}
	if gjson.GetBytes(out, "temperature").Exists() {
		t.Fatalf("temperature should have been stripped")
	}
	if gjson.GetBytes(out, "model").String() != "gpt-5" {
		t.Fatalf("model = %q, want gpt-5", gjson.GetBytes(out, "model").String())
	}
	if gjson.GetBytes(out, "instructions").String() == "" {
		t.Fatalf("instructions should have been injected")
	}
	if gjson.GetBytes(out, "store").Bool() != false {
		t.Fatalf("store should default to false")
	}
}

func TestPrepareCodexRequestPassesThroughNativeClient(t *testing.T) {
	body := []byte(`{"temperature":0.5,"model":"gpt-5-codex"}`)
	out, err := PrepareCodexRequest(body, "codex_cli_rs/1.2.3", false)
	if err != nil {
		t.Fatalf("PrepareCodexRequest: %v", err)
	}
	if !gjson.GetBytes(out, "temperature").Exists() {
		t.Fatalf("native clients keep their own fields untouched")
	}
	if gjson.GetBytes(out, "model").String() != "gpt-5-codex" {
		t.Fatalf("gpt-5-codex must be preserved")
	}
}

func TestPrepareCodexRequestCompactRemovesStoreKey(t *testing.T) {
	body := []byte(`{"model":"gpt-5","store":true}`)
	out, err := PrepareCodexRequest(body, "curl/8", true)
	if err != nil {
		t.Fatalf("PrepareCodexRequest: %v", err)
	}
	if gjson.GetBytes(out, "store").Exists() {
		t.Fatalf("store key must be removed entirely for the compact route")
	}
}

func TestBuildGeminiURLRoundTripRegardlessOfBaseSuffix(t *testing.T) {
	withSuffix := BuildGeminiURL("https://example.com/v1beta/models", "gemini-2.5-flash", "streamGenerateContent", "k1", true)
	withoutSuffix := BuildGeminiURL("https://example.com", "gemini-2.5-flash", "streamGenerateContent", "k1", true)
	if withSuffix != withoutSuffix {
		t.Fatalf("URL builder not suffix-invariant: %q vs %q", withSuffix, withoutSuffix)
	}
	if !strings.Contains(withSuffix, "alt=sse") {
		t.Fatalf("streaming URL must carry alt=sse")
	}
}

func TestBuildGeminiURLListForm(t *testing.T) {
	u := BuildGeminiURL("https://example.com/v1beta/models/", "", "", "k1", false)
	if strings.Contains(u, ":") && strings.Contains(u, "streamGenerateContent") {
		t.Fatalf("list form should not carry an action")
	}
	if !strings.HasPrefix(u, "https://example.com/v1beta/models?") {
		t.Fatalf("list form URL = %q", u)
	}
}
