package dialect

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Tool-schema conversion for the OpenAI-chat <-> Gemini bridge.
//
// OpenAI declares tools as a flat array of
// {"type":"function","function":{name,description,parameters}}; Gemini nests
// them under {"functionDeclarations":[{name,description,parameters}]}. Tool
// calls come back as choices[].message.tool_calls on one side and
// candidates[].content.parts[].functionCall on the other.

// openAIToolsToGemini rewrites an OpenAI tools array into a single Gemini
// tool group. Entries that aren't function tools are dropped; Gemini has no
// equivalent.
func openAIToolsToGemini(rawTools []byte) []byte {
	decls := []byte(`[]`)
	gjson.ParseBytes(rawTools).ForEach(func(_, tool gjson.Result) bool {
		fn := tool.Get("function")
		if !fn.Exists() {
			return true
		}
		decl := `{}`
		decl, _ = sjson.Set(decl, "name", fn.Get("name").String())
		if desc := fn.Get("description"); desc.Exists() {
			decl, _ = sjson.Set(decl, "description", desc.String())
		}
		if params := fn.Get("parameters"); params.Exists() {
			decl, _ = sjson.SetRaw(decl, "parameters", params.Raw)
		}
		decls, _ = sjson.SetRawBytes(decls, "-1", []byte(decl))
		return true
	})

	out := []byte(`[{}]`)
	out, _ = sjson.SetRawBytes(out, "0.functionDeclarations", decls)
	return out
}

// geminiHasFunctionCalls reports whether any part of the first candidate is
// a functionCall.
func geminiHasFunctionCalls(body []byte) bool {
	found := false
	gjson.GetBytes(body, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("functionCall").Exists() {
			found = true
			return false
		}
		return true
	})
	return found
}

// geminiFunctionCallsToOpenAIChat rewrites a Gemini response whose parts
// carry functionCall entries into an OpenAI chat-completion object with
// tool_calls and finish_reason "tool_calls". Arguments are re-serialized
// from Gemini's inline args object into OpenAI's JSON-string form.
func geminiFunctionCallsToOpenAIChat(body []byte) []byte {
	calls := []byte(`[]`)
	idx := 0
	gjson.GetBytes(body, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		fc := part.Get("functionCall")
		if !fc.Exists() {
			return true
		}
		call := `{"type":"function","function":{}}`
		call, _ = sjson.Set(call, "id", "call_"+strings.ReplaceAll(uuid.NewString(), "-", "")[:24])
		call, _ = sjson.Set(call, "index", idx)
		call, _ = sjson.Set(call, "function.name", fc.Get("name").String())
		args := fc.Get("args").Raw
		if args == "" {
			args = "{}"
		}
		call, _ = sjson.Set(call, "function.arguments", args)
		calls, _ = sjson.SetRawBytes(calls, "-1", []byte(call))
		idx++
		return true
	})

	out := []byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":null},"finish_reason":"tool_calls"}]}`)
	out, _ = sjson.SetRawBytes(out, "choices.0.message.tool_calls", calls)

	if um := gjson.GetBytes(body, "usageMetadata"); um.Exists() {
		out, _ = sjson.SetBytes(out, "usage.prompt_tokens", um.Get("promptTokenCount").Int())
		out, _ = sjson.SetBytes(out, "usage.completion_tokens", um.Get("candidatesTokenCount").Int())
		out, _ = sjson.SetBytes(out, "usage.total_tokens", um.Get("totalTokenCount").Int())
	}
	return out
}
