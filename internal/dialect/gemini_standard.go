package dialect

import (
	"errors"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrEmptyContents is the boundary case where an empty contents[] array
// maps to HTTP 400 invalid_request_error.
var ErrEmptyContents = errors.New("dialect: contents must not be empty")

var passthroughFields = []string{"contents", "generationConfig", "safetySettings", "tools", "toolConfig"}

// PrepareGeminiStandardRequest builds the upstream body for a Gemini
// v1beta generateContent/streamGenerateContent call: contents,
// generationConfig, safetySettings, tools, toolConfig pass through
// unchanged; systemInstruction is included only when it carries at least
// one non-empty text part, and is given role:"user" when absent (required
// by the Cloud Code Assist internal endpoint). When isAPIKeyAccount is
// true, functionResponse parts are sanitised.
func PrepareGeminiStandardRequest(body []byte, isAPIKeyAccount bool) ([]byte, error) {
	contents := gjson.GetBytes(body, "contents")
	if !contents.Exists() || !contents.IsArray() || len(contents.Array()) == 0 {
		return nil, ErrEmptyContents
	}

	out := []byte(`{}`)
	var err error
	for _, field := range passthroughFields {
		v := gjson.GetBytes(body, field)
		if !v.Exists() {
			continue
		}
		out, err = sjson.SetRawBytes(out, field, []byte(v.Raw))
		if err != nil {
			return nil, err
		}
	}

	if isAPIKeyAccount {
		sanitized := SanitizeFunctionResponsesForApiKey([]byte(gjson.GetBytes(out, "contents").Raw))
		out, err = sjson.SetRawBytes(out, "contents", sanitized)
		if err != nil {
			return nil, err
		}
	}

	if si := gjson.GetBytes(body, "systemInstruction"); si.Exists() && hasNonEmptyText(si) {
		if !si.Get("role").Exists() {
			withRole, err := sjson.SetBytes([]byte(si.Raw), "role", "user")
			if err != nil {
				return nil, err
			}
			out, err = sjson.SetRawBytes(out, "systemInstruction", withRole)
			if err != nil {
				return nil, err
			}
		} else {
			out, err = sjson.SetRawBytes(out, "systemInstruction", []byte(si.Raw))
			if err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func hasNonEmptyText(si gjson.Result) bool {
	parts := si.Get("parts")
	if !parts.Exists() || !parts.IsArray() {
		return false
	}
	found := false
	parts.ForEach(func(_, part gjson.Result) bool {
		if part.Get("text").String() != "" {
			found = true
			return false
		}
		return true
	})
	return found
}

// SanitizeFunctionResponsesForApiKey drops every key other than
// {name, response} under each functionResponse part;
// the public Gemini API rejects extra keys such as "id" that the Cloud Code
// Assist internal endpoint tolerates.
func SanitizeFunctionResponsesForApiKey(contents []byte) []byte {
	arr := gjson.ParseBytes(contents)
	if !arr.IsArray() {
		return contents
	}

	out := []byte(`[]`)
	arr.ForEach(func(_, item gjson.Result) bool {
		entry := []byte(item.Raw)
		parts := item.Get("parts")
		if parts.Exists() && parts.IsArray() {
			newParts := []byte(`[]`)
			parts.ForEach(func(_, part gjson.Result) bool {
				fr := part.Get("functionResponse")
				if fr.Exists() {
					clean := []byte(`{}`)
					clean, _ = sjson.SetRawBytes(clean, "name", []byte(fr.Get("name").Raw))
					clean, _ = sjson.SetRawBytes(clean, "response", []byte(fr.Get("response").Raw))
					wrapped, err := sjson.SetRawBytes([]byte(part.Raw), "functionResponse", clean)
					if err != nil {
						wrapped = []byte(part.Raw)
					}
					newParts, _ = sjson.SetRawBytes(newParts, "-1", wrapped)
				} else {
					newParts, _ = sjson.SetRawBytes(newParts, "-1", []byte(part.Raw))
				}
				return true
			})
			entry, _ = sjson.SetRawBytes(entry, "parts", newParts)
		}
		out, _ = sjson.SetRawBytes(out, "-1", entry)
		return true
	})
	return out
}
