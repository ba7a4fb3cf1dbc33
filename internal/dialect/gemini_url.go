package dialect

import (
	"net/url"
	"strings"
)

const geminiModelsPath = "/v1beta/models"

// BuildGeminiURL composes the upstream Gemini API URL. baseUrl may or may
// not already carry the /v1beta/models suffix; the trailing slash is
// normalised and the suffix appended only if missing. action is empty for
// the list form (GET models), non-empty for the action form
// (generateContent / streamGenerateContent / countTokens).
//
// Given the same logical endpoint, this produces the same string whether
// baseUrl already ends with /v1beta/models or not.
func BuildGeminiURL(baseURL, model, action, key string, streaming bool) string {
	root := normalizeGeminiBase(baseURL)

	var u string
	if model == "" {
		u = root
	} else if action == "" {
		u = root + "/" + model
	} else {
		u = root + "/" + model + ":" + action
	}

	q := url.Values{}
	q.Set("key", key)
	if streaming {
		q.Set("alt", "sse")
	}
	return u + "?" + q.Encode()
}

func normalizeGeminiBase(baseURL string) string {
	trimmed := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(trimmed, geminiModelsPath) {
		return trimmed
	}
	return trimmed + geminiModelsPath
}
