package dialect

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// codexNativeUA matches CLI/IDE integrations that already speak the
// upstream Codex wire format natively and should be passed through
// untouched.
var codexNativeUA = regexp.MustCompile(`^(codex_vscode|codex_cli_rs)/\d+(\.\d+)*`)

// codexStrippedFields are dropped from non-native callers' bodies before
// dispatch; upstream rejects several of these when not sent by its own CLI.
var codexStrippedFields = []string{
	"temperature", "top_p", "max_output_tokens", "user",
	"text_formatting", "truncation", "text", "service_tier",
}

// codexInstructions is the fixed system instruction injected for adapted
// (non-native) callers so upstream behaves consistently regardless of what
// the calling client sent.
const codexInstructions = "You are Codex, a coding agent based on GPT-5 running in a terminal or IDE integration. " +
	"Use the available tools to read and modify the workspace, prefer small verifiable steps, and report results concisely."

// IsCodexNativeClient reports whether the User-Agent identifies a CLI/IDE
// integration that should receive its request unmodified.
func IsCodexNativeClient(userAgent string) bool {
	return codexNativeUA.MatchString(userAgent)
}

// NormalizeCodexModel rewrites any gpt-5-* model to gpt-5, except
// gpt-5-codex which is preserved verbatim.
func NormalizeCodexModel(model string) string {
	if model == "gpt-5-codex" {
		return model
	}
	if strings.HasPrefix(model, "gpt-5-") {
		return "gpt-5"
	}
	return model
}

// PrepareCodexRequest builds the upstream body for the codex/responses
// endpoint. Native CLI/IDE clients pass through unchanged except for model
// normalisation, which always applies. Adapted clients have the
// stripped fields removed and a fixed instructions string injected.
// isCompact removes the store key entirely (the /responses/compact route).
func PrepareCodexRequest(body []byte, userAgent string, isCompact bool) ([]byte, error) {
	out := body
	var err error

	if model := gjson.GetBytes(out, "model").String(); model != "" {
		out, err = sjson.SetBytes(out, "model", NormalizeCodexModel(model))
		if err != nil {
			return nil, err
		}
	}

	if !IsCodexNativeClient(userAgent) {
		for _, field := range codexStrippedFields {
			out, err = sjson.DeleteBytes(out, field)
			if err != nil {
				return nil, err
			}
		}
		out, err = sjson.SetBytes(out, "instructions", codexInstructions)
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetBytes(out, "store", false)
		if err != nil {
			return nil, err
		}
	}

	if isCompact {
		out, err = sjson.DeleteBytes(out, "store")
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}
