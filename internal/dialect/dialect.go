// Package dialect implements the request/response translators for each
// inbound protocol the gateway terminates. Translation operates directly
// on JSON bytes with gjson/sjson rather than full struct (de)serialization:
// the fields being renamed/dropped/passed through are a small, well-known
// set, and this avoids round-tripping through intermediate Go structs that
// would need to mirror every upstream field just to pass it along
// unchanged.
package dialect

// Dialect identifies one of the inbound wire protocols the gateway speaks.
type Dialect string

const (
	OpenAIChat        Dialect = "openai-chat"
	AnthropicMessages Dialect = "anthropic-messages"
	GeminiStandard    Dialect = "gemini-standard"
	GeminiInternal    Dialect = "gemini-v1internal"
	CodexResponses    Dialect = "codex-responses"
)

// ErrInvalidAccountType is returned when a dialect rejects the account kind
// it was handed (Gemini-v1internal rejects API-key accounts).
type ErrInvalidAccountType struct {
	Dialect Dialect
	Reason  string
}

func (e *ErrInvalidAccountType) Error() string {
	return "dialect: " + string(e.Dialect) + ": " + e.Reason
}
