package dialect

import (
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// WrapGeminiInternal builds the Cloud Code Assist v1internal envelope:
// {model, request:{...inner}, user_prompt_id, project}. The inner request
// is the already-prepared standard Gemini body (contents, generationConfig,
// etc). userPromptID is synthesised as "<uuid>########0" when the caller
// doesn't supply one.
//
// Only OAuth accounts are accepted for this dialect; callers must check the
// account kind before calling this and return ErrInvalidAccountType for
// API-key accounts, which get a 400 on this endpoint.
func WrapGeminiInternal(innerRequest []byte, model, project, userPromptID string) ([]byte, error) {
	if userPromptID == "" {
		userPromptID = uuid.NewString() + "########0"
	}

	out := []byte(`{}`)
	var err error
	out, err = sjson.SetBytes(out, "model", model)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetRawBytes(out, "request", innerRequest)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "user_prompt_id", userPromptID)
	if err != nil {
		return nil, err
	}
	if project != "" {
		out, err = sjson.SetBytes(out, "project", project)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RejectAPIKeyAccount is the guard for the v1internal endpoint:
// API-key-family accounts must be rejected with invalid_account_type before
// WrapGeminiInternal is ever called.
func RejectAPIKeyAccount(isAPIKeyAccount bool) error {
	if isAPIKeyAccount {
		return &ErrInvalidAccountType{Dialect: GeminiInternal, Reason: "API-key accounts are not accepted by the v1internal dialect"}
	}
	return nil
}

// ExtractCloudCodeProject reads cloudaicompanionProject from a
// loadCodeAssist response body, used by the dispatcher to decide whether to
// persist it as the account's tempProjectId: when the account has no
// projectId yet, save as tempProjectId and use it for dispatch without
// overwriting projectId.
func ExtractCloudCodeProject(loadCodeAssistResponse []byte) string {
	return gjson.GetBytes(loadCodeAssistResponse, "cloudaicompanionProject").String()
}
