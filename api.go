package cryptex

import (
	"github.com/cryptex-im/cryptex/state"
)

// Response bodies for the command layer. Commands that mutate without
// returning data respond with OKResponse.

type OKResponse struct {
	Success bool `json:"success"`
}

// SignInResponse reports a credential exchange. An unconfirmed account is
// not an opaque failure: NeedsConfirmation is set (with the provider's
// message in Error) so the frontend can route to the confirmation flow.
type SignInResponse struct {
	UserID            string `json:"user_id,omitempty"`
	NeedsConfirmation bool   `json:"needs_confirmation,omitempty"`
	Error             string `json:"error,omitempty"`
}

type SignUpResponse struct {
	UserID            string `json:"user_id"`
	NeedsConfirmation bool   `json:"needs_confirmation"`
}

type UserIDResponse struct {
	UserID string `json:"user_id"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

type RefreshResponse struct {
	Refreshed bool `json:"refreshed"`
}

type ProfileExistsResponse struct {
	Exists bool `json:"exists"`
}

type ProfilesByIDResponse struct {
	Profiles map[string]state.ProfileRef `json:"profiles"`
}

type ImageUploadResponse struct {
	URL string `json:"url"`
}

type ConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	Created        bool   `json:"created"`
}

type WebsocketURLResponse struct {
	URL string `json:"url"`
}
