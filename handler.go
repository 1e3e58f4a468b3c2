package cryptex

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/cryptex-im/cryptex/auth"
	"github.com/cryptex-im/cryptex/internal"
	"github.com/cryptex-im/cryptex/media"
	"github.com/cryptex-im/cryptex/state"
)

// maxRequestBody bounds command payloads; avatars arrive base64-encoded so
// this sits comfortably above the decoded 5 MiB cap.
const maxRequestBody = 8 * 1024 * 1024

// CommandHandler exposes every backend operation as POST /api/{command}
// with a JSON body. Commands other than the sign-in family consult the
// session gate before touching storage, so an expired session always
// surfaces as a re-login prompt rather than a storage error.
type CommandHandler struct {
	Gate         *auth.Gate
	Store        *state.Storage
	Profiles     *state.ProfileCache
	Avatars      *media.AvatarStore
	WebsocketURL string
}

func (h *CommandHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	command := mux.Vars(req)["command"]
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody))
	if err != nil {
		w.WriteHeader(400)
		return
	}
	res, err := h.serve(req.Context(), command, gjson.ParseBytes(body))
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		herr := asHandlerError(err)
		if herr.StatusCode >= 500 {
			sentry.CaptureException(err)
			logger.Err(err).Str("command", command).Msg("command failed")
		}
		w.WriteHeader(herr.StatusCode)
		w.Write(herr.JSON())
		return
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		logger.Err(err).Str("command", command).Msg("failed to write response")
	}
}

// asHandlerError maps service errors onto HTTP statuses. Validation and
// identity-provider rejections carry user-facing messages; session errors
// become re-login prompts; anything else is an internal error.
func asHandlerError(err error) *internal.HandlerError {
	var herr *internal.HandlerError
	if errors.As(err, &herr) {
		return herr
	}
	var perr *auth.ProviderError
	if internal.IsValidation(err) || errors.As(err, &perr) {
		return &internal.HandlerError{StatusCode: 400, Err: err}
	}
	switch {
	case errors.Is(err, internal.ErrSessionExpired):
		return &internal.HandlerError{StatusCode: 401, Err: errors.New("Session expired. Please sign in again.")}
	case errors.Is(err, internal.ErrNotAuthenticated), errors.Is(err, internal.ErrInvalidIDToken):
		return &internal.HandlerError{StatusCode: 401, Err: errors.New("Not authenticated. Please sign in.")}
	case errors.Is(err, internal.ErrNotFound):
		return &internal.HandlerError{StatusCode: 404, Err: err}
	}
	return &internal.HandlerError{StatusCode: 500, Err: err}
}

func (h *CommandHandler) serve(ctx context.Context, command string, p gjson.Result) (any, error) {
	switch command {
	case "sign_in":
		res, err := h.Gate.SignIn(ctx, p.Get("email").Str, p.Get("password").Str)
		if err != nil {
			var perr *auth.ProviderError
			if errors.As(err, &perr) && perr.Kind == auth.KindUserNotConfirmed {
				return SignInResponse{NeedsConfirmation: true, Error: perr.Message}, nil
			}
			return nil, err
		}
		return SignInResponse{UserID: res.UserID}, nil
	case "sign_up":
		res, err := h.Gate.SignUp(ctx, p.Get("email").Str, p.Get("password").Str, p.Get("phone").Str)
		if err != nil {
			return nil, err
		}
		return SignUpResponse{UserID: res.UserID, NeedsConfirmation: res.NeedsConfirmation}, nil
	case "confirm_sign_up":
		if err := h.Gate.ConfirmSignUp(ctx, p.Get("email").Str, p.Get("code").Str); err != nil {
			return nil, err
		}
		return OKResponse{Success: true}, nil
	case "sign_out":
		h.Gate.SignOut()
		return OKResponse{Success: true}, nil
	case "get_session":
		info, _ := h.Gate.Info()
		return info, nil
	case "get_user_id":
		// Like get_session, an absent or expired session is not an error
		// here; the id is simply empty.
		id, _ := h.Gate.UserID()
		return UserIDResponse{UserID: id}, nil
	case "get_auth_token":
		token, ok := h.Gate.AccessToken()
		if !ok {
			return nil, internal.ErrNotAuthenticated
		}
		return TokenResponse{AccessToken: token}, nil
	case "refresh_session":
		return RefreshResponse{Refreshed: h.Gate.Refresh(ctx)}, nil
	case "sync_oauth_session":
		err := h.Gate.SyncExternalSession(auth.Session{
			AccessToken:  p.Get("access_token").Str,
			RefreshToken: p.Get("refresh_token").Str,
			IDToken:      p.Get("id_token").Str,
			UserID:       p.Get("user_id").Str,
			Email:        p.Get("email").Str,
			ExpiresAt:    p.Get("expires_at").Int(),
		})
		if err != nil {
			return nil, err
		}
		return OKResponse{Success: true}, nil
	}

	// Everything below requires a live session.
	userID, err := h.Gate.UserID()
	if err != nil {
		return nil, err
	}

	switch command {
	case "check_profile_exists":
		exists, err := h.Store.ProfileExists(userID)
		if err != nil {
			return nil, err
		}
		return ProfileExistsResponse{Exists: exists}, nil
	case "get_profile":
		target := userID
		if id := p.Get("user_id").Str; id != "" {
			if uuid.Validate(id) != nil {
				return nil, internal.Validationf("Invalid user ID")
			}
			target = id
		}
		profile, err := h.Store.Profile(target)
		if err != nil {
			return nil, err
		}
		if profile == nil {
			return nil, &internal.HandlerError{StatusCode: 404, Err: errors.New("Profile not found")}
		}
		return profile, nil
	case "get_profiles_by_ids":
		var ids []string
		for _, v := range p.Get("user_ids").Array() {
			if uuid.Validate(v.Str) != nil {
				return nil, internal.Validationf("Invalid user ID")
			}
			ids = append(ids, v.Str)
		}
		profiles, err := h.Profiles.Lookup(ids)
		if err != nil {
			return nil, err
		}
		return ProfilesByIDResponse{Profiles: profiles}, nil
	case "create_profile":
		if err := h.Store.CreateProfile(userID, p.Get("username").Str, p.Get("nickname").Str, optString(p, "avatar_url")); err != nil {
			return nil, err
		}
		h.Profiles.Invalidate(userID)
		return OKResponse{Success: true}, nil
	case "update_profile":
		if err := h.Store.UpdateProfile(userID, p.Get("username").Str, p.Get("nickname").Str, optString(p, "avatar_url")); err != nil {
			return nil, err
		}
		h.Profiles.Invalidate(userID)
		return OKResponse{Success: true}, nil
	case "update_status":
		if err := h.Store.SetStatus(userID, p.Get("status").Str); err != nil {
			return nil, err
		}
		h.Profiles.Invalidate(userID)
		return OKResponse{Success: true}, nil
	case "generate_placeholder_profile":
		return internal.GeneratePlaceholderProfile(), nil
	case "upload_profile_image":
		if h.Avatars == nil {
			return nil, errors.New("avatar storage is not configured")
		}
		data, err := media.DecodeAvatar(p.Get("image_data").Str)
		if err != nil {
			return nil, err
		}
		url, err := h.Avatars.Upload(ctx, userID, p.Get("file_extension").Str, data)
		if err != nil {
			return nil, err
		}
		if err := h.Store.SetAvatarURL(userID, &url); err != nil {
			return nil, err
		}
		h.Profiles.Invalidate(userID)
		return ImageUploadResponse{URL: url}, nil
	case "delete_profile_image":
		if h.Avatars == nil {
			return nil, errors.New("avatar storage is not configured")
		}
		if err := h.Avatars.Delete(ctx, userID); err != nil {
			return nil, err
		}
		if err := h.Store.SetAvatarURL(userID, nil); err != nil {
			return nil, err
		}
		h.Profiles.Invalidate(userID)
		return OKResponse{Success: true}, nil

	case "send_friend_request":
		if err := h.Store.SendFriendRequest(userID, p.Get("username").Str); err != nil {
			return nil, err
		}
		return OKResponse{Success: true}, nil
	case "get_incoming_friend_requests":
		return h.Store.IncomingFriendRequests(userID)
	case "get_outgoing_friend_requests":
		return h.Store.OutgoingFriendRequests(userID)
	case "accept_friend_request":
		if err := h.Store.AcceptFriendRequest(ctx, p.Get("request_id").Str, userID); err != nil {
			return nil, err
		}
		return OKResponse{Success: true}, nil
	case "decline_friend_request":
		if err := h.Store.DeclineFriendRequest(p.Get("request_id").Str, userID); err != nil {
			return nil, err
		}
		return OKResponse{Success: true}, nil
	case "cancel_friend_request":
		if err := h.Store.CancelFriendRequest(p.Get("request_id").Str, userID); err != nil {
			return nil, err
		}
		return OKResponse{Success: true}, nil
	case "get_friends":
		return h.Store.Friends(userID)
	case "remove_friend":
		if err := h.Store.RemoveFriend(userID, p.Get("user_id").Str); err != nil {
			return nil, err
		}
		return OKResponse{Success: true}, nil

	case "get_or_create_dm_conversation":
		convID, created, err := h.Store.ResolveDMConversation(ctx, userID, p.Get("other_user_id").Str)
		if err != nil {
			return nil, err
		}
		return ConversationResponse{ConversationID: convID, Created: created}, nil
	case "get_conversations":
		return h.Store.ListConversations(userID)
	case "get_messages":
		return h.Store.Messages(p.Get("conversation_id").Str, userID)
	case "send_message":
		return h.Store.SendMessage(p.Get("conversation_id").Str, userID, p.Get("content").Str)
	case "mark_conversation_read":
		if err := h.Store.MarkConversationRead(p.Get("conversation_id").Str, userID); err != nil {
			return nil, err
		}
		return OKResponse{Success: true}, nil

	case "get_websocket_url":
		return WebsocketURLResponse{URL: h.WebsocketURL}, nil
	}
	return nil, &internal.HandlerError{StatusCode: 404, Err: errors.New("unknown command: " + command)}
}

func optString(p gjson.Result, key string) *string {
	if v := p.Get(key); v.Exists() && v.Str != "" {
		s := v.Str
		return &s
	}
	return nil
}
