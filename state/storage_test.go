package state

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/cryptex-im/cryptex/internal"
)

// createTestProfile gives userID a placeholder-style profile; listings and
// friend operations join against the profiles table.
func createTestProfile(t *testing.T, store *Storage, userID string) *Profile {
	t.Helper()
	placeholder := internal.GeneratePlaceholderProfile()
	if err := store.CreateProfile(userID, placeholder.Username, placeholder.Nickname, nil); err != nil {
		t.Fatalf("create profile for %s: %s", userID, err)
	}
	profile, err := store.Profile(userID)
	if err != nil {
		t.Fatalf("select profile for %s: %s", userID, err)
	}
	return profile
}

func resolveTestDM(t *testing.T, store *Storage, alice, bob string) string {
	t.Helper()
	id, _, err := store.ResolveDMConversation(context.Background(), alice, bob)
	if err != nil {
		t.Fatalf("resolve conversation: %s", err)
	}
	return id
}

func TestSendAndListMessages(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	store := NewStorageWithDB(db, false)
	alice := uuid.NewString()
	bob := uuid.NewString()
	convID := resolveTestDM(t, store, alice, bob)

	sent, err := store.SendMessage(convID, alice, "  hello bob  ")
	if err != nil {
		t.Fatalf("send message: %s", err)
	}
	if sent.Content != "hello bob" {
		t.Fatalf("content not trimmed: %q", sent.Content)
	}
	if sent.ID == "" || sent.Timestamp == 0 {
		t.Fatalf("message missing id or timestamp: %+v", sent)
	}
	if _, err = store.SendMessage(convID, bob, "hi alice"); err != nil {
		t.Fatalf("send reply: %s", err)
	}

	msgs, err := store.Messages(convID, alice)
	if err != nil {
		t.Fatalf("list messages: %s", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "hello bob" || msgs[1].Content != "hi alice" {
		t.Fatalf("wrong order: %q then %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestSendMessageValidation(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	store := NewStorageWithDB(db, false)
	alice := uuid.NewString()
	bob := uuid.NewString()
	eve := uuid.NewString()
	convID := resolveTestDM(t, store, alice, bob)

	if _, err := store.SendMessage(convID, alice, "   "); !internal.IsValidation(err) {
		t.Fatalf("blank message: got %v, want validation error", err)
	}
	long := strings.Repeat("x", MaxMessageLength+1)
	if _, err := store.SendMessage(convID, alice, long); !internal.IsValidation(err) {
		t.Fatalf("oversized message: got %v, want validation error", err)
	}
	// Exactly at the cap is fine.
	if _, err := store.SendMessage(convID, alice, strings.Repeat("x", MaxMessageLength)); err != nil {
		t.Fatalf("max-length message rejected: %s", err)
	}
	if _, err := store.SendMessage(convID, eve, "let me in"); !internal.IsValidation(err) {
		t.Fatalf("non-participant send: got %v, want validation error", err)
	}
	if _, err := store.Messages(convID, eve); !internal.IsValidation(err) {
		t.Fatalf("non-participant read: got %v, want validation error", err)
	}
}

func TestConversationListingAndUnread(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	store := NewStorageWithDB(db, false)
	alice := uuid.NewString()
	bob := uuid.NewString()
	createTestProfile(t, store, alice)
	createTestProfile(t, store, bob)
	convID := resolveTestDM(t, store, alice, bob)
	if _, err := store.SendMessage(convID, bob, "one"); err != nil {
		t.Fatalf("send: %s", err)
	}
	if _, err := store.SendMessage(convID, bob, "two"); err != nil {
		t.Fatalf("send: %s", err)
	}

	convs, err := store.ListConversations(alice)
	if err != nil {
		t.Fatalf("list conversations: %s", err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	conv := convs[0]
	if conv.ConversationID != convID {
		t.Fatalf("listed conversation %s, want %s", conv.ConversationID, convID)
	}
	if !conv.HasUnread {
		t.Fatalf("conversation with unseen messages not flagged unread")
	}
	if conv.LastMessage == nil || *conv.LastMessage != "two" {
		t.Fatalf("wrong last message: %v", conv.LastMessage)
	}
	if conv.OtherUserNickname == nil || *conv.OtherUserNickname == "" {
		t.Fatalf("peer nickname missing: %+v", conv)
	}

	if err = store.MarkConversationRead(convID, alice); err != nil {
		t.Fatalf("mark read: %s", err)
	}
	convs, err = store.ListConversations(alice)
	if err != nil {
		t.Fatalf("list conversations after read: %s", err)
	}
	if convs[0].HasUnread {
		t.Fatalf("conversation still unread after marking read")
	}
}

func TestFriendRequestLifecycle(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	store := NewStorageWithDB(db, false)
	alice := uuid.NewString()
	bob := uuid.NewString()
	aliceProfile := createTestProfile(t, store, alice)
	bobProfile := createTestProfile(t, store, bob)

	var err error
	if err = store.SendFriendRequest(alice, aliceProfile.Username); !internal.IsValidation(err) {
		t.Fatalf("self request: got %v, want validation error", err)
	}
	if err = store.SendFriendRequest(alice, "no_such_user_0000"); !internal.IsValidation(err) {
		t.Fatalf("unknown user: got %v, want validation error", err)
	}
	if err = store.SendFriendRequest(alice, bobProfile.Username); err != nil {
		t.Fatalf("send request: %s", err)
	}
	// A second request in either direction is rejected while one is pending.
	if err = store.SendFriendRequest(alice, bobProfile.Username); !internal.IsValidation(err) {
		t.Fatalf("duplicate request: got %v, want validation error", err)
	}
	if err = store.SendFriendRequest(bob, aliceProfile.Username); !internal.IsValidation(err) {
		t.Fatalf("reverse request: got %v, want validation error", err)
	}

	incoming, err := store.IncomingFriendRequests(bob)
	if err != nil {
		t.Fatalf("incoming: %s", err)
	}
	if len(incoming) != 1 || incoming[0].UserID != alice {
		t.Fatalf("bob's incoming requests: %+v", incoming)
	}
	outgoing, err := store.OutgoingFriendRequests(alice)
	if err != nil {
		t.Fatalf("outgoing: %s", err)
	}
	if len(outgoing) != 1 || outgoing[0].UserID != bob {
		t.Fatalf("alice's outgoing requests: %+v", outgoing)
	}

	// Only the recipient may accept.
	reqID := incoming[0].ID
	if err = store.AcceptFriendRequest(context.Background(), reqID, alice); !internal.IsValidation(err) {
		t.Fatalf("sender accept: got %v, want validation error", err)
	}
	if err = store.AcceptFriendRequest(context.Background(), reqID, bob); err != nil {
		t.Fatalf("accept: %s", err)
	}
	// Accepting again finds no pending request.
	if err = store.AcceptFriendRequest(context.Background(), reqID, bob); !internal.IsValidation(err) {
		t.Fatalf("double accept: got %v, want validation error", err)
	}

	for _, userID := range []string{alice, bob} {
		friends, err := store.Friends(userID)
		if err != nil {
			t.Fatalf("friends of %s: %s", userID, err)
		}
		if len(friends) != 1 {
			t.Fatalf("%s has %d friends, want 1", userID, len(friends))
		}
	}

	if err = store.RemoveFriend(alice, bob); err != nil {
		t.Fatalf("remove friend: %s", err)
	}
	friends, err := store.Friends(bob)
	if err != nil {
		t.Fatalf("friends after removal: %s", err)
	}
	if len(friends) != 0 {
		t.Fatalf("removal was not symmetric: bob still has %d friends", len(friends))
	}
}

func TestDeclineAndCancelFriendRequest(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	store := NewStorageWithDB(db, false)
	alice := uuid.NewString()
	bob := uuid.NewString()
	createTestProfile(t, store, alice)
	bobProfile := createTestProfile(t, store, bob)

	var err error
	if err = store.SendFriendRequest(alice, bobProfile.Username); err != nil {
		t.Fatalf("send request: %s", err)
	}
	incoming, err := store.IncomingFriendRequests(bob)
	if err != nil || len(incoming) != 1 {
		t.Fatalf("incoming: %v %v", incoming, err)
	}
	reqID := incoming[0].ID

	// The sender cannot decline, the recipient cannot cancel.
	if err = store.DeclineFriendRequest(reqID, alice); !internal.IsValidation(err) {
		t.Fatalf("sender decline: got %v, want validation error", err)
	}
	if err = store.CancelFriendRequest(reqID, bob); !internal.IsValidation(err) {
		t.Fatalf("recipient cancel: got %v, want validation error", err)
	}

	if err = store.DeclineFriendRequest(reqID, bob); err != nil {
		t.Fatalf("decline: %s", err)
	}
	friends, err := store.Friends(alice)
	if err != nil {
		t.Fatalf("friends: %s", err)
	}
	if len(friends) != 0 {
		t.Fatalf("decline created a friendship")
	}
	// A declined request no longer blocks a fresh one, which the sender can
	// then cancel.
	if err = store.SendFriendRequest(alice, bobProfile.Username); err != nil {
		t.Fatalf("re-send request: %s", err)
	}
	outgoing, err := store.OutgoingFriendRequests(alice)
	if err != nil || len(outgoing) != 1 {
		t.Fatalf("outgoing: %v %v", outgoing, err)
	}
	if err = store.CancelFriendRequest(outgoing[0].ID, alice); err != nil {
		t.Fatalf("cancel: %s", err)
	}
	incoming, err = store.IncomingFriendRequests(bob)
	if err != nil {
		t.Fatalf("incoming after cancel: %s", err)
	}
	if len(incoming) != 0 {
		t.Fatalf("cancelled request still visible to bob")
	}
}

func TestCreateProfile(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	store := NewStorageWithDB(db, false)
	userID := uuid.NewString()

	placeholder := internal.GeneratePlaceholderProfile()
	if placeholder.Username == "" || placeholder.Nickname == "" {
		t.Fatalf("placeholder profile incomplete: %+v", placeholder)
	}
	if err := store.CreateProfile(userID, placeholder.Username, placeholder.Nickname, nil); err != nil {
		t.Fatalf("create profile: %s", err)
	}
	profile, err := store.Profile(userID)
	if err != nil {
		t.Fatalf("select profile: %s", err)
	}
	if profile.Username != placeholder.Username || profile.Nickname != placeholder.Nickname {
		t.Fatalf("stored profile does not match input: %+v", profile)
	}
	if err := store.CreateProfile(userID, "someone_else", "Someone Else", nil); !internal.IsValidation(err) {
		t.Fatalf("second create for same user: got %v, want validation error", err)
	}
	other := uuid.NewString()
	if err := store.CreateProfile(other, placeholder.Username, "Copycat", nil); !internal.IsValidation(err) {
		t.Fatalf("taken username: got %v, want validation error", err)
	}
}

func TestUpdateProfileAndStatus(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	store := NewStorageWithDB(db, false)
	alice := uuid.NewString()
	bob := uuid.NewString()
	createTestProfile(t, store, alice)
	bobProfile := createTestProfile(t, store, bob)

	if err := store.UpdateProfile(alice, "", "Alice", nil); !internal.IsValidation(err) {
		t.Fatalf("empty username: got %v, want validation error", err)
	}
	if err := store.UpdateProfile(alice, bobProfile.Username, "Alice", nil); !internal.IsValidation(err) {
		t.Fatalf("taken username: got %v, want validation error", err)
	}
	avatar := "https://cdn.example.com/avatars/alice.png"
	if err := store.UpdateProfile(alice, "alice_m", "Alice M", &avatar); err != nil {
		t.Fatalf("update profile: %s", err)
	}
	// Re-saving your own username is not a collision.
	if err := store.UpdateProfile(alice, "alice_m", "Alice", &avatar); err != nil {
		t.Fatalf("idempotent username update: %s", err)
	}

	updated, err := store.ProfilesTable.Select(db, alice)
	if err != nil {
		t.Fatalf("select profile: %s", err)
	}
	if updated.Username != "alice_m" || updated.AvatarURL == nil || *updated.AvatarURL != avatar {
		t.Fatalf("profile not updated: %+v", updated)
	}

	if err := store.SetStatus(alice, "invisible"); !internal.IsValidation(err) {
		t.Fatalf("bad status: got %v, want validation error", err)
	}
	if err := store.SetStatus(alice, "dnd"); err != nil {
		t.Fatalf("set status: %s", err)
	}
	refs, err := store.ProfilesByUserIDs([]string{alice})
	if err != nil {
		t.Fatalf("batch lookup: %s", err)
	}
	ref, ok := refs[alice]
	if !ok || ref.Status == nil || *ref.Status != "dnd" {
		t.Fatalf("status not persisted: %+v", ref)
	}
}
