package state

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cryptex-im/cryptex/internal"
	"github.com/cryptex-im/cryptex/sqlutil"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

const MaxMessageLength = 5000

// Storage aggregates the per-table accessors over a single Postgres
// connection pool. All cross-table invariants (one direct conversation per
// user pair, symmetric friendships) are enforced here, inside transactions.
type Storage struct {
	ConversationsTable  *ConversationsTable
	ParticipantsTable   *ParticipantsTable
	MessagesTable       *MessagesTable
	ProfilesTable       *ProfilesTable
	FriendRequestsTable *FriendRequestsTable
	FriendsTable        *FriendsTable
	DB                  *sqlx.DB

	resolveOutcomes *prometheus.CounterVec
}

func NewStorage(postgresURI string) *Storage {
	db, err := sqlx.Open("postgres", postgresURI)
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Str("uri", postgresURI).Msg("failed to open SQL DB")
	}
	return NewStorageWithDB(db, false)
}

func NewStorageWithDB(db *sqlx.DB, addPrometheusMetrics bool) *Storage {
	s := &Storage{
		ConversationsTable:  NewConversationsTable(db),
		ParticipantsTable:   NewParticipantsTable(db),
		MessagesTable:       NewMessagesTable(db),
		ProfilesTable:       NewProfilesTable(db),
		FriendRequestsTable: NewFriendRequestsTable(db),
		FriendsTable:        NewFriendsTable(db),
		DB:                  db,
	}
	if addPrometheusMetrics {
		s.resolveOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptex",
			Subsystem: "state",
			Name:      "dm_resolve_total",
			Help:      "Outcomes of direct conversation resolution",
		}, []string{"outcome"})
		prometheus.MustRegister(s.resolveOutcomes)
	}
	return s
}

func (s *Storage) Teardown() {
	if err := s.DB.Close(); err != nil {
		panic("Storage.Teardown: " + err.Error())
	}
	if s.resolveOutcomes != nil {
		prometheus.Unregister(s.resolveOutcomes)
	}
}

func (s *Storage) countResolve(outcome string) {
	if s.resolveOutcomes != nil {
		s.resolveOutcomes.WithLabelValues(outcome).Inc()
	}
}

// ResolveDMConversation returns the id of the direct conversation between
// the two users, creating it (with both participant rows) if it does not
// exist. Concurrent calls for the same pair all converge on the same
// conversation: the row lock serialises writers that observed the row, and
// the partial unique index on the canonical participant key catches the
// insert race between writers that observed nothing, at which point the
// loser re-reads the winner's row inside the same transaction.
func (s *Storage) ResolveDMConversation(ctx context.Context, requesterID, otherUserID string) (conversationID string, created bool, err error) {
	if requesterID == otherUserID {
		return "", false, internal.Validationf("Cannot create conversation with yourself")
	}
	if uuid.Validate(otherUserID) != nil {
		return "", false, internal.Validationf("Invalid user ID")
	}
	dmKey := CanonicalDMKey(requesterID, otherUserID)
	err = sqlutil.WithTransaction(ctx, s.DB, nil, func(txn *sqlx.Tx) error {
		conversationID, err = s.ConversationsTable.SelectDirectForUpdate(txn, dmKey)
		if err != nil {
			return fmt.Errorf("select direct conversation: %w", err)
		}
		if conversationID != "" {
			s.countResolve("existing")
			return nil
		}
		conversationID, err = s.ConversationsTable.InsertDirect(txn, dmKey)
		if err != nil {
			return fmt.Errorf("insert direct conversation: %w", err)
		}
		if conversationID == "" {
			// Another transaction committed the same pair between our
			// lock attempt and our insert. Its row is visible now.
			conversationID, err = s.ConversationsTable.SelectDirect(txn, dmKey)
			if err != nil {
				return fmt.Errorf("re-select direct conversation: %w", err)
			}
			if conversationID == "" {
				return fmt.Errorf("direct conversation for key %s vanished after conflict", dmKey)
			}
			s.countResolve("requeried")
			return nil
		}
		if err = s.ParticipantsTable.InsertPair(txn, conversationID, requesterID, otherUserID); err != nil {
			return fmt.Errorf("insert participants: %w", err)
		}
		created = true
		s.countResolve("created")
		return nil
	})
	if err != nil {
		sentry.CaptureException(err)
		return "", false, err
	}
	return conversationID, created, nil
}

// ListConversations returns the user's conversations, most recently active
// first, each decorated with the peer's profile and the last message.
func (s *Storage) ListConversations(userID string) ([]ConversationDetails, error) {
	convs, err := s.ConversationsTable.SelectWithDetails(s.DB, userID)
	if err != nil {
		sentry.CaptureException(err)
		return nil, err
	}
	return convs, nil
}

// Messages returns the full history of a conversation, oldest first. The
// caller must be a participant.
func (s *Storage) Messages(conversationID, userID string) ([]Message, error) {
	if uuid.Validate(conversationID) != nil {
		return nil, internal.Validationf("Invalid conversation ID")
	}
	ok, err := s.ParticipantsTable.IsParticipant(s.DB, conversationID, userID)
	if err != nil {
		sentry.CaptureException(err)
		return nil, err
	}
	if !ok {
		return nil, internal.Validationf("Not a participant in this conversation")
	}
	return s.MessagesTable.SelectForConversation(s.DB, conversationID)
}

// SendMessage stores a message from senderID. Content is trimmed and capped;
// the conversation's activity timestamp is refreshed best-effort.
func (s *Storage) SendMessage(conversationID, senderID, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, internal.Validationf("Message cannot be empty")
	}
	if len(content) > MaxMessageLength {
		return Message{}, internal.Validationf("Message is too long (max %d characters)", MaxMessageLength)
	}
	if uuid.Validate(conversationID) != nil {
		return Message{}, internal.Validationf("Invalid conversation ID")
	}
	ok, err := s.ParticipantsTable.IsParticipant(s.DB, conversationID, senderID)
	if err != nil {
		sentry.CaptureException(err)
		return Message{}, err
	}
	if !ok {
		return Message{}, internal.Validationf("Not a participant in this conversation")
	}
	msg := Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      time.Now().UnixMilli(),
	}
	msg.ID, err = s.MessagesTable.Insert(s.DB, msg.ConversationID, msg.SenderID, msg.Content, msg.Timestamp)
	if err != nil {
		sentry.CaptureException(err)
		return Message{}, err
	}
	if err := s.ConversationsTable.Touch(s.DB, conversationID); err != nil {
		logger.Warn().Err(err).Str("conversation", conversationID).Msg("failed to touch conversation")
	}
	return msg, nil
}

func (s *Storage) MarkConversationRead(conversationID, userID string) error {
	if uuid.Validate(conversationID) != nil {
		return internal.Validationf("Invalid conversation ID")
	}
	return s.ParticipantsTable.MarkRead(s.DB, conversationID, userID)
}

// SendFriendRequest creates a pending request from senderID to the owner of
// username.
func (s *Storage) SendFriendRequest(senderID, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return internal.Validationf("Username is required")
	}
	targetID, err := s.ProfilesTable.UserIDByUsername(s.DB, username)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}
	if targetID == "" {
		return internal.Validationf("User not found")
	}
	if targetID == senderID {
		return internal.Validationf("Cannot send a friend request to yourself")
	}
	friends, err := s.FriendsTable.AreFriends(s.DB, senderID, targetID)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}
	if friends {
		return internal.Validationf("You are already friends with this user")
	}
	pending, err := s.FriendRequestsTable.PendingBetween(s.DB, senderID, targetID)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}
	if pending {
		return internal.Validationf("A friend request is already pending")
	}
	return s.FriendRequestsTable.Insert(s.DB, senderID, targetID)
}

func (s *Storage) IncomingFriendRequests(userID string) ([]FriendRequest, error) {
	return s.FriendRequestsTable.SelectIncoming(s.DB, userID)
}

func (s *Storage) OutgoingFriendRequests(userID string) ([]FriendRequest, error) {
	return s.FriendRequestsTable.SelectOutgoing(s.DB, userID)
}

// AcceptFriendRequest atomically marks the request accepted and records the
// friendship in both directions. The request row is locked so a concurrent
// accept and decline cannot both take effect.
func (s *Storage) AcceptFriendRequest(ctx context.Context, requestID, userID string) error {
	if uuid.Validate(requestID) != nil {
		return internal.Validationf("Invalid request ID")
	}
	err := sqlutil.WithTransaction(ctx, s.DB, nil, func(txn *sqlx.Tx) error {
		senderID, recipientID, err := s.FriendRequestsTable.SelectPendingForUpdate(txn, requestID)
		if err != nil {
			return fmt.Errorf("select friend request: %w", err)
		}
		if senderID == "" || recipientID != userID {
			return internal.Validationf("Friend request not found")
		}
		if err = s.FriendRequestsTable.UpdateStatus(txn, requestID, "accepted"); err != nil {
			return fmt.Errorf("update friend request: %w", err)
		}
		if err = s.FriendsTable.InsertPair(txn, senderID, recipientID); err != nil {
			return fmt.Errorf("insert friendship: %w", err)
		}
		return nil
	})
	if err != nil && !internal.IsValidation(err) {
		sentry.CaptureException(err)
	}
	return err
}

func (s *Storage) DeclineFriendRequest(requestID, userID string) error {
	if uuid.Validate(requestID) != nil {
		return internal.Validationf("Invalid request ID")
	}
	ok, err := s.FriendRequestsTable.Decline(s.DB, requestID, userID)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}
	if !ok {
		return internal.Validationf("Friend request not found")
	}
	return nil
}

func (s *Storage) CancelFriendRequest(requestID, userID string) error {
	if uuid.Validate(requestID) != nil {
		return internal.Validationf("Invalid request ID")
	}
	ok, err := s.FriendRequestsTable.Cancel(s.DB, requestID, userID)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}
	if !ok {
		return internal.Validationf("Friend request not found")
	}
	return nil
}

func (s *Storage) Friends(userID string) ([]Friend, error) {
	return s.FriendsTable.SelectForUser(s.DB, userID)
}

func (s *Storage) RemoveFriend(userID, friendID string) error {
	if uuid.Validate(friendID) != nil {
		return internal.Validationf("Invalid user ID")
	}
	ok, err := s.FriendsTable.DeletePair(s.DB, userID, friendID)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}
	if !ok {
		return internal.Validationf("You are not friends with this user")
	}
	return nil
}

func (s *Storage) ProfileExists(userID string) (bool, error) {
	return s.ProfilesTable.Exists(s.DB, userID)
}

// Profile returns the user's profile, or nil when none exists.
func (s *Storage) Profile(userID string) (*Profile, error) {
	return s.ProfilesTable.Select(s.DB, userID)
}

// CreateProfile stores an explicitly chosen profile for a user who has none.
func (s *Storage) CreateProfile(userID, username, nickname string, avatarURL *string) error {
	username = strings.TrimSpace(username)
	nickname = strings.TrimSpace(nickname)
	if username == "" {
		return internal.Validationf("Username is required")
	}
	if nickname == "" {
		return internal.Validationf("Nickname is required")
	}
	exists, err := s.ProfilesTable.Exists(s.DB, userID)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}
	if exists {
		return internal.Validationf("Profile already exists")
	}
	taken, err := s.ProfilesTable.UsernameTaken(s.DB, username, userID)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}
	if taken {
		return internal.Validationf("Username is already taken")
	}
	return s.ProfilesTable.Insert(s.DB, userID, username, nickname, avatarURL)
}

// UpdateProfile replaces the user's username, nickname and avatar URL.
func (s *Storage) UpdateProfile(userID, username, nickname string, avatarURL *string) error {
	username = strings.TrimSpace(username)
	nickname = strings.TrimSpace(nickname)
	if username == "" {
		return internal.Validationf("Username is required")
	}
	if nickname == "" {
		return internal.Validationf("Nickname is required")
	}
	taken, err := s.ProfilesTable.UsernameTaken(s.DB, username, userID)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}
	if taken {
		return internal.Validationf("Username is already taken")
	}
	return s.ProfilesTable.Update(s.DB, userID, username, nickname, avatarURL)
}

// SetAvatarURL records (or clears, with nil) the user's avatar URL.
func (s *Storage) SetAvatarURL(userID string, avatarURL *string) error {
	return s.ProfilesTable.UpdateAvatarURL(s.DB, userID, avatarURL)
}

func (s *Storage) SetStatus(userID, status string) error {
	if !IsValidStatus(status) {
		return internal.Validationf("Invalid status")
	}
	return s.ProfilesTable.UpdateStatus(s.DB, userID, status)
}

// ProfilesByUserIDs batch-loads compact profiles, keyed by user id.
func (s *Storage) ProfilesByUserIDs(userIDs []string) (map[string]ProfileRef, error) {
	refs, err := s.ProfilesTable.SelectByUserIDs(s.DB, userIDs)
	if err != nil {
		sentry.CaptureException(err)
		return nil, err
	}
	byID := make(map[string]ProfileRef, len(refs))
	for _, ref := range refs {
		byID[ref.UserID] = ref
	}
	return byID, nil
}
