package state

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// ConversationDetails is one row of the conversation listing, denormalised
// for display: the DM peer, their nickname, the latest message and an unread
// flag derived from the caller's last-read marker.
type ConversationDetails struct {
	ConversationID    string  `db:"conversation_id" json:"conversation_id"`
	ConversationType  string  `db:"conversation_type" json:"conversation_type"`
	Name              *string `db:"name" json:"name"`
	OtherUserID       *string `db:"other_user_id" json:"other_user_id"`
	OtherUserNickname *string `db:"other_user_nickname" json:"other_user_nickname"`
	LastMessage       *string `db:"last_message" json:"last_message"`
	LastMessageTime   *int64  `db:"last_message_time" json:"last_message_time"`
	HasUnread         bool    `db:"has_unread" json:"has_unread"`
}

// CanonicalDMKey returns the deterministic, order-independent key for a DM
// pair: the two user ids joined with ":" in lexicographic order, so (a,b)
// and (b,a) always map to the same key. The partial unique index on this
// key is the sole mechanism preventing duplicate DM channels.
func CanonicalDMKey(a, b string) string {
	if a < b {
		return a + ":" + b
	}
	return b + ":" + a
}

// ConversationsTable stores direct and group conversations. Direct
// conversations carry a canonical participant key guarded by a partial
// unique index; the index, not the application, is the arbiter under
// concurrent creation.
type ConversationsTable struct{}

func NewConversationsTable(db *sqlx.DB) *ConversationsTable {
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS cryptex_conversations (
		id UUID NOT NULL PRIMARY KEY DEFAULT gen_random_uuid(),
		type TEXT NOT NULL,
		name TEXT, -- nullable, groups only
		dm_participant_key TEXT, -- nullable, direct only
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS cryptex_conversations_dm_key_idx
		ON cryptex_conversations(dm_participant_key)
		WHERE type = 'direct' AND dm_participant_key IS NOT NULL;
	`)
	return &ConversationsTable{}
}

// SelectDirectForUpdate looks up the direct conversation with the given
// canonical key, taking a row lock so a concurrent resolver for the same
// pair serialises behind us. Returns "" when no row exists.
func (t *ConversationsTable) SelectDirectForUpdate(txn *sqlx.Tx, dmKey string) (string, error) {
	var id string
	err := txn.QueryRow(
		`SELECT id::text FROM cryptex_conversations
		 WHERE type = 'direct' AND dm_participant_key = $1
		 FOR UPDATE`, dmKey,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// InsertDirect attempts to create a direct conversation for the canonical
// key. Returns "" without error when a concurrent transaction won the race
// (the unique index silently rejected the insert); callers must then
// re-select the row that is now guaranteed to exist.
func (t *ConversationsTable) InsertDirect(txn *sqlx.Tx, dmKey string) (string, error) {
	var id string
	err := txn.QueryRow(
		`INSERT INTO cryptex_conversations(type, dm_participant_key) VALUES('direct', $1)
		 ON CONFLICT (dm_participant_key) WHERE type = 'direct' AND dm_participant_key IS NOT NULL
		 DO NOTHING
		 RETURNING id::text`, dmKey,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// SelectDirect is the post-conflict requery: by the time it runs the unique
// index guarantees exactly one row for the key.
func (t *ConversationsTable) SelectDirect(txn *sqlx.Tx, dmKey string) (string, error) {
	var id string
	err := txn.QueryRow(
		`SELECT id::text FROM cryptex_conversations
		 WHERE type = 'direct' AND dm_participant_key = $1`, dmKey,
	).Scan(&id)
	return id, err
}

// Touch bumps updated_at; called whenever a message is appended.
func (t *ConversationsTable) Touch(db *sqlx.DB, conversationID string) error {
	_, err := db.Exec(
		`UPDATE cryptex_conversations SET updated_at = now() WHERE id = $1::uuid`,
		conversationID,
	)
	return err
}

// SelectWithDetails returns every conversation the user participates in,
// most recently active first.
func (t *ConversationsTable) SelectWithDetails(db *sqlx.DB, userID string) ([]ConversationDetails, error) {
	var details []ConversationDetails
	err := db.Select(&details, `
	SELECT
		c.id::text AS conversation_id,
		c.type AS conversation_type,
		c.name,
		(SELECT cp2.user_id FROM cryptex_conversation_participants cp2
		 WHERE cp2.conversation_id = c.id AND cp2.user_id != $1 LIMIT 1) AS other_user_id,
		(SELECT p.nickname FROM cryptex_profiles p
		 JOIN cryptex_conversation_participants cp2 ON p.user_id = cp2.user_id
		 WHERE cp2.conversation_id = c.id AND cp2.user_id != $1 LIMIT 1) AS other_user_nickname,
		(SELECT m.content FROM cryptex_messages m
		 WHERE m.conversation_id = c.id
		 ORDER BY m.timestamp DESC LIMIT 1) AS last_message,
		(SELECT m.timestamp FROM cryptex_messages m
		 WHERE m.conversation_id = c.id
		 ORDER BY m.timestamp DESC LIMIT 1) AS last_message_time,
		COALESCE(
			(SELECT m.timestamp > COALESCE(EXTRACT(EPOCH FROM cp.last_read_at) * 1000, 0)
			 FROM cryptex_messages m
			 WHERE m.conversation_id = c.id
			 ORDER BY m.timestamp DESC LIMIT 1),
			false
		) AS has_unread
	FROM cryptex_conversations c
	JOIN cryptex_conversation_participants cp ON c.id = cp.conversation_id
	WHERE cp.user_id = $1
	ORDER BY
		(SELECT m.timestamp FROM cryptex_messages m WHERE m.conversation_id = c.id ORDER BY m.timestamp DESC LIMIT 1) DESC NULLS LAST
	`, userID)
	return details, err
}
