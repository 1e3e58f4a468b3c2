package state

import (
	"github.com/jmoiron/sqlx"
)

type Message struct {
	ID             string `db:"id" json:"id"`
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	SenderID       string `db:"sender_id" json:"sender_id"`
	Content        string `db:"content" json:"content"`
	Timestamp      int64  `db:"timestamp" json:"timestamp"` // unix millis
}

type MessagesTable struct{}

func NewMessagesTable(db *sqlx.DB) *MessagesTable {
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS cryptex_messages (
		id UUID NOT NULL PRIMARY KEY DEFAULT gen_random_uuid(),
		conversation_id UUID NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS cryptex_messages_conversation_idx
		ON cryptex_messages(conversation_id, timestamp);
	`)
	return &MessagesTable{}
}

// Insert stores a message and returns its generated id.
func (t *MessagesTable) Insert(db *sqlx.DB, conversationID, senderID, content string, timestamp int64) (string, error) {
	var id string
	err := db.QueryRow(
		`INSERT INTO cryptex_messages(conversation_id, sender_id, content, timestamp)
		 VALUES ($1::uuid, $2, $3, $4) RETURNING id::text`,
		conversationID, senderID, content, timestamp,
	).Scan(&id)
	return id, err
}

// SelectForConversation returns the full message history, oldest first.
func (t *MessagesTable) SelectForConversation(db *sqlx.DB, conversationID string) ([]Message, error) {
	var messages []Message
	err := db.Select(&messages,
		`SELECT id::text AS id, conversation_id::text AS conversation_id, sender_id, content, timestamp
		 FROM cryptex_messages
		 WHERE conversation_id = $1::uuid
		 ORDER BY timestamp ASC`,
		conversationID,
	)
	return messages, err
}
