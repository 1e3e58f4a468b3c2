package state

import (
	"github.com/jmoiron/sqlx"
)

// ParticipantsTable links users to conversations. last_read_at backs the
// unread flag in the conversation listing; it plays no part in the
// dedupe invariant.
type ParticipantsTable struct{}

func NewParticipantsTable(db *sqlx.DB) *ParticipantsTable {
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS cryptex_conversation_participants (
		conversation_id UUID NOT NULL,
		user_id TEXT NOT NULL,
		last_read_at TIMESTAMPTZ, -- nullable: never opened
		PRIMARY KEY (conversation_id, user_id)
	);
	`)
	return &ParticipantsTable{}
}

// InsertPair adds both participants of a new direct conversation. Runs in
// the same transaction as the conversation insert so a conversation row can
// never be committed without its two participant rows.
func (t *ParticipantsTable) InsertPair(txn *sqlx.Tx, conversationID, userA, userB string) error {
	_, err := txn.Exec(
		`INSERT INTO cryptex_conversation_participants(conversation_id, user_id)
		 VALUES ($1::uuid, $2), ($1::uuid, $3)`,
		conversationID, userA, userB,
	)
	return err
}

func (t *ParticipantsTable) IsParticipant(db *sqlx.DB, conversationID, userID string) (bool, error) {
	var count int
	err := db.QueryRow(
		`SELECT count(*) FROM cryptex_conversation_participants
		 WHERE conversation_id = $1::uuid AND user_id = $2`,
		conversationID, userID,
	).Scan(&count)
	return count > 0, err
}

// MarkRead stamps the participant's last-read marker with the current
// instant.
func (t *ParticipantsTable) MarkRead(db *sqlx.DB, conversationID, userID string) error {
	_, err := db.Exec(
		`UPDATE cryptex_conversation_participants SET last_read_at = now()
		 WHERE conversation_id = $1::uuid AND user_id = $2`,
		conversationID, userID,
	)
	return err
}

// SelectUserIDs returns the participants of a conversation.
func (t *ParticipantsTable) SelectUserIDs(db *sqlx.DB, conversationID string) ([]string, error) {
	var userIDs []string
	err := db.Select(&userIDs,
		`SELECT user_id FROM cryptex_conversation_participants
		 WHERE conversation_id = $1::uuid ORDER BY user_id`,
		conversationID,
	)
	return userIDs, err
}
