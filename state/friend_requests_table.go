package state

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// FriendRequest is a pending request joined with the sender's or
// recipient's profile, depending on which direction was queried.
type FriendRequest struct {
	ID        string  `db:"id" json:"id"`
	UserID    string  `db:"user_id" json:"user_id"`
	Username  string  `db:"username" json:"username"`
	Nickname  string  `db:"nickname" json:"nickname"`
	AvatarURL *string `db:"avatar_url" json:"avatar_url"`
}

type FriendRequestsTable struct{}

func NewFriendRequestsTable(db *sqlx.DB) *FriendRequestsTable {
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS cryptex_friend_requests (
		id UUID NOT NULL PRIMARY KEY DEFAULT gen_random_uuid(),
		sender_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (sender_id, recipient_id)
	);
	`)
	return &FriendRequestsTable{}
}

func (t *FriendRequestsTable) Insert(db *sqlx.DB, senderID, recipientID string) error {
	_, err := db.Exec(
		`INSERT INTO cryptex_friend_requests(sender_id, recipient_id, status) VALUES ($1, $2, 'pending')`,
		senderID, recipientID,
	)
	return err
}

// PendingBetween reports whether a pending request exists in either
// direction between the two users.
func (t *FriendRequestsTable) PendingBetween(db *sqlx.DB, userA, userB string) (bool, error) {
	var one int
	err := db.QueryRow(
		`SELECT 1 FROM cryptex_friend_requests
		 WHERE status = 'pending'
		   AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
		 LIMIT 1`,
		userA, userB,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// SelectIncoming lists pending requests addressed to userID, newest first,
// carrying the sender's profile.
func (t *FriendRequestsTable) SelectIncoming(db *sqlx.DB, userID string) ([]FriendRequest, error) {
	var reqs []FriendRequest
	err := db.Select(&reqs,
		`SELECT fr.id::text AS id, fr.sender_id AS user_id, p.username, p.nickname, p.avatar_url
		 FROM cryptex_friend_requests fr
		 JOIN cryptex_profiles p ON p.user_id = fr.sender_id
		 WHERE fr.recipient_id = $1 AND fr.status = 'pending'
		 ORDER BY fr.created_at DESC`,
		userID,
	)
	return reqs, err
}

// SelectOutgoing lists pending requests sent by userID, newest first,
// carrying the recipient's profile.
func (t *FriendRequestsTable) SelectOutgoing(db *sqlx.DB, userID string) ([]FriendRequest, error) {
	var reqs []FriendRequest
	err := db.Select(&reqs,
		`SELECT fr.id::text AS id, fr.recipient_id AS user_id, p.username, p.nickname, p.avatar_url
		 FROM cryptex_friend_requests fr
		 JOIN cryptex_profiles p ON p.user_id = fr.recipient_id
		 WHERE fr.sender_id = $1 AND fr.status = 'pending'
		 ORDER BY fr.created_at DESC`,
		userID,
	)
	return reqs, err
}

// SelectPendingForUpdate locks the request row and returns its sender and
// recipient, or ("","") when no pending request with that id exists.
func (t *FriendRequestsTable) SelectPendingForUpdate(txn *sqlx.Tx, requestID string) (senderID, recipientID string, err error) {
	err = txn.QueryRow(
		`SELECT sender_id, recipient_id FROM cryptex_friend_requests
		 WHERE id = $1::uuid AND status = 'pending' FOR UPDATE`,
		requestID,
	).Scan(&senderID, &recipientID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	return
}

func (t *FriendRequestsTable) UpdateStatus(txn *sqlx.Tx, requestID, status string) error {
	_, err := txn.Exec(`UPDATE cryptex_friend_requests SET status = $1 WHERE id = $2::uuid`, status, requestID)
	return err
}

// Decline marks a pending request declined, but only if userID is its
// recipient. Returns false when no matching pending request exists.
func (t *FriendRequestsTable) Decline(db *sqlx.DB, requestID, userID string) (bool, error) {
	res, err := db.Exec(
		`UPDATE cryptex_friend_requests SET status = 'declined'
		 WHERE id = $1::uuid AND recipient_id = $2 AND status = 'pending'`,
		requestID, userID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Cancel deletes a pending request, but only if userID is its sender.
func (t *FriendRequestsTable) Cancel(db *sqlx.DB, requestID, userID string) (bool, error) {
	res, err := db.Exec(
		`DELETE FROM cryptex_friend_requests
		 WHERE id = $1::uuid AND sender_id = $2 AND status = 'pending'`,
		requestID, userID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
