package state

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Friend is an accepted friendship joined with the friend's profile.
type Friend struct {
	UserID    string  `db:"user_id" json:"user_id"`
	Username  string  `db:"username" json:"username"`
	Nickname  string  `db:"nickname" json:"nickname"`
	AvatarURL *string `db:"avatar_url" json:"avatar_url"`
	Status    *string `db:"status" json:"status"`
}

type FriendsTable struct{}

func NewFriendsTable(db *sqlx.DB) *FriendsTable {
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS cryptex_friends (
		user_id TEXT NOT NULL,
		friend_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, friend_id)
	);
	`)
	return &FriendsTable{}
}

// InsertPair records the friendship in both directions inside txn.
func (t *FriendsTable) InsertPair(txn *sqlx.Tx, userA, userB string) error {
	_, err := txn.Exec(
		`INSERT INTO cryptex_friends(user_id, friend_id) VALUES ($1, $2), ($2, $1)
		 ON CONFLICT DO NOTHING`,
		userA, userB,
	)
	return err
}

func (t *FriendsTable) AreFriends(db *sqlx.DB, userA, userB string) (bool, error) {
	var one int
	err := db.QueryRow(
		`SELECT 1 FROM cryptex_friends WHERE user_id = $1 AND friend_id = $2 LIMIT 1`,
		userA, userB,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// SelectForUser lists userID's friends with their profiles, ordered by
// nickname for stable display.
func (t *FriendsTable) SelectForUser(db *sqlx.DB, userID string) ([]Friend, error) {
	var friends []Friend
	err := db.Select(&friends,
		`SELECT f.friend_id AS user_id, p.username, p.nickname, p.avatar_url, p.status
		 FROM cryptex_friends f
		 JOIN cryptex_profiles p ON p.user_id = f.friend_id
		 WHERE f.user_id = $1
		 ORDER BY p.nickname ASC`,
		userID,
	)
	return friends, err
}

// DeletePair removes the friendship in both directions. Returns false when
// the two users were not friends.
func (t *FriendsTable) DeletePair(db *sqlx.DB, userA, userB string) (bool, error) {
	res, err := db.Exec(
		`DELETE FROM cryptex_friends
		 WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`,
		userA, userB,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
