package state

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ValidStatuses is the closed set of presence values a profile may carry.
var ValidStatuses = []string{"online", "idle", "dnd", "offline"}

func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Profile is the user-editable identity shown to other users.
type Profile struct {
	Username  string  `db:"username" json:"username"`
	Nickname  string  `db:"nickname" json:"nickname"`
	AvatarURL *string `db:"avatar_url" json:"avatar_url"`
	Status    *string `db:"status" json:"status"`
}

// ProfileRef is the compact profile shape used for message display and
// friend lists.
type ProfileRef struct {
	UserID    string  `db:"user_id" json:"user_id"`
	Nickname  string  `db:"nickname" json:"nickname"`
	AvatarURL *string `db:"avatar_url" json:"avatar_url"`
	Status    *string `db:"status" json:"status"`
}

type ProfilesTable struct{}

func NewProfilesTable(db *sqlx.DB) *ProfilesTable {
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS cryptex_profiles (
		user_id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		nickname TEXT NOT NULL,
		avatar_url TEXT,
		status TEXT NOT NULL DEFAULT 'online'
	);
	`)
	return &ProfilesTable{}
}

func (t *ProfilesTable) Exists(db *sqlx.DB, userID string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM cryptex_profiles WHERE user_id = $1 LIMIT 1`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Select returns nil when the user has no profile yet.
func (t *ProfilesTable) Select(db *sqlx.DB, userID string) (*Profile, error) {
	var profile Profile
	err := db.Get(&profile,
		`SELECT username, nickname, avatar_url, status FROM cryptex_profiles WHERE user_id = $1`,
		userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// UserIDByUsername resolves a username to its owner, "" when unknown.
func (t *ProfilesTable) UserIDByUsername(db *sqlx.DB, username string) (string, error) {
	var userID string
	err := db.QueryRow(`SELECT user_id FROM cryptex_profiles WHERE username = $1`, username).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return userID, err
}

// UsernameTaken reports whether username belongs to anyone other than
// excludeUserID (pass "" to check against everyone).
func (t *ProfilesTable) UsernameTaken(db *sqlx.DB, username, excludeUserID string) (bool, error) {
	var one int
	err := db.QueryRow(
		`SELECT 1 FROM cryptex_profiles WHERE username = $1 AND user_id != $2 LIMIT 1`,
		username, excludeUserID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (t *ProfilesTable) Insert(db *sqlx.DB, userID, username, nickname string, avatarURL *string) error {
	_, err := db.Exec(
		`INSERT INTO cryptex_profiles(user_id, username, nickname, avatar_url, status)
		 VALUES ($1, $2, $3, $4, 'online')`,
		userID, username, nickname, avatarURL,
	)
	return err
}

func (t *ProfilesTable) Update(db *sqlx.DB, userID, username, nickname string, avatarURL *string) error {
	_, err := db.Exec(
		`UPDATE cryptex_profiles SET username = $1, nickname = $2, avatar_url = $3 WHERE user_id = $4`,
		username, nickname, avatarURL, userID,
	)
	return err
}

func (t *ProfilesTable) UpdateAvatarURL(db *sqlx.DB, userID string, avatarURL *string) error {
	_, err := db.Exec(`UPDATE cryptex_profiles SET avatar_url = $1 WHERE user_id = $2`, avatarURL, userID)
	return err
}

func (t *ProfilesTable) UpdateStatus(db *sqlx.DB, userID, status string) error {
	_, err := db.Exec(`UPDATE cryptex_profiles SET status = $1 WHERE user_id = $2`, status, userID)
	return err
}

// SelectByUserIDs returns the compact profiles for a batch of user ids.
// Unknown ids are simply absent from the result.
func (t *ProfilesTable) SelectByUserIDs(db *sqlx.DB, userIDs []string) ([]ProfileRef, error) {
	var refs []ProfileRef
	err := db.Select(&refs,
		`SELECT user_id, nickname, avatar_url, status FROM cryptex_profiles WHERE user_id = ANY($1)`,
		pq.StringArray(userIDs),
	)
	return refs, err
}
