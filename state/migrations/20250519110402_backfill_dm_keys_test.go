package migrations

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/cryptex-im/cryptex/testutils"
)

var postgresConnectionString = "user=xxxxx dbname=cryptex_test sslmode=disable"

func connectToDB(t *testing.T) (*sqlx.DB, func()) {
	postgresConnectionString = testutils.PrepareDBConnectionString("cryptex_migrations_test")
	db, err := sqlx.Open("postgres", postgresConnectionString)
	if err != nil {
		t.Fatalf("failed to open SQL db: %s", err)
	}
	return db, func() {
		db.Close()
	}
}

func TestBackfillDMKeysMigration(t *testing.T) {
	ctx := context.Background()
	db, close := connectToDB(t)
	defer close()

	// The schema as it stood before canonical participant keys were
	// populated: dm_participant_key exists but every direct row is NULL,
	// so the partial unique index guards nothing.
	_, err := db.Exec(`
	CREATE TABLE cryptex_conversations (
		id UUID NOT NULL PRIMARY KEY DEFAULT gen_random_uuid(),
		type TEXT NOT NULL,
		name TEXT,
		dm_participant_key TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE UNIQUE INDEX cryptex_conversations_dm_key_idx
		ON cryptex_conversations(dm_participant_key)
		WHERE type = 'direct' AND dm_participant_key IS NOT NULL;
	CREATE TABLE cryptex_conversation_participants (
		conversation_id UUID NOT NULL,
		user_id TEXT NOT NULL,
		last_read_at TIMESTAMPTZ,
		PRIMARY KEY (conversation_id, user_id)
	);
	CREATE TABLE cryptex_messages (
		id UUID NOT NULL PRIMARY KEY DEFAULT gen_random_uuid(),
		conversation_id UUID NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp BIGINT NOT NULL
	);`)
	if err != nil {
		t.Fatal(err)
	}

	alice := "11111111-1111-1111-1111-111111111111"
	bob := "22222222-2222-2222-2222-222222222222"
	carol := "33333333-3333-3333-3333-333333333333"
	wantKey := alice + ":" + bob

	seedDirect := func(userA, userB, createdAt string, messages ...string) string {
		var id string
		err := db.QueryRow(
			`INSERT INTO cryptex_conversations(type, created_at) VALUES ('direct', $1::timestamptz) RETURNING id::text`,
			createdAt,
		).Scan(&id)
		if err != nil {
			t.Fatalf("seed conversation: %s", err)
		}
		_, err = db.Exec(
			`INSERT INTO cryptex_conversation_participants(conversation_id, user_id) VALUES ($1::uuid, $2), ($1::uuid, $3)`,
			id, userA, userB,
		)
		if err != nil {
			t.Fatalf("seed participants: %s", err)
		}
		for i, content := range messages {
			_, err = db.Exec(
				`INSERT INTO cryptex_messages(conversation_id, sender_id, content, timestamp) VALUES ($1::uuid, $2, $3, $4)`,
				id, userA, content, 1700000000000+int64(i),
			)
			if err != nil {
				t.Fatalf("seed message: %s", err)
			}
		}
		return id
	}

	// Two keyless conversations for the same pair: the older one must
	// survive and absorb the newer one's messages.
	older := seedDirect(alice, bob, "2024-01-01T00:00:00Z", "first hello", "still here")
	newer := seedDirect(alice, bob, "2024-02-01T00:00:00Z", "duplicate hello")
	// A keyless singleton for another pair: backfill only, no merge.
	single := seedDirect(alice, carol, "2024-01-15T00:00:00Z", "hi carol")

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	err = upBackfillDMKeys(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	if err = tx.Commit(); err != nil {
		t.Fatal(err)
	}

	var survivors []string
	err = db.Select(&survivors,
		`SELECT id::text FROM cryptex_conversations WHERE dm_participant_key = $1`, wantKey)
	if err != nil {
		t.Fatalf("select survivors: %s", err)
	}
	if len(survivors) != 1 {
		t.Fatalf("got %d conversations for key %s, want 1", len(survivors), wantKey)
	}
	if survivors[0] != older {
		t.Fatalf("survivor is %s, want the older conversation %s", survivors[0], older)
	}

	var count int
	err = db.QueryRow(
		`SELECT count(*) FROM cryptex_conversations WHERE id = $1::uuid`, newer,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count doomed conversation: %s", err)
	}
	if count != 0 {
		t.Fatalf("merged conversation %s still exists", newer)
	}
	err = db.QueryRow(
		`SELECT count(*) FROM cryptex_conversation_participants WHERE conversation_id = $1::uuid`, newer,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count doomed participants: %s", err)
	}
	if count != 0 {
		t.Fatalf("merged conversation %s still has participant rows", newer)
	}

	// The survivor owns both sides' messages.
	var contents []string
	err = db.Select(&contents,
		`SELECT content FROM cryptex_messages WHERE conversation_id = $1::uuid ORDER BY timestamp, content`, older)
	if err != nil {
		t.Fatalf("select survivor messages: %s", err)
	}
	if len(contents) != 3 {
		t.Fatalf("survivor has %d messages, want 3: %v", len(contents), contents)
	}
	seen := map[string]bool{}
	for _, c := range contents {
		seen[c] = true
	}
	for _, want := range []string{"first hello", "still here", "duplicate hello"} {
		if !seen[want] {
			t.Fatalf("survivor is missing message %q", want)
		}
	}

	// The singleton pair is backfilled in place.
	var singleKey *string
	err = db.QueryRow(
		`SELECT dm_participant_key FROM cryptex_conversations WHERE id = $1::uuid`, single,
	).Scan(&singleKey)
	if err != nil {
		t.Fatalf("select singleton key: %s", err)
	}
	if singleKey == nil || *singleKey != alice+":"+carol {
		t.Fatalf("singleton key not backfilled: got %v", singleKey)
	}

	// Down clears the keys again without resurrecting merged rows.
	tx, err = db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	err = downBackfillDMKeys(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	if err = tx.Commit(); err != nil {
		t.Fatal(err)
	}
	err = db.QueryRow(
		`SELECT count(*) FROM cryptex_conversations WHERE dm_participant_key IS NOT NULL`,
	).Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("down migration left %d keys set", count)
	}
}
