package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

func init() {
	goose.AddMigrationContext(upBackfillDMKeys, downBackfillDMKeys)
}

// Direct conversations created before the canonical participant key existed
// have a NULL dm_participant_key, so the unique index does not guard them
// and the same user pair may own several rows. Merge each duplicate set
// into its oldest row, then backfill the key everywhere.
func upBackfillDMKeys(ctx context.Context, tx *sql.Tx) error {
	merged, err := mergeDuplicateDirects(ctx, tx)
	if err != nil {
		return err
	}
	if merged > 0 {
		log.Info().Msgf("Merged %d duplicate direct conversations", merged)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE cryptex_conversations AS c
		SET dm_participant_key = keyed.dm_key
		FROM (
			SELECT conversation_id, min(user_id) || ':' || max(user_id) AS dm_key
			FROM cryptex_conversation_participants
			GROUP BY conversation_id
			HAVING count(*) = 2
		) AS keyed
		WHERE c.id = keyed.conversation_id
		  AND c.type = 'direct'
		  AND c.dm_participant_key IS NULL`)
	if err != nil {
		return fmt.Errorf("failed to backfill participant keys: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		log.Warn().Err(err).Msg("Couldn't count backfilled conversations")
	} else if ra > 0 {
		log.Info().Msgf("Backfilled participant keys on %d direct conversations", ra)
	}
	return nil
}

// mergeDuplicateDirects picks the oldest conversation of each duplicated
// user pair as the survivor, repoints messages and read markers at it, and
// deletes the rest.
func mergeDuplicateDirects(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT keyed.conversation_id, survivors.survivor_id
		FROM (
			SELECT p.conversation_id,
			       min(p.user_id) || ':' || max(p.user_id) AS dm_key,
			       c.created_at
			FROM cryptex_conversation_participants p
			JOIN cryptex_conversations c ON c.id = p.conversation_id
			WHERE c.type = 'direct' AND c.dm_participant_key IS NULL
			GROUP BY p.conversation_id, c.created_at
			HAVING count(*) = 2
		) AS keyed
		JOIN (
			SELECT (array_agg(sub.conversation_id ORDER BY sub.created_at ASC))[1] AS survivor_id,
			       sub.dm_key
			FROM (
				SELECT p.conversation_id,
				       min(p.user_id) || ':' || max(p.user_id) AS dm_key,
				       c.created_at
				FROM cryptex_conversation_participants p
				JOIN cryptex_conversations c ON c.id = p.conversation_id
				WHERE c.type = 'direct' AND c.dm_participant_key IS NULL
				GROUP BY p.conversation_id, c.created_at
				HAVING count(*) = 2
			) AS sub
			GROUP BY sub.dm_key
			HAVING count(*) > 1
		) AS survivors ON survivors.dm_key = keyed.dm_key
		WHERE keyed.conversation_id != survivors.survivor_id`)
	if err != nil {
		return 0, fmt.Errorf("failed to find duplicate direct conversations: %w", err)
	}
	defer rows.Close()

	remap := map[string]string{} // doomed conversation id -> survivor id
	for rows.Next() {
		var doomed, survivor string
		if err := rows.Scan(&doomed, &survivor); err != nil {
			return 0, err
		}
		remap[doomed] = survivor
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for doomed, survivor := range remap {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cryptex_messages SET conversation_id = $1 WHERE conversation_id = $2`,
			survivor, doomed,
		); err != nil {
			return 0, fmt.Errorf("failed to move messages from %s to %s: %w", doomed, survivor, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cryptex_conversation_participants WHERE conversation_id = $1`,
			doomed,
		); err != nil {
			return 0, fmt.Errorf("failed to delete participants of %s: %w", doomed, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cryptex_conversations WHERE id = $1`,
			doomed,
		); err != nil {
			return 0, fmt.Errorf("failed to delete conversation %s: %w", doomed, err)
		}
	}
	return len(remap), nil
}

func downBackfillDMKeys(ctx context.Context, tx *sql.Tx) error {
	// The merge is lossy, so down only clears the backfilled keys.
	_, err := tx.ExecContext(ctx,
		`UPDATE cryptex_conversations SET dm_participant_key = NULL WHERE type = 'direct'`)
	return err
}
