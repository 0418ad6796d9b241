package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"tezrelay.dev/internal/store"
)

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// InsertAuditEntry implements audit.Store for callers outside an existing
// transaction.
func (s *Store) InsertAuditEntry(ctx context.Context, entry store.AuditEntry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_entries(id, team_id, actor_user_id, action, target_type, target_id, metadata, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.TeamID, entry.ActorUserID, entry.Action, entry.TargetType, entry.TargetID, metadata, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditEntries(ctx context.Context, teamID *string, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if teamID != nil {
		rows, err = s.db.QueryContext(ctx, `
			select id, team_id, actor_user_id, action, target_type, target_id, metadata, created_at
			from audit_entries where team_id=$1 order by created_at desc limit $2
		`, *teamID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			select id, team_id, actor_user_id, action, target_type, target_id, metadata, created_at
			from audit_entries order by created_at desc limit $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var raw []byte
		if err := rows.Scan(&e.ID, &e.TeamID, &e.ActorUserID, &e.Action, &e.TargetType, &e.TargetID, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
