package pg

import (
	"context"
	"database/sql"
	"time"

	"tezrelay.dev/internal/ids"
	"tezrelay.dev/internal/obs"
	"tezrelay.dev/internal/store"
)

// ShareTez inserts a Tez, its context entries, and its local recipient
// rows in one transaction, then writes the audit entry using the same
// transaction. A failure in the audit insert is logged and does not roll
// back the Tez: audit is best-effort by design (spec §4.9), even though it
// shares the transaction for ordering.
func (s *Store) ShareTez(ctx context.Context, in store.NewTez, auditEntry store.AuditEntry) (store.Tez, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Tez{}, err
	}
	defer func() { _ = tx.Rollback() }()

	t := in.Tez
	if t.ID == "" {
		t.ID = ids.New()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = store.TezStatusActive
	}

	if _, err := tx.ExecContext(ctx, `
		insert into tez(id, team_id, conversation_id, thread_id, parent_tez_id, surface_text, type, urgency,
			action_requested, sender_user_id, visibility, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, t.ID, t.TeamID, t.ConversationID, t.ThreadID, t.ParentTezID, t.SurfaceText, t.Type, t.Urgency,
		t.ActionRequested, t.SenderUserID, t.Visibility, t.Status, t.CreatedAt, t.UpdatedAt); err != nil {
		return store.Tez{}, err
	}

	for i := range in.Context {
		c := &in.Context[i]
		if c.ID == "" {
			c.ID = ids.New()
		}
		c.TezID = t.ID
		if _, err := tx.ExecContext(ctx, `
			insert into tez_context(id, tez_id, layer, content, mime_type, confidence, source, derived_from, created_by)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, c.ID, c.TezID, c.Layer, c.Content, c.MimeType, c.Confidence, c.Source, c.DerivedFrom, c.CreatedBy); err != nil {
			return store.Tez{}, err
		}
	}

	for _, uid := range in.LocalRecipients {
		if _, err := tx.ExecContext(ctx, `
			insert into tez_recipients(tez_id, user_id, delivered_at)
			values ($1,$2,$3)
			on conflict (tez_id, user_id) do nothing
		`, t.ID, uid, now); err != nil {
			return store.Tez{}, err
		}
	}

	if err := s.insertAuditBestEffort(ctx, tx, auditEntry); err != nil {
		obs.Logger().Printf(`{"type":"audit_write_failed","tez_id":%q,"error":%q}`, t.ID, err.Error())
	}

	if err := tx.Commit(); err != nil {
		return store.Tez{}, err
	}
	return t, nil
}

func (s *Store) insertAuditBestEffort(ctx context.Context, tx *sql.Tx, entry store.AuditEntry) error {
	if entry.ID == "" {
		return nil
	}
	// A failed statement aborts the whole Postgres transaction, so the insert
	// runs under a savepoint that is rolled back on failure.
	if _, err := tx.ExecContext(ctx, `savepoint audit_entry`); err != nil {
		return err
	}
	if err := s.InsertAuditEntryTx(ctx, tx, entry); err != nil {
		_, _ = tx.ExecContext(ctx, `rollback to savepoint audit_entry`)
		return err
	}
	_, err := tx.ExecContext(ctx, `release savepoint audit_entry`)
	return err
}

func (s *Store) GetTez(ctx context.Context, id string) (*store.Tez, error) {
	var t store.Tez
	err := s.db.QueryRowContext(ctx, `
		select id, team_id, conversation_id, thread_id, parent_tez_id, surface_text, type, urgency,
			action_requested, sender_user_id, visibility, status, created_at, updated_at
		from tez where id=$1
	`, id).Scan(&t.ID, &t.TeamID, &t.ConversationID, &t.ThreadID, &t.ParentTezID, &t.SurfaceText, &t.Type, &t.Urgency,
		&t.ActionRequested, &t.SenderUserID, &t.Visibility, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &t, nil
}

func (s *Store) ListThread(ctx context.Context, threadID string) ([]store.Tez, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, team_id, conversation_id, thread_id, parent_tez_id, surface_text, type, urgency,
			action_requested, sender_user_id, visibility, status, created_at, updated_at
		from tez where thread_id=$1 order by created_at
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Tez
	for rows.Next() {
		var t store.Tez
		if err := rows.Scan(&t.ID, &t.TeamID, &t.ConversationID, &t.ThreadID, &t.ParentTezID, &t.SurfaceText, &t.Type, &t.Urgency,
			&t.ActionRequested, &t.SenderUserID, &t.Visibility, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTeamStream returns up to limit+1 rows so the caller can derive
// hasMore without a separate count query, trimming the extra row before
// returning.
func (s *Store) ListTeamStream(ctx context.Context, teamID string, limit int, before *time.Time) ([]store.Tez, bool, error) {
	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = s.db.QueryContext(ctx, `
			select id, team_id, conversation_id, thread_id, parent_tez_id, surface_text, type, urgency,
				action_requested, sender_user_id, visibility, status, created_at, updated_at
			from tez where team_id=$1 and status=$2 and created_at < $3
			order by created_at desc limit $4
		`, teamID, store.TezStatusActive, *before, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			select id, team_id, conversation_id, thread_id, parent_tez_id, surface_text, type, urgency,
				action_requested, sender_user_id, visibility, status, created_at, updated_at
			from tez where team_id=$1 and status=$2
			order by created_at desc limit $3
		`, teamID, store.TezStatusActive, limit+1)
	}
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []store.Tez
	for rows.Next() {
		var t store.Tez
		if err := rows.Scan(&t.ID, &t.TeamID, &t.ConversationID, &t.ThreadID, &t.ParentTezID, &t.SurfaceText, &t.Type, &t.Urgency,
			&t.ActionRequested, &t.SenderUserID, &t.Visibility, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, false, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

func (s *Store) ListContext(ctx context.Context, tezID string) ([]store.TezContext, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tez_id, layer, content, mime_type, confidence, source, derived_from, created_by
		from tez_context where tez_id=$1 order by layer
	`, tezID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TezContext
	for rows.Next() {
		var c store.TezContext
		if err := rows.Scan(&c.ID, &c.TezID, &c.Layer, &c.Content, &c.MimeType, &c.Confidence, &c.Source, &c.DerivedFrom, &c.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetRecipient(ctx context.Context, tezID, userID string) (*store.TezRecipient, error) {
	var r store.TezRecipient
	err := s.db.QueryRowContext(ctx, `
		select tez_id, user_id, delivered_at, read_at, acknowledged_at
		from tez_recipients where tez_id=$1 and user_id=$2
	`, tezID, userID).Scan(&r.TezID, &r.UserID, &r.DeliveredAt, &r.ReadAt, &r.AcknowledgedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &r, nil
}

func (s *Store) ListRecipients(ctx context.Context, tezID string) ([]store.TezRecipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		select tez_id, user_id, delivered_at, read_at, acknowledged_at
		from tez_recipients where tez_id=$1
	`, tezID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TezRecipient
	for rows.Next() {
		var r store.TezRecipient
		if err := rows.Scan(&r.TezID, &r.UserID, &r.DeliveredAt, &r.ReadAt, &r.AcknowledgedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRead sets read_at for a recipient row the first time it is called;
// subsequent calls are no-ops so re-reading a Tez never re-triggers a read
// event (spec §4.6: no audit entry on redundant reads).
func (s *Store) MarkRead(ctx context.Context, tezID, userID string) (firstRead bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		update tez_recipients set read_at = now()
		where tez_id=$1 and user_id=$2 and read_at is null
	`, tezID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) MarkAcknowledged(ctx context.Context, tezID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		update tez_recipients set acknowledged_at = now()
		where tez_id=$1 and user_id=$2
	`, tezID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetTezStatus(ctx context.Context, tezID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		update tez set status=$2, updated_at=now() where id=$1
	`, tezID, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
