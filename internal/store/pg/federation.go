package pg

import (
	"context"
	"time"

	"tezrelay.dev/internal/ids"
	"tezrelay.dev/internal/obs"
	"tezrelay.dev/internal/store"
)

func (s *Store) GetPeer(ctx context.Context, host string) (*store.Peer, error) {
	var p store.Peer
	err := s.db.QueryRowContext(ctx, `
		select host, server_id, public_key, display_name, trust_level, first_seen_at
		from peers where host=$1
	`, host).Scan(&p.Host, &p.ServerID, &p.PublicKey, &p.DisplayName, &p.TrustLevel, &p.FirstSeenAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

// GetPeerByServerID looks up a peer by its content-addressed server id, the
// value carried in a signed request's Signature-Input keyid (hosts aren't
// available until the peer is resolved).
func (s *Store) GetPeerByServerID(ctx context.Context, serverID string) (*store.Peer, error) {
	var p store.Peer
	err := s.db.QueryRowContext(ctx, `
		select host, server_id, public_key, display_name, trust_level, first_seen_at
		from peers where server_id=$1
	`, serverID).Scan(&p.Host, &p.ServerID, &p.PublicKey, &p.DisplayName, &p.TrustLevel, &p.FirstSeenAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

func (s *Store) ListPeers(ctx context.Context) ([]store.Peer, error) {
	rows, err := s.db.QueryContext(ctx, `
		select host, server_id, public_key, display_name, trust_level, first_seen_at
		from peers order by first_seen_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Peer
	for rows.Next() {
		var p store.Peer
		if err := rows.Scan(&p.Host, &p.ServerID, &p.PublicKey, &p.DisplayName, &p.TrustLevel, &p.FirstSeenAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPeer(ctx context.Context, p store.Peer) error {
	if p.FirstSeenAt.IsZero() {
		p.FirstSeenAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into peers(host, server_id, public_key, display_name, trust_level, first_seen_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (host) do update set
			server_id = excluded.server_id,
			public_key = excluded.public_key,
			display_name = excluded.display_name,
			trust_level = excluded.trust_level
	`, p.Host, p.ServerID, p.PublicKey, p.DisplayName, p.TrustLevel, p.FirstSeenAt)
	return err
}

func (s *Store) RemovePeer(ctx context.Context, host string) error {
	res, err := s.db.ExecContext(ctx, `delete from peers where host=$1`, host)
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

// EnqueueOutbound inserts one delivery per target host in a single
// transaction, so a Tez with several remote recipients never partially
// fans out.
func (s *Store) EnqueueOutbound(ctx context.Context, bundleJSON string, targetHosts []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, host := range targetHosts {
		if _, err := tx.ExecContext(ctx, `
			insert into outbound_deliveries(id, target_host, bundle, status, attempts, next_attempt_at)
			values ($1,$2,$3,$4,0,$5)
		`, ids.New(), host, bundleJSON, store.DeliveryQueued, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ClaimOutboundDelivery locks and returns the oldest due queued or failed
// delivery, marking it in_flight so a second pump instance won't also pick
// it up. Returns store.ErrNotFound if nothing is due.
func (s *Store) ClaimOutboundDelivery(ctx context.Context) (*store.OutboundDelivery, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var d store.OutboundDelivery
	err = tx.QueryRowContext(ctx, `
		select id, target_host, bundle, status, attempts, next_attempt_at
		from outbound_deliveries
		where status in ($1,$2) and next_attempt_at <= now()
		order by next_attempt_at
		limit 1
		for update skip locked
	`, store.DeliveryQueued, store.DeliveryFailed).Scan(&d.ID, &d.TargetHost, &d.Bundle, &d.Status, &d.Attempts, &d.NextAttemptAt)
	if err != nil {
		return nil, mapNotFound(err)
	}

	if _, err := tx.ExecContext(ctx, `
		update outbound_deliveries set status=$2 where id=$1
	`, d.ID, store.DeliveryInFlight); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	d.Status = store.DeliveryInFlight
	return &d, nil
}

func (s *Store) ListOutboundDeliveries(ctx context.Context, limit int) ([]store.OutboundDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, target_host, bundle, status, attempts, next_attempt_at
		from outbound_deliveries order by next_attempt_at desc limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.OutboundDelivery
	for rows.Next() {
		var d store.OutboundDelivery
		if err := rows.Scan(&d.ID, &d.TargetHost, &d.Bundle, &d.Status, &d.Attempts, &d.NextAttemptAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// IngestFederatedTez admits a bundle received from a peer: inserts the Tez
// (sender_user_id holds the full remote tez-address, e.g. "u1@relay.example",
// since the sender has no local account), its context entries, and a
// recipient row per local addressee, all in one transaction, followed by a
// best-effort audit write. Mirrors ShareTez's shape but never touches
// outbound_deliveries since inbound bundles don't re-fan-out.
func (s *Store) IngestFederatedTez(ctx context.Context, in store.NewTez, auditEntry store.AuditEntry) (store.Tez, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Tez{}, err
	}
	defer func() { _ = tx.Rollback() }()

	t := in.Tez
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
		on conflict (id) do nothing
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
			on conflict (id) do nothing
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

// CompleteOutboundDelivery marks a delivery sent (success) or reschedules
// it with the given backoff (failure). A failure moves the row to failed
// rather than back to queued, increments attempts, and sets
// next_attempt_at to retryAt, distinguishing "has failed before" from
// "never attempted" for backoff bookkeeping.
func (s *Store) CompleteOutboundDelivery(ctx context.Context, id string, success bool, retryAt time.Time) error {
	if success {
		_, err := s.db.ExecContext(ctx, `
			update outbound_deliveries set status=$2 where id=$1
		`, id, store.DeliverySent)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		update outbound_deliveries
		set status=$2, attempts = attempts + 1, next_attempt_at=$3
		where id=$1
	`, id, store.DeliveryFailed, retryAt)
	return err
}
