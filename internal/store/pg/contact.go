package pg

import (
	"context"
	"time"

	"tezrelay.dev/internal/store"
)

// UpsertContact inserts or updates the caller's own contact profile,
// keyed by user id.
func (s *Store) UpsertContact(ctx context.Context, c store.Contact) (store.Contact, error) {
	now := time.Now().UTC()
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into contacts(id, display_name, email, avatar_url, tez_address, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (id) do update set
			display_name = excluded.display_name,
			email = excluded.email,
			avatar_url = excluded.avatar_url,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, c.ID, c.DisplayName, c.Email, c.AvatarURL, c.TezAddress, c.Status, now, now)
	if err != nil {
		return store.Contact{}, err
	}
	return s.mustGetContact(ctx, c.ID)
}

func (s *Store) mustGetContact(ctx context.Context, id string) (store.Contact, error) {
	c, err := s.GetContact(ctx, id)
	if err != nil {
		return store.Contact{}, err
	}
	return *c, nil
}

func (s *Store) GetContact(ctx context.Context, id string) (*store.Contact, error) {
	var c store.Contact
	err := s.db.QueryRowContext(ctx, `
		select id, display_name, email, avatar_url, tez_address, status, created_at, updated_at
		from contacts where id=$1
	`, id).Scan(&c.ID, &c.DisplayName, &c.Email, &c.AvatarURL, &c.TezAddress, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &c, nil
}

func (s *Store) GetContactByAddress(ctx context.Context, tezAddress string) (*store.Contact, error) {
	var c store.Contact
	err := s.db.QueryRowContext(ctx, `
		select id, display_name, email, avatar_url, tez_address, status, created_at, updated_at
		from contacts where tez_address=$1
	`, tezAddress).Scan(&c.ID, &c.DisplayName, &c.Email, &c.AvatarURL, &c.TezAddress, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &c, nil
}

func (s *Store) SearchContacts(ctx context.Context, query string, limit int) ([]store.Contact, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, display_name, email, avatar_url, tez_address, status, created_at, updated_at
		from contacts
		where display_name ilike '%' || $1 || '%' or tez_address ilike '%' || $1 || '%'
		order by display_name
		limit $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Contact
	for rows.Next() {
		var c store.Contact
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.Email, &c.AvatarURL, &c.TezAddress, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
