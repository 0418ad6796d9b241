package pg

import (
	"context"
	"database/sql"
	"time"

	"tezrelay.dev/internal/ids"
	"tezrelay.dev/internal/store"
)

// CreateTeam inserts the team and its creator as the sole admin member in
// one transaction, so a team is never observably missing its founding
// admin.
func (s *Store) CreateTeam(ctx context.Context, name, createdBy string) (store.Team, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Team{}, err
	}
	defer func() { _ = tx.Rollback() }()

	t := store.Team{
		ID:        ids.New(),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	t.UpdatedAt = t.CreatedAt

	if _, err := tx.ExecContext(ctx, `
		insert into teams(id, name, created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5)
	`, t.ID, t.Name, t.CreatedBy, t.CreatedAt, t.UpdatedAt); err != nil {
		return store.Team{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into team_members(team_id, user_id, role, joined_at)
		values ($1,$2,$3,$4)
	`, t.ID, createdBy, store.RoleAdmin, t.CreatedAt); err != nil {
		return store.Team{}, err
	}

	if err := tx.Commit(); err != nil {
		return store.Team{}, err
	}
	return t, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (*store.Team, error) {
	var t store.Team
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_by, created_at, updated_at from teams where id=$1
	`, id).Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &t, nil
}

func (s *Store) ListTeamsForUser(ctx context.Context, userID string) ([]store.Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		select t.id, t.name, t.created_by, t.created_at, t.updated_at
		from teams t
		join team_members m on m.team_id = t.id
		where m.user_id = $1
		order by t.created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Team
	for rows.Next() {
		var t store.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTeamMember(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
	var m store.TeamMember
	err := s.db.QueryRowContext(ctx, `
		select team_id, user_id, role, joined_at from team_members where team_id=$1 and user_id=$2
	`, teamID, userID).Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &m, nil
}

func (s *Store) ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		select team_id, user_id, role, joined_at from team_members where team_id=$1 order by joined_at
	`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TeamMember
	for rows.Next() {
		var m store.TeamMember
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddTeamMember inserts a member row, or is a no-op if already present.
func (s *Store) AddTeamMember(ctx context.Context, teamID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into team_members(team_id, user_id, role, joined_at)
		values ($1,$2,$3,now())
		on conflict (team_id, user_id) do nothing
	`, teamID, userID, role)
	return err
}

// RemoveTeamMember deletes a member, first locking the team's member rows
// and rejecting removal if it would leave the team with zero admins.
func (s *Store) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		select user_id, role from team_members where team_id=$1 for update
	`, teamID)
	if err != nil {
		return err
	}
	var target string
	var targetRole string
	admins := 0
	for rows.Next() {
		var uid, role string
		if err := rows.Scan(&uid, &role); err != nil {
			rows.Close()
			return err
		}
		if uid == userID {
			target = uid
			targetRole = role
		}
		if role == store.RoleAdmin {
			admins++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if target == "" {
		return store.ErrNotFound
	}
	if targetRole == store.RoleAdmin && admins <= 1 {
		return store.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		delete from team_members where team_id=$1 and user_id=$2
	`, teamID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// CountUnreadByTeam returns, per team userID belongs to, the number of
// team-scoped Tez addressed to userID with a null read_at.
func (s *Store) CountUnreadByTeam(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		select t.team_id, count(*)
		from tez_recipients r
		join tez t on t.id = r.tez_id
		where r.user_id = $1 and r.read_at is null and t.team_id is not null
		group by t.team_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var teamID string
		var count int
		if err := rows.Scan(&teamID, &count); err != nil {
			return nil, err
		}
		out[teamID] = count
	}
	return out, rows.Err()
}

func (s *Store) InsertAuditEntryTx(ctx context.Context, tx *sql.Tx, entry store.AuditEntry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into audit_entries(id, team_id, actor_user_id, action, target_type, target_id, metadata, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.TeamID, entry.ActorUserID, entry.Action, entry.TargetType, entry.TargetID, metadata, entry.CreatedAt)
	return err
}
