package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tezrelay.dev/internal/ids"
	"tezrelay.dev/internal/store"
)

// GetOrCreateDM returns the existing DM between userA and userB if one
// exists, or creates it. The transaction first takes an advisory lock keyed
// on the sorted pair, then looks the pair up order-independently via a
// two-member-count query, so concurrent callers racing to open the same DM
// converge on one conversation row rather than creating duplicates.
func (s *Store) GetOrCreateDM(ctx context.Context, userA, userB, createdBy string) (store.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Conversation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	pair := sortedIDs(userA, userB)
	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, pair[0], pair[1]); err != nil {
		return store.Conversation{}, err
	}

	var existingID string
	err = tx.QueryRowContext(ctx, `
		select c.id
		from conversations c
		join conversation_members m1 on m1.conversation_id = c.id and m1.user_id = $1
		join conversation_members m2 on m2.conversation_id = c.id and m2.user_id = $2
		where c.type = 'dm'
		and (select count(*) from conversation_members m where m.conversation_id = c.id) = 2
		limit 1
	`, userA, userB).Scan(&existingID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return store.Conversation{}, err
		}
		return s.mustGetConversation(ctx, existingID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, err
	}

	c := store.Conversation{
		ID:        ids.New(),
		Type:      store.ConversationDM,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into conversations(id, type, name, created_by, created_at)
		values ($1,$2,null,$3,$4)
	`, c.ID, c.Type, c.CreatedBy, c.CreatedAt); err != nil {
		return store.Conversation{}, err
	}
	for _, uid := range []string{userA, userB} {
		if _, err := tx.ExecContext(ctx, `
			insert into conversation_members(conversation_id, user_id, joined_at)
			values ($1,$2,$3)
		`, c.ID, uid, c.CreatedAt); err != nil {
			return store.Conversation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Conversation{}, err
	}
	return c, nil
}

func (s *Store) CreateGroupConversation(ctx context.Context, name, createdBy string, memberIDs []string) (store.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Conversation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	c := store.Conversation{
		ID:        ids.New(),
		Type:      store.ConversationGroup,
		Name:      &name,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into conversations(id, type, name, created_by, created_at)
		values ($1,$2,$3,$4,$5)
	`, c.ID, c.Type, c.Name, c.CreatedBy, c.CreatedAt); err != nil {
		return store.Conversation{}, err
	}
	members := append([]string{createdBy}, memberIDs...)
	seen := map[string]bool{}
	for _, uid := range members {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		if _, err := tx.ExecContext(ctx, `
			insert into conversation_members(conversation_id, user_id, joined_at)
			values ($1,$2,$3)
		`, c.ID, uid, c.CreatedAt); err != nil {
			return store.Conversation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Conversation{}, err
	}
	return c, nil
}

func (s *Store) mustGetConversation(ctx context.Context, id string) (store.Conversation, error) {
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return store.Conversation{}, err
	}
	return *c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var c store.Conversation
	err := s.db.QueryRowContext(ctx, `
		select id, type, name, created_by, created_at from conversations where id=$1
	`, id).Scan(&c.ID, &c.Type, &c.Name, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &c, nil
}

func (s *Store) GetConversationMember(ctx context.Context, conversationID, userID string) (*store.ConversationMember, error) {
	var m store.ConversationMember
	err := s.db.QueryRowContext(ctx, `
		select conversation_id, user_id, joined_at, last_read_at
		from conversation_members where conversation_id=$1 and user_id=$2
	`, conversationID, userID).Scan(&m.ConversationID, &m.UserID, &m.JoinedAt, &m.LastReadAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &m, nil
}

// ListConversationsForUser returns every conversation userID belongs to
// along with the id of its most recent Tez and how many of that
// conversation's Tez the user hasn't read yet.
type ConversationSummary struct {
	Conversation store.Conversation
	LastTezID    *string
	UnreadCount  int
}

func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		select c.id, c.type, c.name, c.created_by, c.created_at, m.last_read_at,
			(select t.id from tez t where t.conversation_id = c.id order by t.created_at desc limit 1) as last_tez_id,
			(select count(*) from tez t where t.conversation_id = c.id and t.created_at > coalesce(m.last_read_at, to_timestamp(0))) as unread_count
		from conversations c
		join conversation_members m on m.conversation_id = c.id
		where m.user_id = $1
		order by c.created_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var cs ConversationSummary
		var lastReadAt sql.NullTime
		if err := rows.Scan(&cs.Conversation.ID, &cs.Conversation.Type, &cs.Conversation.Name,
			&cs.Conversation.CreatedBy, &cs.Conversation.CreatedAt, &lastReadAt, &cs.LastTezID, &cs.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *Store) ListConversationMembers(ctx context.Context, conversationID string) ([]store.ConversationMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		select conversation_id, user_id, joined_at, last_read_at
		from conversation_members where conversation_id=$1
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ConversationMember
	for rows.Next() {
		var m store.ConversationMember
		if err := rows.Scan(&m.ConversationID, &m.UserID, &m.JoinedAt, &m.LastReadAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListConversationMessages returns a conversation's Tez newest-first,
// capped at limit+1 rows to derive hasMore the same way ListTeamStream
// does.
func (s *Store) ListConversationMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]store.Tez, bool, error) {
	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = s.db.QueryContext(ctx, `
			select id, team_id, conversation_id, thread_id, parent_tez_id, surface_text, type, urgency,
				action_requested, sender_user_id, visibility, status, created_at, updated_at
			from tez where conversation_id=$1 and created_at < $2
			order by created_at desc limit $3
		`, conversationID, *before, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			select id, team_id, conversation_id, thread_id, parent_tez_id, surface_text, type, urgency,
				action_requested, sender_user_id, visibility, status, created_at, updated_at
			from tez where conversation_id=$1
			order by created_at desc limit $2
		`, conversationID, limit+1)
	}
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []store.Tez
	for rows.Next() {
		var t store.Tez
		if err := rows.Scan(&t.ID, &t.TeamID, &t.ConversationID, &t.ThreadID, &t.ParentTezID, &t.SurfaceText,
			&t.Type, &t.Urgency, &t.ActionRequested, &t.SenderUserID, &t.Visibility, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
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

func (s *Store) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		update conversation_members set last_read_at = now()
		where conversation_id=$1 and user_id=$2
	`, conversationID, userID)
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
