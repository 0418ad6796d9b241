// Package conversations implements DM/group conversation creation,
// listing, and message access. See spec §4.7.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tezrelay.dev/internal/audit"
	"tezrelay.dev/internal/messaging"
	"tezrelay.dev/internal/store"
	"tezrelay.dev/internal/store/pg"
)

var ErrInvalidInput = errors.New("conversations: invalid input")
var ErrForbidden = errors.New("conversations: forbidden")

type Store interface {
	GetOrCreateDM(ctx context.Context, userA, userB, createdBy string) (store.Conversation, error)
	CreateGroupConversation(ctx context.Context, name, createdBy string, memberIDs []string) (store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationMember(ctx context.Context, conversationID, userID string) (*store.ConversationMember, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]pg.ConversationSummary, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) error
	ListConversationMembers(ctx context.Context, conversationID string) ([]store.ConversationMember, error)
	ListConversationMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]store.Tez, bool, error)
}

type Service struct {
	store     Store
	messaging *messaging.Service
	audit     *audit.Sink
}

func NewService(s Store, msg *messaging.Service, auditSink *audit.Sink) *Service {
	return &Service{store: s, messaging: msg, audit: auditSink}
}

// Create handles both dm and group creation; dm requires exactly one
// other member id, group requires a non-empty name and member set.
func (s *Service) Create(ctx context.Context, actor, convType string, memberIDs []string, name *string) (store.Conversation, error) {
	var conv store.Conversation
	var err error
	switch convType {
	case store.ConversationDM:
		if len(memberIDs) != 1 {
			return store.Conversation{}, fmt.Errorf("%w: dm requires exactly one other member", ErrInvalidInput)
		}
		conv, err = s.store.GetOrCreateDM(ctx, actor, memberIDs[0], actor)
	case store.ConversationGroup:
		if len(memberIDs) == 0 {
			return store.Conversation{}, fmt.Errorf("%w: group requires at least one member", ErrInvalidInput)
		}
		if name == nil || strings.TrimSpace(*name) == "" {
			return store.Conversation{}, fmt.Errorf("%w: group requires a name", ErrInvalidInput)
		}
		conv, err = s.store.CreateGroupConversation(ctx, *name, actor, memberIDs)
	default:
		return store.Conversation{}, fmt.Errorf("%w: unknown conversation type %q", ErrInvalidInput, convType)
	}
	if err != nil {
		return store.Conversation{}, err
	}
	s.audit.Record(ctx, nil, store.ActionConversationCreated, "conversation", conv.ID, map[string]any{"type": conv.Type})
	return conv, nil
}

// Summary is what GET /conversations returns per conversation.
type Summary struct {
	Conversation store.Conversation
	LastMessage  *LastMessage
	UnreadCount  int
}

type LastMessage struct {
	ID           string
	SurfaceText  string
	CreatedAt    time.Time
	SenderUserID string
}

func (s *Service) List(ctx context.Context, actor string) ([]Summary, error) {
	rows, err := s.store.ListConversationsForUser(ctx, actor)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		sum := Summary{Conversation: r.Conversation, UnreadCount: r.UnreadCount}
		if r.LastTezID != nil {
			tez, err := s.messaging.GetRaw(ctx, *r.LastTezID)
			if err == nil {
				sum.LastMessage = &LastMessage{ID: tez.ID, SurfaceText: tez.SurfaceText, CreatedAt: tez.CreatedAt, SenderUserID: tez.SenderUserID}
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) requireMember(ctx context.Context, conversationID, actor string) error {
	m, err := s.store.GetConversationMember(ctx, conversationID, actor)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if m == nil {
		return ErrForbidden
	}
	return nil
}

func (s *Service) Messages(ctx context.Context, actor, conversationID string, limit int, before *time.Time) ([]store.Tez, bool, error) {
	if err := s.requireMember(ctx, conversationID, actor); err != nil {
		return nil, false, err
	}
	return s.store.ListConversationMessages(ctx, conversationID, limit, before)
}

// SendMessage shares a Tez scoped to the conversation, addressed to every
// other member, per spec §4.7 (equivalent to messaging.Share).
func (s *Service) SendMessage(ctx context.Context, actor, conversationID, surfaceText string, contextIn []messaging.ContextInput) (store.Tez, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Tez{}, err
	}
	if err := s.requireMember(ctx, conversationID, actor); err != nil {
		return store.Tez{}, err
	}

	members, err := s.store.ListConversationMembers(ctx, conversationID)
	if err != nil {
		return store.Tez{}, err
	}
	var recipients []string
	for _, m := range members {
		if m.UserID != actor {
			recipients = append(recipients, m.UserID)
		}
	}

	visibility := store.VisibilityDM
	if conv.Type == store.ConversationGroup {
		visibility = store.VisibilityGroup
	}

	return s.messaging.Share(ctx, messaging.ShareInput{
		Actor:          actor,
		ConversationID: &conversationID,
		SurfaceText:    surfaceText,
		Visibility:     visibility,
		Recipients:     recipients,
		Context:        contextIn,
	})
}

func (s *Service) MarkRead(ctx context.Context, actor, conversationID string) error {
	if err := s.requireMember(ctx, conversationID, actor); err != nil {
		return err
	}
	return s.store.MarkConversationRead(ctx, conversationID, actor)
}
