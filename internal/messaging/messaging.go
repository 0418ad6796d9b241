// Package messaging implements share/reply/get/thread/stream: the Tez
// lifecycle operations exposed to authenticated users. See spec §4.6.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tezrelay.dev/internal/acl"
	"tezrelay.dev/internal/audit"
	"tezrelay.dev/internal/federation"
	"tezrelay.dev/internal/ids"
	"tezrelay.dev/internal/store"
)

var (
	ErrForbidden     = errors.New("messaging: forbidden")
	ErrInvalidInput  = errors.New("messaging: invalid input")
	ErrMaxRecipients = errors.New("messaging: too many recipients")
	ErrMaxContext    = errors.New("messaging: too many context entries")
)

const defaultStreamLimit = 20
const maxStreamLimit = 100

// Store is the subset of persistence messaging needs.
type Store interface {
	ShareTez(ctx context.Context, in store.NewTez, auditEntry store.AuditEntry) (store.Tez, error)
	GetTez(ctx context.Context, id string) (*store.Tez, error)
	ListContext(ctx context.Context, tezID string) ([]store.TezContext, error)
	ListRecipients(ctx context.Context, tezID string) ([]store.TezRecipient, error)
	ListThread(ctx context.Context, threadID string) ([]store.Tez, error)
	MarkRead(ctx context.Context, tezID, userID string) (bool, error)
	GetTeamMember(ctx context.Context, teamID, userID string) (*store.TeamMember, error)
	GetConversationMember(ctx context.Context, conversationID, userID string) (*store.ConversationMember, error)
	ListTeamStream(ctx context.Context, teamID string, limit int, before *time.Time) ([]store.Tez, bool, error)
}

// Limits mirrors the configured size bounds a share/reply request must
// respect (spec §6 Configuration).
type Limits struct {
	MaxTezSizeBytes int
	MaxContextItems int
	MaxRecipients   int
}

type Service struct {
	store      Store
	federation *federation.Service
	audit      *audit.Sink
	limits     Limits
}

func NewService(s Store, fed *federation.Service, auditSink *audit.Sink, limits Limits) *Service {
	return &Service{store: s, federation: fed, audit: auditSink, limits: limits}
}

// ShareInput is the caller-supplied payload for share and sendMessage.
type ShareInput struct {
	Actor           string
	TeamID          *string
	ConversationID  *string
	SurfaceText     string
	Type            string
	Urgency         string
	ActionRequested *string
	Visibility      string
	Recipients      []string
	Context         []ContextInput
}

type ContextInput struct {
	Layer      string
	Content    string
	MimeType   *string
	Confidence *int
	Source     *string
}

// validateShare checks in and returns the normalized input with §4.6's
// defaults (type, urgency, scope-derived visibility) applied — callers must
// use the returned value, not the original in, when constructing the
// stored Tez.
func (s *Service) validateShare(in ShareInput) (ShareInput, error) {
	if strings.TrimSpace(in.SurfaceText) == "" {
		return in, fmt.Errorf("%w: surfaceText is required", ErrInvalidInput)
	}
	if s.limits.MaxTezSizeBytes > 0 && len(in.SurfaceText) > s.limits.MaxTezSizeBytes {
		return in, fmt.Errorf("%w: surfaceText exceeds maxTezSizeBytes", ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = store.TezTypeNote
	}
	if !store.ValidTezType(in.Type) {
		return in, fmt.Errorf("%w: unknown type %q", ErrInvalidInput, in.Type)
	}
	if in.Urgency == "" {
		in.Urgency = store.UrgencyNormal
	}
	if !store.ValidUrgency(in.Urgency) {
		return in, fmt.Errorf("%w: unknown urgency %q", ErrInvalidInput, in.Urgency)
	}
	if in.Visibility == "" {
		in.Visibility = defaultVisibility(in.TeamID, in.ConversationID)
	}
	if !store.ValidVisibility(in.Visibility) {
		return in, fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, in.Visibility)
	}
	if s.limits.MaxContextItems > 0 && len(in.Context) > s.limits.MaxContextItems {
		return in, fmt.Errorf("%w: %d exceeds maxContextItems", ErrMaxContext, len(in.Context))
	}
	for _, c := range in.Context {
		if !store.ValidLayer(c.Layer) {
			return in, fmt.Errorf("%w: unknown context layer %q", ErrInvalidInput, c.Layer)
		}
	}
	if s.limits.MaxRecipients > 0 && len(in.Recipients) > s.limits.MaxRecipients {
		return in, fmt.Errorf("%w: %d exceeds maxRecipients", ErrMaxRecipients, len(in.Recipients))
	}
	return in, nil
}

// defaultVisibility picks a visibility for a share that didn't specify one:
// team-scoped shares default to team, conversation-scoped shares default to
// group (conversations.Service passes its own dm/group visibility
// explicitly, so this only matters for direct API callers), and unscoped
// shares default to private.
func defaultVisibility(teamID, conversationID *string) string {
	switch {
	case teamID != nil:
		return store.VisibilityTeam
	case conversationID != nil:
		return store.VisibilityGroup
	default:
		return store.VisibilityPrivate
	}
}

// mayAccessScope checks the team/conversation legs of the ACL precedence
// rule (spec §4.5 rules 2-3): for admission-time operations (share, reply,
// stream) there is no pre-existing resource with a senderUserId yet, so
// the predicate degenerates to plain membership rather than self-access.
// A scope with neither teamID nor conversationID set (a direct share with
// no team/conversation) has no membership to check and is unrestricted.
func (s *Service) mayAccessScope(ctx context.Context, actor string, teamID, conversationID *string) (bool, error) {
	if teamID == nil && conversationID == nil {
		return true, nil
	}
	if teamID != nil {
		m, err := s.store.GetTeamMember(ctx, *teamID, actor)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		if m != nil {
			return true, nil
		}
	}
	if conversationID != nil {
		m, err := s.store.GetConversationMember(ctx, *conversationID, actor)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		if m != nil {
			return true, nil
		}
	}
	return false, nil
}

// mayAccessResource applies the full three-rule ACL precedence (spec §4.5)
// for an existing Tez: its own sender may always read it, regardless of
// current team/conversation membership.
func (s *Service) mayAccessResource(ctx context.Context, actor string, tez *store.Tez) (bool, error) {
	if acl.MayAccess(acl.Context{RequestingUserID: actor, SenderUserID: tez.SenderUserID}) {
		return true, nil
	}
	return s.mayAccessScope(ctx, actor, tez.TeamID, tez.ConversationID)
}

// Share admits a new root Tez: threadId = its own id.
func (s *Service) Share(ctx context.Context, in ShareInput) (store.Tez, error) {
	in, err := s.validateShare(in)
	if err != nil {
		return store.Tez{}, err
	}
	ok, err := s.mayAccessScope(ctx, in.Actor, in.TeamID, in.ConversationID)
	if err != nil {
		return store.Tez{}, err
	}
	if !ok {
		return store.Tez{}, ErrForbidden
	}

	id := ids.New()
	tez := store.Tez{
		ID:              id,
		TeamID:          in.TeamID,
		ConversationID:  in.ConversationID,
		ThreadID:        id,
		SurfaceText:     in.SurfaceText,
		Type:            in.Type,
		Urgency:         in.Urgency,
		ActionRequested: in.ActionRequested,
		SenderUserID:    in.Actor,
		Visibility:      in.Visibility,
	}
	return s.admit(ctx, tez, in.Context, in.Recipients, store.ActionTezShared, nil)
}

// Reply admits a Tez that inherits scope from its parent.
func (s *Service) Reply(ctx context.Context, actor, parentID, surfaceText string, contextIn []ContextInput, recipients []string) (store.Tez, error) {
	parent, err := s.store.GetTez(ctx, parentID)
	if err != nil {
		return store.Tez{}, err
	}
	ok, err := s.mayAccessScope(ctx, actor, parent.TeamID, parent.ConversationID)
	if err != nil {
		return store.Tez{}, err
	}
	if !ok {
		return store.Tez{}, ErrForbidden
	}

	in := ShareInput{
		Actor:          actor,
		TeamID:         parent.TeamID,
		ConversationID: parent.ConversationID,
		SurfaceText:    surfaceText,
		Type:           parent.Type,
		Urgency:        parent.Urgency,
		Visibility:     parent.Visibility,
		Recipients:     recipients,
		Context:        contextIn,
	}
	in, err = s.validateShare(in)
	if err != nil {
		return store.Tez{}, err
	}

	id := ids.New()
	tez := store.Tez{
		ID:             id,
		TeamID:         parent.TeamID,
		ConversationID: parent.ConversationID,
		ThreadID:       parent.ThreadID,
		ParentTezID:    &parent.ID,
		SurfaceText:    surfaceText,
		Type:           in.Type,
		Urgency:        in.Urgency,
		SenderUserID:   actor,
		Visibility:     in.Visibility,
	}
	metadata := map[string]any{"parentTezId": parent.ID, "threadId": parent.ThreadID}
	return s.admit(ctx, tez, contextIn, recipients, store.ActionTezReplied, metadata)
}

func (s *Service) admit(ctx context.Context, tez store.Tez, contextIn []ContextInput, recipients []string, action string, extraMeta map[string]any) (store.Tez, error) {
	local, remoteByHost := federation.PartitionRecipients(recipients, s.federation.OurHost())

	entries := make([]store.TezContext, 0, len(contextIn))
	for _, c := range contextIn {
		source := ""
		if c.Source != nil {
			source = *c.Source
		}
		entries = append(entries, store.TezContext{
			Layer:      c.Layer,
			Content:    c.Content,
			MimeType:   c.MimeType,
			Confidence: c.Confidence,
			Source:     &source,
			CreatedBy:  tez.SenderUserID,
		})
	}

	meta := map[string]any{"tezId": tez.ID}
	for k, v := range extraMeta {
		meta[k] = v
	}
	auditEntry := store.AuditEntry{
		ID:          ids.New(),
		TeamID:      tez.TeamID,
		ActorUserID: tez.SenderUserID,
		Action:      action,
		TargetType:  "tez",
		TargetID:    tez.ID,
		Metadata:    meta,
	}

	created, err := s.storeShare(ctx, store.NewTez{Tez: tez, Context: entries, LocalRecipients: local}, auditEntry)
	if err != nil {
		return store.Tez{}, err
	}

	if len(remoteByHost) > 0 {
		if err := s.federation.EnqueueBundle(ctx, created, entries, remoteByHost); err != nil {
			return store.Tez{}, err
		}
	}
	return created, nil
}

func (s *Service) storeShare(ctx context.Context, in store.NewTez, entry store.AuditEntry) (store.Tez, error) {
	return s.store.ShareTez(ctx, in, entry)
}

// TezView bundles a Tez with its context and recipients for GET /tez/:id.
type TezView struct {
	Tez        store.Tez
	Context    []store.TezContext
	Recipients []store.TezRecipient
}

func (s *Service) Get(ctx context.Context, actor, id string) (TezView, error) {
	tez, err := s.store.GetTez(ctx, id)
	if err != nil {
		return TezView{}, err
	}
	ok, err := s.mayAccessResource(ctx, actor, tez)
	if err != nil {
		return TezView{}, err
	}
	if !ok {
		return TezView{}, ErrForbidden
	}

	ctxEntries, err := s.store.ListContext(ctx, id)
	if err != nil {
		return TezView{}, err
	}
	recipients, err := s.store.ListRecipients(ctx, id)
	if err != nil {
		return TezView{}, err
	}

	if actor != tez.SenderUserID {
		if first, err := s.store.MarkRead(ctx, id, actor); err == nil && first {
			s.audit.Record(ctx, tez.TeamID, store.ActionTezRead, "tez", id, map[string]any{"actor": actor})
		}
	}

	return TezView{Tez: *tez, Context: ctxEntries, Recipients: recipients}, nil
}

// GetRaw fetches a Tez without ACL checks or read-marking, for internal
// callers (e.g. conversations.Service building a last-message preview)
// that have already authorized the caller against the enclosing scope.
func (s *Service) GetRaw(ctx context.Context, id string) (*store.Tez, error) {
	return s.store.GetTez(ctx, id)
}

func (s *Service) Thread(ctx context.Context, actor, anyIDInThread string) ([]store.Tez, error) {
	tez, err := s.store.GetTez(ctx, anyIDInThread)
	if err != nil {
		return nil, err
	}
	ok, err := s.mayAccessResource(ctx, actor, tez)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return s.store.ListThread(ctx, tez.ThreadID)
}

func (s *Service) Stream(ctx context.Context, actor, teamID string, limit int, before *time.Time) ([]store.Tez, bool, error) {
	ok, err := s.mayAccessScope(ctx, actor, &teamID, nil)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrForbidden
	}
	if limit <= 0 {
		limit = defaultStreamLimit
	}
	if limit > maxStreamLimit {
		limit = maxStreamLimit
	}
	return s.store.ListTeamStream(ctx, teamID, limit, before)
}
