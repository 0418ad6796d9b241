// Package audit records every domain event that mutates Tez, team, peer, or
// contact state: a persisted AuditEntry row plus a structured JSON log
// line, mirroring the teacher's request-scoped logging pattern. See spec
// §4.9.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tezrelay.dev/internal/auth"
	"tezrelay.dev/internal/ids"
	"tezrelay.dev/internal/obs"
	"tezrelay.dev/internal/store"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Store is the subset of persistence audit needs: writing one entry inside
// the caller's transaction. Implemented by store/pg.Store; composite
// operations such as ShareTez write their entry inside their own
// transaction through pg.Store.InsertAuditEntryTx instead.
type Store interface {
	InsertAuditEntry(ctx context.Context, entry store.AuditEntry) error
}

// Sink writes an audit entry to the store and emits a matching structured
// log line. It is injected explicitly into each domain service rather than
// reached through a package-level singleton, so tests can substitute a
// fake Store.
type Sink struct {
	store Store
}

func NewSink(s Store) *Sink {
	return &Sink{store: s}
}

// Record persists action against target and logs it. A store failure is
// logged as a warning and swallowed: audit write failure must never roll
// back the mutation it's recording (see spec §4.9, §7), so callers that
// run Record inside a transaction should do so only when they intend to
// continue to Commit regardless of the outcome.
func (s *Sink) Record(ctx context.Context, teamID *string, action, targetType, targetID string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errors.New("audit: action is required")
	}
	actorUserID, _ := auth.UserIDFromContext(ctx)
	if actorUserID == "" {
		actorUserID = store.SystemCreator
	}

	entry := store.AuditEntry{
		ID:          ids.New(),
		TeamID:      teamID,
		ActorUserID: actorUserID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}

	logLine(ctx, entry)

	if s.store == nil {
		return nil
	}
	if err := s.store.InsertAuditEntry(ctx, entry); err != nil {
		obs.Logger().Printf(`{"type":"audit_write_failed","action":%q,"error":%q}`, action, err.Error())
		return nil
	}
	return nil
}

func logLine(ctx context.Context, entry store.AuditEntry) {
	line := map[string]any{
		"ts":          entry.CreatedAt.Format(time.RFC3339Nano),
		"type":        "audit",
		"event":       entry.Action,
		"actor":       entry.ActorUserID,
		"target_type": entry.TargetType,
		"target_id":   entry.TargetID,
	}
	if entry.TeamID != nil {
		line["team_id"] = *entry.TeamID
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		line["request_id"] = rid
	}
	if len(entry.Metadata) > 0 {
		line["fields"] = entry.Metadata
	}
	data, err := json.Marshal(line)
	if err != nil {
		obs.Logger().Println(`{"type":"audit_log_marshal_failed"}`)
		return
	}
	obs.Logger().Println(string(data))
}
