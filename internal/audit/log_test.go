package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tezrelay.dev/internal/auth"
	"tezrelay.dev/internal/obs"
	"tezrelay.dev/internal/store"
)

type fakeStore struct {
	entries []store.AuditEntry
	failErr error
}

func (f *fakeStore) InsertAuditEntry(ctx context.Context, entry store.AuditEntry) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestRecordPersistsAndLogs(t *testing.T) {
	buf := captureLog(t)
	fs := &fakeStore{}
	sink := NewSink(fs)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = auth.ContextWithUser(ctx, "user-42")

	if err := sink.Record(ctx, nil, store.ActionTezShared, "tez", "tez-1", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("Record() = %v", err)
	}

	if len(fs.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(fs.entries))
	}
	if fs.entries[0].ActorUserID != "user-42" {
		t.Fatalf("actor = %q, want user-42", fs.entries[0].ActorUserID)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["event"] != store.ActionTezShared {
		t.Fatalf("event = %v, want %v", line["event"], store.ActionTezShared)
	}
	if line["request_id"] != "req-1" {
		t.Fatalf("request_id = %v, want req-1", line["request_id"])
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	captureLog(t)
	fs := &fakeStore{failErr: errors.New("db down")}
	sink := NewSink(fs)

	if err := sink.Record(context.Background(), nil, store.ActionTezShared, "tez", "tez-1", nil); err != nil {
		t.Fatalf("Record() = %v, want nil even when store fails", err)
	}
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	captureLog(t)
	sink := NewSink(&fakeStore{})
	if err := sink.Record(context.Background(), nil, "", "tez", "tez-1", nil); err == nil {
		t.Fatal("expected error for empty action")
	}
}
