package federation

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tezrelay.dev/internal/bundle"
	"tezrelay.dev/internal/identity"
	"tezrelay.dev/internal/store"
	"tezrelay.dev/internal/trust"
)

type fakeStore struct {
	peers           map[string]store.Peer
	peersByServer   map[string]string
	contactsByAddr  map[string]store.Contact
	enqueued        []string
	bundleJSONs     []string
	ingested        []store.Tez
	ingestedContext [][]store.TezContext
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		peers:          map[string]store.Peer{},
		peersByServer:  map[string]string{},
		contactsByAddr: map[string]store.Contact{},
	}
}

func (f *fakeStore) GetPeer(ctx context.Context, host string) (*store.Peer, error) {
	p, ok := f.peers[host]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) GetPeerByServerID(ctx context.Context, serverID string) (*store.Peer, error) {
	host, ok := f.peersByServer[serverID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f.GetPeer(ctx, host)
}

func (f *fakeStore) UpsertPeer(ctx context.Context, p store.Peer) error {
	f.peers[p.Host] = p
	f.peersByServer[p.ServerID] = p.Host
	return nil
}

func (f *fakeStore) RemovePeer(ctx context.Context, host string) error {
	if p, ok := f.peers[host]; ok {
		delete(f.peersByServer, p.ServerID)
	}
	delete(f.peers, host)
	return nil
}

func (f *fakeStore) ListPeers(ctx context.Context) ([]store.Peer, error) {
	var out []store.Peer
	for _, p := range f.peers {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) EnqueueOutbound(ctx context.Context, bundleJSON string, targetHosts []string) error {
	f.enqueued = append(f.enqueued, targetHosts...)
	f.bundleJSONs = append(f.bundleJSONs, bundleJSON)
	return nil
}

func (f *fakeStore) GetContactByAddress(ctx context.Context, tezAddress string) (*store.Contact, error) {
	c, ok := f.contactsByAddr[tezAddress]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (f *fakeStore) IngestFederatedTez(ctx context.Context, in store.NewTez, auditEntry store.AuditEntry) (store.Tez, error) {
	f.ingested = append(f.ingested, in.Tez)
	f.ingestedContext = append(f.ingestedContext, in.Context)
	return in.Tez, nil
}

func (f *fakeStore) ListOutboundDeliveries(ctx context.Context, limit int) ([]store.OutboundDelivery, error) {
	return nil, nil
}

func newService(fs *fakeStore, mode string, enabled bool) *Service {
	registry := trust.NewRegistry(fs, trust.Policy{Mode: mode})
	return NewService(fs, registry, "home.example", enabled)
}

func TestPartitionRecipients(t *testing.T) {
	local, remote := PartitionRecipients([]string{"u1@home.example", "u2@peer-a.example", "u3@peer-a.example", "u4@peer-b.example", "u5"}, "home.example")
	if len(local) != 2 {
		t.Fatalf("local = %v, want 2 entries", local)
	}
	if len(remote["peer-a.example"]) != 2 || len(remote["peer-b.example"]) != 1 {
		t.Fatalf("remote = %v, want 2 for peer-a and 1 for peer-b", remote)
	}
}

func TestEnqueueBundleNoopWhenDisabled(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs, trust.ModeAllowlist, false)
	tez := store.Tez{ID: "t1", ThreadID: "t1", SenderUserID: "u1"}
	if err := svc.EnqueueBundle(context.Background(), tez, nil, map[string][]string{"peer.example": {"u2@peer.example"}}); err != nil {
		t.Fatalf("EnqueueBundle() = %v", err)
	}
	if len(fs.enqueued) != 0 {
		t.Fatalf("enqueued = %v, want none when federation disabled", fs.enqueued)
	}
}

func TestEnqueueBundleWritesPerHost(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	identity.SetCurrent(&identity.Identity{Host: "home.example", ServerID: identity.ServerID(pub), PublicKey: pub, PrivateKey: priv})

	fs := newFakeStore()
	svc := newService(fs, trust.ModeAllowlist, true)
	tez := store.Tez{ID: "t1", ThreadID: "t1", SenderUserID: "u1"}
	remote := map[string][]string{"peer-a.example": {"u2@peer-a.example"}, "peer-b.example": {"u3@peer-b.example"}}

	if err := svc.EnqueueBundle(context.Background(), tez, nil, remote); err != nil {
		t.Fatalf("EnqueueBundle() = %v", err)
	}
	if len(fs.enqueued) != 2 {
		t.Fatalf("enqueued = %v, want 2 hosts", fs.enqueued)
	}
}

func TestEnqueueBundlePreservesContextFields(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	identity.SetCurrent(&identity.Identity{Host: "home.example", ServerID: identity.ServerID(pub), PublicKey: pub, PrivateKey: priv})

	fs := newFakeStore()
	svc := newService(fs, trust.ModeAllowlist, true)

	confidence := 90
	source := "verified"
	mimeType := "text/plain"
	tez := store.Tez{ID: "t1", ThreadID: "t1", SenderUserID: "u1"}
	ctxIn := []store.TezContext{{Layer: "fact", Content: "c", Confidence: &confidence, Source: &source, MimeType: &mimeType}}

	if err := svc.EnqueueBundle(context.Background(), tez, ctxIn, map[string][]string{"peer.example": {"u2@peer.example"}}); err != nil {
		t.Fatalf("EnqueueBundle() = %v", err)
	}
	if len(fs.bundleJSONs) != 1 {
		t.Fatalf("bundleJSONs = %v, want 1 entry", fs.bundleJSONs)
	}

	var b bundle.Bundle
	if err := json.Unmarshal([]byte(fs.bundleJSONs[0]), &b); err != nil {
		t.Fatalf("unmarshal bundle: %v", err)
	}
	if len(b.Context) != 1 {
		t.Fatalf("Context = %v, want 1 entry", b.Context)
	}
	got := b.Context[0]
	if got.Confidence == nil || *got.Confidence != 90 {
		t.Fatalf("Confidence = %v, want 90", got.Confidence)
	}
	if got.Source != "verified" {
		t.Fatalf("Source = %q, want verified", got.Source)
	}
	if got.MimeType != "text/plain" {
		t.Fatalf("MimeType = %q, want text/plain", got.MimeType)
	}
}

func TestAdmitPreservesContextFields(t *testing.T) {
	fs := newFakeStore()
	fs.contactsByAddr["u1@home.example"] = store.Contact{ID: "u1"}
	svc := newService(fs, trust.ModeAllowlist, true)

	confidence := 75
	b := bundle.New(bundle.TypeFederationDelivery, "server-1",
		bundle.Tez{ID: "t1", ThreadID: "t1", SurfaceText: "hi", Type: store.TezTypeNote, Urgency: store.UrgencyNormal, CreatedAt: "2026-08-03T00:00:00Z"},
		[]bundle.ContextEntry{{Layer: "fact", Content: "c", Confidence: &confidence, Source: "verified", MimeType: "text/plain"}},
		"sender@peer.example", []string{"u1@home.example"}, time.Now())

	if _, err := svc.Admit(context.Background(), b); err != nil {
		t.Fatalf("Admit() = %v", err)
	}
	if len(fs.ingestedContext) != 1 || len(fs.ingestedContext[0]) != 1 {
		t.Fatalf("ingestedContext = %v, want 1 tez with 1 context entry", fs.ingestedContext)
	}
	got := fs.ingestedContext[0][0]
	if got.Confidence == nil || *got.Confidence != 75 {
		t.Fatalf("Confidence = %v, want 75", got.Confidence)
	}
	if got.Source == nil || *got.Source != "verified" {
		t.Fatalf("Source = %v, want verified", got.Source)
	}
	if got.MimeType == nil || *got.MimeType != "text/plain" {
		t.Fatalf("MimeType = %v, want text/plain", got.MimeType)
	}
}

func TestVerifyPeerAssignsPendingUnderAllowlist(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs, trust.ModeAllowlist, true)
	level, err := svc.VerifyPeer(context.Background(), "peer.example", "server-1", "pubkey")
	if err != nil {
		t.Fatalf("VerifyPeer() = %v", err)
	}
	if level != store.TrustPending {
		t.Fatalf("level = %s, want pending", level)
	}
}

func TestVerifyPeerAssignsTrustedUnderOpen(t *testing.T) {
	fs := newFakeStore()
	svc := newService(fs, trust.ModeOpen, true)
	level, err := svc.VerifyPeer(context.Background(), "peer.example", "server-1", "pubkey")
	if err != nil {
		t.Fatalf("VerifyPeer() = %v", err)
	}
	if level != store.TrustTrusted {
		t.Fatalf("level = %s, want trusted", level)
	}
}

func TestAdmitResolvesLocalRecipientsAndReportsNotFound(t *testing.T) {
	fs := newFakeStore()
	fs.contactsByAddr["u1@home.example"] = store.Contact{ID: "u1"}
	svc := newService(fs, trust.ModeAllowlist, true)

	b := bundle.New(bundle.TypeFederationDelivery, "server-1",
		bundle.Tez{ID: "t1", ThreadID: "t1", SurfaceText: "hi", Type: store.TezTypeNote, Urgency: store.UrgencyNormal, CreatedAt: "2026-08-03T00:00:00Z"},
		nil, "sender@peer.example", []string{"u1@home.example", "unknown@home.example"}, time.Now())

	result, err := svc.Admit(context.Background(), b)
	if err != nil {
		t.Fatalf("Admit() = %v", err)
	}
	if len(result.LocalTezIDs) != 1 || result.LocalTezIDs[0] != "u1" {
		t.Fatalf("LocalTezIDs = %v, want [u1]", result.LocalTezIDs)
	}
	if len(result.NotFound) != 1 || result.NotFound[0] != "unknown@home.example" {
		t.Fatalf("NotFound = %v, want [unknown@home.example]", result.NotFound)
	}
	if len(fs.ingested) != 1 {
		t.Fatalf("ingested = %v, want 1 tez", fs.ingested)
	}
}

func TestResolveSigningPeerByServerID(t *testing.T) {
	fs := newFakeStore()
	fs.peers["peer.example"] = store.Peer{Host: "peer.example", ServerID: "server-1"}
	fs.peersByServer["server-1"] = "peer.example"
	svc := newService(fs, trust.ModeAllowlist, true)

	p, err := svc.ResolveSigningPeer(context.Background(), "server-1")
	if err != nil {
		t.Fatalf("ResolveSigningPeer() = %v", err)
	}
	if p.Host != "peer.example" {
		t.Fatalf("Host = %s, want peer.example", p.Host)
	}

	if _, err := svc.ResolveSigningPeer(context.Background(), "unknown"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ResolveSigningPeer(unknown) = %v, want ErrNotFound", err)
	}
}
