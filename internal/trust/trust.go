// Package trust implements the peer trust state machine and federation
// admission policy. See spec §4.4.
package trust

import (
	"context"
	"errors"
	"fmt"

	"tezrelay.dev/internal/store"
)

// Admission modes.
const (
	ModeOpen      = "open"
	ModeAllowlist = "allowlist"
)

var ErrInvalidTransition = errors.New("trust: invalid state transition")

// Store is the subset of persistence trust needs: peer lookup and upsert.
// Implemented by store/pg.Store.
type Store interface {
	GetPeer(ctx context.Context, host string) (*store.Peer, error)
	UpsertPeer(ctx context.Context, p store.Peer) error
}

var validTransitions = map[string]map[string]bool{
	store.TrustPending: {store.TrustTrusted: true, store.TrustBlocked: true},
	store.TrustTrusted: {store.TrustBlocked: true},
	store.TrustBlocked: {store.TrustTrusted: true},
}

// Transition validates and applies a trust-level change. "removed" is
// represented by deleting the peer row entirely (see RemovePeer), not by a
// TrustLevel value, so it isn't part of this table.
func Transition(from, to string) error {
	if from == to {
		return nil
	}
	if validTransitions[from] != nil && validTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Policy decides whether to admit an unknown or pending peer.
type Policy struct {
	Mode string // ModeOpen or ModeAllowlist
}

// AdmitNew reports the trust level assigned to a peer presenting itself for
// the first time: pending under allowlist mode (awaiting explicit trust),
// trusted immediately under open mode.
func (p Policy) AdmitNew() string {
	if p.Mode == ModeOpen {
		return store.TrustTrusted
	}
	return store.TrustPending
}

// Registry wraps a Store with the trust lifecycle operations exposed to the
// federation and httpapi layers.
type Registry struct {
	store  Store
	policy Policy
}

func NewRegistry(s Store, policy Policy) *Registry {
	return &Registry{store: s, policy: policy}
}

// Admit records a peer seen for the first time, or returns the peer
// unchanged if already known.
func (r *Registry) Admit(ctx context.Context, host, serverID, publicKeyB64 string) (*store.Peer, error) {
	existing, err := r.store.GetPeer(ctx, host)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	p := store.Peer{
		Host:       host,
		ServerID:   serverID,
		PublicKey:  publicKeyB64,
		TrustLevel: r.policy.AdmitNew(),
	}
	if err := r.store.UpsertPeer(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetTrustLevel transitions a known peer's trust level.
func (r *Registry) SetTrustLevel(ctx context.Context, host, newLevel string) error {
	p, err := r.store.GetPeer(ctx, host)
	if err != nil {
		return err
	}
	if err := Transition(p.TrustLevel, newLevel); err != nil {
		return err
	}
	p.TrustLevel = newLevel
	return r.store.UpsertPeer(ctx, *p)
}

// MayReceive reports whether bundles from host should be admitted into the
// inbound pipeline: only trusted peers. Pending and blocked peers are
// refused in either mode; under open mode new peers are admitted as
// trusted, so they pass.
func MayReceive(p *store.Peer) bool {
	return p != nil && p.TrustLevel == store.TrustTrusted
}
