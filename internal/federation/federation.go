// Package federation implements cross-relay delivery: recipient
// partitioning, outbound enqueueing, and inbound bundle admission. See
// spec §4.8.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tezrelay.dev/internal/bundle"
	"tezrelay.dev/internal/identity"
	"tezrelay.dev/internal/ids"
	"tezrelay.dev/internal/store"
	"tezrelay.dev/internal/trust"
)

func marshalBundle(b bundle.Bundle) (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

var (
	ErrNotTrusted    = errors.New("federation: SERVER_NOT_TRUSTED")
	ErrBlocked       = errors.New("federation: SERVER_BLOCKED")
	ErrUnknownPeer   = errors.New("federation: UNKNOWN_PEER")
	ErrInvalidBundle = bundle.ErrInvalidBundle
)

// Store is the subset of persistence federation needs.
type Store interface {
	GetPeer(ctx context.Context, host string) (*store.Peer, error)
	GetPeerByServerID(ctx context.Context, serverID string) (*store.Peer, error)
	UpsertPeer(ctx context.Context, p store.Peer) error
	RemovePeer(ctx context.Context, host string) error
	ListPeers(ctx context.Context) ([]store.Peer, error)
	EnqueueOutbound(ctx context.Context, bundleJSON string, targetHosts []string) error
	GetContactByAddress(ctx context.Context, tezAddress string) (*store.Contact, error)
	IngestFederatedTez(ctx context.Context, in store.NewTez, auditEntry store.AuditEntry) (store.Tez, error)
	ListOutboundDeliveries(ctx context.Context, limit int) ([]store.OutboundDelivery, error)
}

type Service struct {
	store    Store
	registry *trust.Registry
	ourHost  string
	enabled  bool
}

func NewService(s Store, registry *trust.Registry, ourHost string, enabled bool) *Service {
	return &Service{store: s, registry: registry, ourHost: ourHost, enabled: enabled}
}

func (s *Service) OurHost() string { return s.ourHost }
func (s *Service) Enabled() bool   { return s.enabled }

// PartitionRecipients splits tez-addresses into local user ids and
// remote addresses grouped by host, per spec §4.8.
func PartitionRecipients(recipients []string, ourHost string) (local []string, remoteByHost map[string][]string) {
	remoteByHost = map[string][]string{}
	for _, addr := range recipients {
		id, host, ok := strings.Cut(addr, "@")
		if !ok || host == "" || host == ourHost {
			local = append(local, id)
			continue
		}
		remoteByHost[host] = append(remoteByHost[host], addr)
	}
	return local, remoteByHost
}

// EnqueueBundle builds one bundle per remote host (containing only that
// host's recipient slice) and writes it to the outbound queue.
func (s *Service) EnqueueBundle(ctx context.Context, tez store.Tez, context []store.TezContext, remoteByHost map[string][]string) error {
	if !s.enabled {
		return nil
	}
	id := identity.Current()
	for host, addrs := range remoteByHost {
		wireTez := bundle.Tez{
			ID:              tez.ID,
			ThreadID:        tez.ThreadID,
			ParentTezID:     tez.ParentTezID,
			SurfaceText:     tez.SurfaceText,
			Type:            tez.Type,
			Urgency:         tez.Urgency,
			ActionRequested: tez.ActionRequested,
			CreatedAt:       tez.CreatedAt.UTC().Format(time.RFC3339),
		}
		wireContext := make([]bundle.ContextEntry, 0, len(context))
		for _, c := range context {
			entry := bundle.ContextEntry{
				Layer:      c.Layer,
				Content:    c.Content,
				Confidence: c.Confidence,
			}
			if c.MimeType != nil {
				entry.MimeType = *c.MimeType
			}
			if c.Source != nil {
				entry.Source = *c.Source
			}
			wireContext = append(wireContext, entry)
		}
		b := bundle.New(bundle.TypeFederationDelivery, id.ServerID, wireTez, wireContext,
			fmt.Sprintf("%s@%s", tez.SenderUserID, s.ourHost), addrs, time.Now())

		raw, err := marshalBundle(b)
		if err != nil {
			return err
		}
		if err := s.store.EnqueueOutbound(ctx, raw, []string{host}); err != nil {
			return err
		}
	}
	return nil
}

// InboundResult is the response shape for POST /federation/inbox.
type InboundResult struct {
	Accepted    bool
	LocalTezIDs []string
	NotFound    []string
}

// Admit runs the inbound admission pipeline (spec §4.8 steps 3-7; steps 1-2
// — signature verification and peer trust — happen in httpapi middleware
// before Admit is called, since they need the raw request, not the parsed
// bundle).
func (s *Service) Admit(ctx context.Context, b bundle.Bundle) (InboundResult, error) {
	if err := bundle.Validate(b); err != nil {
		return InboundResult{}, err
	}

	var localIDs []string
	var notFound []string
	for _, addr := range b.To {
		_, host, ok := strings.Cut(addr, "@")
		if !ok || host != s.ourHost {
			continue
		}
		contact, err := s.store.GetContactByAddress(ctx, addr)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				notFound = append(notFound, addr)
				continue
			}
			return InboundResult{}, err
		}
		localIDs = append(localIDs, contact.ID)
	}

	tez := store.Tez{
		ID:           b.Tez.ID,
		ThreadID:     b.Tez.ThreadID,
		ParentTezID:  b.Tez.ParentTezID,
		SurfaceText:  b.Tez.SurfaceText,
		Type:         b.Tez.Type,
		Urgency:      b.Tez.Urgency,
		SenderUserID: b.From,
		Visibility:   store.VisibilityDM,
	}
	entries := make([]store.TezContext, 0, len(b.Context))
	for _, c := range b.Context {
		entry := store.TezContext{
			TezID:      tez.ID,
			Layer:      c.Layer,
			Content:    c.Content,
			Confidence: c.Confidence,
			CreatedBy:  store.SystemCreator,
		}
		if c.MimeType != "" {
			mimeType := c.MimeType
			entry.MimeType = &mimeType
		}
		if c.Source != "" {
			source := c.Source
			entry.Source = &source
		}
		entries = append(entries, entry)
	}

	auditEntry := store.AuditEntry{
		ID:          ids.New(),
		ActorUserID: b.From,
		Action:      store.ActionTezReceived,
		TargetType:  "tez",
		TargetID:    tez.ID,
		Metadata:    map[string]any{"senderServer": b.SenderServer, "bundleHash": b.BundleHash},
	}

	if _, err := s.store.IngestFederatedTez(ctx, store.NewTez{Tez: tez, Context: entries, LocalRecipients: localIDs}, auditEntry); err != nil {
		return InboundResult{}, err
	}

	return InboundResult{Accepted: true, LocalTezIDs: localIDs, NotFound: notFound}, nil
}

// VerifyPeer handles POST /federation/verify: admits a presenting peer
// under the configured admission policy and returns its assigned level.
func (s *Service) VerifyPeer(ctx context.Context, host, serverID, publicKeyB64 string) (string, error) {
	p, err := s.registry.Admit(ctx, host, serverID, publicKeyB64)
	if err != nil {
		return "", err
	}
	return p.TrustLevel, nil
}

func (s *Service) ResolvePeer(ctx context.Context, host string) (*store.Peer, error) {
	p, err := s.store.GetPeer(ctx, host)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ResolveSigningPeer looks up the peer that owns serverID, for use by the
// inbound signature-verification middleware: the Signature-Input keyid
// carries a server id, not a host, since the sender is identified before
// its host is established.
func (s *Service) ResolveSigningPeer(ctx context.Context, serverID string) (*store.Peer, error) {
	return s.store.GetPeerByServerID(ctx, serverID)
}

func (s *Service) ListPeers(ctx context.Context) ([]store.Peer, error) {
	return s.store.ListPeers(ctx)
}

func (s *Service) SetPeerTrust(ctx context.Context, host, level string) error {
	return s.registry.SetTrustLevel(ctx, host, level)
}

func (s *Service) RemovePeer(ctx context.Context, host string) error {
	return s.store.RemovePeer(ctx, host)
}

func (s *Service) ListOutbox(ctx context.Context, limit int) ([]store.OutboundDelivery, error) {
	return s.store.ListOutboundDeliveries(ctx, limit)
}
