// Package contact implements the user directory: registering oneself and
// looking others up by tez-address. See spec §6 (/contacts/*).
package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tezrelay.dev/internal/audit"
	"tezrelay.dev/internal/store"
)

var ErrInvalidInput = errors.New("contact: invalid input")

type Store interface {
	UpsertContact(ctx context.Context, c store.Contact) (store.Contact, error)
	GetContact(ctx context.Context, id string) (*store.Contact, error)
	SearchContacts(ctx context.Context, query string, limit int) ([]store.Contact, error)
}

type Service struct {
	store   Store
	audit   *audit.Sink
	ourHost string
}

func NewService(s Store, auditSink *audit.Sink, ourHost string) *Service {
	return &Service{store: s, audit: auditSink, ourHost: ourHost}
}

// Register creates or updates the caller's own contact profile, keyed by
// their authenticated user id, and derives their tez-address from it.
func (s *Service) Register(ctx context.Context, userID, displayName string, email, avatarURL *string) (store.Contact, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return store.Contact{}, fmt.Errorf("%w: displayName is required", ErrInvalidInput)
	}
	_, err := s.store.GetContact(ctx, userID)
	isNew := errors.Is(err, store.ErrNotFound)

	c := store.Contact{
		ID:          userID,
		DisplayName: displayName,
		Email:       email,
		AvatarURL:   avatarURL,
		TezAddress:  fmt.Sprintf("%s@%s", userID, s.ourHost),
		Status:      "active",
	}
	saved, err := s.store.UpsertContact(ctx, c)
	if err != nil {
		return store.Contact{}, err
	}

	action := store.ActionContactUpdated
	if isNew {
		action = store.ActionContactRegistered
	}
	s.audit.Record(ctx, nil, action, "contact", saved.ID, map[string]any{"tezAddress": saved.TezAddress})
	return saved, nil
}

func (s *Service) Me(ctx context.Context, userID string) (*store.Contact, error) {
	return s.store.GetContact(ctx, userID)
}

// PublicProfile returns a contact's directory-visible fields, omitting
// email.
type PublicProfile struct {
	ID          string
	DisplayName string
	AvatarURL   *string
	TezAddress  string
	Status      string
}

func (s *Service) Get(ctx context.Context, userID string) (PublicProfile, error) {
	c, err := s.store.GetContact(ctx, userID)
	if err != nil {
		return PublicProfile{}, err
	}
	return PublicProfile{ID: c.ID, DisplayName: c.DisplayName, AvatarURL: c.AvatarURL, TezAddress: c.TezAddress, Status: c.Status}, nil
}

func (s *Service) Search(ctx context.Context, query string, limit int) ([]PublicProfile, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return nil, fmt.Errorf("%w: q must be at least 2 characters", ErrInvalidInput)
	}
	results, err := s.store.SearchContacts(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]PublicProfile, 0, len(results))
	for _, c := range results {
		out = append(out, PublicProfile{ID: c.ID, DisplayName: c.DisplayName, AvatarURL: c.AvatarURL, TezAddress: c.TezAddress, Status: c.Status})
	}
	return out, nil
}
