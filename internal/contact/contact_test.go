package contact

import (
	"context"
	"errors"
	"testing"

	"tezrelay.dev/internal/audit"
	"tezrelay.dev/internal/store"
)

type fakeStore struct {
	contacts map[string]store.Contact
}

func newFakeStore() *fakeStore {
	return &fakeStore{contacts: map[string]store.Contact{}}
}

func (f *fakeStore) UpsertContact(ctx context.Context, c store.Contact) (store.Contact, error) {
	f.contacts[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetContact(ctx context.Context, id string) (*store.Contact, error) {
	c, ok := f.contacts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (f *fakeStore) SearchContacts(ctx context.Context, query string, limit int) ([]store.Contact, error) {
	var out []store.Contact
	for _, c := range f.contacts {
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func newService() (*Service, *fakeStore) {
	fs := newFakeStore()
	return NewService(fs, audit.NewSink(nil), "relay.example"), fs
}

func TestRegisterRejectsEmptyDisplayName(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.Register(context.Background(), "u1", "  ", nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Register() = %v, want ErrInvalidInput", err)
	}
}

func TestRegisterDerivesTezAddress(t *testing.T) {
	svc, _ := newService()
	c, err := svc.Register(context.Background(), "u1", "Alice", nil, nil)
	if err != nil {
		t.Fatalf("Register() = %v", err)
	}
	if c.TezAddress != "u1@relay.example" {
		t.Fatalf("TezAddress = %s, want u1@relay.example", c.TezAddress)
	}
}

func TestRegisterIsIdempotentOnReRegistration(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.Register(context.Background(), "u1", "Alice", nil, nil); err != nil {
		t.Fatalf("first Register() = %v", err)
	}
	c, err := svc.Register(context.Background(), "u1", "Alice Updated", nil, nil)
	if err != nil {
		t.Fatalf("second Register() = %v", err)
	}
	if c.DisplayName != "Alice Updated" {
		t.Fatalf("DisplayName = %s, want Alice Updated", c.DisplayName)
	}
}

func TestGetReturnsPublicProfileWithoutEmail(t *testing.T) {
	svc, _ := newService()
	email := "alice@personal.example"
	if _, err := svc.Register(context.Background(), "u1", "Alice", &email, nil); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	profile, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if profile.DisplayName != "Alice" {
		t.Fatalf("DisplayName = %s, want Alice", profile.DisplayName)
	}
}

func TestSearchRequiresMinimumQueryLength(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.Search(context.Background(), "a", 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Search() = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Search(context.Background(), "al", 10); err != nil {
		t.Fatalf("Search() = %v, want nil", err)
	}
}
