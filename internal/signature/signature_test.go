package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"testing"
	"time"
)

func keypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv := keypair(t)
	req := Request{Method: "POST", Path: "/federation/inbox", Host: "relay.example", Body: []byte(`{"a":1}`)}
	now := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)

	h := Sign(req, "server-abc", priv, now)
	httpReq, _ := http.NewRequest(req.Method, "http://relay.example"+req.Path, nil)
	h.Apply(httpReq)

	resolve := func(keyID string) (ed25519.PublicKey, error) {
		if keyID != "server-abc" {
			return nil, ErrUnknownPeer
		}
		return pub, nil
	}

	gotKeyID, err := Verify(req, httpReq.Header, resolve, now)
	if err != nil {
		t.Fatalf("Verify() = %v, want nil", err)
	}
	if gotKeyID != "server-abc" {
		t.Fatalf("keyID = %q, want server-abc", gotKeyID)
	}
}

func TestVerifyRejectsModifiedBody(t *testing.T) {
	pub, priv := keypair(t)
	req := Request{Method: "POST", Path: "/federation/inbox", Host: "relay.example", Body: []byte(`{"a":1}`)}
	now := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)

	h := Sign(req, "server-abc", priv, now)
	httpReq, _ := http.NewRequest(req.Method, "http://relay.example"+req.Path, nil)
	h.Apply(httpReq)

	tampered := req
	tampered.Body = []byte(`{"a":2}`)

	resolve := func(string) (ed25519.PublicKey, error) { return pub, nil }
	if _, err := Verify(tampered, httpReq.Header, resolve, now); err != ErrBodyModified {
		t.Fatalf("Verify() = %v, want ErrBodyModified", err)
	}
}

func TestVerifyRejectsDateSkew(t *testing.T) {
	pub, priv := keypair(t)
	req := Request{Method: "POST", Path: "/federation/inbox", Host: "relay.example", Body: []byte(`{}`)}
	signedAt := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)

	h := Sign(req, "server-abc", priv, signedAt)
	httpReq, _ := http.NewRequest(req.Method, "http://relay.example"+req.Path, nil)
	h.Apply(httpReq)

	resolve := func(string) (ed25519.PublicKey, error) { return pub, nil }
	verifyAt := signedAt.Add(10 * time.Minute)
	if _, err := Verify(req, httpReq.Header, resolve, verifyAt); err != ErrDateSkew {
		t.Fatalf("Verify() = %v, want ErrDateSkew", err)
	}
}

func TestVerifyRejectsUnknownPeer(t *testing.T) {
	_, priv := keypair(t)
	req := Request{Method: "POST", Path: "/federation/inbox", Host: "relay.example", Body: []byte(`{}`)}
	now := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)

	h := Sign(req, "server-abc", priv, now)
	httpReq, _ := http.NewRequest(req.Method, "http://relay.example"+req.Path, nil)
	h.Apply(httpReq)

	resolve := func(string) (ed25519.PublicKey, error) { return nil, ErrUnknownPeer }
	if _, err := Verify(req, httpReq.Header, resolve, now); err != ErrUnknownPeer {
		t.Fatalf("Verify() = %v, want ErrUnknownPeer", err)
	}
}

func TestVerifyRejectsMissingHeaders(t *testing.T) {
	pub, _ := keypair(t)
	req := Request{Method: "GET", Path: "/federation/server-info", Host: "relay.example"}
	httpReq, _ := http.NewRequest(req.Method, "http://relay.example"+req.Path, nil)

	resolve := func(string) (ed25519.PublicKey, error) { return pub, nil }
	if _, err := Verify(req, httpReq.Header, resolve, time.Now()); err != ErrMissingSignature {
		t.Fatalf("Verify() = %v, want ErrMissingSignature", err)
	}
}
