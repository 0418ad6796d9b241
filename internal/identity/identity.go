// Package identity manages this relay instance's long-lived Ed25519 keypair
// and the server-id derived from it. The keypair is generated once on first
// start and persisted to disk; every later start loads the same identity.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	privateKeyFile = "server_ed25519.key"
	publicKeyFile  = "server_ed25519.pub"
	serverIDLength = 16
)

// Identity is this relay's cryptographic identity plus its configured host.
type Identity struct {
	Host       string
	ServerID   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

var (
	currentMu sync.RWMutex
	current   *Identity
)

// Load generates a keypair on first start (persisting it under dataDir) or
// loads the previously persisted keypair, and derives the server-id. host
// is immutable configuration, not persisted — it may legitimately change
// across restarts (e.g. a relay moving domains) without affecting identity.
func Load(dataDir, host string) (*Identity, error) {
	dir := filepath.Join(dataDir, "identity")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: create data dir: %w", err)
	}

	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	priv, pub, err := loadExisting(privPath, pubPath)
	if err != nil {
		return nil, err
	}
	if priv == nil {
		priv, pub, err = generate(privPath, pubPath)
		if err != nil {
			return nil, err
		}
	}

	return &Identity{
		Host:       host,
		ServerID:   ServerID(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

func loadExisting(privPath, pubPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privRaw, err := os.ReadFile(privPath)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("identity: read private key: %w", err)
	}
	if len(privRaw) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("identity: private key file has wrong size: got %d, want %d", len(privRaw), ed25519.PrivateKeySize)
	}
	pubB64, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: read public key: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(string(pubB64))
	if err != nil {
		return nil, nil, fmt.Errorf("identity: decode public key: %w", err)
	}
	return ed25519.PrivateKey(privRaw), ed25519.PublicKey(pub), nil
}

func generate(privPath, pubPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	if err := os.WriteFile(privPath, priv, 0o600); err != nil {
		return nil, nil, fmt.Errorf("identity: write private key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(pub)
	if err := os.WriteFile(pubPath, []byte(encoded), 0o644); err != nil {
		return nil, nil, fmt.Errorf("identity: write public key: %w", err)
	}
	return priv, pub, nil
}

// ServerID derives the content-addressed server-id from a public key:
// the first 16 hex characters of sha256(publicKey).
func ServerID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])[:serverIDLength]
}

// PublicKeyBase64 returns the base64 encoding used on the wire and in
// storage (Peer.PublicKey, GET /federation/server-info).
func (id *Identity) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(id.PublicKey)
}

// SetCurrent installs id as the process-wide singleton. Called once at
// startup; production code paths never call this again afterward. Tests
// that exercise code reading Current (such as federation.EnqueueBundle)
// install their own Identity here first.
func SetCurrent(id *Identity) {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = id
}

// Current returns the process-wide identity singleton set by SetCurrent.
// Panics if called before SetCurrent — every binary that serves traffic
// must install an identity during startup.
func Current() *Identity {
	currentMu.RLock()
	defer currentMu.RUnlock()
	if current == nil {
		panic("identity: Current called before SetCurrent")
	}
	return current
}
