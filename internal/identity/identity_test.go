package identity

import (
	"path/filepath"
	"testing"
)

func TestLoadGeneratesAndPersistsKeypair(t *testing.T) {
	dir := t.TempDir()

	id, err := Load(dir, "relay.example")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if id.Host != "relay.example" {
		t.Fatalf("Host = %s, want relay.example", id.Host)
	}
	if len(id.ServerID) != serverIDLength {
		t.Fatalf("ServerID length = %d, want %d", len(id.ServerID), serverIDLength)
	}
	if ServerID(id.PublicKey) != id.ServerID {
		t.Fatalf("ServerID mismatch: field=%s derived=%s", id.ServerID, ServerID(id.PublicKey))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "identity", privateKeyFile))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("private key file not persisted: matches = %v", matches)
	}
}

func TestLoadReturnsSameIdentityOnSecondCall(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(dir, "relay.example")
	if err != nil {
		t.Fatalf("first Load() = %v", err)
	}
	second, err := Load(dir, "relay.example")
	if err != nil {
		t.Fatalf("second Load() = %v", err)
	}
	if first.ServerID != second.ServerID {
		t.Fatalf("ServerID changed across loads: %s != %s", first.ServerID, second.ServerID)
	}
	if string(first.PrivateKey) != string(second.PrivateKey) {
		t.Fatal("private key changed across loads")
	}
}

func TestLoadToleratesHostChangeAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(dir, "old.example")
	if err != nil {
		t.Fatalf("first Load() = %v", err)
	}
	second, err := Load(dir, "new.example")
	if err != nil {
		t.Fatalf("second Load() = %v", err)
	}
	if second.Host != "new.example" {
		t.Fatalf("Host = %s, want new.example", second.Host)
	}
	if first.ServerID != second.ServerID {
		t.Fatal("ServerID should be stable across a host rename since it derives from the keypair, not the host")
	}
}

func TestSetCurrentAndCurrent(t *testing.T) {
	id := &Identity{Host: "relay.example", ServerID: "abc123"}
	SetCurrent(id)
	if Current() != id {
		t.Fatal("Current() did not return the identity installed by SetCurrent")
	}
}

func TestCurrentPanicsBeforeSetCurrent(t *testing.T) {
	currentMu.Lock()
	saved := current
	current = nil
	currentMu.Unlock()
	defer func() {
		currentMu.Lock()
		current = saved
		currentMu.Unlock()
	}()

	defer func() {
		if recover() == nil {
			t.Fatal("Current() did not panic with no identity installed")
		}
	}()
	Current()
}
