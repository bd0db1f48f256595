// Package identity tests cover wallet key creation, reloading, signing and
// the on-disk permissions of generated key files.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIdentityLifecycle(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "wallet.pem")

	identity1, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	identity2, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("Failed to load identity: %v", err)
	}
	if identity1.PublicKeyHex() != identity2.PublicKeyHex() {
		t.Errorf("Loaded identity differs from original. Got %s, want %s",
			identity2.PublicKeyHex(), identity1.PublicKeyHex())
	}

	identity3, err := LoadIdentity(keyPath)
	if err != nil {
		t.Fatalf("Failed to load existing identity: %v", err)
	}
	if identity3.PublicKeyHex() != identity1.PublicKeyHex() {
		t.Errorf("LoadIdentity returned a different key")
	}
}

func TestLoadIdentityMissingFile(t *testing.T) {
	_, err := LoadIdentity(filepath.Join(t.TempDir(), "missing.pem"))
	if !errors.Is(err, ErrNoKey) {
		t.Fatalf("Expected ErrNoKey, got %v", err)
	}
}

func TestEmptyKeyFileIsRegenerated(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(keyPath, nil, 0600); err != nil {
		t.Fatalf("Failed to write empty file: %v", err)
	}
	id, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("Failed to create identity over empty file: %v", err)
	}
	if len(id.PublicKeyHex()) != 64 {
		t.Errorf("Unexpected public key length %d", len(id.PublicKeyHex()))
	}
}

func TestSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	identity, err := LoadOrCreateIdentity(filepath.Join(dir, "test_key.pem"))
	if err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	message := []byte("list pets/1 for 100")
	signature := identity.Sign(message)
	if !identity.Verify(message, signature) {
		t.Error("Failed to verify signature with own public key")
	}

	otherIdentity, err := LoadOrCreateIdentity(filepath.Join(dir, "other_key.pem"))
	if err != nil {
		t.Fatalf("Failed to create other identity: %v", err)
	}
	if otherIdentity.Verify(message, signature) {
		t.Error("Incorrectly verified signature with wrong public key")
	}
}

func TestNewIdentityFromKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id := NewIdentity(priv)
	if id.PublicKeyHex() != hex.EncodeToString(pub) {
		t.Errorf("Address = %s, want %x", id.PublicKeyHex(), pub)
	}
	if !id.PublicKey().Equal(pub) {
		t.Error("PublicKey does not match the generated key")
	}

	short := id.String()
	if len(short) != 18 || !strings.HasPrefix(id.PublicKeyHex(), short[:8]) || !strings.HasSuffix(id.PublicKeyHex(), short[10:]) {
		t.Errorf("Unexpected short address %q for %s", short, id.PublicKeyHex())
	}
}

func TestPermissions(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "secure_test_key.pem")

	if _, err := LoadOrCreateIdentity(keyPath); err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("Failed to stat key file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Key file has wrong permissions. Got %v, want %v",
			info.Mode().Perm(), 0600)
	}
}
