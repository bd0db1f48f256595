// Package identity loads and persists ed25519 wallet keys. A wallet's hex
// public key is its marketplace address; the node key signs nothing itself
// but provides the default operator address when none is configured.
package identity

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ErrNoKey is returned by LoadIdentity when the key file does not exist.
var ErrNoKey = errors.New("key file not found")

// LoadOrCreateIdentity loads the wallet key at keyPath, generating and
// saving a fresh keypair when the file is missing or empty. Keys are stored
// as PKCS8 PEM with 0600 permissions.
func LoadOrCreateIdentity(keyPath string) (*Identity, error) {
	info, err := os.Stat(keyPath)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		privKey, err := generateAndSaveKeyPair(keyPath)
		if err != nil {
			return nil, err
		}
		return NewIdentity(privKey), nil
	}
	if err != nil {
		return nil, err
	}
	return LoadIdentity(keyPath)
}

// LoadIdentity loads an existing wallet key without creating one.
func LoadIdentity(keyPath string) (*Identity, error) {
	privKey, err := loadKeyPair(keyPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, keyPath)
	}
	if err != nil {
		return nil, err
	}
	return NewIdentity(privKey), nil
}

func generateAndSaveKeyPair(keyPath string) (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}

	x509Encoded, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := pem.Encode(file, &pem.Block{Type: "PRIVATE KEY", Bytes: x509Encoded}); err != nil {
		return nil, err
	}
	return priv, nil
}

func loadKeyPair(keyPath string) (ed25519.PrivateKey, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	pemBlock, _ := pem.Decode(keyData)
	if pemBlock == nil {
		return nil, errors.New("failed to decode PEM block from key file")
	}

	genericKey, err := x509.ParsePKCS8PrivateKey(pemBlock.Bytes)
	if err != nil {
		return nil, err
	}

	privKey, ok := genericKey.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("key is not an ed25519 private key")
	}
	return privKey, nil
}
