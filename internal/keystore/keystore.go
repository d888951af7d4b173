// Package keystore persists a server's long-term key pair to disk,
// creating one if absent.
package keystore

import (
	"fmt"
	"os"

	"sphynx/internal/crypto"
	"sphynx/internal/wire"
)

// Load reads the key pair at path, generating and writing a fresh one if
// the file does not exist. The file content is bit-opaque except for its
// length: public_key(64) || private_key(32).
func Load(path string) (*crypto.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("keystore: read %s: %w", path, err)
		}
		kp, genErr := crypto.GenerateKeyPair()
		if genErr != nil {
			return nil, fmt.Errorf("keystore: generate key pair: %w", genErr)
		}
		if writeErr := save(path, kp); writeErr != nil {
			return nil, writeErr
		}
		return kp, nil
	}

	const wantLen = wire.PublicKeyBytes + wire.PrivateKeyBytes
	if len(data) != wantLen {
		return nil, fmt.Errorf("keystore: %s has %d bytes, want %d", path, len(data), wantLen)
	}
	var kp crypto.KeyPair
	copy(kp.Public[:], data[:wire.PublicKeyBytes])
	copy(kp.Private[:], data[wire.PublicKeyBytes:])
	return &kp, nil
}

func save(path string, kp *crypto.KeyPair) error {
	buf := make([]byte, 0, wire.PublicKeyBytes+wire.PrivateKeyBytes)
	buf = append(buf, kp.Public[:]...)
	buf = append(buf, kp.Private[:]...)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", path, err)
	}
	return nil
}
