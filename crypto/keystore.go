package crypto

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// ScryptStrength selects the key derivation cost of a keystore file.
type ScryptStrength int

const (
	ScryptStandard ScryptStrength = iota
	// ScryptLight is intended for throwaway dev keys and tests.
	ScryptLight
)

func (s ScryptStrength) params() (int, int) {
	if s == ScryptLight {
		return keystore.LightScryptN, keystore.LightScryptP
	}
	return keystore.StandardScryptN, keystore.StandardScryptP
}

// SaveToKeystore writes the key to an Ethereum v3 keystore file at path using
// standard scrypt parameters.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	return WriteKeystore(path, key, passphrase, ScryptStandard)
}

// WriteKeystore encrypts key into a v3 keystore file at path. Missing parent
// directories are created with 0700 permissions and the file ends up 0600.
func WriteKeystore(path string, key *PrivateKey, passphrase string, strength ScryptStrength) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	scryptN, scryptP := strength.params()
	ks := keystore.NewKeyStore(tmpDir, scryptN, scryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("crypto: failed to create keystore file")
	}

	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts a v3 keystore file using the supplied passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
