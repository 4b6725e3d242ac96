package crypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
)

const pemBlockType = "PRIVATE KEY"

// KeyFile reads and writes a validator's Ed25519 private key to a single PEM
// file on disk.
type KeyFile struct {
	l    sync.Mutex
	path string
}

// NewKeyFile returns a KeyFile bound to path.
func NewKeyFile(path string) *KeyFile {
	return &KeyFile{path: path}
}

// ReadKey loads the private key from disk. It returns (nil, nil) if the file
// does not exist yet, so callers can distinguish "not generated" from a
// genuine I/O error.
func (k *KeyFile) ReadKey() (ed25519.PrivateKey, error) {
	k.l.Lock()
	defer k.l.Unlock()

	buf, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if len(buf) == 0 {
		return nil, nil
	}

	block, _ := pem.Decode(buf)
	if block == nil {
		return nil, fmt.Errorf("error decoding PEM block from %s", k.path)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s does not contain an Ed25519 private key", k.path)
	}

	return priv, nil
}

// WriteKey persists priv to disk in PKCS8/PEM form, readable only by owner.
func (k *KeyFile) WriteKey(priv ed25519.PrivateKey) error {
	k.l.Lock()
	defer k.l.Unlock()

	b, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return err
	}

	block := &pem.Block{Type: pemBlockType, Bytes: b}
	data := pem.EncodeToMemory(block)

	return os.WriteFile(k.path, data, 0600)
}
