package infra

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

const (
	keyFileName = "audit.key"
	keySize     = 32 // 256-bit SQLCipher key

	// AuditKeyEnv overrides the key file with a hex-encoded key.
	AuditKeyEnv = "GOVD_AUDIT_KEY"
)

// FileKeyProvider implements domain.KeyProvider with a 0600 file next to
// the audit database.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		keyPath: filepath.Join(dataDir, keyFileName),
	}
}

// GetKey reads the key file.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", p.keyPath, err)
	}
	key, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(encoded)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", p.keyPath, err)
	}
	if err := checkKeySize(key); err != nil {
		return nil, err
	}
	return key, nil
}

// StoreKey writes the key with owner-only permissions.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if err := checkKeySize(key); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := writeFileAtomic(p.keyPath, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// EnvKeyProvider reads a hex key from the environment. It cannot store keys.
type EnvKeyProvider struct {
	name string
}

// NewEnvKeyProvider returns a provider for the named variable, or nil when
// the variable is unset.
func NewEnvKeyProvider(name string) *EnvKeyProvider {
	if strings.TrimSpace(os.Getenv(name)) == "" {
		return nil
	}
	return &EnvKeyProvider{name: name}
}

func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(os.Getenv(p.name)))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.name, err)
	}
	if err := checkKeySize(key); err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return key, nil
}

func (p *EnvKeyProvider) StoreKey([]byte) error {
	return errors.New("environment key provider is read-only")
}

func (p *EnvKeyProvider) KeyExists() bool {
	return strings.TrimSpace(os.Getenv(p.name)) != ""
}

// KeyProviderFor prefers GOVD_AUDIT_KEY and falls back to the key file in dataDir.
func KeyProviderFor(dataDir string) domain.KeyProvider {
	if p := NewEnvKeyProvider(AuditKeyEnv); p != nil {
		return p
	}
	return NewFileKeyProvider(dataDir)
}

// GenerateKey creates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the existing key or generates and stores a new one.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

func checkKeySize(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return nil
}

var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*EnvKeyProvider)(nil)
)
