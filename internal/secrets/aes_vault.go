package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/flowd-io/flowd/pkg/schema"
)

const (
	keySize           = 32
	defaultIterations = 100_000
)

// VaultConfig selects the vault key. Either a raw 32-byte MasterKey,
// or a Passphrase plus Salt run through PBKDF2. The salt must stay
// stable across restarts or previously stored secrets become
// undecryptable.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 rounds, defaults to 100k
}

// AESVault seals secret values with AES-256-GCM before they reach the
// store. The stored blob is nonce||ciphertext; the nonce is fresh per
// write, so storing the same value twice yields different blobs.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

// NewAESVault derives the key from cfg and builds the vault.
func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	key := cfg.MasterKey
	switch {
	case len(key) > 0:
		if len(key) != keySize {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be %d bytes, got %d", keySize, len(key))
		}
	case cfg.Passphrase == "":
		return nil, schema.NewError(schema.ErrCodeVault, "either master_key or passphrase is required")
	case len(cfg.Salt) == 0:
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	default:
		rounds := cfg.Iterations
		if rounds <= 0 {
			rounds = defaultIterations
		}
		var err error
		key, err = pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, rounds, keySize)
		if err != nil {
			return nil, fmt.Errorf("derive key: %w", err)
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, value, nil)
	return v.store.StoreSecret(ctx, key, sealed)
}

func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	ns := v.aead.NonceSize()
	if len(sealed) < ns {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q: stored blob too short", key)
	}
	plain, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q: decrypt failed: %s", key, err.Error())
	}
	return plain, nil
}

func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
