// Package vault encrypts and decrypts provider account credentials at rest.
// It uses the internal/cache TTL LRU for the decrypt cache and
// golang.org/x/crypto/scrypt for key derivation.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/scrypt"

	"github.com/axiomrelay/gateway/internal/cache"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	decryptCacheCapacity = 500
)

const decryptTTL = 5 * time.Minute

// Vault encrypts/decrypts credential blobs with a per-process AES-256-CBC
// key derived from a passphrase via scrypt. Decrypted plaintext is held in a
// short-lived LRU so hot accounts (re-authenticated on every dispatch) don't
// pay the scrypt-derived cipher cost per request.
type Vault struct {
	key          []byte
	decryptCache *cache.LRU
}

// Config controls key derivation. Salt should be stable across process
// restarts (persisted alongside the deployment, not the ciphertext) so
// previously-encrypted blobs remain decryptable.
type Config struct {
	Passphrase string
	Salt       []byte
}

// New derives the process key from cfg and builds the vault. Key derivation
// happens once; the decrypt cache is a 5-minute TTL LRU of at most 500
// entries.
func New(cfg Config) (*Vault, error) {
	if cfg.Passphrase == "" {
		return nil, errors.New("vault: passphrase must not be empty")
	}
	if len(cfg.Salt) == 0 {
		return nil, errors.New("vault: salt must not be empty")
	}
	key, err := scrypt.Key([]byte(cfg.Passphrase), cfg.Salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	return &Vault{
		key:          key,
		decryptCache: cache.NewLRU(decryptCacheCapacity, decryptTTL),
	}, nil
}

// Encrypt returns a self-delimiting blob of the form hex(iv):hex(ciphertext).
// The blob carries no authentication tag; callers only ever decrypt blobs
// this process produced.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: new cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), block.BlockSize())
	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: read iv: %w", err)
	}

	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Per the credential vault's contract, malformed
// or missing input is never an error: it logs a warning and returns "", so a
// corrupt stored credential degrades to "unauthenticated" rather than
// panicking the dispatch path.
func (v *Vault) Decrypt(blob string) string {
	if blob == "" {
		return ""
	}
	if cached, ok := v.decryptCache.Get(blob); ok {
		return string(cached)
	}

	plaintext, err := v.decryptUncached(blob)
	if err != nil {
		log.WithError(err).Warn("vault: decrypt failed, returning empty credential")
		return ""
	}

	v.decryptCache.Set(blob, []byte(plaintext))
	return plaintext
}

func (v *Vault) decryptUncached(blob string) (string, error) {
	parts := strings.SplitN(blob, ":", 2)
	if len(parts) != 2 {
		return "", errors.New("malformed blob: expected iv:ciphertext")
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return "", errors.New("invalid iv length")
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return "", errors.New("invalid ciphertext length")
	}

	plaintext := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, block.BlockSize())
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// Stats exposes the decrypt cache's hit/miss counters for observability.
func (v *Vault) Stats() cache.Stats {
	return v.decryptCache.Stats()
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
