package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/axiomrelay/gateway/internal/kvstore"
)

// Repository implements ApiKey CRUD and the hashedKey -> id lookup C12's
// auth middleware needs on every request.
type Repository struct {
	kv kvstore.Store
}

// NewRepository builds a Repository backed by kv.
func NewRepository(kv kvstore.Store) *Repository {
	return &Repository{kv: kv}
}

func (r *Repository) recordKey(id string) string { return "apikey:" + id }
func (r *Repository) hashIndexKey(hash string) string { return "apikey_by_hash:" + hash }

const allKeysSet = "apikey_ids"

// HashKey derives the lookup hash for a raw bearer token. Raw keys are
// never stored, only this hash, matching the vault package's practice of
// never holding plaintext secrets longer than necessary.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey mints a new random bearer token in the gateway's
// "sk-gw-<32 hex chars>" shape.
func GenerateKey() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "sk-gw-" + hex.EncodeToString(buf)
}

// Create persists a new ApiKey, deriving its ID if unset.
func (r *Repository) Create(ctx context.Context, k *ApiKey) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	now := time.Now()
	k.CreatedAt = now
	k.UpdatedAt = now
	body, err := json.Marshal(k)
	if err != nil {
		return err
	}
	if err := r.kv.Set(ctx, r.recordKey(k.ID), string(body), 0); err != nil {
		return err
	}
	if err := r.kv.Set(ctx, r.hashIndexKey(k.HashedKey), k.ID, 0); err != nil {
		return err
	}
	return r.kv.SAdd(ctx, allKeysSet, k.ID)
}

// Get loads an ApiKey by ID.
func (r *Repository) Get(ctx context.Context, id string) (*ApiKey, error) {
	body, err := r.kv.Get(ctx, r.recordKey(id))
	if err != nil {
		return nil, err
	}
	var k ApiKey
	if err := json.Unmarshal([]byte(body), &k); err != nil {
		return nil, err
	}
	return &k, nil
}

// GetByRawKey resolves the bearer token a client presented to its ApiKey
// record, or kvstore.ErrNotFound if no key hashes to it.
func (r *Repository) GetByRawKey(ctx context.Context, raw string) (*ApiKey, error) {
	hash := HashKey(raw)
	id, err := r.kv.Get(ctx, r.hashIndexKey(hash))
	if err != nil {
		return nil, err
	}
	k, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if k.IsDeleted {
		return nil, kvstore.ErrNotFound
	}
	return k, nil
}

// Update persists changes to an existing ApiKey.
func (r *Repository) Update(ctx context.Context, k *ApiKey) error {
	k.UpdatedAt = time.Now()
	body, err := json.Marshal(k)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, r.recordKey(k.ID), string(body), 0)
}

// Delete soft-deletes an ApiKey: the record stays (usage history references
// its ID) but GetByRawKey stops resolving it and the hash index is dropped
// so the same raw token could be reissued to a new key.
func (r *Repository) Delete(ctx context.Context, id string) error {
	k, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	k.IsDeleted = true
	if err := r.Update(ctx, k); err != nil {
		return err
	}
	return r.kv.Del(ctx, r.hashIndexKey(k.HashedKey))
}

// MarkUsed stamps LastUsedAt. Best-effort: callers ignore the error, mirroring
// Repository.MarkUsed in internal/accounts.
func (r *Repository) MarkUsed(ctx context.Context, id string) error {
	k, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	k.LastUsedAt = &now
	return r.Update(ctx, k)
}

// ListAll returns every non-deleted ApiKey.
func (r *Repository) ListAll(ctx context.Context) ([]*ApiKey, error) {
	ids, err := r.kv.SMembers(ctx, allKeysSet)
	if err != nil {
		return nil, err
	}
	out := make([]*ApiKey, 0, len(ids))
	for _, id := range ids {
		k, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		if k.IsDeleted {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}
