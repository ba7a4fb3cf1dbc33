package apikey

import (
	"context"
	"testing"

	"github.com/axiomrelay/gateway/internal/kvstore"
)

func newTestRepo() (*Repository, kvstore.Store) {
	kv := kvstore.NewMemoryStore()
	return NewRepository(kv), kv
}

func TestCreateGetRoundTrip(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	raw := GenerateKey()
	k := &ApiKey{
		Name:             "test-key",
		HashedKey:        HashKey(raw),
		Permissions:      []Permission{PermissionChat},
		ConcurrencyLimit: 2,
	}
	if err := repo.Create(ctx, k); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if k.ID == "" {
		t.Fatal("Create did not assign an ID")
	}

	got, err := repo.GetByRawKey(ctx, raw)
	if err != nil {
		t.Fatalf("GetByRawKey: %v", err)
	}
	if got.ID != k.ID || got.Name != "test-key" {
		t.Fatalf("got = %+v, want id=%s name=test-key", got, k.ID)
	}
}

func TestGetByRawKeyUnknown(t *testing.T) {
	repo, _ := newTestRepo()
	if _, err := repo.GetByRawKey(context.Background(), "sk-gw-doesnotexist"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestDeleteSoftDeletesAndHidesFromLookup(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	raw := GenerateKey()
	k := &ApiKey{Name: "to-delete", HashedKey: HashKey(raw)}
	if err := repo.Create(ctx, k); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.Delete(ctx, k.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := repo.GetByRawKey(ctx, raw); err == nil {
		t.Fatal("expected GetByRawKey to fail after delete")
	}

	// The record itself is retained (soft delete), just unreachable by key.
	got, err := repo.Get(ctx, k.ID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if !got.IsDeleted {
		t.Fatal("IsDeleted not set after Delete")
	}
}

func TestListAllSkipsDeleted(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	a := &ApiKey{Name: "keep", HashedKey: HashKey(GenerateKey())}
	b := &ApiKey{Name: "drop", HashedKey: HashKey(GenerateKey())}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := repo.Create(ctx, b); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if err := repo.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete b: %v", err)
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 || all[0].ID != a.ID {
		t.Fatalf("ListAll = %+v, want only %s", all, a.ID)
	}
}

func TestHasPermission(t *testing.T) {
	chatOnly := &ApiKey{}
	if !chatOnly.HasPermission(PermissionChat) {
		t.Fatal("empty Permissions should default to chat-only")
	}
	if chatOnly.HasPermission(PermissionAdmin) {
		t.Fatal("empty Permissions should not satisfy admin")
	}

	admin := &ApiKey{Permissions: []Permission{PermissionAdmin}}
	if !admin.HasPermission(PermissionModels) {
		t.Fatal("admin permission should satisfy any requirement")
	}
}

func TestClientAllowed(t *testing.T) {
	k := &ApiKey{EnableClientRestriction: true, AllowedClients: []string{"codex-cli"}}
	if k.ClientAllowed("my-custom-client") {
		t.Fatal("client name absent from the allow-list should be rejected when restriction enabled")
	}
	if !k.ClientAllowed("codex-cli") {
		t.Fatal("exact match against an allowed client should pass")
	}

	open := &ApiKey{}
	if !open.ClientAllowed("anything") {
		t.Fatal("client restriction disabled should allow any client")
	}
}
