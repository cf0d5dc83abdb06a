package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/asd12288/meydacrm/internal/db/dbtest"
)

func TestAPIKeyCreateAndValidate(t *testing.T) {
	store, profileID := testAPIKeyStore(t)
	ctx := context.Background()

	rawKey, key, err := store.Create(ctx, profileID, "Laptop")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(rawKey, "crm_") || len(rawKey) != len("crm_")+64 {
		t.Errorf("raw key %q has wrong shape", rawKey)
	}
	if key.Name != "Laptop" {
		t.Errorf("name = %q, want %q", key.Name, "Laptop")
	}
	if !strings.HasPrefix(rawKey, key.KeyPrefix) {
		t.Errorf("prefix %q is not a prefix of the key", key.KeyPrefix)
	}

	got, valid, err := store.Validate(ctx, rawKey)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !valid || got != profileID {
		t.Errorf("validate = (%d, %v), want (%d, true)", got, valid, profileID)
	}

	keys, err := store.List(ctx, profileID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0].LastUsedAt == nil {
		t.Errorf("expected one key with last_used_at set, got %+v", keys)
	}
}

func TestAPIKeyValidateInvalid(t *testing.T) {
	store, _ := testAPIKeyStore(t)

	for _, raw := range []string{"crm_boguskey12345678", "hf_0000", ""} {
		_, valid, err := store.Validate(context.Background(), raw)
		if err != nil {
			t.Fatalf("validate %q: %v", raw, err)
		}
		if valid {
			t.Errorf("key %q should be invalid", raw)
		}
	}
}

func TestAPIKeyDefaultName(t *testing.T) {
	store, profileID := testAPIKeyStore(t)

	_, key, err := store.Create(context.Background(), profileID, "  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if key.Name != "CLI" {
		t.Errorf("name = %q, want CLI", key.Name)
	}
}

func TestAPIKeyListScopedToProfile(t *testing.T) {
	d := dbtest.Open(t)
	store := NewAPIKeyStore(d)
	ctx := context.Background()
	alice := dbtest.Profile(t, d, "alice", "sales")
	bruno := dbtest.Profile(t, d, "bruno", "sales")

	if _, _, err := store.Create(ctx, alice, "Key 1"); err != nil {
		t.Fatalf("create 1: %v", err)
	}
	if _, _, err := store.Create(ctx, alice, "Key 2"); err != nil {
		t.Fatalf("create 2: %v", err)
	}
	if _, _, err := store.Create(ctx, bruno, "Key 3"); err != nil {
		t.Fatalf("create 3: %v", err)
	}

	keys, err := store.List(ctx, alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	if keys[0].Name != "Key 2" {
		t.Errorf("first key = %q, want newest first", keys[0].Name)
	}
}

func TestAPIKeyDelete(t *testing.T) {
	d := dbtest.Open(t)
	store := NewAPIKeyStore(d)
	ctx := context.Background()
	alice := dbtest.Profile(t, d, "alice", "sales")
	bruno := dbtest.Profile(t, d, "bruno", "sales")

	raw, key, err := store.Create(ctx, alice, "Temp")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Delete(ctx, bruno, key.ID); err != ErrKeyNotFound {
		t.Errorf("deleting another profile's key: err = %v, want ErrKeyNotFound", err)
	}

	if err := store.Delete(ctx, alice, key.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, valid, _ := store.Validate(ctx, raw); valid {
		t.Error("deleted key should not validate")
	}
	if err := store.Delete(ctx, alice, key.ID); err != ErrKeyNotFound {
		t.Errorf("second delete: err = %v, want ErrKeyNotFound", err)
	}
}

func testAPIKeyStore(t *testing.T) (*APIKeyStore, int64) {
	t.Helper()
	d := dbtest.Open(t)
	return NewAPIKeyStore(d), dbtest.Profile(t, d, "camille", "sales")
}
