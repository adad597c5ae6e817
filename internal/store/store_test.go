package store

import (
	"context"
	"testing"
	"time"

	"github.com/helioscrm/helios/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testKey(owner string) *model.APIKey {
	return &model.APIKey{
		KeyHash:     "hash-" + owner + "-" + time.Now().Format("150405.000000000"),
		KeyPrefix:   "pk_test_deadbeef",
		Name:        "test key",
		OwnerID:     owner,
		Status:      model.StatusActive,
		Scopes:      []string{model.ScopeReadLeads},
		Environment: model.EnvDevelopment,
		RateLimit:   model.RateLimit{PerMinute: 60, PerHour: 1000, PerDay: 10000, PerMonth: 100000},
	}
}

func TestCreateAndGetAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := testKey("owner-1")
	key.AllowedIPs = []string{"10.0.0.1"}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if key.ID == "" {
		t.Fatal("ID not generated")
	}

	got, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.Name != "test key" || got.OwnerID != "owner-1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Scopes) != 1 || got.Scopes[0] != model.ScopeReadLeads {
		t.Errorf("scopes: %v", got.Scopes)
	}
	if len(got.AllowedIPs) != 1 || got.AllowedIPs[0] != "10.0.0.1" {
		t.Errorf("allowed ips: %v", got.AllowedIPs)
	}
	if got.RateLimit.PerMinute != 60 {
		t.Errorf("rate limit: %+v", got.RateLimit)
	}

	byHash, err := s.GetAPIKeyByHash(ctx, key.KeyHash)
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if byHash.ID != key.ID {
		t.Errorf("hash lookup returned wrong key: %s", byHash.ID)
	}

	if _, err := s.GetAPIKeyByHash(ctx, "nope"); err != ErrNotFound {
		t.Errorf("missing hash: got %v, want ErrNotFound", err)
	}
}

func TestCreateAPIKeyDuplicateHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	k1 := testKey("owner-1")
	k1.KeyHash = "same-hash"
	if err := s.CreateAPIKey(ctx, k1); err != nil {
		t.Fatalf("first create: %v", err)
	}

	k2 := testKey("owner-2")
	k2.KeyHash = "same-hash"
	if err := s.CreateAPIKey(ctx, k2); err != ErrDuplicateHash {
		t.Errorf("duplicate hash: got %v, want ErrDuplicateHash", err)
	}
}

func TestListAPIKeysByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		k := testKey("alice")
		k.KeyHash = k.KeyHash + string(rune('a'+i))
		if err := s.CreateAPIKey(ctx, k); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	other := testKey("bob")
	if err := s.CreateAPIKey(ctx, other); err != nil {
		t.Fatalf("create bob: %v", err)
	}

	keys, err := s.ListAPIKeysByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ListAPIKeysByOwner: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("got %d keys, want 3", len(keys))
	}
}

func TestUpdateAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := testKey("owner-1")
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	key.Name = "renamed"
	key.Status = model.StatusSuspended
	key.Scopes = []string{model.ScopeAdmin}
	if err := s.UpdateAPIKey(ctx, key); err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}

	got, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.Name != "renamed" || got.Status != model.StatusSuspended {
		t.Errorf("update not persisted: %+v", got)
	}
	if len(got.Scopes) != 1 || got.Scopes[0] != model.ScopeAdmin {
		t.Errorf("scopes: %v", got.Scopes)
	}

	missing := testKey("ghost")
	missing.ID = "no-such-id"
	if err := s.UpdateAPIKey(ctx, missing); err != ErrNotFound {
		t.Errorf("update missing: got %v, want ErrNotFound", err)
	}
}

func TestMarkExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := testKey("owner-1")
	expired.KeyHash = "expired-hash"
	expired.ExpiresAt = &past
	fresh := testKey("owner-1")
	fresh.KeyHash = "fresh-hash"
	fresh.ExpiresAt = &future

	for _, k := range []*model.APIKey{expired, fresh} {
		if err := s.CreateAPIKey(ctx, k); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := s.MarkExpired(ctx, now)
	if err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("transitioned %d keys, want 1", n)
	}

	got, _ := s.GetAPIKey(ctx, expired.ID)
	if got.Status != model.StatusExpired {
		t.Errorf("status: %s", got.Status)
	}
	got, _ = s.GetAPIKey(ctx, fresh.ID)
	if got.Status != model.StatusActive {
		t.Errorf("fresh key transitioned: %s", got.Status)
	}

	// Second run finds nothing.
	n, err = s.MarkExpired(ctx, now)
	if err != nil {
		t.Fatalf("MarkExpired again: %v", err)
	}
	if n != 0 {
		t.Errorf("second run transitioned %d keys, want 0", n)
	}
}
