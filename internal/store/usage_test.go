package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/ratelimit"
)

func TestConsumeQuotaAllowsAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	key := testKey("owner-1")
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	usage, window, err := s.ConsumeQuota(ctx, key.ID, key.RateLimit, "203.0.113.9", now)
	if err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	if window != "" {
		t.Fatalf("unexpected violation: %s", window)
	}
	if usage.MinuteCount != 1 || usage.TotalCount != 1 {
		t.Errorf("counters: %+v", usage)
	}

	got, _ := s.GetAPIKey(ctx, key.ID)
	if got.Usage.MinuteCount != 1 {
		t.Errorf("persisted minute count: %d", got.Usage.MinuteCount)
	}
	if got.LastUsedIP != "203.0.113.9" {
		t.Errorf("last used ip: %q", got.LastUsedIP)
	}
}

func TestConsumeQuotaMinuteCeiling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	key := testKey("owner-1")
	key.RateLimit = model.RateLimit{PerMinute: 5, PerHour: 1000, PerDay: 10000, PerMonth: 100000}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	for i := 1; i <= 5; i++ {
		_, window, err := s.ConsumeQuota(ctx, key.ID, key.RateLimit, "", now)
		if err != nil || window != "" {
			t.Fatalf("call %d: window=%q err=%v", i, window, err)
		}
	}

	// Sixth call in the same minute is denied.
	usage, window, err := s.ConsumeQuota(ctx, key.ID, key.RateLimit, "", now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("sixth call: %v", err)
	}
	if window != ratelimit.WindowMinute {
		t.Fatalf("sixth call: window=%q, want minute", window)
	}
	if usage.MinuteCount != 5 {
		t.Errorf("denied call incremented counters: %+v", usage)
	}

	// After the minute boundary the seventh call succeeds.
	_, window, err = s.ConsumeQuota(ctx, key.ID, key.RateLimit, "", now.Add(time.Minute))
	if err != nil || window != "" {
		t.Fatalf("seventh call: window=%q err=%v", window, err)
	}
}

func TestConsumeQuotaHotKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	key := testKey("owner-1")
	key.RateLimit = model.RateLimit{PerMinute: 50}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	const calls = 100
	var wg sync.WaitGroup
	allowed := make(chan struct{}, calls)

	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, window, err := s.ConsumeQuota(ctx, key.ID, key.RateLimit, "", now)
			if err != nil {
				t.Errorf("ConsumeQuota: %v", err)
				return
			}
			if window == "" {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	n := 0
	for range allowed {
		n++
	}
	if n != 50 {
		t.Errorf("hot key allowed %d calls, want exactly 50", n)
	}

	got, _ := s.GetAPIKey(ctx, key.ID)
	if got.Usage.MinuteCount != 50 || got.Usage.TotalCount != 50 {
		t.Errorf("lost updates: %+v", got.Usage)
	}
}

func TestConsumeQuotaMissingKey(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.ConsumeQuota(context.Background(), "ghost", model.RateLimit{}, "", time.Now())
	if err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestUsageLogsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		entry := &model.UsageLogEntry{
			APIKeyID:   "key-1",
			Endpoint:   "/api/v1/leads",
			Method:     "GET",
			StatusCode: 200,
			Timestamp:  now.Add(time.Duration(i) * time.Second),
		}
		if err := s.InsertUsageLog(ctx, entry); err != nil {
			t.Fatalf("InsertUsageLog: %v", err)
		}
	}
	// An old entry outside the query range.
	old := &model.UsageLogEntry{APIKeyID: "key-1", Endpoint: "/old", Method: "GET", Timestamp: now.AddDate(0, 0, -10)}
	if err := s.InsertUsageLog(ctx, old); err != nil {
		t.Fatalf("InsertUsageLog old: %v", err)
	}

	entries, err := s.ListUsageLogs(ctx, "key-1", now.AddDate(0, 0, -7), 10)
	if err != nil {
		t.Fatalf("ListUsageLogs: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}
	if len(entries) > 1 && entries[0].Timestamp.Before(entries[1].Timestamp) {
		t.Error("entries not newest first")
	}
}

func TestDeleteUsageLogsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 7; i++ {
		entry := &model.UsageLogEntry{APIKeyID: "key-1", Endpoint: "/x", Method: "GET", Timestamp: now.AddDate(0, 0, -100)}
		if err := s.InsertUsageLog(ctx, entry); err != nil {
			t.Fatalf("InsertUsageLog: %v", err)
		}
	}
	keep := &model.UsageLogEntry{APIKeyID: "key-1", Endpoint: "/y", Method: "GET", Timestamp: now}
	if err := s.InsertUsageLog(ctx, keep); err != nil {
		t.Fatalf("InsertUsageLog keep: %v", err)
	}

	cutoff := now.AddDate(0, 0, -90)

	// Batches of 3: 3 + 3 + 1, then 0.
	var total int64
	for {
		n, err := s.DeleteUsageLogsBefore(ctx, cutoff, 3)
		if err != nil {
			t.Fatalf("DeleteUsageLogsBefore: %v", err)
		}
		if n > 3 {
			t.Errorf("batch exceeded limit: %d", n)
		}
		total += n
		if n == 0 {
			break
		}
	}
	if total != 7 {
		t.Errorf("deleted %d, want 7", total)
	}

	entries, err := s.ListUsageLogs(ctx, "key-1", now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListUsageLogs: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("recent entry lost: %d remain", len(entries))
	}
}

func TestAdminRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	admin := &model.Admin{
		Email:        "ops@installer.example",
		PasswordHash: HashPassword("hunter2"),
		Name:         "Ops",
		IsActive:     true,
	}
	if err := s.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	got, err := s.GetAdminByEmail(ctx, "ops@installer.example")
	if err != nil {
		t.Fatalf("GetAdminByEmail: %v", err)
	}
	if got.PasswordHash != HashPassword("hunter2") {
		t.Error("password hash mismatch")
	}

	dup := &model.Admin{Email: "ops@installer.example", PasswordHash: "x", IsActive: true}
	if err := s.CreateAdmin(ctx, dup); err == nil {
		t.Error("duplicate email accepted")
	}
}

func TestLeadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := &model.Lead{Name: "Jordan Reyes", Email: "jordan@example.com", SystemSizeKW: 8.5, Source: "partner-x"}
	if err := s.CreateLead(ctx, lead); err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	if lead.Status != "new" {
		t.Errorf("default status: %q", lead.Status)
	}

	leads, err := s.ListLeads(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListLeads: %v", err)
	}
	if len(leads) != 1 || leads[0].Name != "Jordan Reyes" {
		t.Errorf("leads: %+v", leads)
	}
}
