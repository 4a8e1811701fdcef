package repository

import (
	"context"
	"testing"
	"time"

	"github.com/remote-access-relay/backend/internal/db"
	"github.com/remote-access-relay/backend/internal/model"
)

func setupRepo(t *testing.T) (*DeviceRepository, context.Context) {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return NewDeviceRepository(testDB), context.Background()
}

func sampleRecord(id string, at time.Time) *model.DeviceRecord {
	return &model.DeviceRecord{
		ID:           id,
		Name:         "device " + id,
		IPAddress:    "192.168.1.10",
		Capabilities: model.CapSSH | model.CapRDP,
		FirstSeen:    at,
		LastSeen:     at,
	}
}

func TestDeviceRepository_UpsertAndGet(t *testing.T) {
	repo, ctx := setupRepo(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := repo.Upsert(ctx, sampleRecord("pi-1", now)); err != nil {
		t.Fatalf("failed to upsert device: %v", err)
	}

	rec, err := repo.GetByID(ctx, "pi-1")
	if err != nil {
		t.Fatalf("failed to get device: %v", err)
	}
	if rec.Name != "device pi-1" {
		t.Errorf("expected name 'device pi-1', got %q", rec.Name)
	}
	if rec.IPAddress != "192.168.1.10" {
		t.Errorf("expected ip 192.168.1.10, got %q", rec.IPAddress)
	}
	if !rec.Capabilities.Has(model.CapSSH | model.CapRDP) {
		t.Errorf("capabilities not preserved: %v", rec.Capabilities)
	}
	if !rec.LastSeen.Equal(now) {
		t.Errorf("expected last seen %v, got %v", now, rec.LastSeen)
	}
}

func TestDeviceRepository_UpsertRefreshesMetadata(t *testing.T) {
	repo, ctx := setupRepo(t)
	first := time.Now().UTC().Truncate(time.Second)

	if err := repo.Upsert(ctx, sampleRecord("pi-1", first)); err != nil {
		t.Fatalf("failed to upsert device: %v", err)
	}

	later := first.Add(2 * time.Hour)
	updated := &model.DeviceRecord{
		ID:           "pi-1",
		Name:         "renamed",
		IPAddress:    "10.0.0.5",
		Capabilities: model.CapSSH,
		FirstSeen:    later,
		LastSeen:     later,
	}
	if err := repo.Upsert(ctx, updated); err != nil {
		t.Fatalf("failed to re-upsert device: %v", err)
	}

	rec, err := repo.GetByID(ctx, "pi-1")
	if err != nil {
		t.Fatalf("failed to get device: %v", err)
	}
	if rec.Name != "renamed" || rec.IPAddress != "10.0.0.5" {
		t.Errorf("metadata not refreshed: %+v", rec)
	}
	if rec.Capabilities.Has(model.CapRDP) {
		t.Errorf("capabilities not refreshed: %v", rec.Capabilities)
	}
	// first_seen keeps the original registration time.
	if !rec.FirstSeen.Equal(first) {
		t.Errorf("first seen rewritten: got %v, want %v", rec.FirstSeen, first)
	}
	if !rec.LastSeen.Equal(later) {
		t.Errorf("last seen not refreshed: got %v, want %v", rec.LastSeen, later)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("failed to count devices: %v", err)
	}
	if count != 1 {
		t.Errorf("re-upsert created a second row, count %d", count)
	}
}

func TestDeviceRepository_GetMissing(t *testing.T) {
	repo, ctx := setupRepo(t)
	if _, err := repo.GetByID(ctx, "ghost"); err != model.ErrDeviceNotFound {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestDeviceRepository_TouchLastSeen(t *testing.T) {
	repo, ctx := setupRepo(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := repo.Upsert(ctx, sampleRecord("pi-1", now)); err != nil {
		t.Fatalf("failed to upsert device: %v", err)
	}

	later := now.Add(5 * time.Minute)
	if err := repo.TouchLastSeen(ctx, "pi-1", later); err != nil {
		t.Fatalf("failed to touch device: %v", err)
	}
	rec, err := repo.GetByID(ctx, "pi-1")
	if err != nil {
		t.Fatalf("failed to get device: %v", err)
	}
	if !rec.LastSeen.Equal(later) {
		t.Errorf("last seen not updated: got %v, want %v", rec.LastSeen, later)
	}

	if err := repo.TouchLastSeen(ctx, "ghost", later); err != model.ErrDeviceNotFound {
		t.Errorf("expected ErrDeviceNotFound for unknown device, got %v", err)
	}
}

func TestDeviceRepository_ListOrder(t *testing.T) {
	repo, ctx := setupRepo(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"old", "mid", "new"} {
		if err := repo.Upsert(ctx, sampleRecord(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("failed to upsert %s: %v", id, err)
		}
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("failed to list devices: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	// Most recently seen first.
	want := []string{"new", "mid", "old"}
	for i, rec := range records {
		if rec.ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, rec.ID, want[i])
		}
	}
}

func TestDeviceRepository_Delete(t *testing.T) {
	repo, ctx := setupRepo(t)
	now := time.Now().UTC()

	if err := repo.Upsert(ctx, sampleRecord("pi-1", now)); err != nil {
		t.Fatalf("failed to upsert device: %v", err)
	}
	if err := repo.Delete(ctx, "pi-1"); err != nil {
		t.Fatalf("failed to delete device: %v", err)
	}
	if _, err := repo.GetByID(ctx, "pi-1"); err != model.ErrDeviceNotFound {
		t.Errorf("expected ErrDeviceNotFound after delete, got %v", err)
	}

	// Deleting a missing device is not an error.
	if err := repo.Delete(ctx, "ghost"); err != nil {
		t.Errorf("delete of missing device failed: %v", err)
	}
}
