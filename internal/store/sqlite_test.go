package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "tutor.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	if got, err := s.GetSession(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("GetSession(missing) = %v, %v", got, err)
	}

	rec := &domain.SessionRecord{
		SessionID:    "lesson-1",
		StatsJSON:    `{"canvas_updates":3}`,
		GraphJSON:    `{"concepts":[]}`,
		LastActivity: now,
		CreatedAt:    now.Add(-time.Hour),
		UpdatedAt:    now,
	}
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	rec.StatsJSON = `{"canvas_updates":4}`
	rec.LastActivity = now.Add(time.Minute)
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() update error = %v", err)
	}

	got, err := s.GetSession(ctx, "lesson-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.StatsJSON != rec.StatsJSON || !got.LastActivity.Equal(rec.LastActivity) || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("GetSession() = %+v, want %+v", got, rec)
	}

	deleted, err := s.DeleteSession(ctx, "lesson-1")
	if err != nil || !deleted {
		t.Fatalf("DeleteSession() = %v, %v", deleted, err)
	}
	deleted, err = s.DeleteSession(ctx, "lesson-1")
	if err != nil || deleted {
		t.Fatalf("second DeleteSession() = %v, %v", deleted, err)
	}
}

func TestExpiredSessions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for id, idle := range map[string]time.Duration{
		"old":    2 * time.Hour,
		"recent": 5 * time.Minute,
	} {
		rec := &domain.SessionRecord{
			SessionID:    id,
			StatsJSON:    "{}",
			GraphJSON:    "{}",
			LastActivity: now.Add(-idle),
			CreatedAt:    now.Add(-idle),
			UpdatedAt:    now,
		}
		if err := s.SaveSession(ctx, rec); err != nil {
			t.Fatalf("SaveSession(%s) error = %v", id, err)
		}
	}

	expired, err := s.ExpiredSessions(ctx, time.Hour, now)
	if err != nil {
		t.Fatalf("ExpiredSessions() error = %v", err)
	}
	if len(expired) != 1 || expired[0].SessionID != "old" {
		t.Fatalf("ExpiredSessions() = %+v", expired)
	}
}

func TestUploadRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	up := &domain.Upload{
		ID:          "u1",
		Filename:    "worksheet.png",
		ContentType: "image/png",
		Size:        42,
		Path:        "/tmp/u1",
		CreatedAt:   time.Unix(1_700_000_000, 0),
	}
	if err := s.SaveUpload(ctx, up); err != nil {
		t.Fatalf("SaveUpload() error = %v", err)
	}

	got, err := s.GetUpload(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUpload() error = %v", err)
	}
	if got.Filename != up.Filename || got.Size != 42 || got.SessionID != "" || got.Path != up.Path {
		t.Fatalf("GetUpload() = %+v", got)
	}
	if missing, err := s.GetUpload(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("GetUpload(nope) = %v, %v", missing, err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestDeleteSessionUploads(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for i, sid := range []string{"lesson-1", "lesson-1", "lesson-2", ""} {
		up := &domain.Upload{
			ID:        "u" + string(rune('a'+i)),
			SessionID: sid,
			Filename:  "page.png",
			Path:      "/tmp/page.png",
			CreatedAt: time.Unix(1_700_000_000+int64(i), 0),
		}
		if err := s.SaveUpload(ctx, up); err != nil {
			t.Fatalf("SaveUpload(%s) error = %v", up.ID, err)
		}
	}

	removed, err := s.DeleteSessionUploads(ctx, "lesson-1")
	if err != nil {
		t.Fatalf("DeleteSessionUploads() error = %v", err)
	}
	if len(removed) != 2 || removed[0].ID != "ua" || removed[1].ID != "ub" {
		t.Fatalf("removed = %+v", removed)
	}
	if got, _ := s.GetUpload(ctx, "ua"); got != nil {
		t.Fatal("upload ua still stored")
	}
	for _, id := range []string{"uc", "ud"} {
		if got, _ := s.GetUpload(ctx, id); got == nil {
			t.Fatalf("upload %s of another session removed", id)
		}
	}

	removed, err = s.DeleteSessionUploads(ctx, "lesson-1")
	if err != nil || len(removed) != 0 {
		t.Fatalf("second DeleteSessionUploads() = %v, %v", removed, err)
	}
}
