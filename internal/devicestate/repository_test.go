package devicestate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gridd/internal/infrastructure/database"
	"github.com/nerrad567/gridd/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_SettingsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetSettings(ctx, "m1000001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSettings() error = %v, want ErrNotFound", err)
	}

	in := &Settings{
		Serial:   "m1000001",
		Prefix:   "grid",
		AppHost:  "127.0.0.1",
		AppPort:  9000,
		Rotation: 180,
	}
	if err := repo.SaveSettings(ctx, in); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	got, err := repo.GetSettings(ctx, "m1000001")
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if got.Prefix != "/grid" {
		t.Errorf("Prefix = %q, want /grid", got.Prefix)
	}
	if got.AppPort != 9000 || got.Rotation != 180 || got.AppHost != "127.0.0.1" {
		t.Errorf("GetSettings() = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	in.AppPort = 9100
	if err := repo.SaveSettings(ctx, in); err != nil {
		t.Fatalf("SaveSettings() update error = %v", err)
	}
	got, _ = repo.GetSettings(ctx, "m1000001")
	if got.AppPort != 9100 {
		t.Errorf("AppPort after update = %d, want 9100", got.AppPort)
	}
}

func TestSQLiteRepository_SaveInvalid(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.SaveSettings(context.Background(), &Settings{
		Serial:   "m1",
		Prefix:   "/monome",
		AppHost:  "localhost",
		AppPort:  8000,
		Rotation: 45,
	})
	if !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("SaveSettings() error = %v, want ErrInvalidSettings", err)
	}
}

func TestSQLiteRepository_History(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	if err := repo.RecordAttach(ctx, "m1000001", "monome 128", "/dev/ttyUSB0"); err != nil {
		t.Fatalf("RecordAttach() error = %v", err)
	}
	clock = clock.Add(time.Hour)
	if err := repo.RecordAttach(ctx, "m0000042", "monome 64", "/dev/ttyUSB1"); err != nil {
		t.Fatalf("RecordAttach() error = %v", err)
	}
	clock = clock.Add(time.Hour)
	if err := repo.RecordAttach(ctx, "m1000001", "monome 128", "/dev/ttyUSB2"); err != nil {
		t.Fatalf("RecordAttach() error = %v", err)
	}

	entries, err := repo.ListHistory(ctx)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListHistory() returned %d entries, want 2", len(entries))
	}
	first := entries[0]
	if first.Serial != "m1000001" || first.AttachCount != 2 || first.Devnode != "/dev/ttyUSB2" {
		t.Errorf("entries[0] = %+v", first)
	}
	if !first.FirstSeen.Before(first.LastSeen) {
		t.Errorf("FirstSeen %v should precede LastSeen %v", first.FirstSeen, first.LastSeen)
	}

	if err := repo.RecordAttach(ctx, "", "x", "/dev/x"); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("RecordAttach(\"\") error = %v, want ErrInvalidSettings", err)
	}
}

func TestNormalizePrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"monome", "/monome"},
		{"/monome", "/monome"},
		{"/monome/", "/monome"},
		{"a/b", "/a/b"},
	}
	for _, tt := range tests {
		if got := NormalizePrefix(tt.in); got != tt.want {
			t.Errorf("NormalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSettings_Validate(t *testing.T) {
	valid := Settings{Serial: "m1", Prefix: "/monome", AppHost: "127.0.0.1", AppPort: 8000}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid", func(*Settings) {}, false},
		{"no serial", func(s *Settings) { s.Serial = "" }, true},
		{"root prefix", func(s *Settings) { s.Prefix = "/" }, true},
		{"no host", func(s *Settings) { s.AppHost = "" }, true},
		{"bad app port", func(s *Settings) { s.AppPort = 0 }, true},
		{"bad server port", func(s *Settings) { s.ServerPort = -1 }, true},
		{"rotation 270", func(s *Settings) { s.Rotation = 270 }, false},
		{"rotation 360", func(s *Settings) { s.Rotation = 360 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
