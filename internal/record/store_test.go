package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eleven-am/scribe-backend/internal/shared"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(setupTestDB(t))
	if err := store.Migrate(); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	return store
}

func createTranscription(t *testing.T, store *Store, status Status) *Transcription {
	t.Helper()
	tr := &Transcription{Status: status}
	if err := store.CreateTranscription(context.Background(), tr); err != nil {
		t.Fatalf("create transcription: %v", err)
	}
	return tr
}

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusInProgress, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusInProgress, false},
		{StatusCompleted, StatusCompleted, false},
		{Status("bogus"), StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTranscription_LanguageOrDefault(t *testing.T) {
	tr := &Transcription{}
	if got := tr.LanguageOrDefault(""); got != "en" {
		t.Errorf("expected en, got %s", got)
	}
	if got := tr.LanguageOrDefault("de"); got != "de" {
		t.Errorf("expected fallback de, got %s", got)
	}
	lang := "fr"
	tr.Language = &lang
	if got := tr.LanguageOrDefault("de"); got != "fr" {
		t.Errorf("expected record language fr, got %s", got)
	}
}

func TestStore_GetTranscription_NotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetTranscription(context.Background(), 999)
	if !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_UpdateStatus_ForwardOnly(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tr := createTranscription(t, store, StatusPending)

	if err := store.UpdateStatus(ctx, tr.ID, StatusInProgress); err != nil {
		t.Fatalf("pending -> in_progress: %v", err)
	}
	if err := store.UpdateStatus(ctx, tr.ID, StatusFailed); err != nil {
		t.Fatalf("in_progress -> failed: %v", err)
	}

	err := store.UpdateStatus(ctx, tr.ID, StatusInProgress)
	if !errors.Is(err, ErrStatusTransition) {
		t.Errorf("expected ErrStatusTransition on regression, got %v", err)
	}

	got, err := store.GetTranscription(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}

	if err := store.UpdateStatus(ctx, 12345, StatusFailed); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing record, got %v", err)
	}
}

func TestStore_SaveProgress(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tr := createTranscription(t, store, StatusPending)

	confidence := 0.82
	if err := store.SaveProgress(ctx, tr.ID, "hello", &confidence); !errors.Is(err, ErrStatusTransition) {
		t.Errorf("progress on pending record should be rejected, got %v", err)
	}

	if err := store.UpdateStatus(ctx, tr.ID, StatusInProgress); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := store.SaveProgress(ctx, tr.ID, "hello world", &confidence); err != nil {
		t.Fatalf("save progress: %v", err)
	}

	got, _ := store.GetTranscription(ctx, tr.ID)
	if got.TranscriptionText != "hello world" {
		t.Errorf("expected text 'hello world', got %q", got.TranscriptionText)
	}
	if got.ConfidenceScore == nil || *got.ConfidenceScore != 0.82 {
		t.Errorf("expected confidence 0.82, got %v", got.ConfidenceScore)
	}
}

func TestStore_SetAudioDuration(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tr := createTranscription(t, store, StatusInProgress)

	if err := store.SetAudioDuration(ctx, tr.ID, 42); err != nil {
		t.Fatalf("set duration: %v", err)
	}
	got, _ := store.GetTranscription(ctx, tr.ID)
	if got.AudioDurationSeconds == nil || *got.AudioDurationSeconds != 42 {
		t.Errorf("expected 42 seconds, got %v", got.AudioDurationSeconds)
	}

	done := createTranscription(t, store, StatusCompleted)
	if err := store.SetAudioDuration(ctx, done.ID, 1); !errors.Is(err, ErrStatusTransition) {
		t.Errorf("expected ErrStatusTransition on completed record, got %v", err)
	}
}

func TestStore_Complete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tr := createTranscription(t, store, StatusInProgress)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Complete(ctx, tr.ID, at); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ := store.GetTranscription(ctx, tr.ID)
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(at) {
		t.Errorf("expected completed_at %v, got %v", at, got.CompletedAt)
	}

	if err := store.Complete(ctx, tr.ID, at); !errors.Is(err, ErrStatusTransition) {
		t.Errorf("second completion should be rejected, got %v", err)
	}
}

func TestStore_Analysis(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tr := createTranscription(t, store, StatusInProgress)

	if _, err := store.LatestAnalysis(ctx, tr.ID); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound before analysis, got %v", err)
	}

	a := &NoteAnalysis{
		TranscriptionID:    &tr.ID,
		Summary:            "Febrile patient with headache.",
		Keywords:           shared.CommaList{"fever", "headache"},
		ConcernsIdentified: shared.StringSlice{"possible infection"},
		UrgencyLevel:       3,
	}
	if err := store.CreateAnalysis(ctx, a); err != nil {
		t.Fatalf("create analysis: %v", err)
	}

	got, err := store.LatestAnalysis(ctx, tr.ID)
	if err != nil {
		t.Fatalf("latest analysis: %v", err)
	}
	if got.AnalysisStatus != AnalysisCompleted {
		t.Errorf("expected completed analysis status, got %s", got.AnalysisStatus)
	}
	if len(got.Keywords) != 2 || got.Keywords[1] != "headache" {
		t.Errorf("unexpected keywords: %v", got.Keywords)
	}
	if len(got.ConcernsIdentified) != 1 || got.ConcernsIdentified[0] != "possible infection" {
		t.Errorf("unexpected concerns: %v", got.ConcernsIdentified)
	}

	count, err := store.CountAnalyses(ctx, tr.ID)
	if err != nil || count != 1 {
		t.Errorf("expected 1 analysis, got %d (%v)", count, err)
	}
}

func TestStore_RecentNotes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p := &Patient{FirstName: "Ada", LastName: "Lovelace"}
	if err := store.CreatePatient(ctx, p); err != nil {
		t.Fatalf("create patient: %v", err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		n := &Note{PatientID: p.ID, DoctorID: 1, Title: "visit", Content: "note", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.CreateNote(ctx, n); err != nil {
			t.Fatalf("create note: %v", err)
		}
	}
	other := &Note{PatientID: p.ID + 100, DoctorID: 1, Content: "other patient", CreatedAt: base.Add(48 * time.Hour)}
	if err := store.CreateNote(ctx, other); err != nil {
		t.Fatalf("create note: %v", err)
	}

	notes, err := store.RecentNotes(ctx, p.ID, 5)
	if err != nil {
		t.Fatalf("recent notes: %v", err)
	}
	if len(notes) != 5 {
		t.Fatalf("expected 5 notes, got %d", len(notes))
	}
	for i := 1; i < len(notes); i++ {
		if notes[i].CreatedAt.After(notes[i-1].CreatedAt) {
			t.Errorf("notes not sorted newest first at %d", i)
		}
		if notes[i].PatientID != p.ID {
			t.Errorf("note for wrong patient returned")
		}
	}

	none, err := store.RecentNotes(ctx, p.ID, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("expected no notes for zero limit, got %d (%v)", len(none), err)
	}
}
