package record

import (
	"context"
	"errors"
	"time"

	"github.com/eleven-am/scribe-backend/internal/shared"
	"gorm.io/gorm"
)

var ErrStatusTransition = errors.New("status transition not allowed")

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Patient{}, &Note{}, &Transcription{}, &NoteAnalysis{})
}

func (s *Store) CreateTranscription(ctx context.Context, t *Transcription) error {
	if t.Status == "" {
		t.Status = StatusPending
	}
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) GetTranscription(ctx context.Context, id int64) (*Transcription, error) {
	var t Transcription
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatus moves the record forward. The guard lives in the WHERE clause so
// two writers can never regress a status that was already advanced.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status) error {
	result := s.db.WithContext(ctx).Model(&Transcription{}).
		Where("id = ? AND transcription_status IN ?", id, predecessors(status)).
		Update("transcription_status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

func (s *Store) SaveProgress(ctx context.Context, id int64, text string, confidence *float64) error {
	result := s.db.WithContext(ctx).Model(&Transcription{}).
		Where("id = ? AND transcription_status = ?", id, StatusInProgress).
		Updates(map[string]any{
			"transcription_text": text,
			"confidence_score":   confidence,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

// SetAudioDuration records the total canonical audio length while the
// session is still live.
func (s *Store) SetAudioDuration(ctx context.Context, id int64, seconds int) error {
	result := s.db.WithContext(ctx).Model(&Transcription{}).
		Where("id = ? AND transcription_status = ?", id, StatusInProgress).
		Update("audio_duration_seconds", seconds)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

func (s *Store) Complete(ctx context.Context, id int64, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&Transcription{}).
		Where("id = ? AND transcription_status IN ?", id, predecessors(StatusCompleted)).
		Updates(map[string]any{
			"transcription_status": StatusCompleted,
			"completed_at":         at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

func (s *Store) missingOrConflict(ctx context.Context, id int64) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Transcription{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return shared.ErrNotFound
	}
	return ErrStatusTransition
}

func (s *Store) CreateAnalysis(ctx context.Context, a *NoteAnalysis) error {
	if a.AnalysisStatus == "" {
		a.AnalysisStatus = AnalysisCompleted
	}
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *Store) LatestAnalysis(ctx context.Context, transcriptionID int64) (*NoteAnalysis, error) {
	var a NoteAnalysis
	err := s.db.WithContext(ctx).
		Where("transcription_id = ?", transcriptionID).
		Order("created_at DESC, id DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) CountAnalyses(ctx context.Context, transcriptionID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&NoteAnalysis{}).Where("transcription_id = ?", transcriptionID).Count(&count).Error
	return count, err
}

func (s *Store) CreatePatient(ctx context.Context, p *Patient) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *Store) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	var p Patient
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateNote(ctx context.Context, n *Note) error {
	return s.db.WithContext(ctx).Create(n).Error
}

// RecentNotes returns the newest notes for a patient, newest first.
func (s *Store) RecentNotes(ctx context.Context, patientID int64, limit int) ([]Note, error) {
	if limit <= 0 {
		return nil, nil
	}
	var notes []Note
	err := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&notes).Error
	return notes, err
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
