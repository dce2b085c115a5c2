package record

import (
	"time"

	"github.com/eleven-am/scribe-backend/internal/shared"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// strictly forward. Staying in the same non-terminal status is allowed.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() || next.rank() < 0 || s.rank() < 0 {
		return false
	}
	return next.rank() >= s.rank()
}

// predecessors lists every status from which next may be entered.
func predecessors(next Status) []Status {
	var out []Status
	for _, s := range []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed} {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

const DefaultLanguage = "en"

type Transcription struct {
	ID                   int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	DoctorID             *int64     `gorm:"index" json:"doctor_id,omitempty"`
	PatientID            *int64     `gorm:"index" json:"patient_id,omitempty"`
	AudioFileURL         *string    `gorm:"size:512" json:"audio_file_url,omitempty"`
	AudioDurationSeconds *int       `json:"audio_duration_seconds,omitempty"`
	TranscriptionText    string     `gorm:"type:text" json:"transcription_text"`
	Status               Status     `gorm:"column:transcription_status;size:16;not null;default:pending;index" json:"transcription_status"`
	ConfidenceScore      *float64   `json:"confidence_score,omitempty"`
	Language             *string    `gorm:"size:16" json:"language,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// LanguageOrDefault returns the record language, falling back to DefaultLanguage.
func (t *Transcription) LanguageOrDefault(fallback string) string {
	if t.Language != nil && *t.Language != "" {
		return *t.Language
	}
	if fallback != "" {
		return fallback
	}
	return DefaultLanguage
}

type NoteAnalysis struct {
	ID                 int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	TranscriptionID    *int64             `gorm:"index" json:"transcription_id,omitempty"`
	NoteID             *int64             `gorm:"index" json:"note_id,omitempty"`
	Analysis           string             `gorm:"type:text" json:"analysis"`
	Keywords           shared.CommaList   `gorm:"type:text" json:"keywords"`
	Summary            string             `gorm:"type:text" json:"summary"`
	ConcernsIdentified shared.StringSlice `gorm:"type:text" json:"concerns_identified"`
	UrgencyLevel       int                `json:"urgency_level"`
	AnalysisStatus     AnalysisStatus     `gorm:"size:16;not null;default:pending" json:"analysis_status"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func (NoteAnalysis) TableName() string {
	return "note_analysis"
}

type Patient struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	FirstName      string     `gorm:"size:80;not null" json:"first_name"`
	LastName       string     `gorm:"size:80;not null" json:"last_name"`
	DateOfBirth    *time.Time `json:"date_of_birth,omitempty"`
	Gender         string     `gorm:"size:20" json:"gender,omitempty"`
	Allergies      string     `gorm:"size:255" json:"allergies,omitempty"`
	MedicalHistory string     `gorm:"size:512" json:"medical_history,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Note struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PatientID       int64     `gorm:"not null;index" json:"patient_id"`
	DoctorID        int64     `gorm:"not null;index" json:"doctor_id"`
	TranscriptionID *int64    `gorm:"uniqueIndex" json:"transcription_id,omitempty"`
	Title           string    `gorm:"size:200" json:"title"`
	Content         string    `gorm:"type:text" json:"content"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
