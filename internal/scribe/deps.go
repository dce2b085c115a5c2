package scribe

import (
	"context"
	"time"

	"github.com/eleven-am/scribe-backend/internal/analysis"
	"github.com/eleven-am/scribe-backend/internal/clinical"
	"github.com/eleven-am/scribe-backend/internal/lease"
	"github.com/eleven-am/scribe-backend/internal/metrics"
	"github.com/eleven-am/scribe-backend/internal/record"
	"github.com/eleven-am/scribe-backend/internal/speech"
	"github.com/eleven-am/scribe-backend/internal/webhook"
)

// RecordStore is the persistence a session writes through to.
type RecordStore interface {
	GetTranscription(ctx context.Context, id int64) (*record.Transcription, error)
	UpdateStatus(ctx context.Context, id int64, status record.Status) error
	SaveProgress(ctx context.Context, id int64, text string, confidence *float64) error
	SetAudioDuration(ctx context.Context, id int64, seconds int) error
	Complete(ctx context.Context, id int64, at time.Time) error
	CreateAnalysis(ctx context.Context, a *record.NoteAnalysis) error
	GetPatient(ctx context.Context, id int64) (*record.Patient, error)
	RecentNotes(ctx context.Context, patientID int64, limit int) ([]record.Note, error)
}

type ChunkStore interface {
	Stage(sessionID int64, index int, data []byte) (string, error)
	ToCanonical(handle string) (string, error)
	Duration(handle string) float64
	Purge(handles []string) int
}

// Leaser guards session ownership across instances.
type Leaser interface {
	Claim(ctx context.Context, id int64) error
	Refresh(ctx context.Context, id int64) error
	Release(ctx context.Context, id int64) error
	TTL() time.Duration
}

type Counters interface {
	Increment(ctx context.Context, field lease.Counter, value int64) error
}

type Dependencies struct {
	Records   RecordStore
	Chunks    ChunkStore
	STT       speech.Transcriber
	Extractor clinical.Extractor
	Analysis  analysis.Engine
	Metrics   *metrics.Metrics
	Webhook   webhook.Sender
	Lease     Leaser
	Counters  Counters
}

type Options struct {
	DefaultLanguage        string
	STTTimeout             time.Duration
	AnalysisTimeout        time.Duration
	PersistTimeout         time.Duration
	WebhookTimeout         time.Duration
	PriorNotesLimit        int
	InboxSize              int
	MarkFailedOnDisconnect bool
}

func (o Options) withDefaults() Options {
	if o.DefaultLanguage == "" {
		o.DefaultLanguage = record.DefaultLanguage
	}
	if o.STTTimeout <= 0 {
		o.STTTimeout = 60 * time.Second
	}
	if o.AnalysisTimeout <= 0 {
		o.AnalysisTimeout = 90 * time.Second
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
	if o.WebhookTimeout <= 0 {
		o.WebhookTimeout = 10 * time.Second
	}
	if o.PriorNotesLimit <= 0 {
		o.PriorNotesLimit = 5
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 64
	}
	return o
}
