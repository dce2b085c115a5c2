package analysis

import (
	"context"
	"errors"
	"time"
)

var ErrAnalysis = errors.New("analysis failed")

const (
	MinUrgency = 1
	MaxUrgency = 5
)

type PatientContext struct {
	FirstName      string
	LastName       string
	DateOfBirth    *time.Time
	Gender         string
	Allergies      string
	MedicalHistory string
}

type PriorNote struct {
	CreatedAt time.Time
	Content   string
}

type Request struct {
	Transcript string
	Patient    *PatientContext
	PriorNotes []PriorNote
	Context    string
}

type Result struct {
	Analysis       string        `json:"analysis"`
	Summary        string        `json:"summary"`
	Keywords       []string      `json:"keywords"`
	Concerns       []string      `json:"concerns"`
	UrgencyLevel   int           `json:"urgency_level"`
	ProcessingTime time.Duration `json:"-"`
	ModelUsed      string        `json:"-"`
}

// Engine produces a structured clinical analysis of a finished transcript.
// Calls may take seconds; implementations are safe for concurrent use.
type Engine interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
	IsAvailable(ctx context.Context) bool
}

func ClampUrgency(v int) int {
	if v < MinUrgency {
		return MinUrgency
	}
	if v > MaxUrgency {
		return MaxUrgency
	}
	return v
}
