package scribe

import (
	"github.com/eleven-am/scribe-backend/internal/analysis"
	"github.com/eleven-am/scribe-backend/internal/clinical"
)

type FrameType string

const (
	FrameAudioChunk FrameType = "audio_chunk"
	FrameCancel     FrameType = "cancel"

	FrameError               FrameType = "error"
	FrameTranscriptionUpdate FrameType = "transcription_update"
	FrameStatus              FrameType = "status"
	FrameAnalysisComplete    FrameType = "analysis_complete"
	FrameComplete            FrameType = "complete"
)

const (
	MessageAnalyzing = "Analyzing..."
	MessageComplete  = "Transcription and analysis complete"
	MessageNotFound  = "Transcription not found"
	MessageLeaseLost = "Session moved to another server"
)

// ClientFrame is any frame sent by the recording client.
type ClientFrame struct {
	Type       FrameType `json:"type"`
	Data       string    `json:"data,omitempty"`
	ChunkIndex int       `json:"chunk_index"`
	IsFinal    bool      `json:"is_final"`
}

// Frame is any frame sent to the client.
type Frame interface {
	FrameType() FrameType
}

type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}

func (f ErrorFrame) FrameType() FrameType { return f.Type }

func NewErrorFrame(msg string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Message: msg}
}

type StatusFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}

func (f StatusFrame) FrameType() FrameType { return f.Type }

func NewStatusFrame(msg string) StatusFrame {
	return StatusFrame{Type: FrameStatus, Message: msg}
}

type TranscriptionUpdateFrame struct {
	Type       FrameType         `json:"type"`
	Text       string            `json:"text"`
	FullText   string            `json:"full_text"`
	IsPartial  bool              `json:"is_partial"`
	ChunkIndex int               `json:"chunk_index"`
	Entities   clinical.Entities `json:"entities"`
	Confidence float64           `json:"confidence"`
}

func (f TranscriptionUpdateFrame) FrameType() FrameType { return f.Type }

type AnalysisPayload struct {
	Summary        string   `json:"summary"`
	Keywords       []string `json:"keywords"`
	Concerns       []string `json:"concerns"`
	UrgencyLevel   int      `json:"urgency_level"`
	Analysis       string   `json:"analysis,omitempty"`
	ProcessingTime float64  `json:"processing_time,omitempty"`
	ModelUsed      string   `json:"model_used,omitempty"`
}

type AnalysisCompleteFrame struct {
	Type     FrameType         `json:"type"`
	Analysis AnalysisPayload   `json:"analysis"`
	Entities clinical.Entities `json:"entities"`
}

func (f AnalysisCompleteFrame) FrameType() FrameType { return f.Type }

func NewAnalysisCompleteFrame(r *analysis.Result, entities clinical.Entities) AnalysisCompleteFrame {
	return AnalysisCompleteFrame{
		Type: FrameAnalysisComplete,
		Analysis: AnalysisPayload{
			Summary:        r.Summary,
			Keywords:       nonNil(r.Keywords),
			Concerns:       nonNil(r.Concerns),
			UrgencyLevel:   r.UrgencyLevel,
			Analysis:       r.Analysis,
			ProcessingTime: r.ProcessingTime.Seconds(),
			ModelUsed:      r.ModelUsed,
		},
		Entities: entities,
	}
}

type CompleteFrame struct {
	Type            FrameType `json:"type"`
	Message         string    `json:"message"`
	TranscriptionID int64     `json:"transcription_id"`
}

func (f CompleteFrame) FrameType() FrameType { return f.Type }

func NewCompleteFrame(id int64) CompleteFrame {
	return CompleteFrame{Type: FrameComplete, Message: MessageComplete, TranscriptionID: id}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
