package scribe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eleven-am/scribe-backend/internal/analysis"
	"github.com/eleven-am/scribe-backend/internal/clinical"
	"github.com/eleven-am/scribe-backend/internal/record"
	"github.com/eleven-am/scribe-backend/internal/shared"
	"github.com/eleven-am/scribe-backend/internal/webhook"
	"golang.org/x/sync/errgroup"
)

// finalize runs once, on the terminal chunk. An analysis failure is logged
// and does not stop completion; any other error fails the session.
func (s *Session) finalize() error {
	s.emit(NewStatusFrame(MessageAnalyzing))

	req, err := s.analysisRequest()
	if err != nil {
		return fmt.Errorf("load patient context: %w", err)
	}

	text := s.FullText()
	req.Transcript = text

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.AnalysisTimeout)
	start := time.Now()
	result, aerr := s.deps.Analysis.Analyze(ctx, req)
	cancel()
	if s.ctx.Err() != nil {
		return errInterrupted
	}
	s.deps.Metrics.ObserveAnalysis(time.Since(start), aerr)

	entities := s.deps.Extractor.Extract(text)

	if aerr != nil {
		s.log.Warn("analysis failed, completing without outcome", "error", aerr)
		result = nil
	} else {
		if err := s.saveAnalysis(result); err != nil {
			return fmt.Errorf("save analysis: %w", err)
		}
		s.emit(NewAnalysisCompleteFrame(result, entities))
	}

	pctx, pcancel := s.persistCtx()
	defer pcancel()

	s.mu.RLock()
	secs := int(math.Round(s.audioSecs))
	s.mu.RUnlock()
	if secs > 0 {
		if err := s.deps.Records.SetAudioDuration(pctx, s.id, secs); err != nil {
			s.log.Warn("failed to record audio duration", "error", err)
		}
	}

	completedAt := time.Now().UTC()
	if err := s.deps.Records.Complete(pctx, s.id, completedAt); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	s.setStatus(record.StatusCompleted)
	s.emit(NewCompleteFrame(s.id))

	s.log.Info("transcription completed", "text_length", len(text), "entities", entities.Total(), "analysis", result != nil)
	s.notify(text, result, entities, completedAt)
	return nil
}

// analysisRequest resolves the patient and their most recent notes. A
// missing patient yields an empty context rather than an error.
func (s *Session) analysisRequest() (analysis.Request, error) {
	var req analysis.Request

	s.mu.RLock()
	patientID := s.patientID
	s.mu.RUnlock()
	if patientID == nil {
		return req, nil
	}

	ctx, cancel := s.persistCtx()
	defer cancel()

	var (
		patient *record.Patient
		notes   []record.Note
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.deps.Records.GetPatient(gctx, *patientID)
		if errors.Is(err, shared.ErrNotFound) {
			s.log.Warn("patient not found, analysing without context", "patient_id", *patientID)
			return nil
		}
		patient = p
		return err
	})
	g.Go(func() error {
		n, err := s.deps.Records.RecentNotes(gctx, *patientID, s.opts.PriorNotesLimit)
		notes = n
		return err
	})
	if err := g.Wait(); err != nil {
		return req, err
	}

	if patient != nil {
		req.Patient = &analysis.PatientContext{
			FirstName:      patient.FirstName,
			LastName:       patient.LastName,
			DateOfBirth:    patient.DateOfBirth,
			Gender:         patient.Gender,
			Allergies:      patient.Allergies,
			MedicalHistory: patient.MedicalHistory,
		}
	}
	for _, n := range notes {
		req.PriorNotes = append(req.PriorNotes, analysis.PriorNote{
			CreatedAt: n.CreatedAt,
			Content:   analysis.Excerpt(n.Content, analysis.NoteExcerptChars),
		})
	}
	return req, nil
}

func (s *Session) saveAnalysis(r *analysis.Result) error {
	ctx, cancel := s.persistCtx()
	defer cancel()

	id := s.id
	return s.deps.Records.CreateAnalysis(ctx, &record.NoteAnalysis{
		TranscriptionID:    &id,
		Analysis:           r.Analysis,
		Keywords:           shared.CommaList(r.Keywords),
		Summary:            r.Summary,
		ConcernsIdentified: shared.StringSlice(r.Concerns),
		UrgencyLevel:       analysis.ClampUrgency(r.UrgencyLevel),
		AnalysisStatus:     record.AnalysisCompleted,
	})
}

func (s *Session) notify(text string, r *analysis.Result, entities clinical.Entities, completedAt time.Time) {
	if s.deps.Webhook == nil {
		return
	}

	s.mu.RLock()
	payload := webhook.CompletionPayload{
		TranscriptionID: s.id,
		PatientID:       s.patientID,
		DoctorID:        s.doctorID,
		Text:            text,
		Confidence:      s.confidence,
		CompletedAt:     completedAt,
	}
	s.mu.RUnlock()

	if counts := entities.Counts(); len(counts) > 0 {
		payload.EntitySummary = make(map[string]int, len(counts))
		for c, n := range counts {
			payload.EntitySummary[string(c)] = n
		}
	}

	if r != nil {
		payload.Summary = r.Summary
		payload.Keywords = r.Keywords
		payload.Concerns = r.Concerns
		payload.UrgencyLevel = r.UrgencyLevel
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.opts.WebhookTimeout)
	defer cancel()
	if err := s.deps.Webhook.SendCompletion(ctx, payload); err != nil {
		s.log.Warn("completion webhook failed", "error", err)
	}
}
