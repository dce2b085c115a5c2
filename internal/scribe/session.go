package scribe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/scribe-backend/internal/chunkstore"
	"github.com/eleven-am/scribe-backend/internal/lease"
	"github.com/eleven-am/scribe-backend/internal/metrics"
	"github.com/eleven-am/scribe-backend/internal/record"
	"github.com/eleven-am/scribe-backend/internal/shared"
)

var (
	ErrSessionClosed = errors.New("session closed")
	errChunkDropped  = errors.New("chunk dropped")
	// errInterrupted means the session context ended mid-operation. The
	// record is left for the disconnect policy rather than failed.
	errInterrupted = errors.New("session interrupted")
)

type endReason int

const (
	endNatural endReason = iota
	endDisconnect
	endShutdown
	endLeaseLost
)

// Session owns one transcription stream. All state below mu is mutated only
// by the run goroutine; mu exists so Info can be read from other goroutines.
type Session struct {
	id   int64
	deps Dependencies
	opts Options
	log  *slog.Logger
	emit func(Frame)

	ctx       context.Context
	cancelCtx context.CancelFunc
	inbox     chan ClientFrame
	stop      chan struct{}
	aborted   chan struct{}
	done      chan struct{}
	once      sync.Once
	abortOnce sync.Once
	onDone    func(*Session)

	mu         sync.RWMutex
	status     record.Status
	language   string
	patientID  *int64
	doctorID   *int64
	text       strings.Builder
	confidence *float64
	chunkPaths []string
	chunks     int
	lastIndex  int
	audioSecs  float64
	startedAt  time.Time
	reason     endReason
}

type SessionInfo struct {
	TranscriptionID int64         `json:"transcription_id"`
	Status          record.Status `json:"status"`
	Language        string        `json:"language"`
	Chunks          int           `json:"chunks"`
	TextLength      int           `json:"text_length"`
	StartedAt       time.Time     `json:"started_at"`
}

func newSession(parent context.Context, id int64, deps Dependencies, opts Options, emit func(Frame), onDone func(*Session), log *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:        id,
		deps:      deps,
		opts:      opts,
		log:       log.With("transcription_id", id),
		emit:      emit,
		ctx:       ctx,
		cancelCtx: cancel,
		inbox:     make(chan ClientFrame, opts.InboxSize),
		stop:      make(chan struct{}),
		aborted:   make(chan struct{}),
		done:      make(chan struct{}),
		onDone:    onDone,
		status:    record.StatusPending,
		lastIndex: -1,
		startedAt: time.Now(),
	}
}

func (s *Session) ID() int64 {
	return s.id
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Status() record.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		TranscriptionID: s.id,
		Status:          s.status,
		Language:        s.language,
		Chunks:          s.chunks,
		TextLength:      len(strings.TrimSpace(s.text.String())),
		StartedAt:       s.startedAt,
	}
}

// FullText is the accumulated transcript with surrounding whitespace trimmed.
func (s *Session) FullText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return strings.TrimSpace(s.text.String())
}

// Deliver queues a client frame. Frames are processed one at a time, in the
// order they were delivered.
func (s *Session) Deliver(ctx context.Context, f ClientFrame) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case <-s.stop:
		return ErrSessionClosed
	default:
	}

	select {
	case s.inbox <- f:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-s.stop:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect stops delivery. Frames already delivered are still processed
// and any in-flight engine call is allowed to finish.
func (s *Session) Disconnect() {
	s.once.Do(func() { close(s.stop) })
}

// abort stops the session without processing queued frames and cancels any
// in-flight engine call. The record is not written again.
func (s *Session) abort() {
	s.abortOnce.Do(func() {
		s.setReason(endLeaseLost)
		close(s.aborted)
		s.cancelCtx()
	})
}

func (s *Session) run() {
	defer s.cancelCtx()
	defer s.teardown()

	if !s.load() {
		return
	}

	for {
		select {
		case f := <-s.inbox:
			if !s.handle(f) {
				return
			}
		case <-s.stop:
			for {
				select {
				case f := <-s.inbox:
					if !s.handle(f) {
						return
					}
				default:
					s.setReason(endDisconnect)
					return
				}
			}
		case <-s.aborted:
			return
		case <-s.ctx.Done():
			s.setReason(endShutdown)
			return
		}
	}
}

func (s *Session) load() bool {
	ctx, cancel := s.persistCtx()
	defer cancel()

	t, err := s.deps.Records.GetTranscription(ctx, s.id)
	if errors.Is(err, shared.ErrNotFound) {
		s.log.Warn("transcription not found")
		s.emit(NewErrorFrame(MessageNotFound))
		s.setStatus(record.StatusFailed)
		return false
	}
	if err != nil {
		s.log.Error("failed to load transcription", "error", err)
		s.emit(NewErrorFrame("failed to load transcription"))
		return false
	}

	if t.Status.IsTerminal() {
		s.log.Warn("transcription already finished", "status", t.Status)
		s.emit(NewErrorFrame(fmt.Sprintf("transcription already %s", t.Status)))
		s.mu.Lock()
		s.status = t.Status
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	s.status = t.Status
	s.language = t.LanguageOrDefault(s.opts.DefaultLanguage)
	s.patientID = t.PatientID
	s.doctorID = t.DoctorID
	s.confidence = t.ConfidenceScore
	// a reconnect resumes from the persisted transcript
	if t.TranscriptionText != "" {
		s.text.WriteString(t.TranscriptionText)
	}
	s.mu.Unlock()

	s.log.Info("session started", "status", t.Status, "language", s.language)
	return true
}

func (s *Session) handle(f ClientFrame) bool {
	if s.isAborted() {
		return false
	}

	switch f.Type {
	case FrameCancel:
		s.cancel()
		return false

	case FrameAudioChunk:
		err := s.processChunk(f)
		if err == nil && f.IsFinal {
			err = s.finalize()
		}
		switch {
		case errors.Is(err, errInterrupted):
			s.log.Warn("session interrupted", "chunk_index", f.ChunkIndex)
			s.setReason(endShutdown)
			return false
		case err != nil:
			s.fail(err)
			return false
		}
		return !f.IsFinal

	default:
		s.log.Debug("ignoring unknown frame", "type", f.Type)
		return true
	}
}

func (s *Session) processChunk(f ClientFrame) error {
	if s.Status() == record.StatusPending {
		if err := s.persistStatus(record.StatusInProgress); err != nil {
			return fmt.Errorf("mark in progress: %w", err)
		}
	}

	s.deps.Metrics.ChunksReceived.Inc()
	s.count(lease.CounterChunks)
	s.trackOrder(f.ChunkIndex)

	text, confidence, err := s.transcribe(f)
	if errors.Is(err, errChunkDropped) {
		s.count(lease.CounterDroppedChunks)
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.text.WriteString(" ")
	s.text.WriteString(text)
	s.confidence = &confidence
	full := strings.TrimSpace(s.text.String())
	s.mu.Unlock()

	s.emit(TranscriptionUpdateFrame{
		Type:       FrameTranscriptionUpdate,
		Text:       text,
		FullText:   full,
		IsPartial:  !f.IsFinal,
		ChunkIndex: f.ChunkIndex,
		Entities:   s.deps.Extractor.Extract(text),
		Confidence: confidence,
	})

	if s.isAborted() {
		return errInterrupted
	}
	ctx, cancel := s.persistCtx()
	defer cancel()
	if err := s.deps.Records.SaveProgress(ctx, s.id, full, &confidence); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// transcribe returns errChunkDropped for chunks that are skipped without
// failing the session. Any other error is fatal.
func (s *Session) transcribe(f ClientFrame) (string, float64, error) {
	audio, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil || len(audio) == 0 {
		s.log.Warn("dropping chunk with undecodable payload", "chunk_index", f.ChunkIndex, "error", err)
		s.deps.Metrics.ChunkDropped(metrics.DropDecode)
		return "", 0, errChunkDropped
	}

	raw, err := s.deps.Chunks.Stage(s.id, f.ChunkIndex, audio)
	if err != nil {
		return "", 0, fmt.Errorf("stage chunk: %w", err)
	}
	s.addPath(raw)

	canonical, err := s.deps.Chunks.ToCanonical(raw)
	if errors.Is(err, chunkstore.ErrDecode) {
		s.log.Warn("dropping chunk that failed to decode", "chunk_index", f.ChunkIndex, "error", err)
		s.deps.Metrics.ChunkDropped(metrics.DropDecode)
		return "", 0, errChunkDropped
	}
	if err != nil {
		return "", 0, fmt.Errorf("convert chunk: %w", err)
	}
	s.addPath(canonical)

	secs := s.deps.Chunks.Duration(canonical)
	s.mu.Lock()
	s.audioSecs += secs
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.STTTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.deps.STT.Transcribe(ctx, canonical, s.language, s.FullText())
	if err != nil && s.ctx.Err() != nil {
		return "", 0, errInterrupted
	}
	if err != nil {
		s.log.Warn("dropping chunk after transcription failure", "chunk_index", f.ChunkIndex, "error", err)
		s.deps.Metrics.ChunkDropped(metrics.DropTranscription)
		return "", 0, errChunkDropped
	}
	s.deps.Metrics.ObserveTranscription(time.Since(start), res.Confidence)

	return res.Text, res.Confidence, nil
}

// trackOrder flags indices that do not follow the previous chunk. Chunks are
// still processed in arrival order.
func (s *Session) trackOrder(index int) {
	s.mu.Lock()
	prev := s.lastIndex
	s.lastIndex = index
	s.chunks++
	s.mu.Unlock()

	if prev >= 0 && index != prev+1 {
		s.log.Warn("chunk arrived out of order", "chunk_index", index, "previous_index", prev)
		s.deps.Metrics.ChunksOutOfOrder.Inc()
	}
}

func (s *Session) cancel() {
	s.log.Info("session cancelled by client")
	if err := s.persistStatus(record.StatusFailed); err != nil {
		s.log.Error("failed to persist cancellation", "error", err)
		s.setStatus(record.StatusFailed)
	}
}

// fail handles any unexpected error: the client is told, the record is
// marked failed, and the session stops.
func (s *Session) fail(err error) {
	s.log.Error("session failed", "error", err)
	if s.isAborted() {
		return
	}
	s.emit(NewErrorFrame(err.Error()))
	if perr := s.persistStatus(record.StatusFailed); perr != nil {
		s.log.Error("failed to persist failure", "error", perr)
		s.setStatus(record.StatusFailed)
	}
}

func (s *Session) persistStatus(status record.Status) error {
	ctx, cancel := s.persistCtx()
	defer cancel()

	if err := s.deps.Records.UpdateStatus(ctx, s.id, status); err != nil {
		return err
	}
	s.setStatus(status)
	return nil
}

// setStatus only moves forward; a regression is logged and ignored.
func (s *Session) setStatus(next record.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.CanTransition(next) {
		if s.status != next {
			s.log.Warn("ignoring status regression", "from", s.status, "to", next)
		}
		return
	}
	s.status = next
}

func (s *Session) isAborted() bool {
	select {
	case <-s.aborted:
		return true
	default:
		return false
	}
}

// setReason keeps the first reason recorded.
func (s *Session) setReason(r endReason) {
	s.mu.Lock()
	if s.reason == endNatural {
		s.reason = r
	}
	s.mu.Unlock()
}

func (s *Session) addPath(p string) {
	s.mu.Lock()
	s.chunkPaths = append(s.chunkPaths, p)
	s.mu.Unlock()
}

func (s *Session) count(field lease.Counter) {
	if s.deps.Counters == nil {
		return
	}
	ctx, cancel := s.persistCtx()
	defer cancel()
	if err := s.deps.Counters.Increment(ctx, field, 1); err != nil {
		s.log.Debug("failed to increment counter", "counter", field, "error", err)
	}
}

func (s *Session) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(s.ctx), s.opts.PersistTimeout)
}

func (s *Session) teardown() {
	s.mu.RLock()
	paths := append([]string(nil), s.chunkPaths...)
	reason := s.reason
	status := s.status
	s.mu.RUnlock()

	switch {
	case reason == endLeaseLost:
		s.log.Warn("session lease lost, record left to its new owner", "status", status)
	case reason != endNatural && !status.IsTerminal():
		if s.opts.MarkFailedOnDisconnect {
			if err := s.persistStatus(record.StatusFailed); err != nil {
				s.log.Error("failed to mark disconnected session failed", "error", err)
			}
		} else {
			s.log.Info("session ended without completion, status left unchanged", "status", status)
		}
	}

	removed := s.deps.Chunks.Purge(paths)

	final := s.Status()
	switch final {
	case record.StatusCompleted:
		s.count(lease.CounterCompleted)
	case record.StatusFailed:
		s.count(lease.CounterFailed)
	}

	s.log.Info("session ended", "status", final, "chunks_removed", removed)

	if s.onDone != nil {
		s.onDone(s)
	}
	close(s.done)
}
