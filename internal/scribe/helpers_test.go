package scribe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/scribe-backend/internal/analysis"
	"github.com/eleven-am/scribe-backend/internal/chunkstore"
	"github.com/eleven-am/scribe-backend/internal/clinical"
	"github.com/eleven-am/scribe-backend/internal/metrics"
	"github.com/eleven-am/scribe-backend/internal/record"
	"github.com/eleven-am/scribe-backend/internal/speech"
	"github.com/eleven-am/scribe-backend/internal/webhook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRecords(t *testing.T) *record.Store {
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

	store := record.NewStore(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	return store
}

func wavChunk(t *testing.T) string {
	t.Helper()
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i % 200)
	}
	data, err := chunkstore.EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func audioChunk(t *testing.T, index int, final bool) ClientFrame {
	return ClientFrame{Type: FrameAudioChunk, Data: wavChunk(t), ChunkIndex: index, IsFinal: final}
}

// fakeSTT returns text keyed by the canonical chunk file name.
type fakeSTT struct {
	mu      sync.Mutex
	texts   map[string]string
	prompts []string
	delay   time.Duration
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{texts: make(map[string]string)}
}

func (f *fakeSTT) script(id int64, index int, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[chunkFile(id, index)] = text
}

func (f *fakeSTT) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *fakeSTT) Transcribe(ctx context.Context, audioPath, language, prompt string) (*speech.Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)

	text, ok := f.texts[filepath.Base(audioPath)]
	if !ok {
		return nil, fmt.Errorf("%w: no script for %s", speech.ErrTranscription, filepath.Base(audioPath))
	}
	return &speech.Result{Text: text, Confidence: 0.9, Language: language}, nil
}

func (f *fakeSTT) IsAvailable(context.Context) bool { return true }

func chunkFile(id int64, index int) string {
	return fmt.Sprintf("trans_%d_chunk_%d.wav", id, index)
}

type fakeEngine struct {
	mu       sync.Mutex
	calls    int
	requests []analysis.Request
	result   *analysis.Result
	err      error
}

func (f *fakeEngine) Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func (f *fakeEngine) IsAvailable(context.Context) bool { return true }

func (f *fakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okEngine() *fakeEngine {
	return &fakeEngine{result: &analysis.Result{
		Analysis:     "Febrile illness with headache.",
		Summary:      "Patient reports fever and headache.",
		Keywords:     []string{"fever", "headache"},
		Concerns:     []string{"possible infection"},
		UrgencyLevel: 3,
		ModelUsed:    "test-model",
	}}
}

type fakeTransport struct {
	mu      sync.Mutex
	frames  []Frame
	sendErr error
	closed  chan struct{}
	once    sync.Once
	notify  chan Frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{}), notify: make(chan Frame, 64)}
}

func (f *fakeTransport) Send(frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	select {
	case f.notify <- frame:
	default:
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Frames() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Frame(nil), f.frames...)
}

func (f *fakeTransport) Types() []FrameType {
	var out []FrameType
	for _, fr := range f.Frames() {
		out = append(out, fr.FrameType())
	}
	return out
}

func (f *fakeTransport) waitFor(t *testing.T, typ FrameType) Frame {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case fr := <-f.notify:
			if fr.FrameType() == typ {
				return fr
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s frame; got %v", typ, f.Types())
			return nil
		}
	}
}

// statusRecorder captures every status write so tests can check ordering.
type statusRecorder struct {
	*record.Store
	mu     sync.Mutex
	writes []record.Status
	failOn string
}

func (r *statusRecorder) UpdateStatus(ctx context.Context, id int64, status record.Status) error {
	if r.failOn == "update_status" {
		return errors.New("database unavailable")
	}
	if err := r.Store.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	r.mu.Lock()
	r.writes = append(r.writes, status)
	r.mu.Unlock()
	return nil
}

func (r *statusRecorder) Complete(ctx context.Context, id int64, at time.Time) error {
	if err := r.Store.Complete(ctx, id, at); err != nil {
		return err
	}
	r.mu.Lock()
	r.writes = append(r.writes, record.StatusCompleted)
	r.mu.Unlock()
	return nil
}

func (r *statusRecorder) SaveProgress(ctx context.Context, id int64, text string, confidence *float64) error {
	if r.failOn == "save_progress" {
		return errors.New("database unavailable")
	}
	return r.Store.SaveProgress(ctx, id, text, confidence)
}

func (r *statusRecorder) Writes() []record.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record.Status(nil), r.writes...)
}

type harness struct {
	records  *statusRecorder
	chunks   *chunkstore.Store
	stt      *fakeSTT
	engine   *fakeEngine
	metrics  *metrics.Metrics
	deps     Dependencies
	registry *Registry
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	chunks, err := chunkstore.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("chunk store: %v", err)
	}

	h := &harness{
		records: &statusRecorder{Store: setupRecords(t)},
		chunks:  chunks,
		stt:     newFakeSTT(),
		engine:  okEngine(),
		metrics: metrics.New(),
	}
	h.deps = Dependencies{
		Records:   h.records,
		Chunks:    h.chunks,
		STT:       h.stt,
		Extractor: clinical.NewExtractor(clinical.DefaultVocabulary()),
		Analysis:  h.engine,
		Metrics:   h.metrics,
	}
	h.registry = h.newRegistry(t, h.deps, opts)
	return h
}

func (h *harness) newRegistry(t *testing.T, deps Dependencies, opts Options) *Registry {
	t.Helper()
	r := NewRegistry(deps, opts, testLogger())
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func (h *harness) createTranscription(t *testing.T, patientID *int64) int64 {
	t.Helper()
	tr := &record.Transcription{PatientID: patientID}
	if err := h.records.CreateTranscription(context.Background(), tr); err != nil {
		t.Fatalf("create transcription: %v", err)
	}
	return tr.ID
}

func (h *harness) transcription(t *testing.T, id int64) *record.Transcription {
	t.Helper()
	tr, err := h.records.GetTranscription(context.Background(), id)
	if err != nil {
		t.Fatalf("get transcription: %v", err)
	}
	return tr
}

func (h *harness) stagedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.chunks.Dir())
	if err != nil {
		t.Fatalf("read chunk dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session %d did not finish", s.ID())
	}
}

func deliver(t *testing.T, s *Session, frames ...ClientFrame) {
	t.Helper()
	for _, f := range frames {
		if err := s.Deliver(context.Background(), f); err != nil {
			t.Fatalf("deliver %s: %v", f.Type, err)
		}
	}
}

type fakeWebhook struct {
	mu       sync.Mutex
	payloads []webhook.CompletionPayload
}

func (f *fakeWebhook) SendCompletion(ctx context.Context, p webhook.CompletionPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeWebhook) Payloads() []webhook.CompletionPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webhook.CompletionPayload(nil), f.payloads...)
}
