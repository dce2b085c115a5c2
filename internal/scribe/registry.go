package scribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/scribe-backend/internal/lease"
	"github.com/eleven-am/scribe-backend/internal/metrics"
	"github.com/eleven-am/scribe-backend/internal/shared"
)

var (
	ErrDuplicateSession = errors.New("session already active")
	ErrRegistryClosed   = errors.New("registry closed")
)

// Transport delivers frames to one connected client.
type Transport interface {
	Send(frame Frame) error
	Close() error
}

// entry holds a live session. session is nil while the id is reserved and
// its lease is being claimed.
type entry struct {
	session   *Session
	transport Transport
}

// Registry maps transcription ids to live sessions. A session stays
// registered until its run loop has fully torn down, so an id is never
// processed by two sessions at once.
type Registry struct {
	deps Dependencies
	opts Options
	log  *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sessions sync.WaitGroup

	mu      sync.RWMutex
	entries map[int64]*entry
	closed  bool
}

func NewRegistry(deps Dependencies, opts Options, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		deps:    deps,
		opts:    opts.withDefaults(),
		log:     log.With("component", "scribe_registry"),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[int64]*entry),
	}

	if deps.Lease != nil {
		r.wg.Add(1)
		go r.keepLeases()
	}
	return r
}

// Register starts a session for id bound to transport. It fails with
// ErrDuplicateSession while another session for the same id is live here
// or, with a lease configured, on another instance.
func (r *Registry) Register(ctx context.Context, id int64, t Transport) (*Session, error) {
	reserved := &entry{}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if _, ok := r.entries[id]; ok {
		r.mu.Unlock()
		r.deps.Metrics.SessionsRejected.Inc()
		return nil, ErrDuplicateSession
	}
	r.entries[id] = reserved
	r.mu.Unlock()

	if r.deps.Lease != nil {
		if err := r.deps.Lease.Claim(ctx, id); err != nil {
			r.unreserve(id, reserved)
			if errors.Is(err, lease.ErrHeld) {
				r.deps.Metrics.SessionsRejected.Inc()
				return nil, fmt.Errorf("%w: %v", ErrDuplicateSession, err)
			}
			return nil, err
		}
	}

	s := newSession(r.ctx, id, r.deps, r.opts, func(f Frame) { r.Send(id, f) }, r.finished, r.log)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.cancelCtx()
		r.unreserve(id, reserved)
		r.releaseLease(id)
		return nil, ErrRegistryClosed
	}
	reserved.session = s
	reserved.transport = t
	r.sessions.Add(1)
	r.mu.Unlock()

	r.deps.Metrics.SessionStarted()
	if r.deps.Counters != nil {
		if err := r.deps.Counters.Increment(ctx, lease.CounterSessions, 1); err != nil {
			r.log.Debug("failed to increment session counter", "error", err)
		}
	}

	go func() {
		defer r.sessions.Done()
		s.run()
	}()

	return s, nil
}

func (r *Registry) unreserve(id int64, reserved *entry) {
	r.mu.Lock()
	if r.entries[id] == reserved {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

// Unregister detaches the transport for id and stops delivery to its
// session. It is idempotent.
func (r *Registry) Unregister(id int64) {
	r.mu.Lock()
	e, ok := r.entries[id]
	var t Transport
	if ok {
		t = e.transport
		e.transport = nil
	}
	r.mu.Unlock()

	if !ok || e.session == nil {
		return
	}
	e.session.Disconnect()
	if t != nil {
		_ = t.Close()
	}
}

// Detach is Unregister scoped to a specific session, so a closing
// connection never detaches a newer session that reused the id.
func (r *Registry) Detach(s *Session) {
	r.mu.RLock()
	e, ok := r.entries[s.id]
	same := ok && e.session == s
	r.mu.RUnlock()

	if same {
		r.Unregister(s.id)
		return
	}
	s.Disconnect()
}

// Send delivers a frame at most once. A transport error drops the frame and
// unregisters the id.
func (r *Registry) Send(id int64, f Frame) {
	r.mu.RLock()
	var t Transport
	if e, ok := r.entries[id]; ok {
		t = e.transport
	}
	r.mu.RUnlock()

	if t == nil {
		r.deps.Metrics.FramesDropped.Inc()
		return
	}

	if err := t.Send(f); err != nil {
		r.log.Warn("failed to send frame, unregistering", "transcription_id", id, "frame", f.FrameType(), "error", err)
		r.deps.Metrics.FramesDropped.Inc()
		r.Unregister(id)
	}
}

func (r *Registry) Get(id int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok || e.session == nil || e.transport == nil {
		return nil, false
	}
	return e.session, true
}

func (r *Registry) List() []SessionInfo {
	sessions := r.live()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TranscriptionID < out[j].TranscriptionID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) finished(s *Session) {
	r.mu.Lock()
	var t Transport
	if e, ok := r.entries[s.id]; ok && e.session == s {
		t = e.transport
		delete(r.entries, s.id)
	}
	r.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}

	r.releaseLease(s.id)
	r.deps.Metrics.SessionFinished(string(s.Status()))
}

func (r *Registry) releaseLease(id int64) {
	if r.deps.Lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.PersistTimeout)
	defer cancel()
	if err := r.deps.Lease.Release(ctx, id); err != nil {
		r.log.Warn("failed to release session lease", "transcription_id", id, "error", err)
	}
}

// live returns the sessions currently running, skipping reserved ids.
func (r *Registry) live() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.entries))
	for _, e := range r.entries {
		if e.session != nil {
			sessions = append(sessions, e.session)
		}
	}
	return sessions
}

func (r *Registry) keepLeases() {
	defer r.wg.Done()

	interval := r.deps.Lease.TTL() / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			for _, s := range r.live() {
				r.refreshLease(s, interval)
			}
		}
	}
}

// refreshLease extends the lease for s. A lease that lapsed is claimed again;
// one now held by another instance stops the session.
func (r *Registry) refreshLease(s *Session, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()

	err := r.deps.Lease.Refresh(ctx, s.id)
	if errors.Is(err, shared.ErrNotFound) {
		err = r.deps.Lease.Claim(ctx, s.id)
	}

	switch {
	case err == nil:
	case errors.Is(err, lease.ErrHeld):
		r.log.Warn("session lease taken by another instance, stopping session", "transcription_id", s.id)
		r.deps.Metrics.LeasesLost.Inc()
		r.evict(s)
	default:
		r.log.Warn("failed to refresh session lease", "transcription_id", s.id, "error", err)
	}
}

// evict stops s without touching its record and tells the client why.
func (r *Registry) evict(s *Session) {
	r.mu.Lock()
	var t Transport
	if e, ok := r.entries[s.id]; ok && e.session == s {
		t = e.transport
		e.transport = nil
	}
	r.mu.Unlock()

	s.abort()
	if t == nil {
		return
	}
	if err := t.Send(NewErrorFrame(MessageLeaseLost)); err != nil {
		r.deps.Metrics.FramesDropped.Inc()
	}
	_ = t.Close()
}

// Close stops delivery to every session and waits for them to drain what
// they already received. Sessions still running when ctx ends have their
// engine calls cancelled.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for _, s := range r.live() {
		s.Disconnect()
	}

	drained := make(chan struct{})
	go func() {
		r.sessions.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		r.log.Warn("sessions did not drain before shutdown deadline", "remaining", len(r.live()))
		err = ctx.Err()
	}

	r.cancel()
	<-drained
	r.wg.Wait()
	return err
}
