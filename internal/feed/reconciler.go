package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/store"
)

const (
	// DefaultInterval is the poll period.
	DefaultInterval = 5 * time.Second
	// DefaultDebounce delays a nudged poll so that a burst of store events
	// results in one fetch.
	DefaultDebounce = 200 * time.Millisecond
)

// Source is the remote report collection. A store.Store and the HTTP client
// both satisfy it. DeleteReport must return an error matching
// store.ErrNotFound when the id is absent.
type Source interface {
	ListReports(ctx context.Context) ([]model.Report, error)
	DeleteReport(ctx context.Context, id string) error
}

// MessageSource delivers mesh envelopes. *mesh.Service satisfies it.
type MessageSource interface {
	OnMessage(h func(model.Envelope)) (unsubscribe func())
}

// Config configures a Reconciler.
type Config struct {
	// Interval is the poll period. Default: DefaultInterval.
	Interval time.Duration
	// FetchTimeout bounds one poll or remote delete. Default: 4/5 of Interval.
	FetchTimeout time.Duration
	// Debounce delays polls triggered by Nudge. Default: DefaultDebounce.
	Debounce time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// Reconciler keeps a Feed in step with a Source by polling, applies mesh
// pushes to the same feed, and carries out operator deletes.
type Reconciler struct {
	feed    *Feed
	source  Source
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	nudge chan struct{}

	// gen changes when Run exits. Run polls synchronously, so only a
	// PollOnce from another goroutine can straddle that change; its result
	// is then discarded on arrival.
	gen atomic.Uint64

	mu       sync.Mutex
	pending  map[string]struct{} // remote delete not yet confirmed
	inflight map[string]struct{}
	deletes  sync.WaitGroup
}

// NewReconciler returns a reconciler that writes into f.
func NewReconciler(f *Feed, src Source, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 || cfg.FetchTimeout >= cfg.Interval {
		cfg.FetchTimeout = cfg.Interval * 4 / 5
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		feed:     f,
		source:   src,
		cfg:      cfg,
		logger:   logger,
		metrics:  cfg.Metrics,
		nudge:    make(chan struct{}, 1),
		pending:  make(map[string]struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Feed returns the feed the reconciler writes into.
func (r *Reconciler) Feed() *Feed { return r.feed }

// Attach subscribes to REPORT_SUBMITTED envelopes from ms and returns the
// detach function.
func (r *Reconciler) Attach(ms MessageSource) (detach func()) {
	return ms.OnMessage(r.HandleEnvelope)
}

// HandleEnvelope applies one mesh envelope to the feed.
func (r *Reconciler) HandleEnvelope(env model.Envelope) {
	if env.Kind != model.KindReportSubmitted {
		return
	}
	item, added, err := r.feed.ApplyEnvelope(env, time.Now())
	if err != nil {
		r.logger.Warn("feed: dropping malformed report payload", "id", env.ID, "sender", env.SenderID, "error", err)
		return
	}
	if added {
		r.metrics.recordMerged("push", 1)
		r.logger.Debug("feed: report pushed", "id", item.ID)
	} else {
		r.metrics.recordMerged("push_duplicate", 1)
	}
}

// Nudge asks Run for an early poll. It never blocks.
func (r *Reconciler) Nudge() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// Run polls immediately and then every Interval until ctx is cancelled.
// Fetches never overlap: each one completes or times out before the next
// tick is considered. A fetch still outstanding when Run returns has its
// result discarded.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.gen.Add(1)

	r.poll(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	debounce := time.NewTimer(0)
	debounce.Stop()
	// Drain the timer channel in case it fired between NewTimer and Stop.
	select {
	case <-debounce.C:
	default:
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.nudge:
			debounce.Reset(r.cfg.Debounce)
		case <-debounce.C:
			r.poll(ctx)
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// PollOnce fetches the remote collection once and merges it. It returns the
// fetch error, if any; the feed is left unchanged on error.
func (r *Reconciler) PollOnce(ctx context.Context) ([]model.Report, error) {
	gen := r.gen.Load()

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	reports, err := r.source.ListReports(fetchCtx)
	if err != nil {
		r.metrics.recordPoll("error")
		return nil, err
	}
	if ctx.Err() != nil || r.gen.Load() != gen {
		r.metrics.recordPoll("stale")
		return nil, nil
	}

	added := r.feed.MergePoll(reports)
	r.metrics.recordPoll("ok")
	r.metrics.recordMerged("poll", len(added))

	r.retryDeletes()
	return added, nil
}

func (r *Reconciler) poll(ctx context.Context) {
	added, err := r.PollOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("feed: poll failed", "error", err)
		return
	}
	if len(added) > 0 {
		r.logger.Debug("feed: poll merged reports", "added", len(added))
	}
}

// ToggleVerified flips the local verified flag of id.
func (r *Reconciler) ToggleVerified(id string) (verified, ok bool) {
	return r.feed.ToggleVerified(id)
}

// Delete removes id from the feed immediately and deletes it from the
// source in the background. A failed remote delete is retried after later
// polls until the source confirms it or reports the id absent. Delete
// reports whether the item was in the feed.
func (r *Reconciler) Delete(id string) bool {
	present := r.feed.Remove(id)

	r.mu.Lock()
	r.pending[id] = struct{}{}
	r.mu.Unlock()

	r.startDelete(id)
	return present
}

// PendingDeletes returns the number of remote deletes not yet confirmed.
func (r *Reconciler) PendingDeletes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Wait blocks until every remote delete started so far has finished.
func (r *Reconciler) Wait() {
	r.deletes.Wait()
}

func (r *Reconciler) retryDeletes() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.startDelete(id)
	}
}

func (r *Reconciler) startDelete(id string) {
	r.mu.Lock()
	if _, busy := r.inflight[id]; busy {
		r.mu.Unlock()
		return
	}
	r.inflight[id] = struct{}{}
	r.deletes.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.deletes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FetchTimeout)
		err := r.source.DeleteReport(ctx, id)
		cancel()

		r.mu.Lock()
		delete(r.inflight, id)
		if err == nil || errors.Is(err, store.ErrNotFound) {
			delete(r.pending, id)
		}
		r.mu.Unlock()

		switch {
		case err == nil:
			r.metrics.recordDelete("ok")
		case errors.Is(err, store.ErrNotFound):
			r.metrics.recordDelete("not_found")
		default:
			r.metrics.recordDelete("error")
			r.logger.Warn("feed: remote delete failed, will retry", "id", id, "error", err)
		}
	}()
}
