package logstore

import (
	"log/slog"
	"time"

	"github.com/kyusang/termvisor/internal/debounce"
	"github.com/kyusang/termvisor/internal/metrics"
)

// Limits are the retention bounds applied by a trim pass. They are read
// fresh on every pass so hot-reloaded config takes effect without restart.
type Limits struct {
	MaxRecords int
	Retention  time.Duration
	Debounce   time.Duration
}

// Trimmer caps each session's persisted log in the background. Trims are
// debounced per session: every flush that grows a file restarts the timer
// and only the trailing call after a quiet period rewrites the file.
// Trimming is maintenance; failures are logged and otherwise ignored.
type Trimmer struct {
	store  *Store
	sched  *debounce.Scheduler
	limits func() Limits
	now    func() time.Time
}

func NewTrimmer(store *Store, limits func() Limits) *Trimmer {
	return &Trimmer{
		store:  store,
		sched:  debounce.New(),
		limits: limits,
		now:    time.Now,
	}
}

// Schedule (re)arms the debounced trim for session.
func (t *Trimmer) Schedule(session string) {
	d := t.limits().Debounce
	t.sched.Schedule(session, d, func() {
		if err := t.Trim(session); err != nil {
			slog.Warn("session log trim failed", "session", session, "error", err)
		}
	})
}

// Cancel drops any pending trim for session.
func (t *Trimmer) Cancel(session string) { t.sched.Cancel(session) }

// Stop cancels all pending trims.
func (t *Trimmer) Stop() { t.sched.Stop() }

// Trim drops records older than the retention window, then keeps at most
// MaxRecords of the most recent, rewriting the file only when something
// changed.
func (t *Trimmer) Trim(session string) error {
	lim := t.limits()
	recs, err := t.store.Read(session, 0)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	cutoff := t.now().Add(-lim.Retention)
	kept := recs[:0]
	for _, r := range recs {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	if lim.MaxRecords > 0 && len(kept) > lim.MaxRecords {
		kept = kept[len(kept)-lim.MaxRecords:]
	}
	if len(kept) == len(recs) {
		return nil
	}
	if err := t.store.Rewrite(session, kept); err != nil {
		return err
	}
	metrics.IncTrim(len(recs) - len(kept))
	return nil
}
