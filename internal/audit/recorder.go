package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultWriteTimeout bounds one asynchronous audit write.
const DefaultWriteTimeout = 5 * time.Second

var writesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streamguard",
	Subsystem: "audit",
	Name:      "writes_total",
	Help:      "Audit writes by result (ok, error).",
}, []string{"result"})

func init() {
	prometheus.MustRegister(writesTotal)
}

// Recorder writes entries in the background so auditing never delays a
// judgment. Writes are best-effort; failures are logged and counted.
type Recorder struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewRecorder creates a recorder. A non-positive timeout uses
// DefaultWriteTimeout.
func NewRecorder(store Store, timeout time.Duration, logger *slog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, timeout: timeout, logger: logger}
}

// Record schedules entry for writing and returns immediately.
func (r *Recorder) Record(entry *Entry) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.store.Record(ctx, entry); err != nil {
			writesTotal.WithLabelValues("error").Inc()
			r.logger.Error("failed to record judgment audit",
				"transaction_id", entry.TransactionID, "audit_id", entry.ID, "error", err)
			return
		}
		writesTotal.WithLabelValues("ok").Inc()
	}()
}

// Wait blocks until every scheduled write has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Store returns the underlying store for reads.
func (r *Recorder) Store() Store {
	return r.store
}
