package storage

import (
	"context"
	"time"

	"github.com/sanonone/txcache/pkg/metrics"
)

// instrumented decorates a Store with Prometheus metrics.
type instrumented struct {
	next    Store
	backend string
}

// instrumentedBatcher additionally forwards Apply.
type instrumentedBatcher struct {
	instrumented
	batcher Batcher
}

// Instrument wraps s so that every call is counted and timed under the given
// backend label. The returned Store implements Batcher iff s does.
func Instrument(s Store, backend string) Store {
	base := instrumented{next: s, backend: backend}
	if b, ok := s.(Batcher); ok {
		return &instrumentedBatcher{instrumented: base, batcher: b}
	}
	return &base
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreOps.WithLabelValues(i.backend, op, status).Inc()
	metrics.StoreDuration.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Read(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, found, err := i.next.Read(ctx, key)
	i.observe("read", start, err)
	return value, found, err
}

func (i *instrumented) Write(ctx context.Context, key, value string) error {
	start := time.Now()
	err := i.next.Write(ctx, key, value)
	i.observe("write", start, err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.observe("delete", start, err)
	return err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

// Unwrap returns the decorated store.
func (i *instrumented) Unwrap() Store {
	return i.next
}

func (i *instrumentedBatcher) Apply(ctx context.Context, b Batch) error {
	start := time.Now()
	err := i.batcher.Apply(ctx, b)
	i.observe("apply", start, err)
	return err
}
