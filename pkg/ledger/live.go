package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultInitTimeout bounds construction of the live binding.
const DefaultInitTimeout = 15 * time.Second

// Binding is a connected ledger client, signing identity and contract.
// StoreRecord submits the record and blocks until it is confirmed.
type Binding interface {
	StoreRecord(ctx context.Context, rec Record) (string, error)
	Close()
}

// Connector constructs a Binding.
type Connector func(ctx context.Context) (Binding, error)

// LiveCommitter submits records through a lazily built Binding.
//
// The binding is constructed at most once, on a background goroutine, the
// first time any caller needs it. Concurrent first callers wait on the same
// construction. A failed construction is final: every later Commit returns
// ErrNotConfigured.
type LiveCommitter struct {
	connect     Connector
	initTimeout time.Duration
	inflight    *semaphore.Weighted
	logger      *slog.Logger

	once    sync.Once
	ready   chan struct{}
	binding Binding
	initErr error
}

// NewLiveCommitter creates a committer. maxInflight bounds concurrent
// submissions; zero or less means unbounded.
func NewLiveCommitter(connect Connector, maxInflight int, initTimeout time.Duration, logger *slog.Logger) *LiveCommitter {
	if logger == nil {
		logger = slog.Default()
	}
	if initTimeout <= 0 {
		initTimeout = DefaultInitTimeout
	}
	c := &LiveCommitter{
		connect:     connect,
		initTimeout: initTimeout,
		logger:      logger,
		ready:       make(chan struct{}),
	}
	if maxInflight > 0 {
		c.inflight = semaphore.NewWeighted(int64(maxInflight))
	}
	return c
}

func (c *LiveCommitter) Mode() Mode {
	return ModeLive
}

// Warm constructs the binding now instead of on the first commit.
func (c *LiveCommitter) Warm(ctx context.Context) error {
	_, err := c.acquire(ctx)
	return err
}

// Close releases the binding if it was built.
func (c *LiveCommitter) Close() {
	select {
	case <-c.ready:
		if c.binding != nil {
			c.binding.Close()
		}
	default:
	}
}

// Commit writes rec and waits for confirmation, bounded by timeout.
// The submission is not rolled back on timeout.
func (c *LiveCommitter) Commit(ctx context.Context, rec Record, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	b, err := c.acquire(ctx)
	if err != nil {
		return "", c.classify(ctx, err)
	}

	if c.inflight != nil {
		if err := c.inflight.Acquire(ctx, 1); err != nil {
			return "", c.classify(ctx, err)
		}
		defer c.inflight.Release(1)
	}

	c.logger.InfoContext(ctx, "submitting ledger record",
		"fingerprint", rec.Fingerprint.Hex(),
		"ai_generated", rec.AIGenerated,
		"confidence_percent", rec.ConfidencePercent,
	)
	txID, err := b.StoreRecord(ctx, rec)
	if err != nil {
		return "", c.classify(ctx, err)
	}
	c.logger.InfoContext(ctx, "ledger record confirmed", "fingerprint", rec.Fingerprint.Hex(), "tx", txID)
	return txID, nil
}

func (c *LiveCommitter) acquire(ctx context.Context) (Binding, error) {
	c.once.Do(func() { go c.initialize() })

	select {
	case <-c.ready:
		if c.initErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotConfigured, c.initErr)
		}
		return c.binding, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *LiveCommitter) initialize() {
	defer close(c.ready)

	ctx, cancel := context.WithTimeout(context.Background(), c.initTimeout)
	defer cancel()

	b, err := c.connect(ctx)
	if err != nil {
		c.initErr = err
		c.logger.Error("ledger initialization failed", "error", err)
		return
	}
	c.binding = b
	c.logger.Info("ledger initialized")
}

func (c *LiveCommitter) classify(ctx context.Context, err error) error {
	var svcErr *ServiceError
	switch {
	case errors.Is(err, ErrNotConfigured):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.As(err, &svcErr):
		return err
	default:
		return &ServiceError{Message: err.Error(), Err: err}
	}
}
