package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

// DegradedCommitter fabricates transaction ids so the pipeline runs without a
// ledger. It performs no network I/O.
type DegradedCommitter struct {
	logger *slog.Logger
}

func NewDegradedCommitter(logger *slog.Logger) *DegradedCommitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DegradedCommitter{logger: logger}
}

func (d *DegradedCommitter) Mode() Mode {
	return ModeDegraded
}

// Commit returns "0x" followed by 64 random hex digits, the shape of a real
// transaction hash.
func (d *DegradedCommitter) Commit(ctx context.Context, rec Record, _ time.Duration) (string, error) {
	txID, err := fabricateTxID()
	if err != nil {
		return "", &ServiceError{Message: "fabricate transaction id", Err: err}
	}
	d.logger.WarnContext(ctx, "ledger not configured, returning placeholder transaction",
		"fingerprint", rec.Fingerprint.Hex(),
		"tx", txID,
	)
	return txID, nil
}

func fabricateTxID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}
