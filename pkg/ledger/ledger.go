// Package ledger records fingerprint classifications on an external ledger.
//
// Two committers exist. DegradedCommitter is selected when the ledger is not
// configured and fabricates transaction ids without any I/O. LiveCommitter
// submits storeRecord transactions through a Binding that is built at most
// once per process.
package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/truthtag/truthtag/pkg/fingerprint"
)

// Mode is the operating mode of a Committer.
type Mode string

const (
	ModeDegraded Mode = "degraded"
	ModeLive     Mode = "live"
)

// placeholderMarker appears in template values such as "0xYOUR_PRIVATE_KEY".
const placeholderMarker = "YOUR_"

// Record is the triple written to the ledger. Records are never read back.
type Record struct {
	Fingerprint       fingerprint.Fingerprint
	AIGenerated       bool
	ConfidencePercent uint64
}

// Committer writes a Record and returns its transaction id.
type Committer interface {
	Commit(ctx context.Context, rec Record, timeout time.Duration) (string, error)
	Mode() Mode
}

// Config holds the ledger connection settings.
type Config struct {
	RPCURL          string        `yaml:"rpc_url"`
	PrivateKey      string        `yaml:"private_key"`
	ContractAddress string        `yaml:"contract_address"`
	MaxInflight     int           `yaml:"max_inflight"`
	InitTimeout     time.Duration `yaml:"init_timeout"`
}

// Configured reports whether every live-mode setting is present and is not
// a template placeholder.
func (c Config) Configured() bool {
	for _, v := range []string{c.RPCURL, c.PrivateKey, c.ContractAddress} {
		v = strings.TrimSpace(v)
		if v == "" || strings.Contains(v, placeholderMarker) {
			return false
		}
	}
	return true
}

type options struct {
	logger    *slog.Logger
	connector Connector
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger used by the committer.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConnector replaces the Ethereum connector used in live mode.
func WithConnector(c Connector) Option {
	return func(o *options) { o.connector = c }
}

// New selects the committer for cfg. The choice is made once, here.
func New(cfg Config, opts ...Option) Committer {
	o := options{logger: slog.Default().With("component", "ledger")}
	for _, opt := range opts {
		opt(&o)
	}
	if !cfg.Configured() {
		o.logger.Warn("ledger not configured, running in degraded mode")
		return NewDegradedCommitter(o.logger)
	}
	if o.connector == nil {
		o.connector = EthereumConnector(cfg)
	}
	return NewLiveCommitter(o.connector, cfg.MaxInflight, cfg.InitTimeout, o.logger)
}
