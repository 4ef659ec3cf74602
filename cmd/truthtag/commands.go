package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/truthtag/truthtag/pkg/analysis"
	"github.com/truthtag/truthtag/pkg/config"
	"github.com/truthtag/truthtag/pkg/fingerprint"
	"github.com/truthtag/truthtag/pkg/ledger"
	"github.com/truthtag/truthtag/pkg/limiter"
	"github.com/truthtag/truthtag/pkg/users"
)

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	port := os.Getenv("HEALTH_PORT")
	if port == "" {
		port = "3001"
	}

	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	url := cmd.String("url", "http://localhost:"+port+"/health", "Health endpoint to probe")
	timeout := cmd.Duration("timeout", 5*time.Second, "Request timeout")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Get(*url)
	if err != nil {
		_, _ = fmt.Fprintf(stdout, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stdout, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	var body struct {
		LedgerMode string `json:"ledgerMode"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	if body.LedgerMode != "" {
		_, _ = fmt.Fprintf(stdout, "OK (ledger: %s)\n", body.LedgerMode)
		return 0
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}

type fingerprintReport struct {
	File  string `json:"file,omitempty"`
	Bytes int    `json:"bytes,omitempty"`
	Hash  string `json:"hash"`
	CID   string `json:"cid"`
}

func runFingerprintCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("fingerprint", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOut := cmd.Bool("json", false, "Output as JSON")
	digest := cmd.String("hash", "", "Hex SHA-256 digest to convert instead of a file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if (*digest == "") == (cmd.NArg() == 0) || cmd.NArg() > 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: truthtag fingerprint [--json] <file> | --hash <hex>")
		return 2
	}

	var (
		report fingerprintReport
		fp     fingerprint.Fingerprint
		err    error
	)
	if *digest != "" {
		if fp, err = fingerprint.Parse(*digest); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	} else {
		path := cmd.Arg(0)
		data, err := os.ReadFile(path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if fp, err = fingerprint.Compute(data); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
			return 1
		}
		report.File, report.Bytes = path, len(data)
	}
	cid, err := fp.CID()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	report.Hash, report.CID = fp.Hex(), cid

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return 0
	}
	if report.File != "" {
		_, _ = fmt.Fprintf(stdout, "file    %s\n", report.File)
		_, _ = fmt.Fprintf(stdout, "bytes   %d\n", report.Bytes)
	}
	_, _ = fmt.Fprintf(stdout, "sha256  %s\n", report.Hash)
	_, _ = fmt.Fprintf(stdout, "cid     %s\n", report.CID)
	return 0
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

// probes are overridable in tests.
var (
	probeClassifier = func(ctx context.Context, endpoint string) error {
		return analysis.NewClient(endpoint).Health(ctx)
	}
	probeLedger = func(ctx context.Context, cfg ledger.Config) error {
		c := ledger.NewLiveCommitter(ledger.EthereumConnector(cfg), 0, cfg.InitTimeout, nil)
		defer c.Close()
		return c.Warm(ctx)
	}
)

func runDoctorCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOut := cmd.Bool("json", false, "Output as JSON")
	timeout := cmd.Duration("timeout", 10*time.Second, "Per-check timeout")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var results []checkResult
	add := func(name, status, detail string) {
		results = append(results, checkResult{Name: name, Status: status, Detail: detail})
	}

	add("go_runtime", "ok", fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH))

	cfg, err := config.Load()
	if err != nil {
		add("config", "fail", err.Error())
		return printDoctor(stdout, results, *jsonOut)
	}
	add("config", "ok", "loaded")

	check := func(fn func(ctx context.Context) error) error {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		return fn(ctx)
	}

	if err := check(func(ctx context.Context) error { return probeClassifier(ctx, cfg.Analysis.URL) }); err != nil {
		add("classifier", "warn", fmt.Sprintf("%s: %v (verifications will return 503)", cfg.Analysis.URL, err))
	} else {
		add("classifier", "ok", cfg.Analysis.URL)
	}

	switch {
	case !cfg.LedgerConfigured():
		add("ledger", "warn", "not configured, running degraded with placeholder transaction ids")
	default:
		if err := check(func(ctx context.Context) error { return probeLedger(ctx, cfg.Ledger.Config) }); err != nil {
			add("ledger", "fail", err.Error())
		} else {
			add("ledger", "ok", "live: "+cfg.Ledger.RPCURL)
		}
	}

	if err := check(func(ctx context.Context) error {
		db, dialect, err := users.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		add("database", "ok", string(dialect))
		return nil
	}); err != nil {
		add("database", "fail", err.Error())
	}

	if cfg.Auth.JWTSecret == "" {
		add("jwt_secret", "warn", "JWT_SECRET not set, tokens will not survive a restart")
	} else {
		add("jwt_secret", "ok", "set")
	}

	if cfg.RateLimit.RPM > 0 && cfg.RateLimit.RedisAddr != "" {
		if err := check(func(ctx context.Context) error {
			rs, err := limiter.DialRedis(ctx, cfg.RateLimit.RedisAddr)
			if err != nil {
				return err
			}
			return rs.Close()
		}); err != nil {
			add("redis", "warn", err.Error())
		} else {
			add("redis", "ok", cfg.RateLimit.RedisAddr)
		}
	}

	return printDoctor(stdout, results, *jsonOut)
}

func printDoctor(w io.Writer, results []checkResult, asJSON bool) int {
	failed := false
	for _, r := range results {
		if r.Status == "fail" {
			failed = true
		}
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	} else {
		_, _ = fmt.Fprintf(w, "\n%sTruthTag Doctor%s\n", colorBold+colorBlue, colorReset)
		_, _ = fmt.Fprintln(w, "───────────────")
		for _, r := range results {
			icon := colorGreen + "ok  " + colorReset
			switch r.Status {
			case "warn":
				icon = colorYellow + "warn" + colorReset
			case "fail":
				icon = colorRed + "FAIL" + colorReset
			}
			_, _ = fmt.Fprintf(w, "  %s  %-12s %s%s%s\n", icon, r.Name, colorGray, r.Detail, colorReset)
		}
		if !failed {
			_, _ = fmt.Fprintf(w, "\n%sNo blocking problems found.%s\n", colorGreen+colorBold, colorReset)
		}
	}

	if failed {
		return 1
	}
	return 0
}
