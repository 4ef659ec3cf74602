package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthtag/truthtag/pkg/analysis"
	"github.com/truthtag/truthtag/pkg/ledger"
	"github.com/truthtag/truthtag/pkg/verify"
)

type stubCommitter struct {
	calls atomic.Int32
	delay time.Duration
	txID  string
	err   error
	rec   ledger.Record
}

func (s *stubCommitter) Mode() ledger.Mode { return ledger.ModeLive }

func (s *stubCommitter) Commit(ctx context.Context, rec ledger.Record, timeout time.Duration) (string, error) {
	s.calls.Add(1)
	s.rec = rec
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ledger.ErrTimeout
		}
	}
	return s.txID, s.err
}

type mlServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newMLServer(t *testing.T, delay time.Duration, status int, body string) *mlServer {
	t.Helper()
	ml := &mlServer{}
	ml.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.calls.Add(1)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ml.Close)
	return ml
}

type harness struct {
	handler   http.Handler
	ml        *mlServer
	committer ledger.Committer
}

func newHarness(t *testing.T, ml *mlServer, committer ledger.Committer, maxUpload int64) *harness {
	t.Helper()
	orch := verify.NewOrchestrator(
		analysis.NewClient(ml.URL+"/analyze"),
		committer,
		verify.Config{AnalysisTimeout: 200 * time.Millisecond, CommitTimeout: 200 * time.Millisecond},
	)
	return &harness{
		handler:   NewVerifyHandler(orch, maxUpload, nil),
		ml:        ml,
		committer: committer,
	}
}

func multipartRequest(t *testing.T, field string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "upload.png")
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/verify", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func content2KB() []byte {
	return bytes.Repeat([]byte("truthtag"), 256)
}

func TestVerify_ScenarioA_Complete(t *testing.T) {
	ml := newMLServer(t, 0, http.StatusOK, `{"aiGenerated":true,"score":0.87}`)
	lc := &stubCommitter{txID: "0xfeed"}
	h := newHarness(t, ml, lc, 0)
	content := content2KB()

	rec, body := serve(h.handler, multipartRequest(t, UploadField, content))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, sha256Hex(content), body["hash"])
	assert.Equal(t, true, body["aiGenerated"])
	assert.Equal(t, 0.87, body["confidence"])
	assert.Equal(t, "0xfeed", body["blockchainTx"])
	assert.Len(t, body, 4)

	assert.Equal(t, uint64(87), lc.rec.ConfidencePercent)
	assert.True(t, lc.rec.AIGenerated)
	assert.Equal(t, sha256Hex(content), lc.rec.Fingerprint.Hex())
}

func TestVerify_ScenarioB_AnalysisTimeout(t *testing.T) {
	ml := newMLServer(t, 2*time.Second, http.StatusOK, `{"aiGenerated":true,"score":0.87}`)
	lc := &stubCommitter{txID: "0xfeed"}
	h := newHarness(t, ml, lc, 0)
	content := content2KB()

	start := time.Now()
	rec, body := serve(h.handler, multipartRequest(t, UploadField, content))

	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, MsgAnalysisUnavailable, body["error"])
	assert.Equal(t, sha256Hex(content), body["hash"])
	assert.NotContains(t, body, "aiGenerated")
	assert.NotContains(t, body, "confidence")
	assert.NotContains(t, body, "blockchainTx")
	assert.Zero(t, lc.calls.Load(), "ledger must not be called")
}

func TestVerify_AnalysisServiceError(t *testing.T) {
	ml := newMLServer(t, 0, http.StatusInternalServerError, `{"detail":"model not loaded"}`)
	lc := &stubCommitter{txID: "0xfeed"}
	h := newHarness(t, ml, lc, 0)

	rec, body := serve(h.handler, multipartRequest(t, UploadField, []byte("img")))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, MsgAnalysisUnavailable, body["error"])
	assert.NotContains(t, rec.Body.String(), "model not loaded")
	assert.Zero(t, lc.calls.Load())
}

func TestVerify_ScenarioC_LedgerTimeout(t *testing.T) {
	ml := newMLServer(t, 0, http.StatusOK, `{"aiGenerated":true,"score":0.87}`)
	lc := &stubCommitter{txID: "0xfeed", delay: 2 * time.Second}
	h := newHarness(t, ml, lc, 0)
	content := content2KB()

	start := time.Now()
	rec, body := serve(h.handler, multipartRequest(t, UploadField, content))

	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, MsgLedgerUnavailable, body["error"])
	assert.Equal(t, sha256Hex(content), body["hash"])
	assert.Equal(t, true, body["aiGenerated"])
	assert.Equal(t, 0.87, body["confidence"])
	assert.NotContains(t, body, "blockchainTx")
}

func TestVerify_LedgerFailureKeepsZeroScore(t *testing.T) {
	ml := newMLServer(t, 0, http.StatusOK, `{"aiGenerated":false,"score":0}`)
	lc := &stubCommitter{err: ledger.ErrNotConfigured}
	h := newHarness(t, ml, lc, 0)

	rec, body := serve(h.handler, multipartRequest(t, UploadField, []byte("img")))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["aiGenerated"])
	assert.Equal(t, 0.0, body["confidence"])
}

func TestVerify_ScenarioD_NoFile(t *testing.T) {
	ml := newMLServer(t, 0, http.StatusOK, `{"aiGenerated":true,"score":0.87}`)
	lc := &stubCommitter{txID: "0xfeed"}
	h := newHarness(t, ml, lc, 0)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/verify", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec, body := serve(h.handler, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": MsgNoFile}, body)
	assert.Zero(t, ml.calls.Load())
	assert.Zero(t, lc.calls.Load())
}

func TestVerify_RejectsBadUploads(t *testing.T) {
	ml := newMLServer(t, 0, http.StatusOK, `{"aiGenerated":true,"score":0.87}`)
	lc := &stubCommitter{txID: "0xfeed"}
	h := newHarness(t, ml, lc, 1024)

	tests := []struct {
		name string
		req  func() *http.Request
		msg  string
	}{
		{
			name: "not multipart",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader([]byte(`{"file":"x"}`)))
				r.Header.Set("Content-Type", "application/json")
				return r
			},
			msg: MsgNoFile,
		},
		{
			name: "wrong field",
			req:  func() *http.Request { return multipartRequest(t, "upload", []byte("img")) },
			msg:  MsgNoFile,
		},
		{
			name: "empty file",
			req:  func() *http.Request { return multipartRequest(t, UploadField, nil) },
			msg:  MsgNoFile,
		},
		{
			name: "oversized",
			req:  func() *http.Request { return multipartRequest(t, UploadField, make([]byte, 1025)) },
			msg:  "File exceeds the 1024 byte limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serve(h.handler, tt.req())
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.msg, body["error"])
		})
	}
	assert.Zero(t, ml.calls.Load(), "nothing reaches the classifier")
	assert.Zero(t, lc.calls.Load())
}

func TestVerify_ExactlyAtLimit(t *testing.T) {
	ml := newMLServer(t, 0, http.StatusOK, `{"aiGenerated":false,"score":0.1}`)
	h := newHarness(t, ml, &stubCommitter{txID: "0x1"}, 1024)

	rec, _ := serve(h.handler, multipartRequest(t, UploadField, make([]byte, 1024)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerify_DegradedLedgerStillCompletes(t *testing.T) {
	ml := newMLServer(t, 0, http.StatusOK, `{"aiGenerated":false,"score":0.29}`)
	h := newHarness(t, ml, ledger.NewDegradedCommitter(nil), 0)

	rec, body := serve(h.handler, multipartRequest(t, UploadField, []byte("photo")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Regexp(t, regexp.MustCompile(`^0x[0-9a-f]{64}$`), body["blockchainTx"])
	assert.Equal(t, 0.29, body["confidence"])
}

func TestVerify_ConcurrentRequests(t *testing.T) {
	ml := newMLServer(t, 10*time.Millisecond, http.StatusOK, `{"aiGenerated":true,"score":0.5}`)
	h := newHarness(t, ml, ledger.NewDegradedCommitter(nil), 0)

	const n = 16
	codes := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			rec, _ := serve(h.handler, multipartRequest(t, UploadField, []byte(fmt.Sprintf("file-%d", i))))
			codes <- rec.Code
		}(i)
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, http.StatusOK, <-codes)
	}
	assert.Equal(t, int32(n), ml.calls.Load())
}

type outcomeVerifier verify.Outcome

func (o outcomeVerifier) Verify(context.Context, []byte) verify.Outcome { return verify.Outcome(o) }

func TestVerify_UnknownOutcomeIsInternal(t *testing.T) {
	h := NewVerifyHandler(outcomeVerifier{Kind: verify.Kind(42)}, 0, nil)

	rec, body := serve(h, multipartRequest(t, UploadField, []byte("x")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgVerifyFailed, body["error"])
}
