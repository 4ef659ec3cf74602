package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/truthtag/truthtag/pkg/verify"
)

// Client-facing messages.
const (
	MsgNoFile              = "No file uploaded"
	MsgAnalysisUnavailable = "ML analysis service unavailable"
	MsgLedgerUnavailable   = "Blockchain service unavailable"
	MsgVerifyFailed        = "Verification failed"
)

// DefaultMaxUploadBytes caps the uploaded file.
const DefaultMaxUploadBytes int64 = 10 << 20

// multipartSlack covers boundaries and part headers on top of the file cap.
const multipartSlack = 64 << 10

// UploadField is the multipart form field carrying the content.
const UploadField = "file"

var (
	errNoFile    = errors.New("no file")
	errTooLarge  = errors.New("file too large")
	errMalformed = errors.New("malformed multipart body")
)

// Verifier runs the verification pipeline.
type Verifier interface {
	Verify(ctx context.Context, content []byte) verify.Outcome
}

// VerifyResponse is the 200 body.
type VerifyResponse struct {
	Hash         string  `json:"hash"`
	AIGenerated  bool    `json:"aiGenerated"`
	Confidence   float64 `json:"confidence"`
	BlockchainTx string  `json:"blockchainTx"`
}

// DegradedResponse is the 503 body. Classification fields are present only
// when analysis succeeded.
type DegradedResponse struct {
	Error       string   `json:"error"`
	Hash        string   `json:"hash"`
	AIGenerated *bool    `json:"aiGenerated,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

// VerifyHandler serves POST /verify.
type VerifyHandler struct {
	verifier  Verifier
	maxUpload int64
	logger    *slog.Logger
}

// NewVerifyHandler creates the handler. maxUpload <= 0 selects the default.
func NewVerifyHandler(v Verifier, maxUpload int64, logger *slog.Logger) *VerifyHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyHandler{
		verifier:  v,
		maxUpload: maxUpload,
		logger:    logger.With("component", "api.verify"),
	}
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	content, err := h.readUpload(w, r)
	switch {
	case errors.Is(err, errNoFile):
		WriteBadRequest(w, MsgNoFile)
		return
	case errors.Is(err, errTooLarge):
		WriteBadRequest(w, fmt.Sprintf("File exceeds the %d byte limit", h.maxUpload))
		return
	case errors.Is(err, errMalformed):
		WriteBadRequest(w, "Malformed multipart body")
		return
	case err != nil:
		WriteInternal(w, r, MsgVerifyFailed, err)
		return
	}

	h.writeOutcome(w, r, h.verifier.Verify(r.Context(), content))
}

func (h *VerifyHandler) writeOutcome(w http.ResponseWriter, r *http.Request, out verify.Outcome) {
	fp, _ := out.Fingerprint()
	res, _ := out.Classification()

	switch out.Kind {
	case verify.Rejected:
		WriteBadRequest(w, MsgNoFile)

	case verify.DegradedAnalysisFailure:
		WriteJSON(w, http.StatusServiceUnavailable, DegradedResponse{
			Error: MsgAnalysisUnavailable,
			Hash:  fp.Hex(),
		})

	case verify.DegradedLedgerFailure:
		WriteJSON(w, http.StatusServiceUnavailable, DegradedResponse{
			Error:       MsgLedgerUnavailable,
			Hash:        fp.Hex(),
			AIGenerated: &res.AIGenerated,
			Confidence:  &res.Score,
		})

	case verify.Complete:
		tx, _ := out.TxID()
		WriteJSON(w, http.StatusOK, VerifyResponse{
			Hash:         fp.Hex(),
			AIGenerated:  res.AIGenerated,
			Confidence:   res.Score,
			BlockchainTx: tx,
		})

	default:
		WriteInternal(w, r, MsgVerifyFailed, fmt.Errorf("unexpected outcome %s: %v", out.Kind, out.Err))
	}
}

// readUpload streams the multipart body and returns the first "file" part.
// The body is capped so oversized uploads fail before anything is hashed.
func (h *VerifyHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.ContentLength > h.maxUpload+multipartSlack {
		return nil, errTooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartSlack)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errNoFile
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoFile
		}
		if err != nil {
			if isMaxBytes(err) {
				return nil, errTooLarge
			}
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		if part.FormName() != UploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, h.maxUpload+1))
		_ = part.Close()
		if err != nil {
			if isMaxBytes(err) {
				return nil, errTooLarge
			}
			return nil, fmt.Errorf("read upload: %w", err)
		}
		if int64(len(data)) > h.maxUpload {
			return nil, errTooLarge
		}
		return data, nil
	}
}

func isMaxBytes(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
