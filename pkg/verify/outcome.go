package verify

import (
	"github.com/truthtag/truthtag/pkg/analysis"
	"github.com/truthtag/truthtag/pkg/fingerprint"
)

// Kind is the terminal state of one verification.
type Kind int

const (
	// Rejected means no content was accepted; no stage ran.
	Rejected Kind = iota
	// DegradedAnalysisFailure carries only the fingerprint.
	DegradedAnalysisFailure
	// DegradedLedgerFailure carries the fingerprint and classification.
	DegradedLedgerFailure
	// Complete carries fingerprint, classification and transaction id.
	Complete
)

func (k Kind) String() string {
	switch k {
	case Rejected:
		return "rejected"
	case DegradedAnalysisFailure:
		return "degraded_analysis_failure"
	case DegradedLedgerFailure:
		return "degraded_ledger_failure"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Outcome is the result of Orchestrator.Verify. Only the fields produced
// before the pipeline stopped are set; use the accessors, which enforce that.
type Outcome struct {
	Kind Kind
	// Err is the failure that ended the pipeline early. Nil for Complete.
	Err error

	fingerprint    fingerprint.Fingerprint
	classification analysis.Result
	txID           string
}

// Fingerprint is present for every kind except Rejected.
func (o Outcome) Fingerprint() (fingerprint.Fingerprint, bool) {
	return o.fingerprint, o.Kind != Rejected
}

// Classification is present for DegradedLedgerFailure and Complete.
func (o Outcome) Classification() (analysis.Result, bool) {
	return o.classification, o.Kind == DegradedLedgerFailure || o.Kind == Complete
}

// TxID is present for Complete only.
func (o Outcome) TxID() (string, bool) {
	return o.txID, o.Kind == Complete
}

func rejected(err error) Outcome {
	return Outcome{Kind: Rejected, Err: err}
}

func analysisFailed(fp fingerprint.Fingerprint, err error) Outcome {
	return Outcome{Kind: DegradedAnalysisFailure, Err: err, fingerprint: fp}
}

func ledgerFailed(fp fingerprint.Fingerprint, res analysis.Result, err error) Outcome {
	return Outcome{Kind: DegradedLedgerFailure, Err: err, fingerprint: fp, classification: res}
}

func complete(fp fingerprint.Fingerprint, res analysis.Result, txID string) Outcome {
	return Outcome{Kind: Complete, fingerprint: fp, classification: res, txID: txID}
}
