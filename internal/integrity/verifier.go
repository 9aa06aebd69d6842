// Package integrity recomputes and compares content fingerprints for
// anchored vital-sign records.
//
// Canonicalization contract (shared with the anchoring side): the payload is
// the exact byte sequence "{metricValue}-{timestampSeconds}", both fields
// rendered as base-10 integer strings with no leading zeros, no sign and no
// surrounding whitespace. The fingerprint is the SHA-256 digest of that
// payload, stored as lowercase hex. Any side that renders the timestamp with
// fractional seconds produces a different digest and a spurious Mismatch;
// anchoring systems must truncate to whole seconds before hashing.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/snbhowmik/care-x/pkg/models"
)

// Outcome is the result of a fingerprint verification.
type Outcome string

const (
	// OutcomeMatch means the recomputed digest equals the anchored one
	// byte-for-byte.
	OutcomeMatch Outcome = "match"
	// OutcomeMismatch means the digests differ: possible tampering, or a
	// type-representation inconsistency on the anchoring side.
	OutcomeMismatch Outcome = "mismatch"
	// OutcomeFailed means the fingerprint could not be computed or the
	// anchored value is malformed.
	OutcomeFailed Outcome = "verification_failed"
)

// Result carries the verification outcome for one record.
type Result struct {
	Outcome  Outcome `json:"outcome"`
	RecordID string  `json:"record_id,omitempty"`
	Computed string  `json:"computed_fingerprint,omitempty"`
	Anchored string  `json:"anchored_fingerprint,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// CanonicalPayload renders the hashed payload for a reading. Negative values
// have no canonical rendering under the contract and are rejected.
func CanonicalPayload(metricValue, timestampSeconds int64) (string, error) {
	if metricValue < 0 {
		return "", ErrNegativeMetric
	}
	if timestampSeconds < 0 {
		return "", ErrNegativeTimestamp
	}
	return strconv.FormatInt(metricValue, 10) + "-" + strconv.FormatInt(timestampSeconds, 10), nil
}

// Fingerprint computes the lowercase hex SHA-256 fingerprint of the
// canonical payload.
func Fingerprint(metricValue, timestampSeconds int64) (string, error) {
	payload, err := CanonicalPayload(metricValue, timestampSeconds)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the record's fingerprint and compares it against the
// anchored one. It never mutates the record and is idempotent: repeated
// calls with identical inputs return identical results.
func Verify(rec *models.VitalRecord) Result {
	if rec == nil {
		return Result{Outcome: OutcomeFailed, Reason: "nil record"}
	}

	result := Result{
		RecordID: rec.RecordID,
		Anchored: rec.AnchoredFingerprint,
	}

	if rec.AnchoredFingerprint == "" {
		result.Outcome = OutcomeFailed
		result.Reason = "no anchored fingerprint"
		return result
	}

	anchored, err := hex.DecodeString(rec.AnchoredFingerprint)
	if err != nil || len(anchored) != sha256.Size {
		result.Outcome = OutcomeFailed
		result.Reason = "anchored fingerprint is not a valid sha256 hex digest"
		return result
	}

	payload, err := CanonicalPayload(rec.MetricValue, rec.TimestampSeconds)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
		return result
	}

	sum := sha256.Sum256([]byte(payload))
	result.Computed = hex.EncodeToString(sum[:])

	if bytes.Equal(sum[:], anchored) {
		result.Outcome = OutcomeMatch
	} else {
		result.Outcome = OutcomeMismatch
		result.Reason = "recomputed fingerprint does not match anchor"
	}
	return result
}

// Errors
var (
	ErrNegativeMetric    = &Error{Code: "NEGATIVE_METRIC", Message: "metric value has no canonical rendering"}
	ErrNegativeTimestamp = &Error{Code: "NEGATIVE_TIMESTAMP", Message: "timestamp has no canonical rendering"}
)

// Error represents an integrity error
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
