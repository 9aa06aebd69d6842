package models

import (
	"sort"
	"strings"
	"time"
)

// EventKind is the kind of an access-change event on the ledger.
type EventKind string

const (
	EventGranted EventKind = "granted"
	EventRevoked EventKind = "revoked"
)

// SequencePosition identifies an event's position within its source log.
// LedgerPosition is the block number, LogIndex orders events emitted in the
// same block. Negative values mark a malformed position.
type SequencePosition struct {
	LedgerPosition int64 `json:"ledger_position"`
	LogIndex       int64 `json:"log_index"`
}

// Compare returns -1, 0 or 1 ordering p against other.
func (p SequencePosition) Compare(other SequencePosition) int {
	if p.LedgerPosition != other.LedgerPosition {
		if p.LedgerPosition < other.LedgerPosition {
			return -1
		}
		return 1
	}
	if p.LogIndex != other.LogIndex {
		if p.LogIndex < other.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}

// Valid reports whether the position is well-formed.
func (p SequencePosition) Valid() bool {
	return p.LedgerPosition >= 0 && p.LogIndex >= 0
}

// AccessEvent is one state-changing fact about wallet-level authorization,
// read back from the ledger's event log.
type AccessEvent struct {
	SubjectWallet string           `json:"subject_wallet"`
	GranteeWallet string           `json:"grantee_wallet"`
	Kind          EventKind        `json:"kind"`
	Position      SequencePosition `json:"position"`
	TxHash        string           `json:"tx_hash,omitempty"`
}

// GranteeStatus is the replayed authorization status of one grantee.
type GranteeStatus struct {
	Active bool             `json:"active"`
	AsOf   SequencePosition `json:"as_of"`
}

// AuthorizationState maps grantee wallet (normalized) to its replayed
// status, scoped to one subject wallet. Derived by replay, never mutated
// field-by-field.
type AuthorizationState map[string]GranteeStatus

// IsActive reports whether the wallet currently holds an active grant.
func (s AuthorizationState) IsActive(wallet string) bool {
	st, ok := s[NormalizeWallet(wallet)]
	return ok && st.Active
}

// ActiveGrantees returns the sorted set of wallets with an active grant.
func (s AuthorizationState) ActiveGrantees() []string {
	grantees := make([]string, 0, len(s))
	for wallet, st := range s {
		if st.Active {
			grantees = append(grantees, wallet)
		}
	}
	sort.Strings(grantees)
	return grantees
}

// NormalizeWallet canonicalizes a wallet address for map keys and
// comparisons. Ethereum addresses are case-insensitive hex.
func NormalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

// DocumentShareGrant is a fine-grained permission record: the documents an
// owner has shared with one recipient. The effective visible set for a pair
// is the union of DocumentIDs across its grants, valid only while a coarse
// wallet-level grant is active.
type DocumentShareGrant struct {
	ID              string    `json:"id"`
	OwnerWallet     string    `json:"owner_wallet"`
	RecipientWallet string    `json:"recipient_wallet"`
	DocumentIDs     []string  `json:"doc_ids"`
	CreatedAt       time.Time `json:"created_at"`
}

// MedicalDocument is document metadata held by the document store.
type MedicalDocument struct {
	ID          string    `json:"id"`
	OwnerWallet string    `json:"owner_wallet"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

// VitalRecord is a single physiological reading anchored for integrity.
// Immutable after anchoring; verification is a pure read-side check.
// TimestampSeconds carries second resolution only: sub-second precision is
// discarded before the fingerprint is computed.
type VitalRecord struct {
	RecordID            string `json:"record_id"`
	SubjectWallet       string `json:"subject_wallet"`
	MetricValue         int64  `json:"metric_value"`
	TimestampSeconds    int64  `json:"timestamp_seconds"`
	AnchoredFingerprint string `json:"anchored_fingerprint"`
	Critical            bool   `json:"is_critical"`
}

// AuditEvent records one entry of the access-change trail.
type AuditEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"` // command, verification
	Action        string    `json:"action"`
	SubjectWallet string    `json:"subject_wallet,omitempty"`
	GranteeWallet string    `json:"grantee_wallet,omitempty"`
	RecordID      string    `json:"record_id,omitempty"`
	Outcome       string    `json:"outcome"`
	FailedPhase   string    `json:"failed_phase,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Recorded      time.Time `json:"recorded"`
}
