// Package ledger reads access-change events from, and submits grant/revoke
// transactions to, the health-record contract on an Ethereum-compatible
// chain. The core never assumes ordering from reads; replay re-sorts.
package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/snbhowmik/care-x/pkg/models"
)

// EventReader reads raw access events for one subject. filterGrantee narrows
// the read to a single grantee when non-empty. No ordering is guaranteed.
type EventReader interface {
	ReadEvents(ctx context.Context, subjectWallet string, kind models.EventKind, filterGrantee string) ([]models.AccessEvent, error)
}

// Confirmation reports a durably confirmed ledger transaction. The event it
// emitted will appear in subsequent reads.
type Confirmation struct {
	TxHash         string `json:"tx_hash"`
	LedgerPosition int64  `json:"ledger_position"`
}

// CommandSubmitter submits grant/revoke transactions. Confirmed
// transactions are treated as externally irreversible.
type CommandSubmitter interface {
	SubmitGrant(ctx context.Context, subjectWallet, granteeWallet string) (*Confirmation, error)
	SubmitRevoke(ctx context.Context, subjectWallet, granteeWallet string) (*Confirmation, error)
}

// ValidWallet reports whether s is a well-formed ledger address.
func ValidWallet(s string) bool {
	return common.IsHexAddress(s)
}
