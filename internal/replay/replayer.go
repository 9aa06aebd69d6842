// Package replay reconstructs wallet-level authorization state from an
// append-only, possibly out-of-order ledger event log.
package replay

import (
	"fmt"
	"sort"

	"github.com/snbhowmik/care-x/pkg/models"
)

// SkippedEvent is a malformed event that was excluded from the fold.
type SkippedEvent struct {
	Event  models.AccessEvent `json:"event"`
	Reason string             `json:"reason"`
}

// Violation reports two events for the same grantee at the same sequence
// position with conflicting kinds. These are never auto-resolved: the
// earlier-applied event stands and the conflict surfaces to the caller.
type Violation struct {
	GranteeWallet string                  `json:"grantee_wallet"`
	Position      models.SequencePosition `json:"position"`
	Applied       models.EventKind        `json:"applied"`
	Rejected      models.EventKind        `json:"rejected"`
}

// Result is the outcome of replaying one subject's event log.
type Result struct {
	SubjectWallet string                    `json:"subject_wallet"`
	State         models.AuthorizationState `json:"state"`
	Applied       int                       `json:"applied"`
	Stale         int                       `json:"stale"`
	Skipped       []SkippedEvent            `json:"skipped,omitempty"`
	Violations    []Violation               `json:"violations,omitempty"`
}

// Replay merges the given events for one subject into a deterministic final
// authorization state. Events may arrive in any order and from separate
// batches per kind; the result is identical for every delivery permutation
// of the same collection, and replaying a collection twice equals replaying
// it once.
//
// Malformed events and events for other subjects are skipped individually
// and reported; they never abort the fold.
func Replay(subjectWallet string, events []models.AccessEvent) *Result {
	subject := models.NormalizeWallet(subjectWallet)
	result := &Result{
		SubjectWallet: subject,
		State:         make(models.AuthorizationState),
	}

	ordered := make([]models.AccessEvent, 0, len(events))
	for _, ev := range events {
		if reason := validate(subject, ev); reason != "" {
			result.Skipped = append(result.Skipped, SkippedEvent{Event: ev, Reason: reason})
			continue
		}
		ev.SubjectWallet = subject
		ev.GranteeWallet = models.NormalizeWallet(ev.GranteeWallet)
		ordered = append(ordered, ev)
	}

	// Total order: sequence position first, then grantee and kind so that
	// equal-position conflicts fold identically for every delivery order.
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if c := a.Position.Compare(b.Position); c != 0 {
			return c < 0
		}
		if a.GranteeWallet != b.GranteeWallet {
			return a.GranteeWallet < b.GranteeWallet
		}
		return a.Kind == models.EventGranted && b.Kind == models.EventRevoked
	})

	for _, ev := range ordered {
		current, seen := result.State[ev.GranteeWallet]
		if seen {
			switch cmp := ev.Position.Compare(current.AsOf); {
			case cmp < 0:
				// Out-of-order or duplicate delivery of an older event.
				result.Stale++
				continue
			case cmp == 0:
				if (ev.Kind == models.EventGranted) == current.Active {
					// Exact duplicate, idempotent no-op.
					result.Stale++
					continue
				}
				applied := models.EventRevoked
				if current.Active {
					applied = models.EventGranted
				}
				result.Violations = append(result.Violations, Violation{
					GranteeWallet: ev.GranteeWallet,
					Position:      ev.Position,
					Applied:       applied,
					Rejected:      ev.Kind,
				})
				continue
			}
		}
		result.State[ev.GranteeWallet] = models.GranteeStatus{
			Active: ev.Kind == models.EventGranted,
			AsOf:   ev.Position,
		}
		result.Applied++
	}

	return result
}

func validate(subject string, ev models.AccessEvent) string {
	if models.NormalizeWallet(ev.GranteeWallet) == "" {
		return "missing grantee wallet"
	}
	if !ev.Position.Valid() {
		return fmt.Sprintf("invalid sequence position (%d,%d)", ev.Position.LedgerPosition, ev.Position.LogIndex)
	}
	if ev.Kind != models.EventGranted && ev.Kind != models.EventRevoked {
		return fmt.Sprintf("unknown event kind %q", ev.Kind)
	}
	if subject != "" && models.NormalizeWallet(ev.SubjectWallet) != subject {
		return "event belongs to a different subject"
	}
	return ""
}
