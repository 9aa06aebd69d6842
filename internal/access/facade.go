// Package access orchestrates the event-log replayer and the granular
// permission reconciler against the ledger and document-store collaborators,
// and exposes the query/command operations of the core.
package access

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/snbhowmik/care-x/internal/audit"
	"github.com/snbhowmik/care-x/internal/cache"
	"github.com/snbhowmik/care-x/internal/ledger"
	"github.com/snbhowmik/care-x/internal/replay"
	"github.com/snbhowmik/care-x/internal/sharing"
	"github.com/snbhowmik/care-x/internal/store"
	"github.com/snbhowmik/care-x/pkg/models"
)

// Status is the overall outcome of a command operation.
type Status string

const (
	// StatusAccepted means every phase succeeded.
	StatusAccepted Status = "accepted"
	// StatusPartiallyApplied means the ledger phase succeeded and the store
	// phase failed, or vice versa. The failed phase is named.
	StatusPartiallyApplied Status = "partially_applied"
	// StatusRejected means validation failed before any phase executed.
	StatusRejected Status = "rejected"
	// StatusFailed means the first phase failed and no state changed.
	StatusFailed Status = "failed"
)

// Phase names the step of a two-phase command.
type Phase string

const (
	PhaseLedger Phase = "ledger"
	PhaseStore  Phase = "store"
)

// CommandResult reports the outcome of a grant or revoke command.
type CommandResult struct {
	Status        Status               `json:"status"`
	FailedPhase   Phase                `json:"failed_phase,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Confirmation  *ledger.Confirmation `json:"confirmation,omitempty"`
	DeletedShares int64                `json:"deleted_shares,omitempty"`
}

// GranteesResult is the answer to an authorized-grantees query.
type GranteesResult struct {
	SubjectWallet string             `json:"subject_wallet"`
	Grantees      []string           `json:"grantees"`
	Stale         bool               `json:"stale"`
	ReconciledAt  time.Time          `json:"reconciled_at"`
	StaleEvents   int                `json:"stale_events,omitempty"`
	Violations    []replay.Violation `json:"violations,omitempty"`
}

// DocumentsResult is the answer to a visible-documents query.
type DocumentsResult struct {
	OwnerWallet  string    `json:"owner_wallet"`
	ViewerWallet string    `json:"viewer_wallet"`
	DocumentIDs  []string  `json:"doc_ids"`
	Stale        bool      `json:"stale"`
	ReconciledAt time.Time `json:"reconciled_at"`
}

// Facade wires the core components to the external collaborators.
type Facade struct {
	reader     ledger.EventReader
	submitter  ledger.CommandSubmitter
	documents  store.DocumentStore
	reconciler *sharing.Reconciler
	snapshots  *cache.Cache
	audit      *audit.Logger

	lockMu    sync.Mutex
	pairLocks map[string]*sync.Mutex

	snapMu    sync.RWMutex
	lastState map[string]*cache.Snapshot
	lastDocs  map[string]*docsSnapshot

	statsMu sync.Mutex
	stats   Stats
}

type docsSnapshot struct {
	docs []string
	at   time.Time
}

// Stats counts observable façade outcomes.
type Stats struct {
	Replays          int `json:"replays"`
	StaleServed      int `json:"stale_served"`
	StaleEvents      int `json:"stale_events"`
	Violations       int `json:"integrity_violations"`
	CommandsAccepted int `json:"commands_accepted"`
	CommandsRejected int `json:"commands_rejected"`
	PartialFailures  int `json:"partial_failures"`
}

// New creates a façade over the given collaborators. The cache may be a
// disabled instance; the audit logger may be nil-safe disabled but never nil.
func New(reader ledger.EventReader, submitter ledger.CommandSubmitter, documents store.DocumentStore, snapshots *cache.Cache, auditLog *audit.Logger) *Facade {
	return &Facade{
		reader:     reader,
		submitter:  submitter,
		documents:  documents,
		reconciler: sharing.NewReconciler(documents),
		snapshots:  snapshots,
		audit:      auditLog,
		pairLocks:  make(map[string]*sync.Mutex),
		lastState:  make(map[string]*cache.Snapshot),
		lastDocs:   make(map[string]*docsSnapshot),
	}
}

// AuthorizedGrantees reconstructs and returns the currently authorized set
// for a subject. When the ledger read fails, the last successfully
// reconciled snapshot is served and labeled stale.
func (f *Facade) AuthorizedGrantees(ctx context.Context, subjectWallet string) (*GranteesResult, error) {
	if !ledger.ValidWallet(subjectWallet) {
		return nil, ErrInvalidWallet
	}
	subject := models.NormalizeWallet(subjectWallet)

	result, err := f.reconstruct(ctx, subject)
	if err != nil {
		snap := f.lastSnapshot(ctx, subject)
		if snap == nil {
			return nil, &CollaboratorError{Collaborator: "ledger", Err: err}
		}
		f.countStaleServed()
		return &GranteesResult{
			SubjectWallet: subject,
			Grantees:      snap.State.ActiveGrantees(),
			Stale:         true,
			ReconciledAt:  snap.ReconciledAt,
		}, nil
	}

	return &GranteesResult{
		SubjectWallet: subject,
		Grantees:      result.State.ActiveGrantees(),
		ReconciledAt:  time.Now().UTC(),
		StaleEvents:   result.Stale,
		Violations:    result.Violations,
	}, nil
}

// VisibleDocuments computes the effective visible-document set for a viewer
// against a subject's data.
func (f *Facade) VisibleDocuments(ctx context.Context, subjectWallet, viewerWallet string) (*DocumentsResult, error) {
	if !ledger.ValidWallet(subjectWallet) || !ledger.ValidWallet(viewerWallet) {
		return nil, ErrInvalidWallet
	}
	subject := models.NormalizeWallet(subjectWallet)
	viewer := models.NormalizeWallet(viewerWallet)

	state, reconciledAt, stale, err := f.currentState(ctx, subject)
	if err != nil {
		return nil, err
	}

	docs, err := f.reconciler.VisibleDocuments(ctx, state, subject, viewer)
	if err != nil {
		// Degrade to the last reconciled document set, labeled stale.
		if snap := f.lastDocsSnapshot(subject, viewer); snap != nil {
			f.countStaleServed()
			return &DocumentsResult{
				OwnerWallet:  subject,
				ViewerWallet: viewer,
				DocumentIDs:  snap.docs,
				Stale:        true,
				ReconciledAt: snap.at,
			}, nil
		}
		return nil, &CollaboratorError{Collaborator: "store", Err: err}
	}

	f.snapMu.Lock()
	f.lastDocs[subject+"|"+viewer] = &docsSnapshot{docs: docs, at: time.Now().UTC()}
	f.snapMu.Unlock()

	return &DocumentsResult{
		OwnerWallet:  subject,
		ViewerWallet: viewer,
		DocumentIDs:  docs,
		Stale:        stale,
		ReconciledAt: reconciledAt,
	}, nil
}

// Grant authorizes a grantee at the coarse layer (when not already active)
// and shares the given documents at the fine layer. The two phases run
// sequentially without cross-system atomicity.
func (f *Facade) Grant(ctx context.Context, subjectWallet, granteeWallet string, docIDs []string) *CommandResult {
	if !ledger.ValidWallet(subjectWallet) || !ledger.ValidWallet(granteeWallet) {
		return f.reject("grant", subjectWallet, granteeWallet, ErrInvalidWallet.Message)
	}
	if len(docIDs) == 0 {
		return f.reject("grant", subjectWallet, granteeWallet, ErrEmptyDocumentList.Message)
	}
	subject := models.NormalizeWallet(subjectWallet)
	grantee := models.NormalizeWallet(granteeWallet)

	unlock := f.lockPair(subject, grantee)
	defer unlock()

	result := &CommandResult{Status: StatusAccepted}

	// Phase 1: coarse grant on the ledger, skipped when already active.
	// When the pre-check read fails we submit anyway: a duplicate grant
	// event is an idempotent no-op under replay.
	needsCoarse := true
	if replayed, err := f.reconstruct(ctx, subject); err == nil {
		needsCoarse = !replayed.State.IsActive(grantee)
	}
	if needsCoarse {
		confirmation, err := f.submitter.SubmitGrant(ctx, subject, grantee)
		if err != nil {
			log.Printf("grant %s->%s: ledger phase failed: %v", subject, grantee, err)
			result.Status = StatusFailed
			result.FailedPhase = PhaseLedger
			result.Reason = err.Error()
			f.logCommand("grant", subject, grantee, result)
			return result
		}
		result.Confirmation = confirmation
	}

	// Phase 2: fine-grained share rows. The confirmed ledger transaction
	// is irreversible, so a store failure leaves a partially applied
	// command, never a rollback.
	if _, err := f.documents.UpsertShare(ctx, subject, grantee, docIDs); err != nil {
		log.Printf("grant %s->%s: store phase failed: %v", subject, grantee, err)
		result.Status = StatusPartiallyApplied
		result.FailedPhase = PhaseStore
		result.Reason = err.Error()
	}

	f.invalidate(ctx, subject)
	f.logCommand("grant", subject, grantee, result)
	return result
}

// Revoke withdraws the coarse grant on the ledger and then issues the
// compensating deletion of every fine-grained share row for the pair. A
// failed deletion is reported as partially applied, never silently ignored:
// the coarse gate masks the residual rows from queries, but they remain
// stale data until the deletion is retried.
func (f *Facade) Revoke(ctx context.Context, subjectWallet, granteeWallet string) *CommandResult {
	if !ledger.ValidWallet(subjectWallet) || !ledger.ValidWallet(granteeWallet) {
		return f.reject("revoke", subjectWallet, granteeWallet, ErrInvalidWallet.Message)
	}
	subject := models.NormalizeWallet(subjectWallet)
	grantee := models.NormalizeWallet(granteeWallet)

	unlock := f.lockPair(subject, grantee)
	defer unlock()

	result := &CommandResult{Status: StatusAccepted}

	confirmation, err := f.submitter.SubmitRevoke(ctx, subject, grantee)
	if err != nil {
		log.Printf("revoke %s->%s: ledger phase failed: %v", subject, grantee, err)
		result.Status = StatusFailed
		result.FailedPhase = PhaseLedger
		result.Reason = err.Error()
		f.logCommand("revoke", subject, grantee, result)
		return result
	}
	result.Confirmation = confirmation

	deleted, err := f.documents.DeleteShares(ctx, subject, grantee)
	if err != nil {
		log.Printf("revoke %s->%s: compensating deletion failed: %v", subject, grantee, err)
		result.Status = StatusPartiallyApplied
		result.FailedPhase = PhaseStore
		result.Reason = "store deletion failed; residual share rows remain"
	}
	result.DeletedShares = deleted

	f.invalidate(ctx, subject)
	f.logCommand("revoke", subject, grantee, result)
	return result
}

// RetryCompensation re-issues the compensating share deletion for a pair
// whose revoke was left partially applied.
func (f *Facade) RetryCompensation(ctx context.Context, subjectWallet, granteeWallet string) *CommandResult {
	if !ledger.ValidWallet(subjectWallet) || !ledger.ValidWallet(granteeWallet) {
		return f.reject("retry_compensation", subjectWallet, granteeWallet, ErrInvalidWallet.Message)
	}
	subject := models.NormalizeWallet(subjectWallet)
	grantee := models.NormalizeWallet(granteeWallet)

	unlock := f.lockPair(subject, grantee)
	defer unlock()

	result := &CommandResult{Status: StatusAccepted}
	deleted, err := f.documents.DeleteShares(ctx, subject, grantee)
	if err != nil {
		result.Status = StatusFailed
		result.FailedPhase = PhaseStore
		result.Reason = err.Error()
	}
	result.DeletedShares = deleted

	f.logCommand("retry_compensation", subject, grantee, result)
	return result
}

// GetStats returns façade statistics.
func (f *Facade) GetStats() Stats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.stats
}

// reconstruct reads both event kinds for the subject and replays them into
// the current authorization state, refreshing the snapshots on success.
func (f *Facade) reconstruct(ctx context.Context, subject string) (*replay.Result, error) {
	granted, err := f.reader.ReadEvents(ctx, subject, models.EventGranted, "")
	if err != nil {
		return nil, fmt.Errorf("read granted events: %w", err)
	}
	revoked, err := f.reader.ReadEvents(ctx, subject, models.EventRevoked, "")
	if err != nil {
		return nil, fmt.Errorf("read revoked events: %w", err)
	}

	result := replay.Replay(subject, append(granted, revoked...))

	f.statsMu.Lock()
	f.stats.Replays++
	f.stats.StaleEvents += result.Stale
	f.stats.Violations += len(result.Violations)
	f.statsMu.Unlock()

	for _, v := range result.Violations {
		log.Printf("integrity violation for subject %s: conflicting events for %s at (%d,%d)",
			subject, v.GranteeWallet, v.Position.LedgerPosition, v.Position.LogIndex)
	}

	snap := &cache.Snapshot{State: result.State, ReconciledAt: time.Now().UTC()}
	f.snapMu.Lock()
	f.lastState[subject] = snap
	f.snapMu.Unlock()
	if err := f.snapshots.SetAuthorization(ctx, subject, snap); err != nil {
		log.Printf("snapshot cache write failed for %s: %v", subject, err)
	}

	return result, nil
}

// currentState resolves the subject's authorization state, fresh when the
// ledger is reachable and stale-labeled from snapshots otherwise.
func (f *Facade) currentState(ctx context.Context, subject string) (models.AuthorizationState, time.Time, bool, error) {
	result, err := f.reconstruct(ctx, subject)
	if err == nil {
		return result.State, time.Now().UTC(), false, nil
	}

	snap := f.lastSnapshot(ctx, subject)
	if snap == nil {
		return nil, time.Time{}, false, &CollaboratorError{Collaborator: "ledger", Err: err}
	}
	f.countStaleServed()
	return snap.State, snap.ReconciledAt, true, nil
}

func (f *Facade) lastSnapshot(ctx context.Context, subject string) *cache.Snapshot {
	f.snapMu.RLock()
	snap := f.lastState[subject]
	f.snapMu.RUnlock()
	if snap != nil {
		return snap
	}

	cached, err := f.snapshots.GetAuthorization(ctx, subject)
	if err != nil {
		return nil
	}
	return cached
}

func (f *Facade) lastDocsSnapshot(subject, viewer string) *docsSnapshot {
	f.snapMu.RLock()
	defer f.snapMu.RUnlock()
	return f.lastDocs[subject+"|"+viewer]
}

// invalidate drops cached authorization for a subject after a command so
// the next query replays fresh ledger state.
func (f *Facade) invalidate(ctx context.Context, subject string) {
	f.snapMu.Lock()
	delete(f.lastState, subject)
	f.snapMu.Unlock()
	if err := f.snapshots.InvalidateAuthorization(ctx, subject); err != nil {
		log.Printf("snapshot cache invalidation failed for %s: %v", subject, err)
	}
}

// lockPair serializes commands per (subject, grantee) pair. Commands on
// different pairs proceed concurrently.
func (f *Facade) lockPair(subject, grantee string) func() {
	key := subject + "|" + grantee
	f.lockMu.Lock()
	l, ok := f.pairLocks[key]
	if !ok {
		l = &sync.Mutex{}
		f.pairLocks[key] = l
	}
	f.lockMu.Unlock()

	l.Lock()
	return l.Unlock
}

func (f *Facade) reject(action, subject, grantee, reason string) *CommandResult {
	result := &CommandResult{Status: StatusRejected, Reason: reason}
	f.logCommand(action, subject, grantee, result)
	return result
}

func (f *Facade) logCommand(action, subject, grantee string, result *CommandResult) {
	f.statsMu.Lock()
	switch result.Status {
	case StatusAccepted:
		f.stats.CommandsAccepted++
	case StatusRejected:
		f.stats.CommandsRejected++
	case StatusPartiallyApplied:
		f.stats.PartialFailures++
	}
	f.statsMu.Unlock()

	if f.audit == nil {
		return
	}
	f.audit.LogCommand(context.Background(), &audit.CommandLogRequest{
		Action:        action,
		SubjectWallet: subject,
		GranteeWallet: grantee,
		Outcome:       string(result.Status),
		FailedPhase:   string(result.FailedPhase),
		Detail:        result.Reason,
	})
}

func (f *Facade) countStaleServed() {
	f.statsMu.Lock()
	f.stats.StaleServed++
	f.statsMu.Unlock()
}

// Errors
var (
	ErrInvalidWallet     = &Error{Code: "INVALID_WALLET", Message: "wallet identifier does not match the ledger address format"}
	ErrEmptyDocumentList = &Error{Code: "EMPTY_DOCUMENT_LIST", Message: "a grant request requires at least one document id"}
)

// Error represents a validation error
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// CollaboratorError reports an unavailable external collaborator. Callers
// retry with backoff; the failure is never masked as success.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s collaborator unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
