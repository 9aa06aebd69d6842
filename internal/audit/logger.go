// Package audit keeps the trail of access changes and integrity checks.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snbhowmik/care-x/internal/config"
	"github.com/snbhowmik/care-x/pkg/models"
)

// Event types
const (
	TypeCommand      = "command"
	TypeVerification = "verification"
)

// Logger records access-change commands and fingerprint verifications.
type Logger struct {
	config  *config.AuditConfig
	events  map[string]*models.AuditEvent
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	eventCh chan *models.AuditEvent
}

// NewLogger creates a new audit logger
func NewLogger(cfg *config.AuditConfig) *Logger {
	return &Logger{
		config:  cfg,
		events:  make(map[string]*models.AuditEvent),
		stopCh:  make(chan struct{}),
		eventCh: make(chan *models.AuditEvent, 1000),
	}
}

// Start starts the audit logger
func (l *Logger) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	go l.processEvents(ctx)
	return nil
}

// Stop stops the audit logger
func (l *Logger) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		close(l.stopCh)
		l.running = false
	}
}

func (l *Logger) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case event := <-l.eventCh:
			l.mu.Lock()
			l.events[event.ID] = event
			l.mu.Unlock()
		}
	}
}

// CommandLogRequest contains parameters for command logging
type CommandLogRequest struct {
	Action        string // grant, revoke
	SubjectWallet string
	GranteeWallet string
	Outcome       string // accepted, partially_applied, rejected, failed
	FailedPhase   string // ledger, store (when partially applied)
	Detail        string
}

// LogCommand records one grant/revoke command and its outcome.
func (l *Logger) LogCommand(ctx context.Context, req *CommandLogRequest) *models.AuditEvent {
	if !l.config.Enabled {
		return nil
	}

	event := &models.AuditEvent{
		ID:            uuid.New().String(),
		Type:          TypeCommand,
		Action:        req.Action,
		SubjectWallet: models.NormalizeWallet(req.SubjectWallet),
		GranteeWallet: models.NormalizeWallet(req.GranteeWallet),
		Outcome:       req.Outcome,
		FailedPhase:   req.FailedPhase,
		Recorded:      time.Now().UTC(),
	}
	if l.config.DetailLevel == "full" {
		event.Detail = req.Detail
	}

	l.eventCh <- event
	return event
}

// LogVerification records one fingerprint verification outcome.
func (l *Logger) LogVerification(ctx context.Context, recordID, subjectWallet, outcome, detail string) *models.AuditEvent {
	if !l.config.Enabled {
		return nil
	}

	event := &models.AuditEvent{
		ID:            uuid.New().String(),
		Type:          TypeVerification,
		Action:        "verify",
		SubjectWallet: models.NormalizeWallet(subjectWallet),
		RecordID:      recordID,
		Outcome:       outcome,
		Recorded:      time.Now().UTC(),
	}
	if l.config.DetailLevel == "full" {
		event.Detail = detail
	}

	l.eventCh <- event
	return event
}

// EventFilter defines filters for event queries
type EventFilter struct {
	Type          string
	Action        string
	Outcome       string
	SubjectWallet string
	GranteeWallet string
	StartDate     *time.Time
	EndDate       *time.Time
}

// GetEvent retrieves an audit event by ID
func (l *Logger) GetEvent(id string) (*models.AuditEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	event, ok := l.events[id]
	return event, ok
}

// GetEvents retrieves audit events with filters
func (l *Logger) GetEvents(filter EventFilter) []*models.AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []*models.AuditEvent
	for _, event := range l.events {
		if matchesFilter(event, filter) {
			results = append(results, event)
		}
	}
	return results
}

func matchesFilter(event *models.AuditEvent, filter EventFilter) bool {
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Action != "" && event.Action != filter.Action {
		return false
	}
	if filter.Outcome != "" && event.Outcome != filter.Outcome {
		return false
	}
	if filter.SubjectWallet != "" && event.SubjectWallet != models.NormalizeWallet(filter.SubjectWallet) {
		return false
	}
	if filter.GranteeWallet != "" && event.GranteeWallet != models.NormalizeWallet(filter.GranteeWallet) {
		return false
	}
	if filter.StartDate != nil && event.Recorded.Before(*filter.StartDate) {
		return false
	}
	if filter.EndDate != nil && event.Recorded.After(*filter.EndDate) {
		return false
	}
	return true
}

// GetStats returns audit statistics
func (l *Logger) GetStats() *Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{
		ByAction:  make(map[string]int),
		ByOutcome: make(map[string]int),
	}

	for _, event := range l.events {
		stats.TotalEvents++
		stats.ByAction[event.Action]++
		stats.ByOutcome[event.Outcome]++

		if event.Type == TypeCommand && event.Outcome == "partially_applied" {
			stats.PartialFailures++
		}
		if event.Type == TypeVerification && event.Outcome != "match" {
			stats.FailedVerifications++
		}
	}

	return stats
}

// Stats contains audit statistics
type Stats struct {
	TotalEvents         int            `json:"total_events"`
	PartialFailures     int            `json:"partial_failures"`
	FailedVerifications int            `json:"failed_verifications"`
	ByAction            map[string]int `json:"by_action"`
	ByOutcome           map[string]int `json:"by_outcome"`
}
