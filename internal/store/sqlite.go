package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/snbhowmik/care-x/pkg/models"
)

// EmbeddedStore is a SQLite-based document store.
type EmbeddedStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewEmbeddedStore creates an embedded store under dataPath.
func NewEmbeddedStore(dataPath string) (*EmbeddedStore, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "carex.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &EmbeddedStore{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *EmbeddedStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner_wallet TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_wallet);

	CREATE TABLE IF NOT EXISTS document_shares (
		id TEXT NOT NULL,
		owner_wallet TEXT NOT NULL,
		recipient_wallet TEXT NOT NULL,
		doc_ids TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (owner_wallet, recipient_wallet)
	);

	CREATE INDEX IF NOT EXISTS idx_shares_owner ON document_shares(owner_wallet);

	CREATE TABLE IF NOT EXISTS vital_records (
		record_id TEXT PRIMARY KEY,
		subject_wallet TEXT NOT NULL,
		metric_value INTEGER NOT NULL,
		timestamp_seconds INTEGER NOT NULL,
		anchored_fingerprint TEXT NOT NULL,
		is_critical INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_vitals_subject ON vital_records(subject_wallet);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ListShares returns every share grant rooted at the owner wallet.
func (s *EmbeddedStore) ListShares(ctx context.Context, ownerWallet string) ([]models.DocumentShareGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_wallet, recipient_wallet, doc_ids, created_at
		 FROM document_shares WHERE owner_wallet = ?`,
		models.NormalizeWallet(ownerWallet))
	if err != nil {
		return nil, fmt.Errorf("query shares: %w", err)
	}
	defer rows.Close()

	var grants []models.DocumentShareGrant
	for rows.Next() {
		grant, err := scanShareRow(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *grant)
	}
	return grants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanShareRow(row rowScanner) (*models.DocumentShareGrant, error) {
	var grant models.DocumentShareGrant
	var docIDs string
	var createdAt int64
	if err := row.Scan(&grant.ID, &grant.OwnerWallet, &grant.RecipientWallet, &docIDs, &createdAt); err != nil {
		return nil, fmt.Errorf("scan share row: %w", err)
	}
	if err := json.Unmarshal([]byte(docIDs), &grant.DocumentIDs); err != nil {
		return nil, fmt.Errorf("decode doc ids: %w", err)
	}
	grant.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &grant, nil
}

// UpsertShare merges docIDs into the existing grant for the pair, creating
// the grant if absent.
func (s *EmbeddedStore) UpsertShare(ctx context.Context, ownerWallet, recipientWallet string, docIDs []string) (*models.DocumentShareGrant, error) {
	owner := models.NormalizeWallet(ownerWallet)
	recipient := models.NormalizeWallet(recipientWallet)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	merged := docIDs
	grantID := uuid.New().String()
	createdAt := time.Now().Unix()

	existing, err := scanShareRow(tx.QueryRowContext(ctx,
		`SELECT id, owner_wallet, recipient_wallet, doc_ids, created_at
		 FROM document_shares WHERE owner_wallet = ? AND recipient_wallet = ?`,
		owner, recipient))
	switch {
	case err == nil:
		merged = unionIDs(existing.DocumentIDs, docIDs)
		grantID = existing.ID
		createdAt = existing.CreatedAt.Unix()
	case errors.Is(err, sql.ErrNoRows):
		merged = unionIDs(nil, docIDs)
	default:
		return nil, err
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode doc ids: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_shares (id, owner_wallet, recipient_wallet, doc_ids, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(owner_wallet, recipient_wallet) DO UPDATE SET doc_ids = excluded.doc_ids`,
		grantID, owner, recipient, string(encoded), createdAt)
	if err != nil {
		return nil, fmt.Errorf("upsert share: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &models.DocumentShareGrant{
		ID:              grantID,
		OwnerWallet:     owner,
		RecipientWallet: recipient,
		DocumentIDs:     merged,
		CreatedAt:       time.Unix(createdAt, 0).UTC(),
	}, nil
}

// DeleteShares removes every grant for the pair.
func (s *EmbeddedStore) DeleteShares(ctx context.Context, ownerWallet, recipientWallet string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM document_shares WHERE owner_wallet = ? AND recipient_wallet = ?`,
		models.NormalizeWallet(ownerWallet), models.NormalizeWallet(recipientWallet))
	if err != nil {
		return 0, fmt.Errorf("delete shares: %w", err)
	}
	return res.RowsAffected()
}

// ListDocuments returns document metadata owned by the wallet.
func (s *EmbeddedStore) ListDocuments(ctx context.Context, ownerWallet string) ([]models.MedicalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_wallet, name, created_at FROM documents
		 WHERE owner_wallet = ? ORDER BY created_at DESC`,
		models.NormalizeWallet(ownerWallet))
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.MedicalDocument
	for rows.Next() {
		var doc models.MedicalDocument
		var createdAt int64
		if err := rows.Scan(&doc.ID, &doc.OwnerWallet, &doc.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.CreatedAt = time.Unix(createdAt, 0).UTC()
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// PutDocument records document metadata.
func (s *EmbeddedStore) PutDocument(ctx context.Context, doc *models.MedicalDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.OwnerWallet = models.NormalizeWallet(doc.OwnerWallet)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, owner_wallet, name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		doc.ID, doc.OwnerWallet, doc.Name, doc.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

// PutVitalRecord records an anchored vital reading.
func (s *EmbeddedStore) PutVitalRecord(ctx context.Context, rec *models.VitalRecord) error {
	if rec.RecordID == "" {
		rec.RecordID = uuid.New().String()
	}
	rec.SubjectWallet = models.NormalizeWallet(rec.SubjectWallet)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vital_records (record_id, subject_wallet, metric_value, timestamp_seconds, anchored_fingerprint, is_critical)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(record_id) DO UPDATE SET
		   metric_value = excluded.metric_value,
		   timestamp_seconds = excluded.timestamp_seconds,
		   anchored_fingerprint = excluded.anchored_fingerprint,
		   is_critical = excluded.is_critical`,
		rec.RecordID, rec.SubjectWallet, rec.MetricValue, rec.TimestampSeconds,
		rec.AnchoredFingerprint, boolToInt(rec.Critical))
	if err != nil {
		return fmt.Errorf("put vital record: %w", err)
	}
	return nil
}

// GetVitalRecord returns one vital record by id.
func (s *EmbeddedStore) GetVitalRecord(ctx context.Context, recordID string) (*models.VitalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec models.VitalRecord
	var critical int
	err := s.db.QueryRowContext(ctx,
		`SELECT record_id, subject_wallet, metric_value, timestamp_seconds, anchored_fingerprint, is_critical
		 FROM vital_records WHERE record_id = ?`, recordID).
		Scan(&rec.RecordID, &rec.SubjectWallet, &rec.MetricValue, &rec.TimestampSeconds,
			&rec.AnchoredFingerprint, &critical)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vital record: %w", err)
	}
	rec.Critical = critical != 0
	return &rec, nil
}

// ListVitalRecords returns vital records for a subject, newest first.
func (s *EmbeddedStore) ListVitalRecords(ctx context.Context, subjectWallet string) ([]models.VitalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, subject_wallet, metric_value, timestamp_seconds, anchored_fingerprint, is_critical
		 FROM vital_records WHERE subject_wallet = ? ORDER BY timestamp_seconds DESC`,
		models.NormalizeWallet(subjectWallet))
	if err != nil {
		return nil, fmt.Errorf("query vital records: %w", err)
	}
	defer rows.Close()

	var recs []models.VitalRecord
	for rows.Next() {
		var rec models.VitalRecord
		var critical int
		if err := rows.Scan(&rec.RecordID, &rec.SubjectWallet, &rec.MetricValue,
			&rec.TimestampSeconds, &rec.AnchoredFingerprint, &critical); err != nil {
			return nil, fmt.Errorf("scan vital record: %w", err)
		}
		rec.Critical = critical != 0
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close closes the store.
func (s *EmbeddedStore) Close() error {
	return s.db.Close()
}

func unionIDs(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, id := range existing {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	for _, id := range incoming {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	merged := make([]string, 0, len(seen))
	for id := range seen {
		merged = append(merged, id)
	}
	sort.Strings(merged)
	return merged
}
