package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snbhowmik/care-x/pkg/models"
)

// PostgresStore is a pgx-backed document store for shared deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner_wallet TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_wallet);

	CREATE TABLE IF NOT EXISTS document_shares (
		id TEXT NOT NULL,
		owner_wallet TEXT NOT NULL,
		recipient_wallet TEXT NOT NULL,
		doc_ids JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (owner_wallet, recipient_wallet)
	);

	CREATE INDEX IF NOT EXISTS idx_shares_owner ON document_shares(owner_wallet);

	CREATE TABLE IF NOT EXISTS vital_records (
		record_id TEXT PRIMARY KEY,
		subject_wallet TEXT NOT NULL,
		metric_value BIGINT NOT NULL,
		timestamp_seconds BIGINT NOT NULL,
		anchored_fingerprint TEXT NOT NULL,
		is_critical BOOLEAN NOT NULL DEFAULT false
	);

	CREATE INDEX IF NOT EXISTS idx_vitals_subject ON vital_records(subject_wallet);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// ListShares returns every share grant rooted at the owner wallet.
func (s *PostgresStore) ListShares(ctx context.Context, ownerWallet string) ([]models.DocumentShareGrant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_wallet, recipient_wallet, doc_ids, created_at
		 FROM document_shares WHERE owner_wallet = $1`,
		models.NormalizeWallet(ownerWallet))
	if err != nil {
		return nil, fmt.Errorf("query shares: %w", err)
	}
	defer rows.Close()

	var grants []models.DocumentShareGrant
	for rows.Next() {
		var grant models.DocumentShareGrant
		if err := rows.Scan(&grant.ID, &grant.OwnerWallet, &grant.RecipientWallet, &grant.DocumentIDs, &grant.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan share row: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// UpsertShare merges docIDs into the existing grant for the pair, creating
// the grant if absent.
func (s *PostgresStore) UpsertShare(ctx context.Context, ownerWallet, recipientWallet string, docIDs []string) (*models.DocumentShareGrant, error) {
	owner := models.NormalizeWallet(ownerWallet)
	recipient := models.NormalizeWallet(recipientWallet)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	grant := &models.DocumentShareGrant{
		ID:              uuid.New().String(),
		OwnerWallet:     owner,
		RecipientWallet: recipient,
		CreatedAt:       time.Now().UTC(),
	}

	var existingIDs []string
	err = tx.QueryRow(ctx,
		`SELECT id, doc_ids, created_at FROM document_shares
		 WHERE owner_wallet = $1 AND recipient_wallet = $2 FOR UPDATE`,
		owner, recipient).Scan(&grant.ID, &existingIDs, &grant.CreatedAt)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("select share: %w", err)
	}
	grant.DocumentIDs = unionIDs(existingIDs, docIDs)

	_, err = tx.Exec(ctx,
		`INSERT INTO document_shares (id, owner_wallet, recipient_wallet, doc_ids, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_wallet, recipient_wallet) DO UPDATE SET doc_ids = EXCLUDED.doc_ids`,
		grant.ID, owner, recipient, grant.DocumentIDs, grant.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert share: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return grant, nil
}

// DeleteShares removes every grant for the pair.
func (s *PostgresStore) DeleteShares(ctx context.Context, ownerWallet, recipientWallet string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM document_shares WHERE owner_wallet = $1 AND recipient_wallet = $2`,
		models.NormalizeWallet(ownerWallet), models.NormalizeWallet(recipientWallet))
	if err != nil {
		return 0, fmt.Errorf("delete shares: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListDocuments returns document metadata owned by the wallet.
func (s *PostgresStore) ListDocuments(ctx context.Context, ownerWallet string) ([]models.MedicalDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_wallet, name, created_at FROM documents
		 WHERE owner_wallet = $1 ORDER BY created_at DESC`,
		models.NormalizeWallet(ownerWallet))
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.MedicalDocument
	for rows.Next() {
		var doc models.MedicalDocument
		if err := rows.Scan(&doc.ID, &doc.OwnerWallet, &doc.Name, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// PutDocument records document metadata.
func (s *PostgresStore) PutDocument(ctx context.Context, doc *models.MedicalDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.OwnerWallet = models.NormalizeWallet(doc.OwnerWallet)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, owner_wallet, name, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		doc.ID, doc.OwnerWallet, doc.Name, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

// PutVitalRecord records an anchored vital reading.
func (s *PostgresStore) PutVitalRecord(ctx context.Context, rec *models.VitalRecord) error {
	if rec.RecordID == "" {
		rec.RecordID = uuid.New().String()
	}
	rec.SubjectWallet = models.NormalizeWallet(rec.SubjectWallet)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO vital_records (record_id, subject_wallet, metric_value, timestamp_seconds, anchored_fingerprint, is_critical)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (record_id) DO UPDATE SET
		   metric_value = EXCLUDED.metric_value,
		   timestamp_seconds = EXCLUDED.timestamp_seconds,
		   anchored_fingerprint = EXCLUDED.anchored_fingerprint,
		   is_critical = EXCLUDED.is_critical`,
		rec.RecordID, rec.SubjectWallet, rec.MetricValue, rec.TimestampSeconds,
		rec.AnchoredFingerprint, rec.Critical)
	if err != nil {
		return fmt.Errorf("put vital record: %w", err)
	}
	return nil
}

// GetVitalRecord returns one vital record by id.
func (s *PostgresStore) GetVitalRecord(ctx context.Context, recordID string) (*models.VitalRecord, error) {
	var rec models.VitalRecord
	err := s.pool.QueryRow(ctx,
		`SELECT record_id, subject_wallet, metric_value, timestamp_seconds, anchored_fingerprint, is_critical
		 FROM vital_records WHERE record_id = $1`, recordID).
		Scan(&rec.RecordID, &rec.SubjectWallet, &rec.MetricValue, &rec.TimestampSeconds,
			&rec.AnchoredFingerprint, &rec.Critical)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vital record: %w", err)
	}
	return &rec, nil
}

// ListVitalRecords returns vital records for a subject, newest first.
func (s *PostgresStore) ListVitalRecords(ctx context.Context, subjectWallet string) ([]models.VitalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id, subject_wallet, metric_value, timestamp_seconds, anchored_fingerprint, is_critical
		 FROM vital_records WHERE subject_wallet = $1 ORDER BY timestamp_seconds DESC`,
		models.NormalizeWallet(subjectWallet))
	if err != nil {
		return nil, fmt.Errorf("query vital records: %w", err)
	}
	defer rows.Close()

	var recs []models.VitalRecord
	for rows.Next() {
		var rec models.VitalRecord
		if err := rows.Scan(&rec.RecordID, &rec.SubjectWallet, &rec.MetricValue,
			&rec.TimestampSeconds, &rec.AnchoredFingerprint, &rec.Critical); err != nil {
			return nil, fmt.Errorf("scan vital record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close closes the store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
