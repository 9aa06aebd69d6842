// Package store persists document metadata and fine-grained share grants.
// Two backends implement DocumentStore: an embedded SQLite store and a
// Postgres store, selected by configuration.
package store

import (
	"context"
	"errors"

	"github.com/snbhowmik/care-x/pkg/models"
)

// DocumentStore is the interface for document-store backends. The store
// owns share rows but not their consistency with the coarse authorization
// layer: revokes at that layer trigger compensating DeleteShares calls from
// the access façade.
type DocumentStore interface {
	// ListShares returns every share grant rooted at the owner wallet.
	ListShares(ctx context.Context, ownerWallet string) ([]models.DocumentShareGrant, error)

	// UpsertShare merges docIDs into the share grant for the
	// (owner, recipient) pair, creating it if absent.
	UpsertShare(ctx context.Context, ownerWallet, recipientWallet string, docIDs []string) (*models.DocumentShareGrant, error)

	// DeleteShares removes every share grant for the pair and returns the
	// number of grants removed.
	DeleteShares(ctx context.Context, ownerWallet, recipientWallet string) (int64, error)

	// ListDocuments returns document metadata owned by the wallet.
	ListDocuments(ctx context.Context, ownerWallet string) ([]models.MedicalDocument, error)

	// PutDocument records document metadata.
	PutDocument(ctx context.Context, doc *models.MedicalDocument) error

	// PutVitalRecord records an anchored vital reading. The anchor itself is
	// written elsewhere; the store keeps read-side metadata only.
	PutVitalRecord(ctx context.Context, rec *models.VitalRecord) error

	// GetVitalRecord returns one vital record by id.
	GetVitalRecord(ctx context.Context, recordID string) (*models.VitalRecord, error)

	// ListVitalRecords returns vital records for a subject wallet.
	ListVitalRecords(ctx context.Context, subjectWallet string) ([]models.VitalRecord, error)

	// Close closes the store.
	Close() error
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")
