// Package sharing reconciles the coarse wallet-level authorization layer
// with fine-grained per-document share grants.
package sharing

import (
	"context"
	"fmt"
	"sort"

	"github.com/snbhowmik/care-x/pkg/models"
)

// ShareReader is the slice of the document store the reconciler reads.
type ShareReader interface {
	ListShares(ctx context.Context, ownerWallet string) ([]models.DocumentShareGrant, error)
	ListDocuments(ctx context.Context, ownerWallet string) ([]models.MedicalDocument, error)
}

// Reconciler computes effective visible-document sets. The coarse layer is
// authoritative for the presence of any access; the fine layer for which
// documents.
type Reconciler struct {
	store ShareReader
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store ShareReader) *Reconciler {
	return &Reconciler{store: store}
}

// EffectiveDocuments is the pure merge: the union of document ids across the
// viewer's share grants, gated on an active coarse grant. Owners always see
// their own shared set. Returns a sorted slice.
func EffectiveDocuments(state models.AuthorizationState, grants []models.DocumentShareGrant, ownerWallet, viewerWallet string) []string {
	owner := models.NormalizeWallet(ownerWallet)
	viewer := models.NormalizeWallet(viewerWallet)

	if owner != viewer && !state.IsActive(viewer) {
		// Hard gate: no coarse grant means no visibility, regardless of
		// what share rows exist.
		return nil
	}

	seen := make(map[string]struct{})
	for _, grant := range grants {
		if models.NormalizeWallet(grant.OwnerWallet) != owner {
			continue
		}
		if owner != viewer && models.NormalizeWallet(grant.RecipientWallet) != viewer {
			continue
		}
		for _, id := range grant.DocumentIDs {
			if id != "" {
				seen[id] = struct{}{}
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}
	docs := make([]string, 0, len(seen))
	for id := range seen {
		docs = append(docs, id)
	}
	sort.Strings(docs)
	return docs
}

// VisibleDocuments resolves the effective visible-document set for a viewer
// against the document store. Owners see all of their own documents; other
// viewers see the gated union of their share grants.
func (r *Reconciler) VisibleDocuments(ctx context.Context, state models.AuthorizationState, ownerWallet, viewerWallet string) ([]string, error) {
	owner := models.NormalizeWallet(ownerWallet)
	viewer := models.NormalizeWallet(viewerWallet)

	if owner == viewer {
		docs, err := r.store.ListDocuments(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		ids := make([]string, 0, len(docs))
		for _, doc := range docs {
			ids = append(ids, doc.ID)
		}
		sort.Strings(ids)
		return ids, nil
	}

	if !state.IsActive(viewer) {
		return nil, nil
	}

	grants, err := r.store.ListShares(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return EffectiveDocuments(state, grants, owner, viewer), nil
}
