package sharing

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/snbhowmik/care-x/pkg/models"
)

const (
	owner  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	viewer = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	other  = "0xcccccccccccccccccccccccccccccccccccccccc"
)

type fakeStore struct {
	grants []models.DocumentShareGrant
	docs   []models.MedicalDocument
	err    error
}

func (f *fakeStore) ListShares(ctx context.Context, ownerWallet string) ([]models.DocumentShareGrant, error) {
	return f.grants, f.err
}

func (f *fakeStore) ListDocuments(ctx context.Context, ownerWallet string) ([]models.MedicalDocument, error) {
	return f.docs, f.err
}

func activeState(wallets ...string) models.AuthorizationState {
	state := make(models.AuthorizationState)
	for i, w := range wallets {
		state[models.NormalizeWallet(w)] = models.GranteeStatus{
			Active: true,
			AsOf:   models.SequencePosition{LedgerPosition: int64(i + 1)},
		}
	}
	return state
}

func TestEffectiveDocuments_GateInvariant(t *testing.T) {
	grants := []models.DocumentShareGrant{
		{OwnerWallet: owner, RecipientWallet: viewer, DocumentIDs: []string{"docA", "docB"}},
	}

	// No coarse grant at all.
	if docs := EffectiveDocuments(models.AuthorizationState{}, grants, owner, viewer); docs != nil {
		t.Errorf("viewer without coarse grant must see nothing, got %v", docs)
	}

	// Coarse grant revoked, share rows still present.
	revoked := models.AuthorizationState{
		models.NormalizeWallet(viewer): {Active: false, AsOf: models.SequencePosition{LedgerPosition: 9}},
	}
	if docs := EffectiveDocuments(revoked, grants, owner, viewer); docs != nil {
		t.Errorf("revoked viewer must see nothing despite residual rows, got %v", docs)
	}
}

func TestEffectiveDocuments_UnionAcrossGrants(t *testing.T) {
	grants := []models.DocumentShareGrant{
		{OwnerWallet: owner, RecipientWallet: viewer, DocumentIDs: []string{"docB", "docA"}},
		{OwnerWallet: owner, RecipientWallet: viewer, DocumentIDs: []string{"docB", "docC"}},
		{OwnerWallet: owner, RecipientWallet: other, DocumentIDs: []string{"docZ"}},
	}

	docs := EffectiveDocuments(activeState(viewer), grants, owner, viewer)
	want := []string{"docA", "docB", "docC"}
	if !reflect.DeepEqual(docs, want) {
		t.Errorf("expected %v, got %v", want, docs)
	}
}

func TestEffectiveDocuments_OtherOwnersGrantsIgnored(t *testing.T) {
	grants := []models.DocumentShareGrant{
		{OwnerWallet: other, RecipientWallet: viewer, DocumentIDs: []string{"docX"}},
	}

	if docs := EffectiveDocuments(activeState(viewer), grants, owner, viewer); docs != nil {
		t.Errorf("grants rooted at another owner must not leak, got %v", docs)
	}
}

func TestVisibleDocuments_GateBeforeStoreRead(t *testing.T) {
	store := &fakeStore{err: errors.New("store down")}
	r := NewReconciler(store)

	docs, err := r.VisibleDocuments(context.Background(), models.AuthorizationState{}, owner, viewer)
	if err != nil {
		t.Fatalf("gated viewer must not touch the store: %v", err)
	}
	if docs != nil {
		t.Errorf("expected empty set, got %v", docs)
	}
}

func TestVisibleDocuments_ActiveViewer(t *testing.T) {
	store := &fakeStore{
		grants: []models.DocumentShareGrant{
			{OwnerWallet: owner, RecipientWallet: viewer, DocumentIDs: []string{"docA", "docB"}},
		},
	}
	r := NewReconciler(store)

	docs, err := r.VisibleDocuments(context.Background(), activeState(viewer), owner, viewer)
	if err != nil {
		t.Fatalf("VisibleDocuments failed: %v", err)
	}
	if !reflect.DeepEqual(docs, []string{"docA", "docB"}) {
		t.Errorf("expected [docA docB], got %v", docs)
	}
}

func TestVisibleDocuments_OwnerSeesOwnDocuments(t *testing.T) {
	store := &fakeStore{
		docs: []models.MedicalDocument{
			{ID: "doc2", OwnerWallet: owner},
			{ID: "doc1", OwnerWallet: owner},
		},
	}
	r := NewReconciler(store)

	// Owner needs no coarse grant to self, and wallet casing must not matter.
	docs, err := r.VisibleDocuments(context.Background(), models.AuthorizationState{}, owner, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	if err != nil {
		t.Fatalf("VisibleDocuments failed: %v", err)
	}
	if !reflect.DeepEqual(docs, []string{"doc1", "doc2"}) {
		t.Errorf("expected [doc1 doc2], got %v", docs)
	}
}

func TestVisibleDocuments_StoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("store down")}
	r := NewReconciler(store)

	if _, err := r.VisibleDocuments(context.Background(), activeState(viewer), owner, viewer); err == nil {
		t.Error("store failure must surface, not be masked")
	}
}
