package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/snbhowmik/care-x/internal/access"
	"github.com/snbhowmik/care-x/internal/audit"
	"github.com/snbhowmik/care-x/internal/cache"
	"github.com/snbhowmik/care-x/internal/config"
	"github.com/snbhowmik/care-x/internal/ledger"
	"github.com/snbhowmik/care-x/internal/store"
	"github.com/snbhowmik/care-x/pkg/models"
)

const (
	testSubject = "0x1111111111111111111111111111111111111111"
	testGrantee = "0x2222222222222222222222222222222222222222"

	// sha256("72-1700000000")
	testAnchor = "3e379afed7398c4b63165b5088d21f80617636a66c15a59bdbf21a077e2ba97a"
)

type stubLedger struct {
	events []models.AccessEvent
	pos    int64
}

func (l *stubLedger) ReadEvents(_ context.Context, subject string, kind models.EventKind, _ string) ([]models.AccessEvent, error) {
	var out []models.AccessEvent
	for _, ev := range l.events {
		if ev.SubjectWallet == subject && ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *stubLedger) submit(subject, grantee string, kind models.EventKind) (*ledger.Confirmation, error) {
	l.pos++
	l.events = append(l.events, models.AccessEvent{
		SubjectWallet: subject,
		GranteeWallet: grantee,
		Kind:          kind,
		Position:      models.SequencePosition{LedgerPosition: l.pos},
	})
	return &ledger.Confirmation{TxHash: "0xtx", LedgerPosition: l.pos}, nil
}

func (l *stubLedger) SubmitGrant(_ context.Context, subject, grantee string) (*ledger.Confirmation, error) {
	return l.submit(subject, grantee, models.EventGranted)
}

func (l *stubLedger) SubmitRevoke(_ context.Context, subject, grantee string) (*ledger.Confirmation, error) {
	return l.submit(subject, grantee, models.EventRevoked)
}

type stubStore struct {
	shares map[string]*models.DocumentShareGrant
	docs   map[string]*models.MedicalDocument
	vitals map[string]*models.VitalRecord
}

func newStubStore() *stubStore {
	return &stubStore{
		shares: make(map[string]*models.DocumentShareGrant),
		docs:   make(map[string]*models.MedicalDocument),
		vitals: make(map[string]*models.VitalRecord),
	}
}

func (s *stubStore) ListShares(_ context.Context, owner string) ([]models.DocumentShareGrant, error) {
	var out []models.DocumentShareGrant
	for _, g := range s.shares {
		if g.OwnerWallet == owner {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *stubStore) UpsertShare(_ context.Context, owner, recipient string, docIDs []string) (*models.DocumentShareGrant, error) {
	key := owner + "|" + recipient
	g, ok := s.shares[key]
	if !ok {
		g = &models.DocumentShareGrant{ID: key, OwnerWallet: owner, RecipientWallet: recipient}
		s.shares[key] = g
	}
	g.DocumentIDs = append(g.DocumentIDs, docIDs...)
	return g, nil
}

func (s *stubStore) DeleteShares(_ context.Context, owner, recipient string) (int64, error) {
	key := owner + "|" + recipient
	if _, ok := s.shares[key]; !ok {
		return 0, nil
	}
	delete(s.shares, key)
	return 1, nil
}

func (s *stubStore) ListDocuments(_ context.Context, owner string) ([]models.MedicalDocument, error) {
	var out []models.MedicalDocument
	for _, d := range s.docs {
		if d.OwnerWallet == owner {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *stubStore) PutDocument(_ context.Context, doc *models.MedicalDocument) error {
	s.docs[doc.ID] = doc
	return nil
}

func (s *stubStore) PutVitalRecord(_ context.Context, rec *models.VitalRecord) error {
	if rec.RecordID == "" {
		rec.RecordID = "rec-" + rec.SubjectWallet
	}
	s.vitals[rec.RecordID] = rec
	return nil
}

func (s *stubStore) GetVitalRecord(_ context.Context, recordID string) (*models.VitalRecord, error) {
	rec, ok := s.vitals[recordID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (s *stubStore) ListVitalRecords(_ context.Context, subject string) ([]models.VitalRecord, error) {
	var out []models.VitalRecord
	for _, r := range s.vitals {
		if r.SubjectWallet == subject {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *stubStore) Close() error { return nil }

func newTestServer(t *testing.T, jwtSecret string) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Port = 3010
	cfg.Server.JWTSecret = jwtSecret
	cfg.Audit.Enabled = true
	cfg.Audit.DetailLevel = "full"

	snapshots, err := cache.New(&cache.Config{Enabled: false})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	auditLog := audit.NewLogger(&cfg.Audit)
	if err := auditLog.Start(context.Background()); err != nil {
		t.Fatalf("start audit logger: %v", err)
	}
	t.Cleanup(auditLog.Stop)

	l := &stubLedger{}
	s := newStubStore()
	facade := access.New(l, l, s, snapshots, auditLog)
	return NewServer(cfg, facade, auditLog, s)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, "")
	rr := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestGrantAndQueryFlow(t *testing.T) {
	srv := newTestServer(t, "")

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/carex/access/grant", GrantRequest{
		SubjectWallet: testSubject,
		GranteeWallet: testGrantee,
		DocumentIDs:   []string{"doc-1"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("grant status = %d, body %s", rr.Code, rr.Body.String())
	}
	var cmd access.CommandResult
	if err := json.Unmarshal(rr.Body.Bytes(), &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.Status != access.StatusAccepted {
		t.Fatalf("command status = %s, want accepted", cmd.Status)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/v1/carex/access/"+testSubject+"/grantees", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("grantees status = %d", rr.Code)
	}
	var grantees access.GranteesResult
	if err := json.Unmarshal(rr.Body.Bytes(), &grantees); err != nil {
		t.Fatal(err)
	}
	if len(grantees.Grantees) != 1 || grantees.Grantees[0] != testGrantee {
		t.Fatalf("grantees = %v, want [%s]", grantees.Grantees, testGrantee)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/v1/carex/access/"+testSubject+"/documents?viewer="+testGrantee, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("documents status = %d", rr.Code)
	}
	var docs access.DocumentsResult
	if err := json.Unmarshal(rr.Body.Bytes(), &docs); err != nil {
		t.Fatal(err)
	}
	if len(docs.DocumentIDs) != 1 || docs.DocumentIDs[0] != "doc-1" {
		t.Fatalf("doc ids = %v, want [doc-1]", docs.DocumentIDs)
	}
}

func TestGrantRejectedReturnsBadRequest(t *testing.T) {
	srv := newTestServer(t, "")

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/carex/access/grant", GrantRequest{
		SubjectWallet: "not-a-wallet",
		GranteeWallet: testGrantee,
		DocumentIDs:   []string{"doc-1"},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestVisibleDocumentsRequiresViewer(t *testing.T) {
	srv := newTestServer(t, "")
	rr := doJSON(t, srv, http.MethodGet, "/api/v1/carex/access/"+testSubject+"/documents", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestVerifyRecord(t *testing.T) {
	srv := newTestServer(t, "")

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/carex/records/verify", models.VitalRecord{
		RecordID:            "rec-1",
		SubjectWallet:       testSubject,
		MetricValue:         72,
		TimestampSeconds:    1700000000,
		AnchoredFingerprint: testAnchor,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var result struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Outcome != "match" {
		t.Fatalf("outcome = %s, want match", result.Outcome)
	}

	// Tampered metric value must mismatch.
	rr = doJSON(t, srv, http.MethodPost, "/api/v1/carex/records/verify", models.VitalRecord{
		RecordID:            "rec-1",
		SubjectWallet:       testSubject,
		MetricValue:         73,
		TimestampSeconds:    1700000000,
		AnchoredFingerprint: testAnchor,
	})
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Outcome != "mismatch" {
		t.Fatalf("outcome = %s, want mismatch", result.Outcome)
	}
}

func TestStoredRecordLifecycle(t *testing.T) {
	srv := newTestServer(t, "")

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/carex/records/", models.VitalRecord{
		RecordID:            "rec-1",
		SubjectWallet:       testSubject,
		MetricValue:         72,
		TimestampSeconds:    1700000000,
		AnchoredFingerprint: testAnchor,
		Critical:            true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/v1/carex/records/"+testSubject, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var recs []models.VitalRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || !recs[0].Critical {
		t.Fatalf("records = %+v, want one critical record", recs)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/v1/carex/records/rec-1/verify", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rr.Code)
	}
	var result struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Outcome != "match" {
		t.Fatalf("outcome = %s, want match", result.Outcome)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/v1/carex/records/no-such/verify", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing record status = %d, want 404", rr.Code)
	}
}

func TestCreateAndListDocuments(t *testing.T) {
	srv := newTestServer(t, "")

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/carex/documents/", models.MedicalDocument{
		OwnerWallet: testSubject,
		Name:        "blood-panel.pdf",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/v1/carex/documents/"+testSubject, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var docs []models.MedicalDocument
	if err := json.Unmarshal(rr.Body.Bytes(), &docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Name != "blood-panel.pdf" {
		t.Fatalf("docs = %+v", docs)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, "test-secret")

	rr := doJSON(t, srv, http.MethodGet, "/api/v1/carex/stats", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rr.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": testSubject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/carex/stats", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200 (body %s)", recorder.Code, recorder.Body.String())
	}

	// Token signed with the wrong key is rejected.
	bad, err := token.SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/carex/stats", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	recorder = httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("wrong-key status = %d, want 401", recorder.Code)
	}
}
