package replay

import (
	"reflect"
	"testing"

	"github.com/snbhowmik/care-x/pkg/models"
)

const (
	subject = "0x1111111111111111111111111111111111111111"
	doctor  = "0x2222222222222222222222222222222222222222"
	nurse   = "0x3333333333333333333333333333333333333333"
)

func event(grantee string, kind models.EventKind, block, index int64) models.AccessEvent {
	return models.AccessEvent{
		SubjectWallet: subject,
		GranteeWallet: grantee,
		Kind:          kind,
		Position:      models.SequencePosition{LedgerPosition: block, LogIndex: index},
	}
}

func TestReplay_GrantRevokeGrantDeliveredInReverse(t *testing.T) {
	events := []models.AccessEvent{
		event(doctor, models.EventGranted, 3, 0),
		event(doctor, models.EventRevoked, 2, 0),
		event(doctor, models.EventGranted, 1, 0),
	}

	result := Replay(subject, events)

	if !result.State.IsActive(doctor) {
		t.Fatal("doctor should be active after replay")
	}
	if got := result.State.ActiveGrantees(); len(got) != 1 || got[0] != doctor {
		t.Errorf("unexpected active set: %v", got)
	}
	if result.Applied != 3 {
		t.Errorf("expected 3 applied events, got %d", result.Applied)
	}
}

func TestReplay_DeterministicOverAllPermutations(t *testing.T) {
	events := []models.AccessEvent{
		event(doctor, models.EventGranted, 1, 0),
		event(doctor, models.EventRevoked, 2, 1),
		event(nurse, models.EventGranted, 2, 0),
		event(doctor, models.EventGranted, 4, 2),
		event(nurse, models.EventRevoked, 5, 0),
	}

	baseline := Replay(subject, events)

	for _, perm := range permutations(events) {
		result := Replay(subject, perm)
		if !reflect.DeepEqual(result.State, baseline.State) {
			t.Fatalf("permutation changed final state: %v vs %v", result.State, baseline.State)
		}
		if result.Stale != baseline.Stale || len(result.Violations) != len(baseline.Violations) {
			t.Fatalf("permutation changed reporting: stale %d vs %d", result.Stale, baseline.Stale)
		}
	}
}

func TestReplay_Idempotent(t *testing.T) {
	events := []models.AccessEvent{
		event(doctor, models.EventGranted, 1, 0),
		event(doctor, models.EventRevoked, 3, 0),
		event(nurse, models.EventGranted, 2, 0),
	}

	once := Replay(subject, events)
	twice := Replay(subject, append(append([]models.AccessEvent{}, events...), events...))

	if !reflect.DeepEqual(once.State, twice.State) {
		t.Errorf("replaying twice changed the final state: %v vs %v", twice.State, once.State)
	}
	if twice.Stale != 3 {
		t.Errorf("second delivery should count as stale, got %d", twice.Stale)
	}
}

func TestReplay_DuplicateGrantIsNoOp(t *testing.T) {
	events := []models.AccessEvent{
		event(doctor, models.EventGranted, 1, 0),
		event(doctor, models.EventGranted, 1, 0),
	}

	result := Replay(subject, events)

	if !result.State.IsActive(doctor) {
		t.Fatal("doctor should be active")
	}
	if result.Stale != 1 {
		t.Errorf("duplicate grant should be counted stale, got %d", result.Stale)
	}
	if len(result.Violations) != 0 {
		t.Errorf("duplicate of same kind is not a violation: %v", result.Violations)
	}
}

func TestReplay_EqualPositionConflictIsViolation(t *testing.T) {
	events := []models.AccessEvent{
		event(doctor, models.EventGranted, 5, 3),
		event(doctor, models.EventRevoked, 5, 3),
	}

	result := Replay(subject, events)

	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(result.Violations))
	}
	v := result.Violations[0]
	if v.GranteeWallet != doctor || v.Applied != models.EventGranted || v.Rejected != models.EventRevoked {
		t.Errorf("unexpected violation: %+v", v)
	}
	// The conflict is reported, not silently resolved; the first-sorted
	// event stands.
	if !result.State.IsActive(doctor) {
		t.Error("applied grant should stand pending resolution")
	}
}

func TestReplay_RevokeStrictlyAfterGrantWins(t *testing.T) {
	events := []models.AccessEvent{
		event(doctor, models.EventGranted, 5, 3),
		event(doctor, models.EventRevoked, 5, 4),
	}

	result := Replay(subject, events)
	if result.State.IsActive(doctor) {
		t.Error("revoke at a later log index should win")
	}
	if len(result.Violations) != 0 {
		t.Errorf("strictly ordered events are not a violation: %v", result.Violations)
	}
}

func TestReplay_MalformedEventsSkippedIndividually(t *testing.T) {
	events := []models.AccessEvent{
		event(doctor, models.EventGranted, 1, 0),
		{SubjectWallet: subject, Kind: models.EventGranted, Position: models.SequencePosition{LedgerPosition: 2}}, // missing grantee
		event(nurse, models.EventGranted, -1, 0),                       // invalid position
		{SubjectWallet: subject, GranteeWallet: nurse, Kind: "expired", // unknown kind
			Position: models.SequencePosition{LedgerPosition: 3}},
		event(nurse, models.EventGranted, 4, 0),
	}

	result := Replay(subject, events)

	if len(result.Skipped) != 3 {
		t.Fatalf("expected 3 skipped events, got %d: %v", len(result.Skipped), result.Skipped)
	}
	if !result.State.IsActive(doctor) || !result.State.IsActive(nurse) {
		t.Error("well-formed events must still fold")
	}
}

func TestReplay_UnrelatedSubjectEventsExcluded(t *testing.T) {
	other := "0x9999999999999999999999999999999999999999"
	events := []models.AccessEvent{
		event(doctor, models.EventGranted, 1, 0),
		{SubjectWallet: other, GranteeWallet: doctor, Kind: models.EventRevoked,
			Position: models.SequencePosition{LedgerPosition: 2}},
	}

	result := Replay(subject, events)

	if !result.State.IsActive(doctor) {
		t.Error("another subject's revoke must not affect this subject's state")
	}
	if len(result.Skipped) != 1 {
		t.Errorf("interleaved unrelated event should be reported, got %v", result.Skipped)
	}
}

func TestReplay_WalletCaseInsensitive(t *testing.T) {
	upper := "0x2222222222222222222222222222222222222222"
	events := []models.AccessEvent{
		event("0x2222222222222222222222222222222222222222", models.EventGranted, 1, 0),
		{SubjectWallet: "0X1111111111111111111111111111111111111111",
			GranteeWallet: "0X2222222222222222222222222222222222222222",
			Kind:          models.EventRevoked,
			Position:      models.SequencePosition{LedgerPosition: 2}},
	}

	result := Replay(subject, events)
	if result.State.IsActive(upper) {
		t.Error("case-variant wallets must fold into one grantee")
	}
}

// permutations returns every ordering of events. Inputs stay small.
func permutations(events []models.AccessEvent) [][]models.AccessEvent {
	var out [][]models.AccessEvent
	var walk func(cur, rest []models.AccessEvent)
	walk = func(cur, rest []models.AccessEvent) {
		if len(rest) == 0 {
			out = append(out, append([]models.AccessEvent{}, cur...))
			return
		}
		for i := range rest {
			next := make([]models.AccessEvent, 0, len(rest)-1)
			next = append(next, rest[:i]...)
			next = append(next, rest[i+1:]...)
			walk(append(cur, rest[i]), next)
		}
	}
	walk(nil, events)
	return out
}
