package swap

import (
	"errors"
	"math/big"
	"testing"

	"tokenswap/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewStore(db)
}

func testAgreement(id uint64) *Agreement {
	return &Agreement{
		ID:                id,
		Initiator:         "alice",
		Counterparty:      "bob",
		InitiatorToken:    TokenInfo{Address: "tokenA", Amount: big.NewInt(1000)},
		CounterpartyToken: TokenInfo{Address: "tokenB", Amount: big.NewInt(2000)},
		Status:            StatusInitiated,
		CreatedAt:         1_700_000_000,
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	original := testAgreement(7)

	if err := store.Put(original); err != nil {
		t.Fatalf("Put: %v", err)
	}
	stored, err := store.Get(7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.ID != 7 || stored.Initiator != "alice" || stored.Counterparty != "bob" {
		t.Fatalf("unexpected record: %+v", stored)
	}
	if stored.InitiatorToken.Amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected initiator amount: %v", stored.InitiatorToken.Amount)
	}
	if stored.InitiatorToken.Amount == original.InitiatorToken.Amount {
		t.Fatalf("Get must not alias the stored amount pointer")
	}
	if stored.Status != StatusInitiated {
		t.Fatalf("unexpected status: %s", stored.Status)
	}
	if stored.CreatedAt != original.CreatedAt {
		t.Fatalf("unexpected createdAt: %d", stored.CreatedAt)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(99)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestStoreGetIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(testAgreement(1)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	first, err := store.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := store.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first.ID != second.ID || first.Status != second.Status ||
		first.Initiator != second.Initiator || first.Counterparty != second.Counterparty ||
		first.InitiatorToken.Amount.Cmp(second.InitiatorToken.Amount) != 0 {
		t.Fatalf("repeated reads disagree: %+v vs %+v", first, second)
	}
}

func TestAllocateIDIsMonotonic(t *testing.T) {
	store := newTestStore(t)
	for want := uint64(1); want <= 5; want++ {
		id, err := store.AllocateID()
		if err != nil {
			t.Fatalf("AllocateID: %v", err)
		}
		if id != want {
			t.Fatalf("expected id %d, got %d", want, id)
		}
	}
}

func TestUpdateStatusRejectsIllegalEdges(t *testing.T) {
	store := newTestStore(t)
	agreement := testAgreement(1)
	if err := store.Insert(agreement); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := store.UpdateStatus(agreement, StatusExecuted); err == nil {
		t.Fatalf("initiated -> executed must be rejected")
	}

	accepted, err := store.UpdateStatus(agreement, StatusAccepted)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := store.UpdateStatus(accepted, StatusInitiated); err == nil {
		t.Fatalf("status must never move backward")
	}

	executed, err := store.UpdateStatus(accepted, StatusExecuted)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := store.UpdateStatus(executed, StatusCanceled); err == nil {
		t.Fatalf("terminal status must admit no transitions")
	}
}

func TestUpdateStatusMovesCounters(t *testing.T) {
	store := newTestStore(t)
	agreement := testAgreement(1)
	if err := store.Insert(agreement); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := store.UpdateStatus(agreement, StatusAccepted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	counts, err := store.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Total != 1 || counts.Initiated != 0 || counts.Accepted != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestScanRespectsBoundsAndOrder(t *testing.T) {
	store := newTestStore(t)
	for id := uint64(1); id <= 9; id++ {
		if err := store.Put(testAgreement(id)); err != nil {
			t.Fatalf("Put %d: %v", id, err)
		}
	}

	results, err := store.Scan(3, 7, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected ids 3..6, got %d records", len(results))
	}
	for i, record := range results {
		if record.ID != uint64(3+i) {
			t.Fatalf("scan out of order at %d: id %d", i, record.ID)
		}
	}

	empty, err := store.Scan(7, 3, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("inverted bounds must yield nothing, got %d", len(empty))
	}
}

func TestScanPredicateFilters(t *testing.T) {
	store := newTestStore(t)
	for id := uint64(1); id <= 4; id++ {
		agreement := testAgreement(id)
		if id%2 == 0 {
			agreement.Counterparty = "carol"
		}
		if err := store.Put(agreement); err != nil {
			t.Fatalf("Put %d: %v", id, err)
		}
	}

	results, err := store.Scan(0, 100, func(a *Agreement) bool { return a.Counterparty == "carol" })
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 2 || results[0].ID != 2 || results[1].ID != 4 {
		t.Fatalf("unexpected filtered scan: %+v", results)
	}
}

func TestMetadataInitializeOnce(t *testing.T) {
	store := newTestStore(t)

	if _, ok, err := store.LoadMetadata(); err != nil || ok {
		t.Fatalf("fresh store must have no metadata (ok=%v err=%v)", ok, err)
	}
	if err := store.InitializeMetadata("tokenswap", "1.0.0"); err != nil {
		t.Fatalf("InitializeMetadata: %v", err)
	}
	if err := store.InitializeMetadata("tokenswap", "9.9.9"); err != nil {
		t.Fatalf("InitializeMetadata repeat: %v", err)
	}
	meta, ok, err := store.LoadMetadata()
	if err != nil || !ok {
		t.Fatalf("LoadMetadata: ok=%v err=%v", ok, err)
	}
	if meta.Name != "tokenswap" || meta.Version != "1.0.0" {
		t.Fatalf("metadata must keep the first record: %+v", meta)
	}
}

func TestCountersDoNotCollideWithRecords(t *testing.T) {
	store := newTestStore(t)
	if err := store.Insert(testAgreement(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// A full-width scan must only surface agreement records, not the
	// sequence, counter, or metadata keys sharing the database.
	if _, err := store.AllocateID(); err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	if err := store.InitializeMetadata("tokenswap", "1.0.0"); err != nil {
		t.Fatalf("InitializeMetadata: %v", err)
	}
	results, err := store.Scan(0, ^uint64(0), nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 || results[0].ID != 1 {
		t.Fatalf("unexpected scan contents: %+v", results)
	}
}
