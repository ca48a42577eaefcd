package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/ledger"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
)

var ctx = context.Background()

func newRecord(t *testing.T, carrier string, seq int64, prev *string) *model.CarbonRecord {
	t.Helper()
	r := &model.CarbonRecord{
		ID:                  uuid.New(),
		OrderID:             "order-1",
		FleetID:             "fleet-1",
		CarrierID:           carrier,
		Sequence:            seq,
		DistanceKm:          500,
		CargoWeightTonnes:   10,
		FuelConsumedLiters:  150,
		FuelType:            "diesel",
		TTWEmissionsGrams:   400000,
		WTTEmissionsGrams:   90000,
		TotalEmissionsGrams: 490000,
		EmissionIntensity:   98,
		Grade:               1,
		Source:              model.SourceTelematics,
		PrevRecordHash:      prev,
		CreatedAt:           ledger.Timestamp(time.Now()),
	}
	h, err := ledger.HashRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	r.RecordHash = h
	return r
}

func TestHashRecord_deterministic(t *testing.T) {
	r := newRecord(t, "carrier-a", 1, nil)

	again, err := ledger.HashRecord(r.Clone())
	if err != nil {
		t.Fatal(err)
	}
	if again != r.RecordHash {
		t.Errorf("hash not reproducible: %q vs %q", again, r.RecordHash)
	}
	if len(r.RecordHash) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(r.RecordHash))
	}
}

func TestHashRecord_excludesSignatureAndCustody(t *testing.T) {
	r := newRecord(t, "carrier-a", 1, nil)
	now := time.Now()
	r.Signature = "c2ln"
	r.SignerKeyID = "key-1"
	r.SignedAt = &now
	r.ChainOfCustody = append(r.ChainOfCustody, model.CustodyEntry{Actor: "auditor", Action: "reviewed"})

	h, err := ledger.HashRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	if h != r.RecordHash {
		t.Error("signature or custody changed the record hash")
	}
}

func TestHashRecord_coversImmutableFields(t *testing.T) {
	mutations := map[string]func(*model.CarbonRecord){
		"distance":  func(r *model.CarbonRecord) { r.DistanceKm += 0.000001 },
		"fuel":      func(r *model.CarbonRecord) { r.FuelConsumedLiters = 151 },
		"fuel_type": func(r *model.CarbonRecord) { r.FuelType = "lng" },
		"grade":     func(r *model.CarbonRecord) { r.Grade = 2 },
		"source":    func(r *model.CarbonRecord) { r.Source = model.SourceModeled },
		"carrier":   func(r *model.CarbonRecord) { r.CarrierID = "carrier-b" },
		"sequence":  func(r *model.CarbonRecord) { r.Sequence = 2 },
		"prev": func(r *model.CarbonRecord) {
			h := "ab"
			r.PrevRecordHash = &h
		},
		"created_at": func(r *model.CarbonRecord) { r.CreatedAt = r.CreatedAt.Add(time.Microsecond) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := newRecord(t, "carrier-a", 1, nil)
			mutate(r)
			h, err := ledger.HashRecord(r)
			if err != nil {
				t.Fatal(err)
			}
			if h == r.RecordHash {
				t.Errorf("mutating %s did not change the hash", name)
			}
		})
	}
}

func TestDigest(t *testing.T) {
	r := newRecord(t, "carrier-a", 1, nil)
	d, err := ledger.Digest(r.RecordHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(d) != 32 {
		t.Errorf("expected 32-byte digest, got %d", len(d))
	}
	if _, err := ledger.Digest("zz"); err == nil {
		t.Error("expected error for non-hex hash")
	}
}

func TestMemoryStore_appendChains(t *testing.T) {
	s := ledger.NewMemoryStore()

	a := newRecord(t, "carrier-a", 1, nil)
	if err := s.Append(ctx, a); err != nil {
		t.Fatal(err)
	}
	b := newRecord(t, "carrier-a", 2, &a.RecordHash)
	if err := s.Append(ctx, b); err != nil {
		t.Fatal(err)
	}

	tip, err := s.Tip(ctx, "carrier-a")
	if err != nil {
		t.Fatal(err)
	}
	if tip.ID != b.ID {
		t.Errorf("tip: got %s, want %s", tip.ID, b.ID)
	}
	n, _ := s.Len(ctx, "carrier-a")
	if n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}
}

func TestMemoryStore_appendConflict(t *testing.T) {
	s := ledger.NewMemoryStore()
	a := newRecord(t, "carrier-a", 1, nil)
	if err := s.Append(ctx, a); err != nil {
		t.Fatal(err)
	}

	// A second writer that also observed the empty chain.
	stale := newRecord(t, "carrier-a", 1, nil)
	if err := s.Append(ctx, stale); !errors.Is(err, model.ErrChainConflict) {
		t.Errorf("expected ErrChainConflict, got %v", err)
	}

	wrongPrev := "deadbeef"
	bad := newRecord(t, "carrier-a", 2, &wrongPrev)
	if err := s.Append(ctx, bad); !errors.Is(err, model.ErrChainConflict) {
		t.Errorf("expected ErrChainConflict for wrong prev hash, got %v", err)
	}
}

func TestMemoryStore_carriersAreIndependent(t *testing.T) {
	s := ledger.NewMemoryStore()
	if err := s.Append(ctx, newRecord(t, "carrier-a", 1, nil)); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, newRecord(t, "carrier-b", 1, nil)); err != nil {
		t.Fatal(err)
	}
	carriers, _ := s.Carriers(ctx)
	if len(carriers) != 2 || carriers[0] != "carrier-a" || carriers[1] != "carrier-b" {
		t.Errorf("unexpected carriers %v", carriers)
	}
}

func TestMemoryStore_returnsCopies(t *testing.T) {
	s := ledger.NewMemoryStore()
	a := newRecord(t, "carrier-a", 1, nil)
	_ = s.Append(ctx, a)

	got, _ := s.Get(ctx, a.ID)
	got.FuelConsumedLiters = 9999

	again, _ := s.Get(ctx, a.ID)
	if again.FuelConsumedLiters != 150 {
		t.Error("mutating a returned record changed the store")
	}
}

func TestMemoryStore_signatureOnce(t *testing.T) {
	s := ledger.NewMemoryStore()
	a := newRecord(t, "carrier-a", 1, nil)
	_ = s.Append(ctx, a)

	if err := s.SetSignature(ctx, a.ID, "c2ln", "key-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSignature(ctx, a.ID, "c2ln", "key-1", time.Now()); !errors.Is(err, model.ErrAlreadySigned) {
		t.Errorf("expected ErrAlreadySigned, got %v", err)
	}
	if err := s.SetSignature(ctx, uuid.New(), "c2ln", "key-1", time.Now()); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, _ := s.Get(ctx, a.ID)
	if got.State != model.StateSigned {
		t.Errorf("expected state SIGNED, got %s", got.State)
	}
}

func TestMemoryStore_custodyAppend(t *testing.T) {
	s := ledger.NewMemoryStore()
	a := newRecord(t, "carrier-a", 1, nil)
	_ = s.Append(ctx, a)

	_ = s.AppendCustody(ctx, a.ID, model.CustodyEntry{Actor: "ops", Action: "reviewed", Timestamp: time.Now()})
	_ = s.AppendCustody(ctx, a.ID, model.CustodyEntry{Actor: "auditor", Action: "exported", Timestamp: time.Now()})

	got, _ := s.Get(ctx, a.ID)
	if len(got.ChainOfCustody) != 2 || got.ChainOfCustody[1].Actor != "auditor" {
		t.Errorf("unexpected custody %+v", got.ChainOfCustody)
	}
}

func TestMemoryStore_listAndQuery(t *testing.T) {
	s := ledger.NewMemoryStore()
	var prev *string
	for i := int64(1); i <= 5; i++ {
		r := newRecord(t, "carrier-a", i, prev)
		if i%2 == 0 {
			r.OrderID = "order-even"
			r.Grade = 2
			h, _ := ledger.HashRecord(r)
			r.RecordHash = h
		}
		if err := s.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
		prev = &r.RecordHash
	}

	page, _ := s.ListByCarrier(ctx, "carrier-a", 2, 0)
	if len(page) != 2 || page[0].Sequence != 5 || page[1].Sequence != 4 {
		t.Errorf("unexpected first page %v", page)
	}
	page, _ = s.ListByCarrier(ctx, "carrier-a", 2, 4)
	if len(page) != 1 || page[0].Sequence != 1 {
		t.Errorf("unexpected last page %v", page)
	}

	byOrder, _ := s.ListByOrder(ctx, "order-even")
	if len(byOrder) != 2 {
		t.Errorf("expected 2 records for order-even, got %d", len(byOrder))
	}

	graded, _ := s.Query(ctx, ledger.Filter{CarrierID: "carrier-a", MinGrade: 2}, 0)
	if len(graded) != 2 {
		t.Errorf("expected 2 records with grade >= 2, got %d", len(graded))
	}
}

func TestMemoryStore_walkHonoursCancellation(t *testing.T) {
	s := ledger.NewMemoryStore()
	_ = s.Append(ctx, newRecord(t, "carrier-a", 1, nil))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err := s.Walk(cctx, "carrier-a", func(*model.CarbonRecord) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
