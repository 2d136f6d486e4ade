package allocation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cutting-erp/internal/storage"
	"cutting-erp/internal/storage/memory"
)

var spec = storage.MaterialSpec{MaterialID: 1, Grade: "EN8", Diameter: 40}

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type spyObserver struct {
	allocations map[string]int
	issuances   map[storage.IssueOutcome]int
}

func newSpy() *spyObserver {
	return &spyObserver{allocations: map[string]int{}, issuances: map[storage.IssueOutcome]int{}}
}

func (s *spyObserver) ObserveAllocation(strategy, outcome string) {
	s.allocations[strategy+"/"+outcome]++
}

func (s *spyObserver) ObserveIssuance(outcome storage.IssueOutcome) {
	s.issuances[outcome]++
}

type spyPublisher struct {
	entries []storage.IssuanceEntry
	err     error
}

func (p *spyPublisher) PublishIssued(_ context.Context, e storage.IssuanceEntry) error {
	p.entries = append(p.entries, e)
	return p.err
}

// racingLedger runs before once, ahead of the commit it wraps.
type racingLedger struct {
	*memory.Storage
	before func()
}

func (l *racingLedger) CommitIssuance(ctx context.Context, e storage.IssuanceEntry) (int64, error) {
	if l.before != nil {
		l.before()
		l.before = nil
	}
	return l.Storage.CommitIssuance(ctx, e)
}

// conflictingInventory loses the race for the listed pieces.
type conflictingInventory struct {
	*memory.Storage
	lost map[int64]bool
}

func (c conflictingInventory) AllocatePiece(ctx context.Context, pieceID, requisitionID int64) error {
	if c.lost[pieceID] {
		return storage.ErrConflict
	}
	return c.Storage.AllocatePiece(ctx, pieceID, requisitionID)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store  *memory.Storage
	fifo   *FifoAllocator
	cut    *CutAllocator
	spy    *spyObserver
	pub    *spyPublisher
	reqID  int64
	itemID int64
}

func setup(t *testing.T) fixture {
	t.Helper()

	store := memory.New()
	spy := newSpy()
	pub := &spyPublisher{}

	f := fixture{
		store: store,
		fifo:  NewFifoAllocator(discard(), store, store, store, pub, spy),
		cut:   NewCutAllocator(discard(), store, store, spy),
		spy:   spy,
		pub:   pub,
	}
	f.reqID, f.itemID = f.requisition(t, spec)
	return f
}

// requisition adds an approved requisition with one item of s.
func (f fixture) requisition(t *testing.T, s storage.MaterialSpec) (int64, int64) {
	t.Helper()

	id := f.store.AddRequisition(storage.MaterialRequisition{
		Status: storage.RequisitionApproved,
		Items:  []storage.RequisitionItem{{MaterialSpec: s, RequiredLengthMM: 700, NumberOfPieces: 1}},
	})
	r, err := f.store.GetRequisition(context.Background(), id)
	require.NoError(t, err)
	return id, r.Items[0].ID
}

func (f fixture) addPiece(length, ageDays int, cost string) int64 {
	return f.store.AddPiece(storage.MaterialPiece{
		MaterialSpec:    spec,
		CurrentLengthMM: length,
		ReceivedAt:      t0.AddDate(0, 0, -ageDays),
		UnitCost:        decimal.RequireFromString(cost),
	})
}

func statusOf(t *testing.T, f fixture, id int64) storage.PieceStatus {
	t.Helper()
	p, err := f.store.GetPiece(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func TestFifoAllocate_OldestFirst(t *testing.T) {
	f := setup(t)
	young := f.addPiece(1000, 1, "10")
	old := f.addPiece(1000, 30, "10")
	middle := f.addPiece(1000, 10, "10")

	res, err := f.fifo.Allocate(context.Background(), Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 1500})
	require.NoError(t, err)

	assert.Equal(t, []int64{old, middle}, res.PieceIDs)
	assert.Equal(t, 2000, res.AllocatedMM)
	assert.Equal(t, storage.PieceAvailable, statusOf(t, f, young))
	assert.Equal(t, 1, f.spy.allocations["fifo/allocated"])
}

func TestFifoAllocate_InsufficientStockRollsBack(t *testing.T) {
	f := setup(t)
	a := f.addPiece(400, 3, "1")
	b := f.addPiece(400, 2, "1")

	_, err := f.fifo.Allocate(context.Background(), Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 1000})
	require.ErrorIs(t, err, storage.ErrInsufficientStock)

	assert.Equal(t, storage.PieceAvailable, statusOf(t, f, a))
	assert.Equal(t, storage.PieceAvailable, statusOf(t, f, b))
	assert.Equal(t, 1, f.spy.allocations["fifo/insufficient_stock"])
}

func TestFifoAllocate_SkipsLostPieces(t *testing.T) {
	f := setup(t)
	lost := f.addPiece(1000, 5, "1")
	next := f.addPiece(1000, 4, "1")

	inv := conflictingInventory{Storage: f.store, lost: map[int64]bool{lost: true}}
	alloc := NewFifoAllocator(discard(), inv, f.store, f.store, nil, nil)

	res, err := alloc.Allocate(context.Background(), Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 800})
	require.NoError(t, err)
	assert.Equal(t, []int64{next}, res.PieceIDs)
}

func TestFifoAllocate_Validation(t *testing.T) {
	f := setup(t)
	pending := f.store.AddRequisition(storage.MaterialRequisition{Status: storage.RequisitionPending})

	tests := []struct {
		name string
		req  Request
		err  error
	}{
		{"zero length", Request{RequisitionID: f.reqID, Spec: spec}, storage.ErrValidation},
		{"no material", Request{RequisitionID: f.reqID, RequiredLengthMM: 10}, storage.ErrValidation},
		{"unknown requisition", Request{RequisitionID: 404, Spec: spec, RequiredLengthMM: 10}, storage.ErrNotFound},
		{"not approved", Request{RequisitionID: pending, Spec: spec, RequiredLengthMM: 10}, storage.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.fifo.Allocate(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDeallocate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.addPiece(1000, 2, "1")
	b := f.addPiece(1000, 1, "1")

	_, err := f.fifo.Allocate(ctx, Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 2000})
	require.NoError(t, err)

	n, err := f.fifo.Deallocate(ctx, f.reqID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, storage.PieceAvailable, statusOf(t, f, a))
	assert.Equal(t, storage.PieceAvailable, statusOf(t, f, b))

	n, err = f.fifo.Deallocate(ctx, f.reqID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIssueAll(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.addPiece(1000, 2, "12.50")
	b := f.addPiece(600, 1, "7.25")
	jobCard := int64(55)

	_, err := f.fifo.Allocate(ctx, Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 1600})
	require.NoError(t, err)

	entry, err := f.fifo.IssueAll(ctx, f.reqID, &jobCard, "storekeeper", "fitter")
	require.NoError(t, err)

	assert.NotEmpty(t, entry.IssueNo)
	assert.Equal(t, []int64{a, b}, entry.PieceIDs)
	assert.Equal(t, 2, entry.PieceCount)
	assert.Equal(t, 1600, entry.TotalLengthMM)
	assert.True(t, decimal.RequireFromString("19.75").Equal(entry.TotalCost))

	p, err := f.store.GetPiece(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, storage.PieceIssued, p.Status)
	assert.Equal(t, "storekeeper", p.IssuedBy)
	require.NotNil(t, p.JobCardID)
	assert.Equal(t, jobCard, *p.JobCardID)

	req, err := f.store.GetRequisition(ctx, f.reqID)
	require.NoError(t, err)
	assert.Equal(t, storage.RequisitionIssued, req.Status)
	assert.Equal(t, "fitter", req.ReceivedBy)

	require.Len(t, f.pub.entries, 1)
	assert.Equal(t, entry.IssueNo, f.pub.entries[0].IssueNo)
	assert.Equal(t, 1, f.spy.issuances[storage.OutcomeIssued])

	_, err = f.fifo.IssueAll(ctx, f.reqID, nil, "storekeeper", "fitter")
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	entries, err := f.store.Issuances(ctx, f.reqID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIssueAll_NothingAllocated(t *testing.T) {
	f := setup(t)

	_, err := f.fifo.IssueAll(context.Background(), f.reqID, nil, "storekeeper", "")
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestIssueAll_PublishFailureDoesNotFail(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.addPiece(1000, 1, "1")
	f.pub.err = errors.New("broker down")

	_, err := f.fifo.Allocate(ctx, Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 500})
	require.NoError(t, err)

	_, err = f.fifo.IssueAll(ctx, f.reqID, nil, "storekeeper", "")
	assert.NoError(t, err)
}

func bar(pieceID int64, length int, cuts ...storage.CutDemandRow) storage.BarAssignment {
	b := storage.BarAssignment{PieceID: pieceID, BarLengthMM: length, Cuts: cuts}
	b.Recalculate()
	return b
}

func cutFor(reqID, itemID int64, length int) storage.CutDemandRow {
	return storage.CutDemandRow{RequisitionID: reqID, RequisitionItemID: itemID, MaterialID: spec.MaterialID, CutLengthMM: length}
}

func TestBarOwner(t *testing.T) {
	assert.Equal(t, int64(3), BarOwner(bar(1, 1000, cutFor(7, 0, 100), cutFor(3, 0, 100), cutFor(5, 0, 100))))
	assert.Zero(t, BarOwner(bar(1, 1000)))
}

func TestCutAllocate_OwnedPiecesOnly(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	other, otherItem := f.requisition(t, spec)
	mine := f.addPiece(1500, 3, "1")
	theirs := f.addPiece(1500, 2, "1")
	shared := f.addPiece(1500, 1, "1")

	bars := []storage.BarAssignment{
		bar(mine, 1500, cutFor(f.reqID, f.itemID, 700)),
		bar(theirs, 1500, cutFor(other, otherItem, 700)),
		// f.reqID is lower, so the shared bar is booked against it
		bar(shared, 1500, cutFor(other, otherItem, 500), cutFor(f.reqID, f.itemID, 500)),
		bar(0, 0, cutFor(f.reqID, f.itemID, 100)),
	}

	res, err := f.cut.Allocate(ctx, Request{RequisitionID: f.reqID, Bars: bars})
	require.NoError(t, err)

	assert.Equal(t, []int64{mine, shared}, res.PieceIDs)
	assert.Equal(t, 1300, res.RequiredLengthMM)
	assert.Equal(t, storage.PieceAvailable, statusOf(t, f, theirs))
	assert.Equal(t, storage.PieceAllocated, statusOf(t, f, shared))

	res, err = f.cut.Allocate(ctx, Request{RequisitionID: f.reqID, Bars: bars})
	require.NoError(t, err, "pieces already booked for the same requisition are kept")
	assert.Len(t, res.PieceIDs, 2)
}

func TestCutAllocate_ConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	other, _ := f.requisition(t, spec)
	free := f.addPiece(1500, 3, "1")
	taken := f.addPiece(1500, 2, "1")
	require.NoError(t, f.store.AllocatePiece(ctx, taken, other))

	_, err := f.cut.Allocate(ctx, Request{RequisitionID: f.reqID, Bars: []storage.BarAssignment{
		bar(free, 1500, cutFor(f.reqID, f.itemID, 700)),
		bar(taken, 1500, cutFor(f.reqID, f.itemID, 700)),
	}})
	require.ErrorIs(t, err, storage.ErrConflict)

	assert.Equal(t, storage.PieceAvailable, statusOf(t, f, free))
	assert.Equal(t, 1, f.spy.allocations["cut/conflict"])
}

func TestCutAllocate_PieceMustMatchItem(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	en24 := f.store.AddPiece(storage.MaterialPiece{
		MaterialSpec:    storage.MaterialSpec{MaterialID: spec.MaterialID, Grade: "EN24", Diameter: 80},
		CurrentLengthMM: 1500,
		ReceivedAt:      t0,
		UnitCost:        decimal.NewFromInt(1),
	})
	p := f.addPiece(1500, 1, "1")

	tests := []struct {
		name string
		bar  storage.BarAssignment
		err  error
	}{
		{"grade and diameter differ", bar(en24, 1500, cutFor(f.reqID, f.itemID, 700)), storage.ErrValidation},
		{"unknown item", bar(p, 1500, cutFor(f.reqID, 999, 700)), storage.ErrValidation},
		{"planned on another length", bar(p, 2000, cutFor(f.reqID, f.itemID, 700)), storage.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.cut.Allocate(ctx, Request{RequisitionID: f.reqID, Bars: []storage.BarAssignment{tt.bar}})
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.Equal(t, storage.PieceAvailable, statusOf(t, f, en24))
	assert.Equal(t, storage.PieceAvailable, statusOf(t, f, p))
}

func TestFifoAllocate_CountsPiecesAlreadyHeld(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.addPiece(1000, 3, "1")
	b := f.addPiece(1000, 2, "1")
	c := f.addPiece(1000, 1, "1")

	first, err := f.fifo.Allocate(ctx, Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 1500})
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, first.PieceIDs)

	again, err := f.fifo.Allocate(ctx, Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 1500})
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, again.PieceIDs)
	assert.Equal(t, 2000, again.AllocatedMM)
	assert.Equal(t, storage.PieceAvailable, statusOf(t, f, c))

	more, err := f.fifo.Allocate(ctx, Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 2500})
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b, c}, more.PieceIDs)

	_, err = f.fifo.Allocate(ctx, Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 5000})
	require.ErrorIs(t, err, storage.ErrInsufficientStock)
	for _, id := range []int64{a, b, c} {
		assert.Equal(t, storage.PieceAllocated, statusOf(t, f, id), "pieces held before the call stay booked")
	}
}

func TestIssueAll_PieceTakenBeforeCommit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.addPiece(1000, 2, "5")
	b := f.addPiece(600, 1, "5")

	_, err := f.fifo.Allocate(ctx, Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 1600})
	require.NoError(t, err)

	ledger := &racingLedger{Storage: f.store, before: func() {
		require.NoError(t, f.store.IssuePiece(ctx, b, nil, t0, "other shift"))
	}}
	fifo := NewFifoAllocator(discard(), f.store, f.store, ledger, nil, nil)

	_, err = fifo.IssueAll(ctx, f.reqID, nil, "storekeeper", "fitter")
	require.ErrorIs(t, err, storage.ErrConflict)

	assert.Equal(t, storage.PieceAllocated, statusOf(t, f, a))
	req, err := f.store.GetRequisition(ctx, f.reqID)
	require.NoError(t, err)
	assert.Equal(t, storage.RequisitionApproved, req.Status)
	entries, err := f.store.Issuances(ctx, f.reqID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entry, err := fifo.IssueAll(ctx, f.reqID, nil, "storekeeper", "fitter")
	require.NoError(t, err, "a retry issues what is still allocated")
	assert.Equal(t, []int64{a}, entry.PieceIDs)
	assert.Equal(t, storage.PieceIssued, statusOf(t, f, a))
}

func TestIssueCuts(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	owned := f.addPiece(1500, 2, "12")
	dependent, _ := f.requisition(t, spec)

	_, err := f.fifo.Allocate(ctx, Request{RequisitionID: f.reqID, Spec: spec, RequiredLengthMM: 1000})
	require.NoError(t, err)

	entry, err := f.fifo.IssueCuts(ctx, f.reqID, storage.CutUsage{CutLengthMM: 900, ScrapMM: 100}, "storekeeper", "fitter")
	require.NoError(t, err)
	assert.Equal(t, []int64{owned}, entry.PieceIDs)
	assert.Equal(t, 900, entry.TotalLengthMM)
	assert.Equal(t, 100, entry.ScrapMM)
	assert.True(t, decimal.NewFromInt(12).Equal(entry.TotalCost))

	shared, err := f.fifo.IssueCuts(ctx, dependent, storage.CutUsage{CutLengthMM: 500, SharedPieceIDs: []int64{owned}}, "storekeeper", "fitter")
	require.NoError(t, err)
	assert.Empty(t, shared.PieceIDs)
	assert.Zero(t, shared.PieceCount)
	assert.Equal(t, []int64{owned}, shared.SharedPieceIDs)
	assert.Equal(t, 500, shared.TotalLengthMM)
	assert.True(t, shared.TotalCost.IsZero())

	req, err := f.store.GetRequisition(ctx, dependent)
	require.NoError(t, err)
	assert.Equal(t, storage.RequisitionIssued, req.Status)

	lone, _ := f.requisition(t, spec)
	_, err = f.fifo.IssueCuts(ctx, lone, storage.CutUsage{CutLengthMM: 500}, "storekeeper", "")
	assert.ErrorIs(t, err, storage.ErrValidation)
}
