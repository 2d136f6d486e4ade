package cutting

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cutting-erp/internal/storage"
)

type MockPlanStorage struct {
	mock.Mock
}

func (m *MockPlanStorage) GetRequisitions(ctx context.Context, ids []int64) ([]storage.MaterialRequisition, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.MaterialRequisition), args.Error(1)
}

func (m *MockPlanStorage) AvailablePiecesByFIFO(ctx context.Context, spec storage.MaterialSpec) ([]storage.MaterialPiece, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.MaterialPiece), args.Error(1)
}

type countingObserver struct {
	plans     int
	durations int
}

func (c *countingObserver) ObservePlan(storage.CuttingPlan)     { c.plans++ }
func (c *countingObserver) ObservePlanDuration(_ time.Duration) { c.durations++ }

func approvedReq(id int64, items ...storage.RequisitionItem) storage.MaterialRequisition {
	return storage.MaterialRequisition{ID: id, Status: storage.RequisitionApproved, Items: items}
}

func TestGeneratePlans_ThreePlansPerGroup(t *testing.T) {
	specM2 := storage.MaterialSpec{MaterialID: 2, Grade: "SS304", Diameter: 25}

	mockStorage := new(MockPlanStorage)
	mockStorage.On("GetRequisitions", mock.Anything, []int64{1, 2}).Return([]storage.MaterialRequisition{
		approvedReq(1, storage.RequisitionItem{ID: 11, MaterialSpec: specM1, RequiredLengthMM: 500, NumberOfPieces: 2}),
		approvedReq(2, storage.RequisitionItem{ID: 21, MaterialSpec: specM2, RequiredLengthMM: 900, NumberOfPieces: 1}),
	}, nil)
	mockStorage.On("AvailablePiecesByFIFO", mock.Anything, specM1).Return([]storage.MaterialPiece{piece(1, 1000, 0)}, nil)
	mockStorage.On("AvailablePiecesByFIFO", mock.Anything, specM2).Return([]storage.MaterialPiece{}, nil)

	observer := &countingObserver{}
	planner := NewPlanner(slog.Default(), mockStorage, observer)

	result, err := planner.GeneratePlans(context.Background(), []int64{2, 1, 2})

	require.NoError(t, err)
	require.Len(t, result, 2)

	assert.Equal(t, specM1, result[0].Spec)
	assert.Equal(t, 2, result[0].CutCount)
	assert.Equal(t, 1, result[0].PoolCount)
	require.Len(t, result[0].Plans, 3)
	for _, plan := range result[0].Plans {
		assert.True(t, plan.IsComplete)
		assert.Equal(t, 1, plan.TotalBars)
	}

	assert.Equal(t, specM2, result[1].Spec)
	for _, plan := range result[1].Plans {
		assert.False(t, plan.IsComplete)
	}

	assert.Equal(t, 6, observer.plans)
	assert.Equal(t, 1, observer.durations)
	mockStorage.AssertExpectations(t)
}

func TestGeneratePlans_NoIDs(t *testing.T) {
	mockStorage := new(MockPlanStorage)
	planner := NewPlanner(slog.Default(), mockStorage, &countingObserver{})

	_, err := planner.GeneratePlans(context.Background(), nil)

	assert.ErrorIs(t, err, storage.ErrValidation)
	mockStorage.AssertNotCalled(t, "GetRequisitions")
}

func TestGeneratePlans_MissingRequisition(t *testing.T) {
	mockStorage := new(MockPlanStorage)
	mockStorage.On("GetRequisitions", mock.Anything, []int64{1, 2}).Return([]storage.MaterialRequisition{approvedReq(1)}, nil)

	planner := NewPlanner(slog.Default(), mockStorage, &countingObserver{})
	_, err := planner.GeneratePlans(context.Background(), []int64{1, 2})

	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGeneratePlans_RequisitionNotApproved(t *testing.T) {
	mockStorage := new(MockPlanStorage)
	mockStorage.On("GetRequisitions", mock.Anything, []int64{1}).Return([]storage.MaterialRequisition{
		{ID: 1, Status: storage.RequisitionIssued},
	}, nil)

	planner := NewPlanner(slog.Default(), mockStorage, &countingObserver{})
	_, err := planner.GeneratePlans(context.Background(), []int64{1})

	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestGeneratePlans_PoolError(t *testing.T) {
	mockStorage := new(MockPlanStorage)
	mockStorage.On("GetRequisitions", mock.Anything, []int64{1}).Return([]storage.MaterialRequisition{
		approvedReq(1, storage.RequisitionItem{ID: 11, MaterialSpec: specM1, RequiredLengthMM: 500, NumberOfPieces: 1}),
	}, nil)
	mockStorage.On("AvailablePiecesByFIFO", mock.Anything, specM1).Return(nil, errors.New("connection reset"))

	planner := NewPlanner(slog.Default(), mockStorage, &countingObserver{})
	_, err := planner.GeneratePlans(context.Background(), []int64{1})

	assert.ErrorContains(t, err, "connection reset")
}
