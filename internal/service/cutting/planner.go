package cutting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"cutting-erp/internal/storage"
)

type PlanStorage interface {
	GetRequisitions(ctx context.Context, ids []int64) ([]storage.MaterialRequisition, error)
	AvailablePiecesByFIFO(ctx context.Context, spec storage.MaterialSpec) ([]storage.MaterialPiece, error)
}

type PlanObserver interface {
	ObservePlan(plan storage.CuttingPlan)
	ObservePlanDuration(d time.Duration)
}

type Planner struct {
	log      *slog.Logger
	storage  PlanStorage
	observer PlanObserver
}

func NewPlanner(log *slog.Logger, storage PlanStorage, observer PlanObserver) *Planner {
	return &Planner{log: log, storage: storage, observer: observer}
}

// GeneratePlans aggregates the cut demand of the given approved requisitions
// and returns the three alternative plans for every material group. Nothing is
// written; the plans are advisory until captured by a draft.
func (p *Planner) GeneratePlans(ctx context.Context, requisitionIDs []int64) ([]storage.MaterialPlans, error) {
	const op = "service.cutting.GeneratePlans"

	started := time.Now()

	ids := storage.NormalizeIDs(requisitionIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w: no requisitions given", op, storage.ErrValidation)
	}

	requisitions, err := p.storage.GetRequisitions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: load requisitions: %w", op, err)
	}

	if err := checkApproved(ids, requisitions); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	demand := Aggregate(requisitions)
	result := make([]storage.MaterialPlans, len(demand))

	g, gCtx := errgroup.WithContext(ctx)
	for i, group := range demand {
		g.Go(func() error {
			pool, err := p.storage.AvailablePiecesByFIFO(gCtx, group.Spec)
			if err != nil {
				return fmt.Errorf("pool %s: %w", group.Spec, err)
			}

			result[i] = storage.MaterialPlans{
				Spec:      group.Spec,
				CutCount:  len(group.Cuts),
				PoolCount: len(pool),
				Plans:     Optimize(group.Spec, group.Cuts, pool),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, mp := range result {
		for _, plan := range mp.Plans {
			p.observer.ObservePlan(plan)
			if !plan.IsComplete {
				p.log.Warn("plan leaves cuts unassigned",
					slog.String("op", op),
					slog.String("spec", mp.Spec.String()),
					slog.String("strategy", string(plan.Strategy)),
					slog.Int("unassigned", len(plan.Unassigned)),
				)
			}
		}
	}
	p.observer.ObservePlanDuration(time.Since(started))

	p.log.Info("cutting plans generated",
		slog.String("op", op),
		slog.Int("requisitions", len(ids)),
		slog.Int("material_groups", len(result)),
	)

	return result, nil
}

func checkApproved(ids []int64, requisitions []storage.MaterialRequisition) error {
	found := make(map[int64]storage.RequisitionStatus, len(requisitions))
	for _, r := range requisitions {
		found[r.ID] = r.Status
	}

	for _, id := range ids {
		status, ok := found[id]
		if !ok {
			return fmt.Errorf("%w: requisition %d", storage.ErrNotFound, id)
		}
		if status != storage.RequisitionApproved {
			return fmt.Errorf("%w: requisition %d is %s, not approved", storage.ErrValidation, id, status)
		}
	}

	return nil
}
