package generate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"cutting-erp/http-server/response"
	"cutting-erp/internal/storage"
)

type PlanGenerator interface {
	GeneratePlans(ctx context.Context, requisitionIDs []int64) ([]storage.MaterialPlans, error)
}

type Request struct {
	RequisitionIDs []int64 `json:"requisition_ids" validate:"required,min=1,dive,gt=0"`
}

type Response struct {
	response.Response
	Groups []storage.MaterialPlans `json:"groups"`
}

// GenerateCuttingPlans returns the three strategy plans for every material
// group of the selected requisitions.
func GenerateCuttingPlans(log *slog.Logger, gen PlanGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.cutting_plan.GenerateCuttingPlans"
		log := response.Logger(log, r, op)

		var req Request
		if err := response.Decode(r, &req); err != nil {
			response.Fail(w, r, log, err)
			return
		}

		groups, err := gen.GeneratePlans(r.Context(), req.RequisitionIDs)
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		render.JSON(w, r, Response{Response: response.OK(), Groups: groups})
	}
}
