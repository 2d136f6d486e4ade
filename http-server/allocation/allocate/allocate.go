package allocate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"cutting-erp/http-server/response"
	"cutting-erp/internal/service/allocation"
	"cutting-erp/internal/storage"
)

type Allocator interface {
	Allocate(ctx context.Context, req allocation.Request) (*storage.AllocationResult, error)
	Deallocate(ctx context.Context, requisitionID int64) (int, error)
}

type Request struct {
	MaterialID       int64   `json:"material_id" validate:"required,gt=0"`
	Grade            string  `json:"grade"`
	Diameter         float64 `json:"diameter" validate:"gte=0"`
	RequiredLengthMM int     `json:"required_length_mm" validate:"required,gt=0"`
}

type Response struct {
	response.Response
	Allocation *storage.AllocationResult `json:"allocation,omitempty"`
	Returned   int                       `json:"returned"`
}

// AllocateRequisition reserves whole pieces, oldest first, for a requisition.
func AllocateRequisition(log *slog.Logger, alloc Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.allocation.AllocateRequisition"
		log := response.Logger(log, r, op)

		id, err := response.IDParam(r, "id")
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		var req Request
		if err := response.Decode(r, &req); err != nil {
			response.Fail(w, r, log, err)
			return
		}

		res, err := alloc.Allocate(r.Context(), allocation.Request{
			RequisitionID:    id,
			Spec:             storage.MaterialSpec{MaterialID: req.MaterialID, Grade: req.Grade, Diameter: req.Diameter},
			RequiredLengthMM: req.RequiredLengthMM,
		})
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		render.JSON(w, r, Response{Response: response.OK(), Allocation: res})
	}
}

func DeallocateRequisition(log *slog.Logger, alloc Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.allocation.DeallocateRequisition"
		log := response.Logger(log, r, op)

		id, err := response.IDParam(r, "id")
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		n, err := alloc.Deallocate(r.Context(), id)
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		render.JSON(w, r, Response{Response: response.OK(), Returned: n})
	}
}
