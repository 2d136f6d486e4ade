package issue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"cutting-erp/http-server/response"
	"cutting-erp/internal/middleware/auth"
	"cutting-erp/internal/storage"
)

type Issuer interface {
	IssueAll(ctx context.Context, requisitionID int64, jobCardID *int64, issuedBy, receivedBy string) (*storage.IssuanceEntry, error)
}

type Request struct {
	JobCardID  *int64 `json:"job_card_id" validate:"omitempty,gt=0"`
	ReceivedBy string `json:"received_by"`
}

type Response struct {
	response.Response
	Issuance *storage.IssuanceEntry `json:"issuance,omitempty"`
}

// IssueRequisition hands every allocated piece of the requisition to the
// shop floor. The authenticated operator is recorded as issuer.
func IssueRequisition(log *slog.Logger, issuer Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.allocation.IssueRequisition"
		log := response.Logger(log, r, op)

		id, err := response.IDParam(r, "id")
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		var req Request
		if r.ContentLength != 0 {
			if err := response.Decode(r, &req); err != nil {
				response.Fail(w, r, log, err)
				return
			}
		}

		issuedBy := auth.Login(r.Context())
		if issuedBy == "" {
			response.Fail(w, r, log, fmt.Errorf("%w: operator is not authenticated", storage.ErrValidation))
			return
		}

		entry, err := issuer.IssueAll(r.Context(), id, req.JobCardID, issuedBy, req.ReceivedBy)
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		render.JSON(w, r, Response{Response: response.OK(), Issuance: entry})
	}
}
