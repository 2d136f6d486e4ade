package save

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"cutting-erp/http-server/response"
	"cutting-erp/internal/middleware/auth"
	"cutting-erp/internal/service/draft"
	"cutting-erp/internal/storage"
)

type DraftSaver interface {
	Save(ctx context.Context, in draft.SaveInput) (storage.IssueWindowDraft, error)
}

type Request struct {
	RequisitionIDs []int64                 `json:"requisition_ids" validate:"required,min=1,dive,gt=0"`
	Bars           []storage.BarAssignment `json:"bars"`
	Version        int                     `json:"version" validate:"gte=0"`
	SavedBy        string                  `json:"saved_by"`
}

type Response struct {
	response.Response
	Draft *storage.IssueWindowDraft `json:"draft,omitempty"`
}

// SaveDraft creates or replaces the draft of a requisition set. Send the
// version you last read; 0 creates.
func SaveDraft(log *slog.Logger, saver DraftSaver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.draft.SaveDraft"
		log := response.Logger(log, r, op)

		var req Request
		if err := response.Decode(r, &req); err != nil {
			response.Fail(w, r, log, err)
			return
		}

		savedBy := req.SavedBy
		if login := auth.Login(r.Context()); login != "" {
			savedBy = login
		}

		d, err := saver.Save(r.Context(), draft.SaveInput{
			RequisitionIDs: req.RequisitionIDs,
			Bars:           req.Bars,
			Version:        req.Version,
			SavedBy:        savedBy,
		})
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		render.JSON(w, r, Response{Response: response.OK(), Draft: &d})
	}
}
