package update

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"cutting-erp/http-server/response"
	"cutting-erp/internal/storage"
)

type DraftUpdater interface {
	Finalize(ctx context.Context, id int64) (*storage.IssueWindowDraft, error)
	Delete(ctx context.Context, id int64) error
}

type Response struct {
	response.Response
	Draft *storage.IssueWindowDraft `json:"draft,omitempty"`
}

func FinalizeDraft(log *slog.Logger, upd DraftUpdater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.draft.FinalizeDraft"
		log := response.Logger(log, r, op)

		id, err := response.IDParam(r, "id")
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		d, err := upd.Finalize(r.Context(), id)
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		render.JSON(w, r, Response{Response: response.OK(), Draft: d})
	}
}

// DeleteDraft discards a draft that has not been finalized.
func DeleteDraft(log *slog.Logger, upd DraftUpdater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.draft.DeleteDraft"
		log := response.Logger(log, r, op)

		id, err := response.IDParam(r, "id")
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		if err := upd.Delete(r.Context(), id); err != nil {
			response.Fail(w, r, log, err)
			return
		}

		render.JSON(w, r, response.OK())
	}
}
