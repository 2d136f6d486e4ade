package get

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"cutting-erp/http-server/response"
	"cutting-erp/internal/service/draft"
	"cutting-erp/internal/storage"
)

type DraftReader interface {
	Get(ctx context.Context, id int64) (*storage.IssueWindowDraft, error)
	List(ctx context.Context, view draft.View) ([]storage.IssueWindowDraft, error)
}

type Response struct {
	response.Response
	Draft  *storage.IssueWindowDraft  `json:"draft,omitempty"`
	Drafts []storage.IssueWindowDraft `json:"drafts,omitempty"`
}

func GetDraft(log *slog.Logger, reader DraftReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.draft.GetDraft"
		log := response.Logger(log, r, op)

		id, err := response.IDParam(r, "id")
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		d, err := reader.Get(r.Context(), id)
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		render.JSON(w, r, Response{Response: response.OK(), Draft: d})
	}
}

// ListDrafts serves the planning view (open drafts) or, with
// ?view=issuance, the finalized and issued ones.
func ListDrafts(log *slog.Logger, reader DraftReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.draft.ListDrafts"
		log := response.Logger(log, r, op)

		view := draft.View(r.URL.Query().Get("view"))
		if view == "" {
			view = draft.ViewPlanning
		}

		drafts, err := reader.List(r.Context(), view)
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		render.JSON(w, r, Response{Response: response.OK(), Drafts: drafts})
	}
}
