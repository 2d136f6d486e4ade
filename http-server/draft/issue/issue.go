package issue

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

type DraftIssuer interface {
	Issue(ctx context.Context, id int64, in draft.IssueInput) (*storage.DraftIssueReport, error)
}

type Request struct {
	ReceivedBy string `json:"received_by"`
}

type Response struct {
	response.Response
	Report *storage.DraftIssueReport `json:"report,omitempty"`
}

// IssueDraft runs the issuance of a finalized draft as the authenticated
// operator. The per-requisition report is returned even when some or all
// requisitions failed.
func IssueDraft(log *slog.Logger, issuer DraftIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.draft.IssueDraft"
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

		report, err := issuer.Issue(r.Context(), id, draft.IssueInput{
			IssuedBy:   auth.Login(r.Context()),
			ReceivedBy: req.ReceivedBy,
		})
		if err != nil && report == nil {
			response.Fail(w, r, log, err)
			return
		}

		resp := Response{Response: response.OK(), Report: report}
		if err != nil {
			code := response.StatusFor(err)
			log.Warn("draft issued with failures",
				slog.Int64("draft_id", id),
				slog.Int("succeeded", report.Succeeded),
				slog.Int("failed", report.Failed),
			)
			resp.Response = response.Error(err.Error())
			if code == http.StatusInternalServerError {
				resp.Response = response.Error("internal error")
			}
			render.Status(r, code)
		}

		render.JSON(w, r, resp)
	}
}
