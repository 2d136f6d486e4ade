package export

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cutting-erp/http-server/response"
)

type CutSheetGenerator interface {
	GenerateDraftExcel(ctx context.Context, draftID int64) ([]byte, error)
}

const contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func ExportDraftExcel(log *slog.Logger, gen CutSheetGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.draft.ExportDraftExcel"
		log := response.Logger(log, r, op)

		id, err := response.IDParam(r, "id")
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		excelBytes, err := gen.GenerateDraftExcel(r.Context(), id)
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		fileName := fmt.Sprintf("CutSheet_%d_%s.xlsx", id, time.Now().Format("2006-01-02_150405"))

		w.Header().Set("Content-Type", contentTypeXLSX)
		w.Header().Set("Content-Disposition", "attachment; filename="+fileName)
		if _, err := w.Write(excelBytes); err != nil {
			log.Error("failed to write cut sheet", slog.String("error", err.Error()))
		}
	}
}
