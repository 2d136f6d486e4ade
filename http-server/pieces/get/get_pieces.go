package get

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"cutting-erp/http-server/response"
	"cutting-erp/internal/storage"
)

type PiecePool interface {
	AvailablePiecesByFIFO(ctx context.Context, spec storage.MaterialSpec) ([]storage.MaterialPiece, error)
}

type Response struct {
	response.Response
	Pieces []storage.MaterialPiece `json:"pieces"`
}

// GetAvailablePieces lists the available pieces of one material spec, oldest
// first.
func GetAvailablePieces(log *slog.Logger, pool PiecePool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.pieces.GetAvailablePieces"
		log := response.Logger(log, r, op)

		spec, err := parseSpec(r)
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}

		pieces, err := pool.AvailablePiecesByFIFO(r.Context(), spec)
		if err != nil {
			response.Fail(w, r, log, err)
			return
		}
		if pieces == nil {
			pieces = []storage.MaterialPiece{}
		}

		render.JSON(w, r, Response{Response: response.OK(), Pieces: pieces})
	}
}

func parseSpec(r *http.Request) (storage.MaterialSpec, error) {
	q := r.URL.Query()

	materialID, err := strconv.ParseInt(q.Get("material_id"), 10, 64)
	if err != nil {
		return storage.MaterialSpec{}, fmt.Errorf("%w: material_id is required", storage.ErrValidation)
	}

	var diameter float64
	if raw := q.Get("diameter"); raw != "" {
		if diameter, err = strconv.ParseFloat(raw, 64); err != nil {
			return storage.MaterialSpec{}, fmt.Errorf("%w: invalid diameter %q", storage.ErrValidation, raw)
		}
	}

	spec := storage.MaterialSpec{MaterialID: materialID, Grade: q.Get("grade"), Diameter: diameter}
	if !spec.Valid() {
		return storage.MaterialSpec{}, fmt.Errorf("%w: invalid material spec %s", storage.ErrValidation, spec)
	}
	return spec, nil
}
