package main

import (
	"log/slog"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	allocate "cutting-erp/http-server/allocation/allocate"
	issuereq "cutting-erp/http-server/allocation/issue"
	"cutting-erp/http-server/cutting-plan/generate"
	"cutting-erp/http-server/draft/export"
	getdraft "cutting-erp/http-server/draft/get"
	issuedraft "cutting-erp/http-server/draft/issue"
	savedraft "cutting-erp/http-server/draft/save"
	updatedraft "cutting-erp/http-server/draft/update"
	getpieces "cutting-erp/http-server/pieces/get"
	"cutting-erp/internal/config"
	"cutting-erp/internal/middleware/auth"
	"cutting-erp/internal/service/allocation"
	"cutting-erp/internal/service/cutting"
	"cutting-erp/internal/service/draft"
	generate_excel "cutting-erp/internal/service/generate-excel"
)

type services struct {
	planner *cutting.Planner
	pool    getpieces.PiecePool
	fifo    *allocation.FifoAllocator
	drafts  *draft.Service
	excel   *generate_excel.GenerateExcelService
	metrics interface{ Handler() http.Handler }
}

func routes(cfg config.Config, log *slog.Logger, svc services) *chi.Mux {
	router := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	router.Use(corsHandler.Handler)

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Handle("/metrics", svc.metrics.Handler())

	// storekeepers plus the admin account may issue material
	operators := make(map[string]string, len(cfg.Operators)+1)
	maps.Copy(operators, cfg.Operators)
	if cfg.AdminLogin != "" {
		operators[cfg.AdminLogin] = cfg.AdminPass
	}
	requireOperator := auth.BasicAuth(operators)

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Cutting.RequestTimeout))

		r.Post("/cutting/plans", generate.GenerateCuttingPlans(log, svc.planner))
		r.Get("/pieces", getpieces.GetAvailablePieces(log, svc.pool))

		r.Route("/requisitions/{id}", func(r chi.Router) {
			r.Post("/allocate", allocate.AllocateRequisition(log, svc.fifo))
			r.Post("/deallocate", allocate.DeallocateRequisition(log, svc.fifo))
			r.With(requireOperator).Post("/issue", issuereq.IssueRequisition(log, svc.fifo))
		})

		r.Route("/drafts", func(r chi.Router) {
			r.Get("/", getdraft.ListDrafts(log, svc.drafts))
			r.Post("/", savedraft.SaveDraft(log, svc.drafts))
			r.Get("/{id}", getdraft.GetDraft(log, svc.drafts))
			r.Delete("/{id}", updatedraft.DeleteDraft(log, svc.drafts))
			r.Post("/{id}/finalize", updatedraft.FinalizeDraft(log, svc.drafts))
			r.With(requireOperator).Post("/{id}/issue", issuedraft.IssueDraft(log, svc.drafts))
			r.Get("/{id}/excel", export.ExportDraftExcel(log, svc.excel))
		})
	})

	return router
}
