package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/render"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cutting-erp/internal/config"
	"cutting-erp/internal/events"
	"cutting-erp/internal/metrics"
	"cutting-erp/internal/storage"
	"cutting-erp/internal/storage/memory"
)

type apiResponse struct {
	Status string                     `json:"status"`
	Error  string                     `json:"error"`
	Draft  *storage.IssueWindowDraft  `json:"draft"`
	Drafts []storage.IssueWindowDraft `json:"drafts"`
	Report *storage.DraftIssueReport  `json:"report"`
	Groups []storage.MaterialPlans    `json:"groups"`
}

type testServer struct {
	store  *memory.Storage
	router http.Handler
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	cfg := config.Config{
		AdminLogin:  "admin",
		AdminPass:   "admin",
		Operators:   map[string]string{"storekeeper": "secret"},
		CORSOrigins: []string{"http://localhost:5173"},
		Cutting:     config.Cutting{ScrapThresholdMM: storage.ScrapThresholdMM, RequestTimeout: 5 * time.Second},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()

	return testServer{
		store:  st,
		router: routes(cfg, log, newServices(log, st, events.Nop{}, metrics.New())),
	}
}

func (s testServer) do(t *testing.T, method, path, body string, auth ...string) (int, apiResponse) {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	var resp apiResponse
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, render.DecodeJSON(rr.Body, &resp))
	}
	return rr.Code, resp
}

var spec = storage.MaterialSpec{MaterialID: 1, Grade: "EN8", Diameter: 40}

func (s testServer) seed() (reqID, itemID, pieceID int64) {
	pieceID = s.store.AddPiece(storage.MaterialPiece{
		MaterialSpec:    spec,
		CurrentLengthMM: 1000,
		ReceivedAt:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		UnitCost:        decimal.RequireFromString("12.50"),
	})
	reqID = s.store.AddRequisition(storage.MaterialRequisition{
		ReqNo:  "MR-1",
		Status: storage.RequisitionApproved,
		Items: []storage.RequisitionItem{
			{MaterialSpec: spec, PartName: "shaft", RequiredLengthMM: 600, NumberOfPieces: 1},
		},
	})
	r, _ := s.store.GetRequisition(context.Background(), reqID)
	return reqID, r.Items[0].ID, pieceID
}

func TestRoutes_Metrics(t *testing.T) {
	srv := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestRoutes_IssueRequiresOperator(t *testing.T) {
	srv := newTestServer(t)

	code, _ := srv.do(t, http.MethodPost, "/api/drafts/1/issue", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = srv.do(t, http.MethodPost, "/api/requisitions/1/issue", "", "storekeeper", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = srv.do(t, http.MethodPost, "/api/drafts/1/issue", "", "admin", "admin")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRoutes_DraftLifecycle(t *testing.T) {
	srv := newTestServer(t)
	reqID, itemID, pieceID := srv.seed()

	code, resp := srv.do(t, http.MethodPost, "/api/cutting/plans", fmt.Sprintf(`{"requisition_ids":[%d]}`, reqID))
	require.Equal(t, http.StatusOK, code, resp.Error)
	require.Len(t, resp.Groups, 1)

	body := fmt.Sprintf(`{
		"requisition_ids": [%d],
		"version": 0,
		"saved_by": "planner",
		"bars": [{"piece_id": %d, "bar_length_mm": 1000, "cuts": [
			{"requisition_id": %d, "requisition_item_id": %d, "cut_index": 1, "cut_length_mm": 600, "material_id": 1}
		]}]
	}`, reqID, pieceID, reqID, itemID)

	code, resp = srv.do(t, http.MethodPost, "/api/drafts", body)
	require.Equal(t, http.StatusOK, code, resp.Error)
	draftID := resp.Draft.ID
	assert.Equal(t, 400, resp.Draft.Bars[0].RemainingMM)

	code, resp = srv.do(t, http.MethodGet, "/api/drafts?view=planning", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Drafts, 1)

	code, _ = srv.do(t, http.MethodPost, fmt.Sprintf("/api/drafts/%d/finalize", draftID), "")
	require.Equal(t, http.StatusOK, code)

	code, _ = srv.do(t, http.MethodDelete, fmt.Sprintf("/api/drafts/%d", draftID), "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = srv.do(t, http.MethodPost, fmt.Sprintf("/api/drafts/%d/issue", draftID),
		`{"received_by":"shop-2"}`, "storekeeper", "secret")
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, storage.DraftIssued, resp.Report.Status)
	assert.Equal(t, 1, resp.Report.Succeeded)
	require.Len(t, resp.Report.Remnants, 1)

	remnant, err := srv.store.GetPiece(context.Background(), resp.Report.Remnants[0])
	require.NoError(t, err)
	assert.Equal(t, 400, remnant.CurrentLengthMM)
	assert.Equal(t, storage.PieceAvailable, remnant.Status)

	req, err := srv.store.GetRequisition(context.Background(), reqID)
	require.NoError(t, err)
	assert.Equal(t, storage.RequisitionIssued, req.Status)
	assert.Equal(t, "storekeeper", req.IssuedBy)

	code, resp = srv.do(t, http.MethodGet, "/api/drafts?view=issuance", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Drafts, 1)
	assert.Equal(t, "storekeeper", resp.Drafts[0].IssuedBy)

	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/drafts/%d/excel", draftID), nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotZero(t, rr.Body.Len())
}
