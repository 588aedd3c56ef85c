// package httpserver exposes the query facade, the import reports and the
// lineage log over HTTP, and lets operators trigger an import run.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agrimesh/refsync/internal/docstore"
	"github.com/agrimesh/refsync/internal/lineage"
	"github.com/agrimesh/refsync/internal/orchestrate"
	"github.com/agrimesh/refsync/internal/querysvc"
	"github.com/agrimesh/refsync/internal/report"
)

type Server struct {
	docs    docstore.Store
	queries *querysvc.Service
	reports *report.Service
	lin     lineage.Store
	runner  *orchestrate.Orchestrator

	// runMu serializes import runs; only one may be in flight.
	runMu sync.Mutex
}

func New(docs docstore.Store, queries *querysvc.Service, reports *report.Service, lin lineage.Store, runner *orchestrate.Orchestrator) *Server {
	return &Server{
		docs:    docs,
		queries: queries,
		reports: reports,
		lin:     lin,
		runner:  runner,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/collections", s.handleCollections)
	r.Get("/query/{collection}", s.handleQuery)
	r.Get("/imports", s.handleListImports)
	r.Get("/imports/{id}", s.handleGetImport)
	r.Post("/imports", s.handleStartImport)
	r.Get("/lineage/{collection}/{id}", s.handleLineage)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.docs.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = "down"
		status["error"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["db"] = "up"
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"collections": s.queries.Collections(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, err := pageParam(q.Get("skip"), 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "REFSYNC_BAD_REQUEST", "skip must be a non-negative integer")
		return
	}
	top, err := pageParam(q.Get("top"), 1)
	if err != nil {
		respondError(w, http.StatusBadRequest, "REFSYNC_BAD_REQUEST", "top must be a positive integer")
		return
	}
	req := querysvc.Request{
		Collection: chi.URLParam(r, "collection"),
		Filter:     q.Get("filter"),
		OrderBy:    q.Get("orderBy"),
		Select:     q.Get("select"),
		Skip:       skip,
		Top:        top,
		Count:      q.Get("count") == "true",
	}
	res, err := s.queries.Execute(r.Context(), req)
	if err != nil {
		var qerr *querysvc.QueryError
		if errors.As(err, &qerr) {
			respondError(w, http.StatusBadRequest, "REFSYNC_BAD_REQUEST", qerr.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "REFSYNC_INTERNAL", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reports, err := s.reports.ImportSummaries(r.Context(), intParam(q.Get("skip")), intParam(q.Get("top")))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "REFSYNC_INTERNAL", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"imports": reports,
		"count":   len(reports),
	})
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			respondError(w, http.StatusNotFound, "REFSYNC_NOT_FOUND", "import not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "REFSYNC_INTERNAL", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusServiceUnavailable, "REFSYNC_UNAVAILABLE", "import runner not configured")
		return
	}
	if !s.runMu.TryLock() {
		respondError(w, http.StatusConflict, "REFSYNC_CONFLICT", "an import is already running")
		return
	}
	importID := report.NewImportID()
	go func() {
		defer s.runMu.Unlock()
		// Detached from the request so the run survives the client going away.
		if _, err := s.runner.Run(context.Background(), importID); err != nil {
			log.Printf("[httpserver] import %s failed: %v", importID, err)
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]string{
		"importId": importID,
		"status":   string(report.StatusStarted),
	})
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	recordID := chi.URLParam(r, "id")
	q := r.URL.Query()

	skip := intParam(q.Get("skip"))
	top := intParam(q.Get("top"))
	if top > 0 || skip > 0 {
		page, err := s.lin.GetLifecyclePage(r.Context(), collection, recordID, skip, top)
		if err != nil {
			respondLineageError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, page)
		return
	}

	lc, err := s.lin.GetLifecycle(r.Context(), collection, recordID)
	if err != nil {
		respondLineageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lc)
}

func respondLineageError(w http.ResponseWriter, err error) {
	if errors.Is(err, lineage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "REFSYNC_NOT_FOUND", "no lineage for record")
		return
	}
	respondError(w, http.StatusInternalServerError, "REFSYNC_INTERNAL", err.Error())
}

func intParam(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// pageParam parses a paging query value. An absent value is zero (unset);
// a present value must parse and be at least min.
func pageParam(v string, min int) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid paging value %q", v)
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
		"code":  code,
	})
}
