package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/inspection"
)

// maxCreateBody bounds POST /inspections, which may carry base64 frames.
const maxCreateBody = 64 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Config, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Route("/inspections", func(r chi.Router) {
			r.Post("/", createInspectionHandler(cfg))
			r.Get("/", listInspectionsHandler(cfg))
			r.Get("/{id}", getInspectionHandler(cfg))
			r.Get("/{id}/findings", listFindingsHandler(cfg))
			r.Get("/{id}/action-items", listActionItemsHandler(cfg))
			r.Post("/{id}/reprocess", reprocessHandler(cfg))
		})

		r.Post("/findings/{id}/review", reviewFindingHandler(cfg))
		r.Patch("/action-items/{id}", updateActionItemHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		counts, err := cfg.Service.CountByStatus(ctx)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := StatusResponse{
			State:       "idle",
			Inspections: make(map[string]int, len(counts)),
			Providers:   make([]ProviderStatusReport, 0, len(cfg.Providers)),
			Recommender: cfg.Recommender,
		}
		for st, n := range counts {
			resp.Inspections[string(st)] = n
		}

		if cfg.Runner != nil {
			resp.ActiveRuns = cfg.Runner.ActiveCount()
			switch {
			case cfg.Runner.IsPaused():
				resp.State = "paused"
			case resp.ActiveRuns > 0:
				resp.State = "processing"
			}
		}

		if resp.State == "idle" && counts[inspection.StatusFailed] > 0 {
			failed, err := cfg.Service.List(ctx, inspection.ListFilter{Status: inspection.StatusFailed, Limit: 1})
			if err == nil && len(failed) > 0 {
				resp.State = "error"
				resp.LastError = failed[0].ErrorMessage
			}
		}

		for _, p := range cfg.Providers {
			report := ProviderStatusReport{Name: p.Name, Enabled: p.Enabled, Available: p.Enabled}
			if p.Enabled && p.Health != nil {
				h := p.Health.Get(ctx)
				report.Available = h.OK
				report.Error = h.Err
				if !h.ProbedAt.IsZero() {
					report.LastProbeAt = h.ProbedAt.UTC().Format(time.RFC3339)
				}
			}
			resp.Providers = append(resp.Providers, report)
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func createInspectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateInspectionRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		mode, err := inspection.ParseMode(req.Mode)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		frames := make([]inspection.FrameInput, 0, len(req.Frames))
		for _, f := range req.Frames {
			in := inspection.FrameInput{Number: f.FrameNumber, Timestamp: f.Timestamp, Path: f.Path}
			if f.ImageBase64 != "" {
				data, err := base64.StdEncoding.DecodeString(f.ImageBase64)
				if err != nil {
					WriteError(w, http.StatusBadRequest, fmt.Sprintf("frame %d: invalid image_base64", f.FrameNumber), "BAD_REQUEST")
					return
				}
				in.Data = data
			}
			frames = append(frames, in)
		}

		insp, err := cfg.Service.Create(r.Context(), inspection.CreateRequest{
			Title:  req.Title,
			Mode:   mode,
			Frames: frames,
		})
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, InspectionToResponse(insp))
	}
}

func listInspectionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter inspection.ListFilter

		if s := q.Get("status"); s != "" {
			st, err := inspection.ParseStatus(s)
			if err != nil {
				writeServiceError(w, cfg.Logger, err)
				return
			}
			filter.Status = st
		}
		if m := q.Get("mode"); m != "" {
			mode, err := inspection.ParseMode(m)
			if err != nil {
				writeServiceError(w, cfg.Logger, err)
				return
			}
			filter.Mode = mode
		}
		if l := q.Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			filter.Limit = n
		}

		list, err := cfg.Service.List(r.Context(), filter)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := InspectionsResponse{Inspections: make([]InspectionResponse, len(list))}
		for i, insp := range list {
			resp.Inspections[i] = InspectionToResponse(insp)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getInspectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		insp, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, InspectionToResponse(insp))
	}
}

func listFindingsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fs, err := cfg.Service.Findings(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if fs == nil {
			fs = []*inspection.Finding{}
		}
		WriteJSON(w, http.StatusOK, FindingsResponse{Findings: fs})
	}
}

func listActionItemsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := cfg.Service.ActionItems(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if items == nil {
			items = []*inspection.ActionItem{}
		}
		WriteJSON(w, http.StatusOK, ActionItemsResponse{ActionItems: items})
	}
}

func reprocessHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		insp, err := cfg.Service.Reprocess(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, InspectionToResponse(insp))
	}
}

func reviewFindingHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReviewFindingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		f, err := cfg.Service.ReviewFinding(r.Context(), chi.URLParam(r, "id"), inspection.ReviewDecision(req.Decision), req.Reason)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, f)
	}
}

func updateActionItemHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateActionItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Status == nil && req.Notes == nil {
			WriteError(w, http.StatusBadRequest, "status or notes is required", "BAD_REQUEST")
			return
		}

		upd := inspection.ActionItemUpdate{Notes: req.Notes}
		if req.Status != nil {
			st, err := compliance.ParseActionStatus(*req.Status)
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			upd.Status = &st
		}

		it, err := cfg.Service.UpdateActionItem(r.Context(), chi.URLParam(r, "id"), upd)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, it)
	}
}
