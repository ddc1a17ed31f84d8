package api

import (
	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/inspection"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string                 `json:"state"`
	LastError   string                 `json:"last_error,omitempty"`
	Inspections map[string]int         `json:"inspections"`
	ActiveRuns  int                    `json:"active_runs"`
	Providers   []ProviderStatusReport `json:"providers"`
	Recommender string                 `json:"recommender"`
}

type ProviderStatusReport struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Available   bool   `json:"available"`
	Error       string `json:"error,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type FrameRequest struct {
	FrameNumber int     `json:"frame_number"`
	Timestamp   float64 `json:"timestamp"`
	Path        string  `json:"path,omitempty"`
	ImageBase64 string  `json:"image_base64,omitempty"`
}

type CreateInspectionRequest struct {
	Title  string         `json:"title"`
	Mode   string         `json:"mode,omitempty"`
	Frames []FrameRequest `json:"frames"`
}

type ScorecardResponse struct {
	Overall float64            `json:"overall_score"`
	Scores  map[string]float64 `json:"scores"`
}

type InspectionResponse struct {
	*inspection.Inspection
	Scorecard *ScorecardResponse `json:"scorecard,omitempty"`
}

type InspectionsResponse struct {
	Inspections []InspectionResponse `json:"inspections"`
}

type FindingsResponse struct {
	Findings []*inspection.Finding `json:"findings"`
}

type ActionItemsResponse struct {
	ActionItems []*inspection.ActionItem `json:"action_items"`
}

type ReviewFindingRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

type UpdateActionItemRequest struct {
	Status *string `json:"status,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func InspectionToResponse(insp *inspection.Inspection) InspectionResponse {
	resp := InspectionResponse{Inspection: insp}
	if insp.Scorecard != nil {
		resp.Scorecard = ScorecardToResponse(*insp.Scorecard)
	}
	return resp
}

func ScorecardToResponse(sc compliance.Scorecard) *ScorecardResponse {
	return &ScorecardResponse{Overall: sc.Overall, Scores: sc.ByName()}
}
