package http

import (
	"github.com/Jarvis2021/gantry-sub000/internal/architect"
	"github.com/Jarvis2021/gantry-sub000/internal/evidence"
	"github.com/Jarvis2021/gantry-sub000/internal/mission"
	"github.com/Jarvis2021/gantry-sub000/internal/skills"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	// Reason explains a degraded status.
	Reason string `json:"reason,omitempty"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}

// CreateMissionRequest is the request body for POST /api/v1/missions.
type CreateMissionRequest struct {
	Prompt  string           `json:"prompt"`
	Deploy  bool             `json:"deploy"`
	Publish bool             `json:"publish"`
	History []architect.Turn `json:"conversation_history,omitempty"`
}

// CreateMissionResponse is returned once a mission is queued.
type CreateMissionResponse struct {
	MissionID string         `json:"mission_id"`
	Status    mission.Status `json:"status"`
}

// MissionListResponse wraps list and search results.
type MissionListResponse struct {
	Missions []*mission.Mission `json:"missions"`
	Count    int                `json:"count"`
}

// ClearResponse is the response body for DELETE /api/v1/missions.
type ClearResponse struct {
	Deleted int `json:"deleted"`
}

// EvidenceResponse describes the latest attempt of a mission.
type EvidenceResponse struct {
	MissionID string            `json:"mission_id"`
	Attempt   string            `json:"attempt"`
	Events    []evidence.Event  `json:"events"`
	Verdict   *evidence.Verdict `json:"verdict,omitempty"`
	Sealed    bool              `json:"sealed"`
	Seal      *evidence.Seal    `json:"seal,omitempty"`
}

// SkillListResponse is the response body for GET /api/v1/skills.
type SkillListResponse struct {
	Skills []skills.Info `json:"skills"`
}
