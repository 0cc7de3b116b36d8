package api

import (
	"encoding/json"
	"time"

	"lectern/internal/resultcache"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// HealthResponse reports server readiness.
type HealthResponse struct {
	Status     string   `json:"status"`
	Stages     []string `json:"stages"`
	ActiveRuns int      `json:"activeRuns"`
}

// ArchiveListResponse lists archives with cached results.
type ArchiveListResponse struct {
	Archives []string `json:"archives"`
}

// StageSummary is the cache state of one stage.
type StageSummary struct {
	Stage          string `json:"stage"`
	Versions       int    `json:"versions"`
	LatestVersion  int    `json:"latestVersion"`
	CurrentVersion int    `json:"currentVersion"`
	Pinned         bool   `json:"pinned"`
	ModelName      string `json:"modelName,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

// StageSummaryResponse wraps the summaries of one archive.
type StageSummaryResponse struct {
	ArchivePath string         `json:"archivePath"`
	Stages      []StageSummary `json:"stages"`
}

// VersionInfo describes one cached version.
type VersionInfo struct {
	Version   int    `json:"version"`
	ModelName string `json:"modelName,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	Size      int    `json:"size"`
	Current   bool   `json:"current"`
}

// VersionListResponse lists the versions of one stage.
type VersionListResponse struct {
	ArchivePath string        `json:"archivePath"`
	Stage       string        `json:"stage"`
	Versions    []VersionInfo `json:"versions"`
}

// CacheEntryResponse carries one stored payload.
type CacheEntryResponse struct {
	ArchivePath string          `json:"archivePath"`
	Stage       string          `json:"stage"`
	Version     int             `json:"version"`
	ModelName   string          `json:"modelName,omitempty"`
	CreatedAt   string          `json:"createdAt"`
	Payload     json.RawMessage `json:"payload"`
}

// RollbackRequest selects the version a stage should load by default.
type RollbackRequest struct {
	ArchivePath string `json:"archivePath"`
	Stage       string `json:"stage"`
	Version     int    `json:"version"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

func fromStageSummary(s resultcache.StageSummary) StageSummary {
	return StageSummary{
		Stage:          string(s.Stage),
		Versions:       s.Versions,
		LatestVersion:  s.LatestVersion,
		CurrentVersion: s.CurrentVersion,
		Pinned:         s.Pinned,
		ModelName:      s.ModelName,
		UpdatedAt:      formatTime(s.UpdatedAt),
	}
}

func fromVersionInfo(v resultcache.VersionInfo) VersionInfo {
	return VersionInfo{
		Version:   v.Version,
		ModelName: v.ModelName,
		CreatedAt: formatTime(v.CreatedAt),
		Size:      v.Size,
		Current:   v.Current,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
