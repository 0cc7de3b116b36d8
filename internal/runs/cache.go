package runs

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"lectern/internal/logging"
	"lectern/internal/pipeline"
	"lectern/internal/resultcache"
	"lectern/internal/services"
)

// CacheEntry is a cached result prepared for display.
type CacheEntry struct {
	ArchivePath string             `json:"archive_path"`
	Stage       pipeline.StageName `json:"stage"`
	Version     int                `json:"version"`
	ModelName   string             `json:"model_name,omitempty"`
	CreatedAt   string             `json:"created_at"`
	Payload     json.RawMessage    `json:"payload"`
}

// Archives lists archive paths with cached results.
func (s *Service) Archives(ctx context.Context) ([]string, error) {
	if err := s.requireCache(); err != nil {
		return nil, err
	}
	return s.cache.ArchivePaths(ctx)
}

// Summaries reports the cache state of every stage of one archive.
func (s *Service) Summaries(ctx context.Context, archivePath string) ([]resultcache.StageSummary, error) {
	if err := s.requireCache(); err != nil {
		return nil, err
	}
	path, err := cleanArchivePath(archivePath)
	if err != nil {
		return nil, err
	}
	return s.cache.Summaries(ctx, path)
}

// Versions lists the cached versions of one stage.
func (s *Service) Versions(ctx context.Context, archivePath string, stage pipeline.StageName) ([]resultcache.VersionInfo, error) {
	if err := s.requireCache(); err != nil {
		return nil, err
	}
	path, err := cleanArchivePath(archivePath)
	if err != nil {
		return nil, err
	}
	return s.cache.Versions(ctx, path, stage)
}

// Show loads one cached result; version 0 selects the current version.
func (s *Service) Show(ctx context.Context, archivePath string, stage pipeline.StageName, version int) (CacheEntry, error) {
	if err := s.requireCache(); err != nil {
		return CacheEntry{}, err
	}
	path, err := cleanArchivePath(archivePath)
	if err != nil {
		return CacheEntry{}, err
	}
	entry, found, err := s.cache.Load(ctx, path, stage, version)
	if err != nil {
		return CacheEntry{}, err
	}
	if !found {
		return CacheEntry{}, services.Wrap(services.ErrNotFound, string(stage), "show cache", "no cached result for "+path, nil)
	}
	return CacheEntry{
		ArchivePath: entry.ArchivePath,
		Stage:       entry.Stage,
		Version:     entry.Version,
		ModelName:   entry.ModelName,
		CreatedAt:   entry.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		Payload:     entry.Payload,
	}, nil
}

// Rollback points stage at version. It fails with archivelock.ErrLocked
// while a run holds the archive.
func (s *Service) Rollback(ctx context.Context, archivePath string, stage pipeline.StageName, version int) error {
	if err := s.requireCache(); err != nil {
		return err
	}
	path, err := cleanArchivePath(archivePath)
	if err != nil {
		return err
	}
	handle, err := s.locker.TryAcquire(path)
	if err != nil {
		return err
	}
	defer func() { _ = handle.Release() }()

	if err := s.cache.SetCurrentVersion(ctx, path, stage, version); err != nil {
		return err
	}
	s.logger.Info("cache rolled back",
		logging.String(logging.FieldEventType, "cache_rollback"),
		logging.String(logging.FieldArchivePath, path),
		logging.String(logging.FieldStage, string(stage)),
		logging.Int("version", version),
	)
	return nil
}

func (s *Service) requireCache() error {
	if s.cache == nil {
		return services.Wrap(services.ErrConfiguration, "", "cache", "result cache is not open", nil)
	}
	return nil
}

func cleanArchivePath(archivePath string) (string, error) {
	trimmed := strings.TrimSpace(archivePath)
	if trimmed == "" {
		return "", services.Wrap(services.ErrValidation, "", "cache", "archive path is required", nil)
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "", "cache", "resolve archive path", err)
	}
	return abs, nil
}
