package resultcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lectern/internal/pipeline"
	"lectern/internal/services"
)

// ErrVersionNotFound reports an explicit version that was never saved.
var ErrVersionNotFound = fmt.Errorf("%w: cache version", services.ErrNotFound)

// Entry is one immutable cached stage result.
type Entry struct {
	ArchivePath string
	Stage       pipeline.StageName
	Version     int
	ModelName   string
	CreatedAt   time.Time
	Payload     json.RawMessage
}

// VersionInfo describes a cached version without its payload.
type VersionInfo struct {
	Version   int       `json:"version"`
	ModelName string    `json:"model_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Size      int       `json:"size"`
	Current   bool      `json:"current"`
}

// StageSummary aggregates the cache state of one stage for an archive.
type StageSummary struct {
	Stage          pipeline.StageName `json:"stage"`
	Versions       int                `json:"versions"`
	LatestVersion  int                `json:"latest_version"`
	CurrentVersion int                `json:"current_version"`
	Pinned         bool               `json:"pinned"`
	ModelName      string             `json:"model_name,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Save stores payload as a new version for (archivePath, stage) and returns
// the assigned version, one past the highest existing version. Existing
// versions are never modified. A new save also clears any pinned current
// version so the fresh result becomes the default.
func (s *Store) Save(ctx context.Context, archivePath string, stage pipeline.StageName, payload any, modelName string) (int, error) {
	if err := validateKey(archivePath, stage); err != nil {
		return 0, err
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("cache save %s: %w", stage, err)
	}

	var version int
	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM stage_results WHERE archive_path = ? AND stage = ?`,
			archivePath, string(stage),
		).Scan(&version); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage_results (archive_path, stage, version, model_name, created_at, payload)
             VALUES (?, ?, ?, ?, ?, ?)`,
			archivePath, string(stage), version, nullableString(modelName),
			time.Now().UTC().Format(time.RFC3339Nano), []byte(encoded),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM current_versions WHERE archive_path = ? AND stage = ?`,
			archivePath, string(stage),
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("cache save %s: %w", stage, err)
	}
	return version, nil
}

// Load returns a cached entry. With version <= 0 it returns the pinned current
// version, or the highest version when nothing is pinned; found is false when
// the stage has no cached versions. An explicit version that does not exist
// fails with ErrVersionNotFound.
func (s *Store) Load(ctx context.Context, archivePath string, stage pipeline.StageName, version int) (Entry, bool, error) {
	if err := validateKey(archivePath, stage); err != nil {
		return Entry{}, false, err
	}
	if version > 0 {
		entry, err := s.loadExact(ctx, archivePath, stage, version)
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, fmt.Errorf("%w: %s version %d for %s", ErrVersionNotFound, stage, version, archivePath)
		}
		if err != nil {
			return Entry{}, false, err
		}
		return entry, true, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT r.version, r.model_name, r.created_at, r.payload
           FROM stage_results r
           LEFT JOIN current_versions c
             ON c.archive_path = r.archive_path AND c.stage = r.stage
          WHERE r.archive_path = ? AND r.stage = ?
            AND (c.version IS NULL OR c.version = r.version)
          ORDER BY r.version DESC
          LIMIT 1`,
		archivePath, string(stage),
	)
	entry, err := scanEntry(row, archivePath, stage)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache load %s: %w", stage, err)
	}
	return entry, true, nil
}

func (s *Store) loadExact(ctx context.Context, archivePath string, stage pipeline.StageName, version int) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, model_name, created_at, payload
           FROM stage_results
          WHERE archive_path = ? AND stage = ? AND version = ?`,
		archivePath, string(stage), version,
	)
	return scanEntry(row, archivePath, stage)
}

// SetCurrentVersion pins which version Load returns by default. History is
// left untouched, so this is how a stage is rolled back.
func (s *Store) SetCurrentVersion(ctx context.Context, archivePath string, stage pipeline.StageName, version int) error {
	if err := validateKey(archivePath, stage); err != nil {
		return err
	}
	if version <= 0 {
		return services.Wrap(services.ErrValidation, string(stage), "set current version", fmt.Sprintf("invalid version %d", version), nil)
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM stage_results WHERE archive_path = ? AND stage = ? AND version = ?`,
			archivePath, string(stage), version,
		).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s version %d for %s", ErrVersionNotFound, stage, version, archivePath)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO current_versions (archive_path, stage, version, updated_at)
             VALUES (?, ?, ?, ?)
             ON CONFLICT (archive_path, stage) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
			archivePath, string(stage), version, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Versions lists every cached version for a stage, oldest first.
func (s *Store) Versions(ctx context.Context, archivePath string, stage pipeline.StageName) ([]VersionInfo, error) {
	if err := validateKey(archivePath, stage); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.version, r.model_name, r.created_at, LENGTH(r.payload), c.version
           FROM stage_results r
           LEFT JOIN current_versions c
             ON c.archive_path = r.archive_path AND c.stage = r.stage
          WHERE r.archive_path = ? AND r.stage = ?
          ORDER BY r.version ASC`,
		archivePath, string(stage),
	)
	if err != nil {
		return nil, fmt.Errorf("cache versions %s: %w", stage, err)
	}
	defer rows.Close()

	var out []VersionInfo
	var pinned sql.NullInt64
	for rows.Next() {
		var (
			info      VersionInfo
			model     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&info.Version, &model, &createdAt, &info.Size, &pinned); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		info.ModelName = model.String
		info.CreatedAt = parseTimeString(createdAt)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	current := out[len(out)-1].Version
	if pinned.Valid {
		current = int(pinned.Int64)
	}
	for i := range out {
		out[i].Current = out[i].Version == current
	}
	return out, nil
}

// Summaries returns one summary per cached stage of archivePath.
func (s *Store) Summaries(ctx context.Context, archivePath string) ([]StageSummary, error) {
	archivePath = strings.TrimSpace(archivePath)
	if archivePath == "" {
		return nil, services.Wrap(services.ErrValidation, "", "cache summaries", "archive path required", nil)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.stage, COUNT(1), MAX(r.version), MAX(r.created_at), c.version,
                (SELECT model_name FROM stage_results l
                  WHERE l.archive_path = r.archive_path AND l.stage = r.stage
                  ORDER BY l.version DESC LIMIT 1)
           FROM stage_results r
           LEFT JOIN current_versions c
             ON c.archive_path = r.archive_path AND c.stage = r.stage
          WHERE r.archive_path = ?
          GROUP BY r.stage, c.version`,
		archivePath,
	)
	if err != nil {
		return nil, fmt.Errorf("cache summaries: %w", err)
	}
	defer rows.Close()

	byStage := make(map[pipeline.StageName]StageSummary)
	for rows.Next() {
		var (
			stage   string
			summary StageSummary
			updated string
			pinned  sql.NullInt64
			model   sql.NullString
		)
		if err := rows.Scan(&stage, &summary.Versions, &summary.LatestVersion, &updated, &pinned, &model); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summary.Stage = pipeline.StageName(stage)
		summary.UpdatedAt = parseTimeString(updated)
		summary.ModelName = model.String
		summary.CurrentVersion = summary.LatestVersion
		if pinned.Valid {
			summary.CurrentVersion = int(pinned.Int64)
			summary.Pinned = true
		}
		byStage[summary.Stage] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]StageSummary, 0, len(byStage))
	for _, name := range pipeline.AllStageNames() {
		if summary, ok := byStage[name]; ok {
			out = append(out, summary)
		}
	}
	return out, nil
}

// ArchivePaths lists every archive path with cached results.
func (s *Store) ArchivePaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT archive_path FROM stage_results ORDER BY archive_path`)
	if err != nil {
		return nil, fmt.Errorf("cache archive paths: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan archive path: %w", err)
		}
		out = append(out, path)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner, archivePath string, stage pipeline.StageName) (Entry, error) {
	var (
		entry     Entry
		model     sql.NullString
		createdAt string
		payload   []byte
	)
	if err := row.Scan(&entry.Version, &model, &createdAt, &payload); err != nil {
		return Entry{}, err
	}
	entry.ArchivePath = archivePath
	entry.Stage = stage
	entry.ModelName = model.String
	entry.CreatedAt = parseTimeString(createdAt)
	entry.Payload = json.RawMessage(payload)
	return entry, nil
}

func validateKey(archivePath string, stage pipeline.StageName) error {
	if strings.TrimSpace(archivePath) == "" {
		return services.Wrap(services.ErrValidation, string(stage), "cache", "archive path required", nil)
	}
	if !stage.Valid() {
		return services.Wrap(services.ErrValidation, string(stage), "cache", "unknown stage", nil)
	}
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid JSON")
		}
		return v, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return data, nil
	}
}
