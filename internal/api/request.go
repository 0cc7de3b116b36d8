package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"lectern/internal/archivelock"
	"lectern/internal/pipeline"
	"lectern/internal/runs"
	"lectern/internal/services"
	"lectern/internal/workflow"
)

// parseRunQuery builds a run request from stream query parameters:
//
//	source   recording path (required)
//	content  educational | leadership (required)
//	archive  archive directory override
//	stages   comma separated stage subset
//	reuse    true | false, overrides pipeline.reuse_cache
//	refresh  comma separated stages to re-execute
//	version  stage:N, repeatable, pins a cached version
func parseRunQuery(q url.Values) (runs.Request, error) {
	req := runs.Request{
		SourcePath:  strings.TrimSpace(q.Get("source")),
		ArchivePath: strings.TrimSpace(q.Get("archive")),
		NoWait:      true,
	}
	if req.SourcePath == "" {
		return req, services.Wrap(services.ErrValidation, "", "parse request", "source is required", nil)
	}
	content, err := pipeline.ParseContentType(q.Get("content"))
	if err != nil {
		return req, services.Wrap(services.ErrValidation, "", "parse request", "", err)
	}
	req.ContentType = content

	if req.Stages, err = stageList(q.Get("stages")); err != nil {
		return req, err
	}

	reuse := q.Get("reuse")
	refresh := q.Get("refresh")
	versions := q["version"]
	if reuse == "" && refresh == "" && len(versions) == 0 {
		return req, nil
	}
	policy := workflow.CachePolicy{Reuse: true}
	if reuse != "" {
		if policy.Reuse, err = strconv.ParseBool(reuse); err != nil {
			return req, services.Wrap(services.ErrValidation, "", "parse request", "reuse must be true or false", nil)
		}
	}
	refreshed, err := stageList(refresh)
	if err != nil {
		return req, err
	}
	if len(refreshed) > 0 {
		policy.Refresh = make(map[pipeline.StageName]bool, len(refreshed))
		for _, name := range refreshed {
			policy.Refresh[name] = true
		}
	}
	if len(versions) > 0 {
		policy.Versions = make(map[pipeline.StageName]int, len(versions))
		for _, pin := range versions {
			name, version, err := workflow.ParseVersionPin(pin)
			if err != nil {
				return req, err
			}
			policy.Versions[name] = version
		}
	}
	req.Cache = &policy
	return req, nil
}

func stageList(value string) ([]pipeline.StageName, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	names, err := pipeline.ParseStageNames(strings.Split(value, ","))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "parse request", "", err)
	}
	return names, nil
}

// statusFor maps an error to the HTTP status reported before a stream
// starts or by the cache endpoints.
func statusFor(err error) int {
	switch {
	case archivelock.IsLocked(err):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
