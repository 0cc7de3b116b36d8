package api

import (
	"net/http"
	"net/url"
	"testing"

	"lectern/internal/archivelock"
	"lectern/internal/pipeline"
	"lectern/internal/services"
)

func TestParseRunQueryDefaults(t *testing.T) {
	req, err := parseRunQuery(url.Values{"source": {"/in/talk.mp4"}, "content": {"leadership"}})
	if err != nil {
		t.Fatalf("parseRunQuery: %v", err)
	}
	if req.Cache != nil {
		t.Fatalf("expected config cache policy, got %+v", req.Cache)
	}
	if !req.NoWait || req.ContentType != pipeline.ContentLeadership {
		t.Fatalf("request = %+v", req)
	}
}

func TestParseRunQueryPolicy(t *testing.T) {
	q := url.Values{
		"source":  {"/in/talk.mp4"},
		"content": {"educational"},
		"stages":  {"parse,transcribe"},
		"reuse":   {"false"},
		"refresh": {"transcribe"},
		"version": {"parse:2"},
	}
	req, err := parseRunQuery(q)
	if err != nil {
		t.Fatalf("parseRunQuery: %v", err)
	}
	if len(req.Stages) != 2 || req.Cache == nil || req.Cache.Reuse {
		t.Fatalf("request = %+v", req)
	}
	if !req.Cache.Refresh[pipeline.StageTranscribe] || req.Cache.Versions[pipeline.StageParse] != 2 {
		t.Fatalf("policy = %+v", *req.Cache)
	}
}

func TestParseRunQueryErrors(t *testing.T) {
	cases := []url.Values{
		{"content": {"educational"}},
		{"source": {"a.mp4"}, "content": {"keynote"}},
		{"source": {"a.mp4"}, "content": {"educational"}, "stages": {"nope"}},
		{"source": {"a.mp4"}, "content": {"educational"}, "reuse": {"maybe"}},
		{"source": {"a.mp4"}, "content": {"educational"}, "version": {"clean"}},
	}
	for _, q := range cases {
		_, err := parseRunQuery(q)
		if err == nil || statusFor(err) != http.StatusBadRequest {
			t.Fatalf("query %v: err = %v", q, err)
		}
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(archivelock.ErrLocked); got != http.StatusConflict {
		t.Fatalf("locked = %d", got)
	}
	if got := statusFor(services.Wrap(services.ErrNotFound, "", "", "", nil)); got != http.StatusNotFound {
		t.Fatalf("not found = %d", got)
	}
}
