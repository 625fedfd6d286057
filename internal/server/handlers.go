package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/offgrid-updates/update-server/internal/metadata"
	"github.com/offgrid-updates/update-server/internal/metrics"
	"github.com/offgrid-updates/update-server/internal/release"
	"github.com/offgrid-updates/update-server/internal/storage"
	"go.opencensus.io/tag"
)

// baseURL returns the public URL of the server without trailing slash.
func (s *Server) baseURL(r *http.Request) string {
	if s.config.PublicURL != "" {
		return strings.TrimSuffix(s.config.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

func metadataOutcome(err error) (string, int) {
	switch {
	case err == nil:
		return "ok", http.StatusOK
	case errors.Is(err, metadata.ErrBadRequest):
		return "bad_request", http.StatusBadRequest
	case errors.Is(err, release.ErrNotFound):
		return "not_found", http.StatusNotFound
	default:
		return "archive_error", http.StatusInternalServerError
	}
}

// pluginStubTag keeps the plugin_stub tag to plugins that exist, so arbitrary
// query strings do not create new series.
func pluginStubTag(identifier, outcome string) string {
	switch outcome {
	case "bad_request":
		return "invalid"
	case "not_found":
		return "unknown"
	}
	return release.Stub(identifier)
}

func (s *Server) getUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("plugin")
	m, err := s.resolver.Resolve(r.Context(), identifier, s.baseURL(r))

	var body bytes.Buffer
	if err == nil {
		enc := json.NewEncoder(&body)
		enc.SetEscapeHTML(false)
		if encErr := enc.Encode(m); encErr != nil {
			err = fmt.Errorf("could not encode metadata: %w", encErr)
		}
	}

	outcome, statusCode := metadataOutcome(err)
	metrics.Record(r.Context(), metrics.CounterMetadataRequests,
		tag.Upsert(metrics.TagOutcome, outcome),
		tag.Upsert(metrics.TagPluginStub, pluginStubTag(identifier, outcome)),
	)
	if err != nil {
		s.writeSentinel(w, r, statusCode, err)
		return
	}

	s.setContentTypeJSON(w)
	if _, err := body.WriteTo(w); err != nil {
		s.requestLogger(r).Error(err)
	}
}

func validFileName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

func (s *Server) downloadHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "file")
		if !validFileName(name) {
			s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("invalid file name %q", name))
			return
		}
		obj, err := s.store.Open(r.Context(), storage.Key(dir, name))
		if errors.Is(err, storage.ErrNotExist) {
			s.writeJSONError(w, r, http.StatusNotFound, err, "file not found")
			return
		}
		if err != nil {
			s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not open file")
			return
		}
		defer obj.Close()

		metrics.Record(r.Context(), metrics.CounterDownloads, tag.Upsert(metrics.TagDirectory, dir))
		info := obj.Info()
		mtype, err := mimetype.DetectReader(io.NewSectionReader(obj, 0, info.Size))
		if err != nil {
			s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not read file")
			return
		}
		w.Header().Set("Content-Type", mtype.String())
		http.ServeContent(w, r, name, info.ModTime, io.NewSectionReader(obj, 0, info.Size))
	}
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	stub := chi.URLParam(r, "stub")
	if !validFileName(stub) {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("invalid plugin stub %q", stub))
		return
	}

	var constraint *semver.Constraints
	if c := r.URL.Query().Get("constraint"); c != "" {
		var err error
		constraint, err = semver.NewConstraint(c)
		if err != nil {
			s.writeJSONError(w, r, http.StatusBadRequest, err, "invalid version constraint")
			return
		}
	}

	set, err := release.Scan(r.Context(), s.store, stub)
	if err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not list plugin versions")
		return
	}
	if len(set.Versions) == 0 && !set.UnversionedLatest {
		s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("plugin %s not found", stub))
		return
	}

	versions := make([]string, 0, len(set.Versions))
	for _, v := range set.SortedVersions() {
		if constraint != nil {
			sv, err := semver.NewVersion(v)
			if err != nil || !constraint.Check(sv) {
				continue
			}
		}
		versions = append(versions, v)
	}
	s.writeJSON(w, versions)
}

func (s *Server) importPlugin(w http.ResponseWriter, r *http.Request) {
	pluginVersion := chi.URLParam(r, "version")
	stub := chi.URLParam(r, "stub")
	if stub == "" {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("plugin stub is missing"))
		return
	}
	fullRepo, ok := s.config.GetGitHubRepo(stub)
	if !ok {
		s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("no GitHub repository configured for plugin %s", stub))
		return
	}
	reqLogger := s.requestLogger(r)
	reqLogger.Infof("importing plugin %s@%s from %s", stub, pluginVersion, fullRepo)

	err := s.ghSemaphore.Acquire(r.Context(), 1)
	if err != nil {
		s.writeJSONError(w, r, http.StatusTooManyRequests, err, "could not acquire semaphore")
		return
	}
	defer s.ghSemaphore.Release(1)

	versions, err := s.importer.Import(r.Context(), stub, fullRepo, pluginVersion)
	if err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not import plugin")
		return
	}
	for range versions {
		metrics.Record(r.Context(), metrics.CounterImports, tag.Upsert(metrics.TagPluginStub, stub))
	}
	reqLogger.Infof("imported %d release(s) of %s", len(versions), stub)

	s.writeJSON(w, map[string]any{"ok": true, "versions": versions})
}
