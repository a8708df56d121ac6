/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"

	"github.com/amtp-protocol/schemavault/internal/config"
	"github.com/amtp-protocol/schemavault/internal/errors"
	"github.com/amtp-protocol/schemavault/internal/logging"
	"github.com/amtp-protocol/schemavault/internal/metrics"
	"github.com/amtp-protocol/schemavault/internal/schema"
	"github.com/amtp-protocol/schemavault/internal/storage"
	"github.com/amtp-protocol/schemavault/internal/types"
	"github.com/amtp-protocol/schemavault/internal/validation"
)

const petstoreJSON = `{"openapi":"3.0.3","info":{"title":"Petstore","version":"1.0.0"},"paths":{"/pets":{"get":{"responses":{"200":{"description":"ok"}}}}}}`

const petstoreV2JSON = `{"openapi":"3.0.3","info":{"title":"Petstore","version":"2.0.0"},"paths":{"/pets":{},"/owners":{}}}`

const petstoreYAML = `openapi: 3.1.0
info:
  title: Petstore
  version: 1.1.0
paths:
  /pets: {}
`

type uploadForm struct {
	application string
	service     string
	fileName    string
	content     string
	replace     string
}

func newUploadRequest(t *testing.T, form uploadForm) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"application": form.application,
		"service":     form.service,
		"replace":     form.replace,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("failed to write field %s: %v", name, err)
		}
	}
	if form.fileName != "" {
		part, err := writer.CreateFormFile("file", form.fileName)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		if _, err := part.Write([]byte(form.content)); err != nil {
			t.Fatalf("failed to write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest("POST", "/v1/schemas", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func doUpload(t *testing.T, s *Server, form uploadForm) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(w, newUploadRequest(t, form))
	return w
}

func doGet(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func decodeImport(t *testing.T, w *httptest.ResponseRecorder) types.ImportResponse {
	t.Helper()
	var resp types.ImportResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode import response %s: %v", w.Body.String(), err)
	}
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var resp types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response %s: %v", w.Body.String(), err)
	}
	return resp
}

func TestHandleImportSchema_CreatesSequentialVersions(t *testing.T) {
	s := newTestServer(t, nil)

	w := doUpload(t, s, uploadForm{application: "billing", fileName: "petstore.json", content: petstoreJSON})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	first := decodeImport(t, w)
	if first.Schema.Version != 1 || first.Attempts != 1 {
		t.Errorf("expected version 1 in one attempt, got version %d after %d", first.Schema.Version, first.Attempts)
	}
	if first.Schema.Summary.Title != "Petstore" || first.Schema.Summary.PathCount != 1 {
		t.Errorf("unexpected summary: %+v", first.Schema.Summary)
	}
	if w.Header().Get(HeaderSchemaDigest) != first.Schema.Digest {
		t.Error("expected digest header to match response body")
	}

	w = doUpload(t, s, uploadForm{application: "billing", fileName: "petstore.json", content: petstoreV2JSON})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	second := decodeImport(t, w)
	if second.Schema.Version != 2 {
		t.Errorf("expected version 2, got %d", second.Schema.Version)
	}
	if second.Schema.Digest == first.Schema.Digest {
		t.Error("expected different digests for different content")
	}

	path := filepath.Join(s.registry.Root(), "billing", "schema_v2.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file at %s: %v", path, err)
	}
	if string(data) != petstoreV2JSON {
		t.Error("expected stored bytes to equal the upload")
	}
}

func TestHandleImportSchema_Deduplicated(t *testing.T) {
	s := newTestServer(t, nil)

	doUpload(t, s, uploadForm{application: "billing", fileName: "petstore.json", content: petstoreJSON})
	w := doUpload(t, s, uploadForm{application: "billing", fileName: "petstore.json", content: petstoreJSON})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeImport(t, w)
	if !resp.Deduplicated || resp.Schema.Version != 1 {
		t.Errorf("expected deduplicated version 1, got %+v", resp)
	}
}

func TestHandleImportSchema_Replace(t *testing.T) {
	s := newTestServer(t, nil)

	doUpload(t, s, uploadForm{application: "billing", service: "payments", fileName: "petstore.json", content: petstoreJSON})
	w := doUpload(t, s, uploadForm{application: "billing", service: "payments", fileName: "petstore.json", content: petstoreV2JSON, replace: "true"})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeImport(t, w)
	if !resp.Replaced || resp.Schema.Version != 1 {
		t.Errorf("expected version 1 replaced, got %+v", resp)
	}

	w = doGet(s, "/v1/schemas/versions/1/content?application=billing&service=payments")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != petstoreV2JSON {
		t.Errorf("expected replaced content, got %s", w.Body.String())
	}
}

func TestHandleImportSchema_ReplaceWithoutVersion(t *testing.T) {
	s := newTestServer(t, nil)

	w := doUpload(t, s, uploadForm{application: "billing", fileName: "petstore.json", content: petstoreJSON, replace: "true"})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Error.Code != string(errors.ErrNoExistingVersion) {
		t.Errorf("expected NO_EXISTING_VERSION, got %s", resp.Error.Code)
	}
}

func TestHandleImportSchema_RequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		form   uploadForm
		status int
		code   errors.ErrorCode
	}{
		{
			name:   "missing file",
			form:   uploadForm{application: "billing"},
			status: http.StatusBadRequest,
			code:   errors.ErrInvalidRequestFormat,
		},
		{
			name:   "missing application",
			form:   uploadForm{fileName: "api.json", content: petstoreJSON},
			status: http.StatusBadRequest,
			code:   errors.ErrValidationFailed,
		},
		{
			name:   "invalid application name",
			form:   uploadForm{application: "bill/../ing", fileName: "api.json", content: petstoreJSON},
			status: http.StatusBadRequest,
			code:   errors.ErrInvalidName,
		},
		{
			name:   "unsupported extension",
			form:   uploadForm{application: "billing", fileName: "api.txt", content: petstoreJSON},
			status: http.StatusBadRequest,
			code:   errors.ErrValidationFailed,
		},
		{
			name:   "empty file",
			form:   uploadForm{application: "billing", fileName: "api.json", content: ""},
			status: http.StatusBadRequest,
			code:   errors.ErrValidationFailed,
		},
		{
			name:   "malformed json",
			form:   uploadForm{application: "billing", fileName: "api.json", content: `{"openapi": `},
			status: http.StatusUnprocessableEntity,
			code:   errors.ErrInvalidSchemaFormat,
		},
		{
			name:   "malformed yaml",
			form:   uploadForm{application: "billing", fileName: "api.yaml", content: "openapi: [3.0"},
			status: http.StatusUnprocessableEntity,
			code:   errors.ErrInvalidSchemaFormat,
		},
		{
			name:   "invalid replace flag",
			form:   uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON, replace: "maybe"},
			status: http.StatusBadRequest,
			code:   errors.ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)

			w := doUpload(t, s, tt.form)
			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			resp := decodeError(t, w)
			if resp.Error.Code != string(tt.code) {
				t.Errorf("expected code %s, got %s", tt.code, resp.Error.Code)
			}
			if resp.Error.RequestID == "" {
				t.Error("expected request ID in error response")
			}
		})
	}
}

func TestHandleImportSchema_RequireOpenAPIFields(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Upload.RequireOpenAPIFields = true
	})

	w := doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: `{"title":"not an api"}`})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}

	w = doUpload(t, s, uploadForm{application: "billing", fileName: "api.yaml", content: petstoreYAML})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201 for a complete document, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleImportSchema_FileTooLarge(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Upload.MaxSize = 64
	})

	w := doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Error.Code != string(errors.ErrPayloadTooLarge) {
		t.Errorf("expected PAYLOAD_TOO_LARGE, got %s", resp.Error.Code)
	}
}

func TestHandleImportSchema_ConcurrentDistinctContent(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Schema.ConflictRetries = 20
	})

	const importers = 8
	var wg sync.WaitGroup
	versions := make(chan int, importers)
	failures := make(chan string, importers)

	for i := 0; i < importers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := fmt.Sprintf(`{"openapi":"3.0.0","info":{"title":"api-%d","version":"1"},"paths":{}}`, i)
			w := httptest.NewRecorder()
			s.GetRouter().ServeHTTP(w, newUploadRequest(t, uploadForm{application: "billing", fileName: "api.json", content: content}))
			if w.Code != http.StatusCreated {
				failures <- fmt.Sprintf("importer %d: %d %s", i, w.Code, w.Body.String())
				return
			}
			var resp types.ImportResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				failures <- err.Error()
				return
			}
			versions <- resp.Schema.Version
		}(i)
	}
	wg.Wait()
	close(versions)
	close(failures)

	for f := range failures {
		t.Error(f)
	}
	seen := make(map[int]bool)
	for v := range versions {
		if seen[v] {
			t.Errorf("version %d assigned twice", v)
		}
		seen[v] = true
	}
	for v := 1; v <= importers; v++ {
		if !seen[v] {
			t.Errorf("expected version %d to be assigned", v)
		}
	}
}

// conflictingRepository fails the first failures commits with a version
// conflict, as if another importer had taken the slot
type conflictingRepository struct {
	schema.Repository

	mu       sync.Mutex
	failures int
	calls    int
}

func (r *conflictingRepository) RecordSchema(ctx context.Context, record *schema.Schema, opts schema.RecordOptions) (*schema.Schema, error) {
	r.mu.Lock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return nil, errors.NewVersionConflictError(record.Scope.String(), record.Version, nil)
	}
	r.mu.Unlock()
	return r.Repository.RecordSchema(ctx, record, opts)
}

func newServerWithRepository(t *testing.T, repo schema.Repository, retries int) *Server {
	t.Helper()
	cfg := testConfig(t)
	cfg.Schema.ConflictRetries = retries

	registry, err := schema.NewRegistry(schema.Config{StorageRoot: cfg.Schema.StorageRoot, Deduplicate: true}, repo)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	s := &Server{
		config:    cfg,
		router:    gin.New(),
		repo:      repo,
		registry:  registry,
		validator: validation.New(cfg.Upload.MaxSize, false),
		logger:    logging.Nop(),
		metrics:   metrics.NewMetricsProvider(),
	}
	s.setupMiddleware(logging.Nop())
	s.setupRoutes()
	return s
}

func TestHandleImportSchema_RetriesVersionConflict(t *testing.T) {
	repo := &conflictingRepository{Repository: storage.NewMemoryRepository(), failures: 2}
	s := newServerWithRepository(t, repo, 3)

	w := doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201 after retries, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeImport(t, w)
	if resp.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", resp.Attempts)
	}
	if resp.Schema.Version != 1 {
		t.Errorf("expected version 1, got %d", resp.Schema.Version)
	}

	m := s.metrics.(*metrics.Metrics)
	var counter dto.Metric
	if err := m.ImportConflictRetries.WithLabelValues("billing").Write(&counter); err != nil {
		t.Fatalf("failed to read conflict retry counter: %v", err)
	}
	if got := counter.GetCounter().GetValue(); got != 2 {
		t.Errorf("expected 2 recorded conflict retries, got %v", got)
	}
}

func TestHandleImportSchema_ConflictRetriesExhausted(t *testing.T) {
	repo := &conflictingRepository{Repository: storage.NewMemoryRepository(), failures: 100}
	s := newServerWithRepository(t, repo, 1)

	w := doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeError(t, w)
	if resp.Error.Code != string(errors.ErrVersionConflict) {
		t.Errorf("expected VERSION_CONFLICT, got %s", resp.Error.Code)
	}
	if attempts, ok := resp.Error.Details["attempts"].(float64); !ok || attempts != 2 {
		t.Errorf("expected attempts=2 in details, got %v", resp.Error.Details["attempts"])
	}
	if repo.calls != 2 {
		t.Errorf("expected 2 commits, got %d", repo.calls)
	}

	// Nothing was published for the failed attempts
	if _, err := os.Stat(filepath.Join(s.registry.Root(), "billing", "schema_v1.json")); !os.IsNotExist(err) {
		t.Errorf("expected no schema file after failed import, got %v", err)
	}
}

func TestHandleImportSchema_NoRetryWithoutConflict(t *testing.T) {
	repo := &conflictingRepository{Repository: storage.NewMemoryRepository()}
	s := newServerWithRepository(t, repo, 3)

	w := doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: "{broken"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", w.Code)
	}
	if repo.calls != 0 {
		t.Errorf("expected no commit attempts for invalid content, got %d", repo.calls)
	}
}

func TestCalculateRetryDelay(t *testing.T) {
	s := &Server{config: &config.Config{Schema: config.SchemaConfig{RetryDelay: 100 * time.Millisecond}}}

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, maxRetryDelay},
		{40, maxRetryDelay},
		{64, maxRetryDelay},
		{1000, maxRetryDelay},
	}

	for _, tt := range tests {
		delay := s.calculateRetryDelay(tt.attempt)
		low := tt.base - tt.base/4
		high := tt.base + tt.base/4
		if delay < low || delay > high {
			t.Errorf("attempt %d: expected delay within [%v, %v], got %v", tt.attempt, low, high, delay)
		}
	}

	s.config.Schema.RetryDelay = 0
	if delay := s.calculateRetryDelay(3); delay != 0 {
		t.Errorf("expected zero delay when retry delay is disabled, got %v", delay)
	}
}

func TestHandleGetLatest(t *testing.T) {
	s := newTestServer(t, nil)
	doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON})
	doUpload(t, s, uploadForm{application: "billing", fileName: "api.yaml", content: petstoreYAML})

	w := doGet(s, "/v1/schemas/latest?application=billing")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp types.LatestSchemaResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode latest response: %v", err)
	}
	if resp.Schema.Version != 2 || !resp.Schema.IsLatest {
		t.Errorf("expected latest version 2, got %+v", resp.Schema)
	}
	if resp.Schema.Format != "yaml" {
		t.Errorf("expected yaml format, got %s", resp.Schema.Format)
	}
	if resp.Content != petstoreYAML {
		t.Errorf("expected YAML content, got %q", resp.Content)
	}
	if w.Header().Get(HeaderSchemaVersion) != "2" {
		t.Errorf("expected version header 2, got %q", w.Header().Get(HeaderSchemaVersion))
	}
}

func TestHandleGetLatest_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON})

	tests := []struct {
		name   string
		path   string
		status int
		code   errors.ErrorCode
	}{
		{"missing application", "/v1/schemas/latest", http.StatusBadRequest, errors.ErrValidationFailed},
		{"invalid name", "/v1/schemas/latest?application=..", http.StatusBadRequest, errors.ErrInvalidName},
		{"unknown application", "/v1/schemas/latest?application=shipping", http.StatusNotFound, errors.ErrNotFound},
		{"unknown service", "/v1/schemas/latest?application=billing&service=ledger", http.StatusNotFound, errors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(s, tt.path)
			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Error.Code != string(tt.code) {
				t.Errorf("expected code %s, got %s", tt.code, resp.Error.Code)
			}
		})
	}
}

func TestHandleListVersions(t *testing.T) {
	s := newTestServer(t, nil)
	doUpload(t, s, uploadForm{application: "billing", service: "payments", fileName: "api.json", content: petstoreJSON})
	doUpload(t, s, uploadForm{application: "billing", service: "payments", fileName: "api.json", content: petstoreV2JSON})
	doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON})

	w := doGet(s, "/v1/schemas/versions?application=billing&service=payments")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp types.VersionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode versions response: %v", err)
	}
	if resp.Count != 2 || len(resp.Versions) != 2 {
		t.Fatalf("expected 2 versions in the service scope, got %d", resp.Count)
	}
	if resp.Versions[0].Version != 1 || resp.Versions[1].Version != 2 {
		t.Errorf("expected ascending versions, got %d, %d", resp.Versions[0].Version, resp.Versions[1].Version)
	}
	if resp.Versions[0].IsLatest || !resp.Versions[1].IsLatest {
		t.Error("expected only the last version to be marked latest")
	}
}

func TestHandleListVersions_EmptyScope(t *testing.T) {
	s := newTestServer(t, nil)

	// A failed import still creates the application
	doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON, replace: "true"})

	w := doGet(s, "/v1/schemas/versions?application=billing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleGetVersion(t *testing.T) {
	s := newTestServer(t, nil)
	doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON})
	doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreV2JSON})

	w := doGet(s, "/v1/schemas/versions/1?application=billing")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp types.SchemaResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode schema response: %v", err)
	}
	if resp.Schema.Version != 1 || resp.Schema.IsLatest {
		t.Errorf("expected non-latest version 1, got %+v", resp.Schema)
	}
	if resp.Schema.Summary.APIVersion != "1.0.0" {
		t.Errorf("expected api version 1.0.0, got %q", resp.Schema.Summary.APIVersion)
	}

	for _, path := range []string{"/v1/schemas/versions/abc?application=billing", "/v1/schemas/versions/0?application=billing"} {
		if w := doGet(s, path); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", path, w.Code)
		}
	}
	if w := doGet(s, "/v1/schemas/versions/9?application=billing"); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for a missing version, got %d", w.Code)
	}
}

func TestHandleGetContent(t *testing.T) {
	s := newTestServer(t, nil)
	doUpload(t, s, uploadForm{application: "billing", fileName: "api.yaml", content: petstoreYAML})

	w := doGet(s, "/v1/schemas/versions/1/content?application=billing")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != petstoreYAML {
		t.Errorf("expected stored bytes, got %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("expected application/yaml, got %q", ct)
	}
	if w.Header().Get(HeaderSchemaDigest) != schema.Digest([]byte(petstoreYAML)) {
		t.Error("expected digest header to match content")
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="schema_v1.yaml"` {
		t.Errorf("unexpected content disposition %q", cd)
	}
}

func TestHandleGetContent_Corruption(t *testing.T) {
	s := newTestServer(t, nil)
	doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON})

	path := filepath.Join(s.registry.Root(), "billing", "schema_v1.json")
	if err := os.WriteFile(path, []byte(`{"tampered":true}`), 0o644); err != nil {
		t.Fatalf("failed to tamper with schema file: %v", err)
	}

	w := doGet(s, "/v1/schemas/versions/1/content?application=billing")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Error.Code != string(errors.ErrCorruption) {
		t.Errorf("expected CORRUPTION_DETECTED, got %s", resp.Error.Code)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove schema file: %v", err)
	}
	w = doGet(s, "/v1/schemas/latest?application=billing")
	if resp := decodeError(t, w); resp.Error.Code != string(errors.ErrCorruption) {
		t.Errorf("expected CORRUPTION_DETECTED for a missing file, got %s", resp.Error.Code)
	}
}

func TestHandleListApplicationsAndServices(t *testing.T) {
	s := newTestServer(t, nil)
	doUpload(t, s, uploadForm{application: "billing", service: "payments", fileName: "api.json", content: petstoreJSON})
	doUpload(t, s, uploadForm{application: "billing", service: "invoices", fileName: "api.json", content: petstoreJSON})
	doUpload(t, s, uploadForm{application: "shipping", fileName: "api.json", content: petstoreJSON})

	w := doGet(s, "/v1/applications")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var apps types.ApplicationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &apps); err != nil {
		t.Fatalf("failed to decode applications: %v", err)
	}
	if apps.Count != 2 || apps.Applications[0].Name != "billing" || apps.Applications[1].Name != "shipping" {
		t.Errorf("unexpected applications: %+v", apps.Applications)
	}

	w = doGet(s, "/v1/applications/billing/services")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var services types.ServicesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &services); err != nil {
		t.Fatalf("failed to decode services: %v", err)
	}
	if services.Count != 2 || services.Services[0].Name != "invoices" || services.Services[1].Name != "payments" {
		t.Errorf("unexpected services: %+v", services.Services)
	}

	if w := doGet(s, "/v1/applications/unknown/services"); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown application, got %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t, nil)
	doUpload(t, s, uploadForm{application: "billing", fileName: "api.json", content: petstoreJSON})
	doUpload(t, s, uploadForm{application: "billing", service: "payments", fileName: "api.yaml", content: petstoreYAML})

	w := doGet(s, "/v1/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp types.StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if resp.Stats.Applications != 1 || resp.Stats.Services != 1 || resp.Stats.Schemas != 2 {
		t.Errorf("unexpected stats: %+v", resp.Stats)
	}
	if resp.Stats.ByFormat["json"] != 1 || resp.Stats.ByFormat["yaml"] != 1 {
		t.Errorf("unexpected format breakdown: %v", resp.Stats.ByFormat)
	}
	want := int64(len(petstoreJSON) + len(petstoreYAML))
	if resp.Stats.TotalBytes != want {
		t.Errorf("expected %d total bytes, got %d", want, resp.Stats.TotalBytes)
	}
}
