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
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amtp-protocol/schemavault/internal/errors"
	"github.com/amtp-protocol/schemavault/internal/schema"
	"github.com/amtp-protocol/schemavault/internal/types"
	"github.com/amtp-protocol/schemavault/internal/validation"
)

const (
	// multipartOverhead is the room left for form fields and part headers
	multipartOverhead = 1 << 20

	readinessTimeout = 5 * time.Second
	maxRetryDelay    = 2 * time.Second

	// Response headers carried by the content endpoint
	HeaderSchemaDigest  = "X-Schema-Digest"
	HeaderSchemaVersion = "X-Schema-Version"
)

// handleImportSchema handles POST /v1/schemas
func (s *Server) handleImportSchema(c *gin.Context) {
	start := time.Now()

	replace, err := parseBoolForm(c.PostForm("replace"))
	if err != nil {
		s.respondWithError(c, errors.ErrValidationFailed, "replace must be a boolean", map[string]interface{}{
			"replace": c.PostForm("replace"),
		})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if stderrors.As(err, &maxBytesErr) {
			s.respondWithError(c, errors.ErrPayloadTooLarge,
				fmt.Sprintf("request body too large, maximum size is %d bytes", maxBytesErr.Limit), nil)
			return
		}
		s.respondWithError(c, errors.ErrInvalidRequestFormat, "multipart field 'file' is required", nil)
		return
	}

	content, err := s.readUpload(fileHeader)
	if err != nil {
		s.respondWithErr(c, err)
		return
	}

	upload := &validation.Upload{
		Application: strings.TrimSpace(c.PostForm("application")),
		Service:     strings.TrimSpace(c.PostForm("service")),
		FileName:    filepath.Base(fileHeader.Filename),
		Content:     content,
	}
	format, err := s.validator.ValidateUpload(upload)
	if err != nil {
		s.respondWithErr(c, err)
		return
	}

	ctx := c.Request.Context()
	if s.config.Schema.ImportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Schema.ImportTimeout)
		defer cancel()
	}

	req := schema.ImportRequest{
		Application: upload.Application,
		Service:     upload.Service,
		Content:     upload.Content,
		Format:      format,
		FileName:    upload.FileName,
		Replace:     replace,
	}
	result, attempts, err := s.importWithRetries(ctx, req)

	scope := schema.DescribeScope(req.Application, req.Service)
	duration := time.Since(start)
	logger := s.logger.WithContext(c.Request.Context()).WithComponent("import")
	if err != nil {
		outcome := "failed"
		if vErr, ok := errors.AsVaultError(err); ok {
			outcome = strings.ToLower(string(vErr.Code))
			vErr.WithDetail("attempts", attempts)
		}
		s.metrics.RecordImport(outcome, string(format), int64(len(content)), duration)
		logger.LogImport(scope, 0, outcome, attempts, duration, err)
		s.respondWithErr(c, err)
		return
	}

	outcome := importOutcome(result)
	s.metrics.RecordImport(outcome, string(result.Format), result.Size, duration)
	logger.LogImport(scope, result.Version, outcome, attempts, duration, nil)

	statusCode := http.StatusCreated
	message := fmt.Sprintf("Stored version %d of %s", result.Version, scope)
	switch {
	case result.Deduplicated:
		statusCode = http.StatusOK
		message = fmt.Sprintf("Content unchanged, version %d of %s is current", result.Version, scope)
	case result.Replaced:
		statusCode = http.StatusOK
		message = fmt.Sprintf("Replaced version %d of %s", result.Version, scope)
	}

	c.Header(HeaderSchemaDigest, result.Digest)
	c.Header(HeaderSchemaVersion, strconv.Itoa(result.Version))
	c.JSON(statusCode, types.ImportResponse{
		Message:      message,
		Schema:       importMetadata(result),
		Replaced:     result.Replaced,
		Deduplicated: result.Deduplicated,
		Attempts:     attempts,
		Timestamp:    time.Now().UTC(),
	})
}

// importWithRetries re-runs the whole import when it lost a version race.
// Allocation happens again on each attempt, so a retry sees the winner.
func (s *Server) importWithRetries(ctx context.Context, req schema.ImportRequest) (*schema.ImportResult, int, error) {
	maxAttempts := s.config.Schema.ConflictRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := s.registry.Import(ctx, req)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		// Only a lost version race is worth another attempt
		if !errors.HasCode(err, errors.ErrVersionConflict) {
			return nil, attempt, err
		}

		// Don't retry on last attempt
		if attempt == maxAttempts {
			return nil, attempt, err
		}

		s.metrics.RecordConflictRetry(schema.DescribeScope(req.Application, req.Service))
		retryDelay := s.calculateRetryDelay(attempt)

		// Wait for retry delay or context cancellation
		select {
		case <-ctx.Done():
			return nil, attempt, errors.Wrap(errors.ErrTimeout, "import cancelled while retrying a version conflict", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
	return nil, maxAttempts, lastErr
}

// calculateRetryDelay calculates the delay before the next retry attempt
func (s *Server) calculateRetryDelay(attempt int) time.Duration {
	// Exponential backoff with jitter
	baseDelay := s.config.Schema.RetryDelay
	if baseDelay <= 0 {
		return 0
	}
	// Doubling stops at the cap so late attempts cannot overflow
	delay := baseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	// Add jitter (±25%) so racing importers spread out
	jitter := int64(delay) / 4
	if jitter > 0 {
		delay += time.Duration(rand.Int63n(2*jitter+1) - jitter)
	}

	return delay
}

func (s *Server) readUpload(fileHeader *multipart.FileHeader) ([]byte, error) {
	f, err := fileHeader.Open()
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequestFormat, "failed to open uploaded file", err)
	}
	defer f.Close()

	// One byte over the limit is enough for the validator to reject it
	limit := s.config.Upload.MaxSize
	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if stderrors.As(err, &maxBytesErr) {
			return nil, errors.Newf(errors.ErrPayloadTooLarge, "request body too large, maximum size is %d bytes", maxBytesErr.Limit)
		}
		return nil, errors.Wrap(errors.ErrInvalidRequestFormat, "failed to read uploaded file", err)
	}
	return content, nil
}

// handleGetLatest handles GET /v1/schemas/latest
func (s *Server) handleGetLatest(c *gin.Context) {
	application, service, ok := s.scopeFromQuery(c)
	if !ok {
		return
	}

	start := time.Now()
	content, err := s.registry.Latest(c.Request.Context(), application, service)
	s.recordRead("latest", err, start)
	if err != nil {
		s.respondWithErr(c, err)
		return
	}

	c.Header(HeaderSchemaDigest, content.Schema.Digest)
	c.Header(HeaderSchemaVersion, strconv.Itoa(content.Schema.Version))
	c.JSON(http.StatusOK, types.LatestSchemaResponse{
		Schema:    toSchemaMetadata(content.Schema),
		Content:   string(content.Content),
		Timestamp: time.Now().UTC(),
	})
}

// handleListVersions handles GET /v1/schemas/versions
func (s *Server) handleListVersions(c *gin.Context) {
	application, service, ok := s.scopeFromQuery(c)
	if !ok {
		return
	}

	start := time.Now()
	versions, err := s.registry.Versions(c.Request.Context(), application, service)
	if err == nil && len(versions) == 0 {
		err = errors.NewNotFoundError("schemas for " + schema.DescribeScope(application, service))
	}
	s.recordRead("versions", err, start)
	if err != nil {
		s.respondWithErr(c, err)
		return
	}

	metadata := make([]types.SchemaMetadata, 0, len(versions))
	for _, v := range versions {
		metadata = append(metadata, toSchemaMetadata(v))
	}

	c.JSON(http.StatusOK, types.VersionsResponse{
		Application: application,
		Service:     service,
		Versions:    metadata,
		Count:       len(metadata),
		Timestamp:   time.Now().UTC(),
	})
}

// handleGetVersion handles GET /v1/schemas/versions/:version
func (s *Server) handleGetVersion(c *gin.Context) {
	application, service, ok := s.scopeFromQuery(c)
	if !ok {
		return
	}
	version, ok := s.versionParam(c)
	if !ok {
		return
	}

	start := time.Now()
	meta, err := s.registry.ByVersion(c.Request.Context(), application, service, version)
	s.recordRead("by_version", err, start)
	if err != nil {
		s.respondWithErr(c, err)
		return
	}

	c.JSON(http.StatusOK, types.SchemaResponse{
		Schema:    toSchemaMetadata(meta),
		Timestamp: time.Now().UTC(),
	})
}

// handleGetContent handles GET /v1/schemas/versions/:version/content
func (s *Server) handleGetContent(c *gin.Context) {
	application, service, ok := s.scopeFromQuery(c)
	if !ok {
		return
	}
	version, ok := s.versionParam(c)
	if !ok {
		return
	}

	start := time.Now()
	content, err := s.registry.Content(c.Request.Context(), application, service, version)
	s.recordRead("content", err, start)
	if err != nil {
		s.respondWithErr(c, err)
		return
	}

	c.Header(HeaderSchemaDigest, content.Schema.Digest)
	c.Header(HeaderSchemaVersion, strconv.Itoa(content.Schema.Version))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(content.Schema.Path)))
	c.Data(http.StatusOK, content.Schema.Format.ContentType(), content.Content)
}

// handleListApplications handles GET /v1/applications
func (s *Server) handleListApplications(c *gin.Context) {
	apps, err := s.registry.Applications(c.Request.Context())
	if err != nil {
		s.respondWithErr(c, err)
		return
	}

	result := make([]types.Application, 0, len(apps))
	for _, app := range apps {
		result = append(result, types.Application{
			ID:          app.ID,
			Name:        app.Name,
			Description: app.Description,
			CreatedAt:   app.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, types.ApplicationsResponse{
		Applications: result,
		Count:        len(result),
		Timestamp:    time.Now().UTC(),
	})
}

// handleListServices handles GET /v1/applications/:name/services
func (s *Server) handleListServices(c *gin.Context) {
	application := c.Param("name")
	if err := s.validator.ValidateScope(application, ""); err != nil {
		s.respondWithErr(c, err)
		return
	}

	services, err := s.registry.Services(c.Request.Context(), application)
	if err != nil {
		s.respondWithErr(c, err)
		return
	}

	result := make([]types.Service, 0, len(services))
	for _, svc := range services {
		result = append(result, types.Service{
			ID:          svc.ID,
			Application: application,
			Name:        svc.Name,
			Description: svc.Description,
			CreatedAt:   svc.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, types.ServicesResponse{
		Application: application,
		Services:    result,
		Count:       len(result),
		Timestamp:   time.Now().UTC(),
	})
}

// handleStats handles GET /v1/stats
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.registry.Stats(c.Request.Context())
	if err != nil {
		s.respondWithErr(c, err)
		return
	}

	byFormat := stats.ByFormat
	if byFormat == nil {
		byFormat = map[string]int64{}
	}

	c.JSON(http.StatusOK, types.StatsResponse{
		Stats: types.RegistryStats{
			Applications: stats.Applications,
			Services:     stats.Services,
			Schemas:      stats.Schemas,
			TotalBytes:   stats.TotalBytes,
			ByFormat:     byFormat,
		},
		Timestamp: time.Now().UTC(),
	})
}

// scopeFromQuery reads and validates ?application=&service=
func (s *Server) scopeFromQuery(c *gin.Context) (string, string, bool) {
	application := strings.TrimSpace(c.Query("application"))
	service := strings.TrimSpace(c.Query("service"))
	if err := s.validator.ValidateScope(application, service); err != nil {
		s.respondWithErr(c, err)
		return "", "", false
	}
	return application, service, true
}

func (s *Server) versionParam(c *gin.Context) (int, bool) {
	raw := c.Param("version")
	version, err := strconv.Atoi(raw)
	if err != nil || version <= 0 {
		s.respondWithError(c, errors.ErrValidationFailed, "version must be a positive integer", map[string]interface{}{
			"version": raw,
		})
		return 0, false
	}
	return version, true
}

func (s *Server) recordRead(operation string, err error, start time.Time) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if vErr, ok := errors.AsVaultError(err); ok {
			outcome = strings.ToLower(string(vErr.Code))
		}
	}
	s.metrics.RecordRead(operation, outcome, time.Since(start))
}

func importOutcome(result *schema.ImportResult) string {
	switch {
	case result.Deduplicated:
		return "deduplicated"
	case result.Replaced:
		return "replaced"
	default:
		return "created"
	}
}

func parseBoolForm(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func toSchemaMetadata(s *schema.Schema) types.SchemaMetadata {
	return types.SchemaMetadata{
		ID:          s.ID,
		Application: s.Scope.Application,
		Service:     s.Scope.Service,
		Version:     s.Version,
		Format:      string(s.Format),
		Digest:      s.Digest,
		Size:        s.Size,
		FileName:    s.FileName,
		IsLatest:    s.IsLatest,
		Summary:     toOpenAPISummary(s.Summary),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// importMetadata describes an import result; the version it names is
// always the latest at the time of the import.
func importMetadata(r *schema.ImportResult) types.SchemaMetadata {
	return types.SchemaMetadata{
		ID:          r.ID,
		Application: r.Application,
		Service:     r.Service,
		Version:     r.Version,
		Format:      string(r.Format),
		Digest:      r.Digest,
		Size:        r.Size,
		IsLatest:    true,
		Summary:     toOpenAPISummary(r.Summary),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toOpenAPISummary(s schema.Summary) types.OpenAPISummary {
	return types.OpenAPISummary{
		Title:       s.Title,
		APIVersion:  s.APIVersion,
		SpecVersion: s.SpecVersion,
		PathCount:   s.PathCount,
	}
}
