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

package schema

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/amtp-protocol/schemavault/internal/errors"
	"github.com/amtp-protocol/schemavault/internal/logging"
)

const tracerName = "github.com/amtp-protocol/schemavault/internal/schema"

// Config holds the registry settings
type Config struct {
	StorageRoot string
	Deduplicate bool
}

// Registry orchestrates imports and reads over the path resolver, integrity
// checker, allocator, file store and repository.
type Registry struct {
	repo      Repository
	paths     *PathResolver
	files     *FileStore
	allocator *Allocator
	logger    *logging.Logger
	tracer    trace.Tracer
	dedup     bool
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger used for compensation failures
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		r.logger = logger.WithComponent("schema_registry")
	}
}

// WithTracerProvider sets the tracer provider for import and read spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// WithFileStore replaces the default file store
func WithFileStore(fs *FileStore) Option {
	return func(r *Registry) {
		r.files = fs
	}
}

// NewRegistry creates a registry over repo rooted at cfg.StorageRoot
func NewRegistry(cfg Config, repo Repository, opts ...Option) (*Registry, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}

	paths, err := NewPathResolver(cfg.StorageRoot)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(paths.Root(), defaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", paths.Root(), err)
	}

	r := &Registry{
		repo:      repo,
		paths:     paths,
		files:     NewFileStore(),
		allocator: NewAllocator(repo, cfg.Deduplicate),
		logger:    logging.Nop(),
		tracer:    otel.Tracer(tracerName),
		dedup:     cfg.Deduplicate,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Root returns the absolute storage root
func (r *Registry) Root() string {
	return r.paths.Root()
}

// importState carries values between import stages
type importState struct {
	req        ImportRequest
	format     Format
	summary    Summary
	digest     string
	scope      Scope
	allocation Allocation
	path       string
	staged     *StagedFile
}

// Import stores a new version of a document, replaces the latest version,
// or resolves to the latest version when the content is unchanged.
func (r *Registry) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	ctx, span := r.tracer.Start(ctx, "schema.import", trace.WithAttributes(
		attribute.String("schema.application", req.Application),
		attribute.String("schema.service", req.Service),
		attribute.Bool("schema.replace", req.Replace),
		attribute.Int("schema.size", len(req.Content)),
	))
	defer span.End()

	result, err := r.importSchema(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("schema.version", result.Version),
		attribute.Bool("schema.deduplicated", result.Deduplicated),
		attribute.String("schema.digest", result.Digest),
	)
	return result, nil
}

func (r *Registry) importSchema(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	state := &importState{req: req}

	if err := r.runStage(ctx, StageValidating, func(ctx context.Context) error {
		return r.validate(state)
	}); err != nil {
		return nil, err
	}

	if err := r.runStage(ctx, StageResolving, func(ctx context.Context) error {
		return r.resolve(ctx, state)
	}); err != nil {
		return nil, err
	}

	if state.allocation.Duplicate {
		return resultFrom(state.allocation.Previous, false, true), nil
	}

	if err := r.runStage(ctx, StageWriting, func(ctx context.Context) error {
		staged, err := r.files.Stage(state.path, req.Content)
		if err != nil {
			return err
		}
		state.staged = staged
		return nil
	}); err != nil {
		return nil, err
	}

	var saved *Schema
	err := r.runStage(ctx, StageCommitting, func(ctx context.Context) error {
		var err error
		saved, err = r.commit(ctx, state)
		return err
	})
	if err != nil {
		if existing := r.resolveDuplicateRace(ctx, state, err); existing != nil {
			return resultFrom(existing, false, true), nil
		}
		return nil, err
	}

	r.cleanupAfterCommit(state, saved)
	return resultFrom(saved, state.allocation.Replace, false), nil
}

// validate checks names and that the content parses as its format
func (r *Registry) validate(state *importState) error {
	req := state.req
	if err := ValidateName("application", req.Application); err != nil {
		return err
	}
	if req.Service != "" {
		if err := ValidateName("service", req.Service); err != nil {
			return err
		}
	}

	format := req.Format
	if format == "" {
		detected, ok := FormatFromFileName(req.FileName)
		if !ok {
			return errors.NewInvalidSchemaFormatError("unknown",
				fmt.Errorf("format not given and file name %q has no .json, .yaml or .yml extension", req.FileName))
		}
		format = detected
	} else {
		parsed, err := ParseFormat(string(format))
		if err != nil {
			return errors.NewInvalidSchemaFormatError(string(format), err)
		}
		format = parsed
	}

	doc, err := ParseDocument(req.Content, format)
	if err != nil {
		return err
	}

	state.format = format
	state.summary = doc.Summarize()
	return nil
}

// resolve computes digest, scope, version and destination. Apart from the
// lazy creation of the application and service it has no side effects.
func (r *Registry) resolve(ctx context.Context, state *importState) error {
	state.digest = Digest(state.req.Content)

	scope, err := r.ensureScope(ctx, state.req.Application, state.req.Service)
	if err != nil {
		return err
	}
	state.scope = scope

	allocation, err := r.allocator.Allocate(ctx, scope, state.digest, state.req.Replace)
	if err != nil {
		return err
	}
	state.allocation = allocation
	if allocation.Duplicate {
		return nil
	}

	path, err := r.paths.Resolve(scope.Application, scope.Service, allocation.Version, state.format)
	if err != nil {
		return err
	}
	state.path = path
	return nil
}

// commit records the row and publishes the staged file in one transaction.
// On failure the staged file is rolled back.
func (r *Registry) commit(ctx context.Context, state *importState) (*Schema, error) {
	record := &Schema{
		Scope:    state.scope,
		Version:  state.allocation.Version,
		Format:   state.format,
		Digest:   state.digest,
		Size:     int64(len(state.req.Content)),
		Path:     state.path,
		FileName: state.req.FileName,
		Summary:  state.summary,
	}

	opts := RecordOptions{
		Replace: state.allocation.Replace,
		Publish: state.staged.Publish,
	}
	if state.allocation.Replace {
		opts.ExpectedDigest = state.allocation.Previous.Digest
	}

	saved, err := r.repo.RecordSchema(ctx, record, opts)
	if err != nil {
		r.compensate(state, err)
		return nil, err
	}
	saved.IsLatest = true
	return saved, nil
}

// compensate removes what a failed commit left on disk. Its own failure is
// logged and never replaces the commit error.
func (r *Registry) compensate(state *importState, cause error) {
	if err := state.staged.Rollback(); err != nil {
		r.logger.WithFields(map[string]interface{}{
			"scope":   state.scope.String(),
			"version": state.allocation.Version,
			"path":    state.path,
			"cause":   cause.Error(),
		}).Error("Failed to clean up schema file after commit failure", err)
	}
}

// resolveDuplicateRace handles a lost race against an import of identical
// content: both callers end up with the winner's version.
func (r *Registry) resolveDuplicateRace(ctx context.Context, state *importState, err error) *Schema {
	if !r.dedup || state.req.Replace || !errors.HasCode(err, errors.ErrVersionConflict) {
		return nil
	}
	latest, lerr := r.repo.Latest(ctx, state.scope)
	if lerr != nil || latest.Digest != state.digest {
		return nil
	}
	latest.IsLatest = true
	return latest
}

// cleanupAfterCommit drops the replace backup and, when a replace changed
// the format, the previous file of the same version.
func (r *Registry) cleanupAfterCommit(state *importState, saved *Schema) {
	if err := state.staged.Finalize(); err != nil {
		r.logger.Warnf("Failed to remove backup for %s: %v", saved.Path, err)
	}

	previous := state.allocation.Previous
	if !state.allocation.Replace || previous == nil || previous.Path == saved.Path {
		return
	}
	if !r.paths.Contains(previous.Path) {
		r.logger.Warnf("Refusing to remove replaced file outside storage root: %s", previous.Path)
		return
	}
	if err := r.files.Remove(previous.Path); err != nil {
		r.logger.Error("Failed to remove replaced schema file", err)
	}
}

func (r *Registry) ensureScope(ctx context.Context, application, service string) (Scope, error) {
	app, err := r.repo.EnsureApplication(ctx, application)
	if err != nil {
		return Scope{}, err
	}
	scope := Scope{ApplicationID: app.ID, Application: app.Name}
	if service == "" {
		return scope, nil
	}

	svc, err := r.repo.EnsureService(ctx, app.ID, service)
	if err != nil {
		return Scope{}, err
	}
	serviceID := svc.ID
	scope.ServiceID = &serviceID
	scope.Service = svc.Name
	return scope, nil
}

// runStage runs one import stage in its own span and tags a failure with the stage
func (r *Registry) runStage(ctx context.Context, stage ImportStage, fn func(ctx context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "schema.import."+string(stage))
	defer span.End()

	if err := fn(ctx); err != nil {
		if vaultErr, ok := errors.AsVaultError(err); ok {
			vaultErr.WithDetail("stage", string(stage))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Latest returns the latest version of a scope with its verified content
func (r *Registry) Latest(ctx context.Context, application, service string) (*SchemaContent, error) {
	ctx, span := r.startRead(ctx, "schema.latest", application, service)
	defer span.End()

	scope, err := r.findScope(ctx, application, service)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	latest, err := r.repo.Latest(ctx, scope)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	latest.IsLatest = true

	content, err := r.readVerified(ctx, latest)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	return content, nil
}

// Versions lists every version of a scope in ascending order
func (r *Registry) Versions(ctx context.Context, application, service string) ([]*Schema, error) {
	ctx, span := r.startRead(ctx, "schema.versions", application, service)
	defer span.End()

	scope, err := r.findScope(ctx, application, service)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	versions, err := r.repo.Versions(ctx, scope)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	if len(versions) > 0 {
		versions[len(versions)-1].IsLatest = true
	}
	return versions, nil
}

// ByVersion returns the metadata of one version
func (r *Registry) ByVersion(ctx context.Context, application, service string, version int) (*Schema, error) {
	ctx, span := r.startRead(ctx, "schema.by_version", application, service)
	defer span.End()
	span.SetAttributes(attribute.Int("schema.version", version))

	scope, err := r.findScope(ctx, application, service)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	s, err := r.byVersion(ctx, scope, version)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	return s, nil
}

// Content returns one version with its bytes, verified against the stored digest
func (r *Registry) Content(ctx context.Context, application, service string, version int) (*SchemaContent, error) {
	ctx, span := r.startRead(ctx, "schema.content", application, service)
	defer span.End()
	span.SetAttributes(attribute.Int("schema.version", version))

	scope, err := r.findScope(ctx, application, service)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	s, err := r.byVersion(ctx, scope, version)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	content, err := r.readVerified(ctx, s)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	return content, nil
}

// Applications lists every application
func (r *Registry) Applications(ctx context.Context) ([]*Application, error) {
	return r.repo.ListApplications(ctx)
}

// Services lists the services of an application
func (r *Registry) Services(ctx context.Context, application string) ([]*Service, error) {
	scope, err := r.findScope(ctx, application, "")
	if err != nil {
		return nil, err
	}
	return r.repo.ListServices(ctx, scope.ApplicationID)
}

// Stats returns repository statistics
func (r *Registry) Stats(ctx context.Context) (RegistryStats, error) {
	return r.repo.Stats(ctx)
}

// HealthCheck checks the repository and that the storage root is a directory
func (r *Registry) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(r.paths.Root())
	if err != nil {
		return fmt.Errorf("storage root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", r.paths.Root())
	}
	return r.repo.HealthCheck(ctx)
}

func (r *Registry) findScope(ctx context.Context, application, service string) (Scope, error) {
	if err := ValidateName("application", application); err != nil {
		return Scope{}, err
	}
	if service != "" {
		if err := ValidateName("service", service); err != nil {
			return Scope{}, err
		}
	}
	return r.repo.FindScope(ctx, application, service)
}

func (r *Registry) byVersion(ctx context.Context, scope Scope, version int) (*Schema, error) {
	if version <= 0 {
		return nil, errors.NewNotFoundError(fmt.Sprintf("version %d of %s", version, scope))
	}
	s, err := r.repo.ByVersion(ctx, scope, version)
	if err != nil {
		return nil, err
	}
	latest, err := r.repo.Latest(ctx, scope)
	if err != nil {
		return nil, err
	}
	s.IsLatest = latest.Version == s.Version
	return s, nil
}

// readVerified reads a version's file and checks its digest. A mismatch is
// retried once against a fresh row, since a concurrent replace may have
// published new bytes before its metadata committed.
func (r *Registry) readVerified(ctx context.Context, s *Schema) (*SchemaContent, error) {
	data, err := r.readFile(s)
	if err != nil {
		return nil, err
	}
	if Verify(data, s.Digest) {
		return &SchemaContent{Schema: s, Content: data}, nil
	}

	fresh, err := r.repo.ByVersion(ctx, s.Scope, s.Version)
	if err != nil {
		return nil, err
	}
	fresh.IsLatest = s.IsLatest
	data, err = r.readFile(fresh)
	if err != nil {
		return nil, err
	}
	if err := VerifyContent(fresh.Path, data, fresh.Digest); err != nil {
		return nil, err
	}
	return &SchemaContent{Schema: fresh, Content: data}, nil
}

func (r *Registry) readFile(s *Schema) ([]byte, error) {
	if !r.paths.Contains(s.Path) {
		return nil, errors.NewPathTraversalError(s.Path, r.paths.Root())
	}
	data, err := r.files.Read(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCorruption, "schema file %s is missing", s.Path).
				WithDetail("expected_digest", s.Digest)
		}
		return nil, errors.Wrapf(errors.ErrInternalError, err, "failed to read schema file %s", s.Path)
	}
	return data, nil
}

func (r *Registry) startRead(ctx context.Context, name, application, service string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("schema.application", application),
		attribute.String("schema.service", service),
	))
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// resultFrom converts a stored schema into an import result
func resultFrom(s *Schema, replaced, deduplicated bool) *ImportResult {
	return &ImportResult{
		ID:           s.ID,
		Application:  s.Scope.Application,
		Service:      s.Scope.Service,
		Version:      s.Version,
		Digest:       s.Digest,
		Size:         s.Size,
		Format:       s.Format,
		Path:         s.Path,
		Summary:      s.Summary,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		Replaced:     replaced,
		Deduplicated: deduplicated,
	}
}

// DescribeScope renders application and optional service for messages
func DescribeScope(application, service string) string {
	return strings.TrimSuffix(application+"/"+service, "/")
}
