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

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	vaulterrors "github.com/amtp-protocol/schemavault/internal/errors"
	"github.com/amtp-protocol/schemavault/internal/schema"
)

type serviceKey struct {
	applicationID uint
	name          string
}

// MemoryRepository implements schema.Repository using in-memory maps
type MemoryRepository struct {
	mu sync.RWMutex

	nextApplicationID uint
	nextServiceID     uint
	nextSchemaID      uint

	applications map[string]*schema.Application
	services     map[serviceKey]*schema.Service
	// scope key -> version -> row
	schemas map[string]map[int]*schema.Schema

	closed bool
}

// NewMemoryRepository creates a new in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		applications: make(map[string]*schema.Application),
		services:     make(map[serviceKey]*schema.Service),
		schemas:      make(map[string]map[int]*schema.Schema),
	}
}

// EnsureApplication returns the named application, creating it if needed
func (mr *MemoryRepository) EnsureApplication(ctx context.Context, name string) (*schema.Application, error) {
	if name == "" {
		return nil, fmt.Errorf("application name cannot be empty")
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if app, ok := mr.applications[name]; ok {
		copied := *app
		return &copied, nil
	}

	mr.nextApplicationID++
	now := time.Now().UTC()
	app := &schema.Application{
		ID:        mr.nextApplicationID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	mr.applications[name] = app

	copied := *app
	return &copied, nil
}

// EnsureService returns the named service of an application, creating it if needed
func (mr *MemoryRepository) EnsureService(ctx context.Context, applicationID uint, name string) (*schema.Service, error) {
	if name == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if !mr.hasApplicationID(applicationID) {
		return nil, vaulterrors.NewNotFoundError(fmt.Sprintf("application %d", applicationID))
	}

	key := serviceKey{applicationID: applicationID, name: name}
	if svc, ok := mr.services[key]; ok {
		copied := *svc
		return &copied, nil
	}

	mr.nextServiceID++
	now := time.Now().UTC()
	svc := &schema.Service{
		ID:            mr.nextServiceID,
		ApplicationID: applicationID,
		Name:          name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	mr.services[key] = svc

	copied := *svc
	return &copied, nil
}

func (mr *MemoryRepository) hasApplicationID(id uint) bool {
	for _, app := range mr.applications {
		if app.ID == id {
			return true
		}
	}
	return false
}

// FindScope resolves application and service names without creating them
func (mr *MemoryRepository) FindScope(ctx context.Context, application, service string) (schema.Scope, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	app, ok := mr.applications[application]
	if !ok {
		return schema.Scope{}, vaulterrors.NewNotFoundError(fmt.Sprintf("application %q", application))
	}

	scope := schema.Scope{ApplicationID: app.ID, Application: app.Name}
	if service == "" {
		return scope, nil
	}

	svc, ok := mr.services[serviceKey{applicationID: app.ID, name: service}]
	if !ok {
		return schema.Scope{}, vaulterrors.NewNotFoundError(fmt.Sprintf("service %q of application %q", service, application))
	}

	serviceID := svc.ID
	scope.ServiceID = &serviceID
	scope.Service = svc.Name
	return scope, nil
}

// RecordSchema stores the row for a version. The write lock is held while
// opts.Publish runs, so the file and the row become visible together.
func (mr *MemoryRepository) RecordSchema(ctx context.Context, record *schema.Schema, opts schema.RecordOptions) (*schema.Schema, error) {
	if record == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	if record.Version <= 0 {
		return nil, fmt.Errorf("schema version must be positive")
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if mr.closed {
		return nil, vaulterrors.NewRepositoryError("failed to record schema", fmt.Errorf("repository is closed"))
	}

	key := record.Scope.Key()
	versions := mr.schemas[key]
	existing := versions[record.Version]
	now := time.Now().UTC()

	row := cloneSchema(record)
	if opts.Replace {
		if existing == nil || (opts.ExpectedDigest != "" && existing.Digest != opts.ExpectedDigest) {
			return nil, vaulterrors.NewVersionConflictError(record.Scope.String(), record.Version,
				fmt.Errorf("version changed or was removed before replace"))
		}
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		row.UpdatedAt = now
	} else {
		if existing != nil {
			return nil, vaulterrors.NewVersionConflictError(record.Scope.String(), record.Version,
				fmt.Errorf("version already exists"))
		}
		row.ID = mr.nextSchemaID + 1
		row.CreatedAt = now
		row.UpdatedAt = now
	}

	if opts.Publish != nil {
		if err := opts.Publish(); err != nil {
			return nil, err
		}
	}

	if !opts.Replace {
		mr.nextSchemaID++
	}
	if versions == nil {
		versions = make(map[int]*schema.Schema)
		mr.schemas[key] = versions
	}
	versions[row.Version] = row

	return cloneSchema(row), nil
}

// Latest returns the maximum version of a scope
func (mr *MemoryRepository) Latest(ctx context.Context, scope schema.Scope) (*schema.Schema, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	var latest *schema.Schema
	for _, s := range mr.schemas[scope.Key()] {
		if latest == nil || s.Version > latest.Version {
			latest = s
		}
	}
	if latest == nil {
		return nil, vaulterrors.NewNotFoundError(fmt.Sprintf("schema for %s", scope))
	}
	return withScope(latest, scope), nil
}

// ByVersion returns one version of a scope
func (mr *MemoryRepository) ByVersion(ctx context.Context, scope schema.Scope, version int) (*schema.Schema, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	s, ok := mr.schemas[scope.Key()][version]
	if !ok {
		return nil, vaulterrors.NewNotFoundError(fmt.Sprintf("version %d of %s", version, scope))
	}
	return withScope(s, scope), nil
}

// Versions returns every version of a scope, oldest first
func (mr *MemoryRepository) Versions(ctx context.Context, scope schema.Scope) ([]*schema.Schema, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	versions := mr.schemas[scope.Key()]
	result := make([]*schema.Schema, 0, len(versions))
	for _, s := range versions {
		result = append(result, withScope(s, scope))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

// ListApplications returns every application ordered by name
func (mr *MemoryRepository) ListApplications(ctx context.Context) ([]*schema.Application, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	result := make([]*schema.Application, 0, len(mr.applications))
	for _, app := range mr.applications {
		copied := *app
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// ListServices returns the services of an application ordered by name
func (mr *MemoryRepository) ListServices(ctx context.Context, applicationID uint) ([]*schema.Service, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	var result []*schema.Service
	for key, svc := range mr.services {
		if key.applicationID != applicationID {
			continue
		}
		copied := *svc
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// Stats returns row counts and stored bytes
func (mr *MemoryRepository) Stats(ctx context.Context) (schema.RegistryStats, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	stats := schema.RegistryStats{
		Applications: int64(len(mr.applications)),
		Services:     int64(len(mr.services)),
		ByFormat:     make(map[string]int64),
	}
	for _, versions := range mr.schemas {
		for _, s := range versions {
			stats.Schemas++
			stats.TotalBytes += s.Size
			stats.ByFormat[string(s.Format)]++
		}
	}
	return stats, nil
}

// HealthCheck reports whether the repository is still open
func (mr *MemoryRepository) HealthCheck(ctx context.Context) error {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	if mr.closed {
		return fmt.Errorf("repository is closed")
	}
	return nil
}

// Close marks the repository closed. Stored data stays readable.
func (mr *MemoryRepository) Close() error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.closed = true
	return nil
}

func cloneSchema(s *schema.Schema) *schema.Schema {
	copied := *s
	if s.Scope.ServiceID != nil {
		id := *s.Scope.ServiceID
		copied.Scope.ServiceID = &id
	}
	copied.IsLatest = false
	return &copied
}

// withScope copies a row and attaches the caller's scope names
func withScope(s *schema.Schema, scope schema.Scope) *schema.Schema {
	copied := cloneSchema(s)
	copied.Scope = scope
	return copied
}
