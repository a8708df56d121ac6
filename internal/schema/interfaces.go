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
)

// Repository persists applications, services and schema metadata. It is the
// transactional boundary between files and metadata: RecordSchema runs the
// caller's Publish step inside the same transaction as the row write, so a
// row becomes visible only together with its published file.
type Repository interface {
	// EnsureApplication returns the named application, creating it on first use
	EnsureApplication(ctx context.Context, name string) (*Application, error)

	// EnsureService returns the named service of an application, creating it on first use
	EnsureService(ctx context.Context, applicationID uint, name string) (*Service, error)

	// FindScope resolves names to a scope without creating anything
	FindScope(ctx context.Context, application, service string) (Scope, error)

	// RecordSchema inserts a new version, or updates the existing row on replace
	RecordSchema(ctx context.Context, record *Schema, opts RecordOptions) (*Schema, error)

	// Latest returns the maximum version of a scope
	Latest(ctx context.Context, scope Scope) (*Schema, error)

	// ByVersion returns one version of a scope
	ByVersion(ctx context.Context, scope Scope, version int) (*Schema, error)

	// Versions returns every version of a scope in ascending order
	Versions(ctx context.Context, scope Scope) ([]*Schema, error)

	ListApplications(ctx context.Context) ([]*Application, error)
	ListServices(ctx context.Context, applicationID uint) ([]*Service, error)
	Stats(ctx context.Context) (RegistryStats, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// RecordOptions controls RecordSchema
type RecordOptions struct {
	// Replace updates the row at record.Version instead of inserting.
	Replace bool

	// ExpectedDigest guards a replace: the update only applies while the
	// row still carries this digest. Empty disables the guard.
	ExpectedDigest string

	// Publish runs after the row write and before commit. An error aborts
	// the transaction and is returned unchanged.
	Publish func() error
}
