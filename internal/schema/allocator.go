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

	"github.com/amtp-protocol/schemavault/internal/errors"
)

// LatestReader is the slice of Repository the allocator needs
type LatestReader interface {
	Latest(ctx context.Context, scope Scope) (*Schema, error)
}

// Allocation is the allocator's decision for one import
type Allocation struct {
	Version int
	Replace bool
	// Duplicate is set when the content equals the latest version's and
	// no new version should be written.
	Duplicate bool
	// Previous is the latest version before this import, if any.
	Previous *Schema
}

// Allocator picks version numbers for a scope
type Allocator struct {
	repo        LatestReader
	deduplicate bool
}

// NewAllocator creates an allocator. With deduplicate set, content equal to
// the latest version resolves to that version instead of a new one.
func NewAllocator(repo LatestReader, deduplicate bool) *Allocator {
	return &Allocator{repo: repo, deduplicate: deduplicate}
}

// NextVersion returns max+1, or 1 for an empty scope
func (a *Allocator) NextVersion(ctx context.Context, scope Scope) (int, error) {
	latest, err := a.latest(ctx, scope)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 1, nil
	}
	return latest.Version + 1, nil
}

// ResolveTarget returns the next version, or the latest one when replacing
func (a *Allocator) ResolveTarget(ctx context.Context, scope Scope, replace bool) (int, error) {
	allocation, err := a.Allocate(ctx, scope, "", replace)
	if err != nil {
		return 0, err
	}
	return allocation.Version, nil
}

// Allocate resolves the target version for content with the given digest
func (a *Allocator) Allocate(ctx context.Context, scope Scope, digest string, replace bool) (Allocation, error) {
	latest, err := a.latest(ctx, scope)
	if err != nil {
		return Allocation{}, err
	}

	if replace {
		if latest == nil {
			return Allocation{}, errors.NewNoExistingVersionError(scope.String())
		}
		return Allocation{Version: latest.Version, Replace: true, Previous: latest}, nil
	}

	if latest == nil {
		return Allocation{Version: 1}, nil
	}

	if a.deduplicate && digest != "" && latest.Digest == digest {
		return Allocation{Version: latest.Version, Duplicate: true, Previous: latest}, nil
	}

	return Allocation{Version: latest.Version + 1, Previous: latest}, nil
}

// latest returns nil, nil for an empty scope
func (a *Allocator) latest(ctx context.Context, scope Scope) (*Schema, error) {
	latest, err := a.repo.Latest(ctx, scope)
	if err != nil {
		if errors.HasCode(err, errors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return latest, nil
}
