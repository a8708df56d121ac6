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
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/amtp-protocol/schemavault/internal/errors"
)

// MaxNameLength bounds application and service names
const MaxNameLength = 128

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName checks a name against the allowed charset. kind is used in
// the error message ("application" or "service").
func ValidateName(kind, name string) error {
	if name == "" || name == "." || name == ".." || len(name) > MaxNameLength {
		return errors.NewInvalidNameError(kind, name)
	}
	if !namePattern.MatchString(name) {
		return errors.NewInvalidNameError(kind, name)
	}
	return nil
}

// PathResolver derives on-disk locations under a fixed storage root
type PathResolver struct {
	root string
}

// NewPathResolver creates a resolver rooted at an absolute, cleaned root
func NewPathResolver(root string) (*PathResolver, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root %s: %w", root, err)
	}
	return &PathResolver{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute storage root
func (r *PathResolver) Root() string {
	return r.root
}

// FileName returns the file name used for a version
func FileName(version int, format Format) string {
	return fmt.Sprintf("schema_v%d.%s", version, format.Extension())
}

// Resolve returns root/application[/service]/schema_v{version}.{ext}
func (r *PathResolver) Resolve(application, service string, version int, format Format) (string, error) {
	if version <= 0 {
		return "", fmt.Errorf("version must be positive, got %d", version)
	}
	if format != FormatJSON && format != FormatYAML {
		return "", fmt.Errorf("unsupported schema format %q", format)
	}

	dir, err := r.ScopeDir(application, service)
	if err != nil {
		return "", err
	}
	return r.contain(filepath.Join(dir, FileName(version, format)))
}

// ScopeDir returns the directory holding a scope's files
func (r *PathResolver) ScopeDir(application, service string) (string, error) {
	if err := ValidateName("application", application); err != nil {
		return "", err
	}
	elems := []string{r.root, application}
	if service != "" {
		if err := ValidateName("service", service); err != nil {
			return "", err
		}
		elems = append(elems, service)
	}
	return r.contain(filepath.Join(elems...))
}

// Contains reports whether path is strictly inside the storage root
func (r *PathResolver) Contains(path string) bool {
	_, err := r.contain(path)
	return err == nil
}

// contain normalizes path and rejects anything that is not a strict
// descendant of the root. Names are validated before we get here; this
// check still runs for every path.
func (r *PathResolver) contain(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if !filepath.IsAbs(cleaned) {
		cleaned = filepath.Join(r.root, cleaned)
	}

	rel, err := filepath.Rel(r.root, cleaned)
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewPathTraversalError(path, r.root)
	}
	return cleaned, nil
}
