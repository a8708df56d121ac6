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
	"strings"
	"time"
)

// Format is the serialization of a schema document
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts a format name, file extension or media type
func ParseFormat(s string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.TrimPrefix(normalized, ".")
	if i := strings.Index(normalized, ";"); i >= 0 {
		normalized = strings.TrimSpace(normalized[:i])
	}

	switch normalized {
	case "json", "application/json", "application/vnd.oai.openapi+json":
		return FormatJSON, nil
	case "yaml", "yml", "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml",
		"application/vnd.oai.openapi":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported schema format %q", s)
	}
}

// FormatFromFileName derives the format from a file extension
func FormatFromFileName(name string) (Format, bool) {
	ext := filepath.Ext(name)
	if ext == "" {
		return "", false
	}
	f, err := ParseFormat(ext)
	if err != nil {
		return "", false
	}
	return f, true
}

// Extension returns the on-disk file extension without the dot
func (f Format) Extension() string {
	return string(f)
}

// ContentType returns the media type served for the format
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Scope identifies an independent version sequence: an application, or a
// service within an application.
type Scope struct {
	ApplicationID uint
	ServiceID     *uint
	Application   string
	Service       string
}

// HasService reports whether the scope is service-level
func (s Scope) HasService() bool {
	return s.ServiceID != nil
}

// Key is the stable repository key for the scope. Application-level scopes
// use "-" for the service part so the key is never NULL.
func (s Scope) Key() string {
	if s.ServiceID == nil {
		return fmt.Sprintf("app:%d/svc:-", s.ApplicationID)
	}
	return fmt.Sprintf("app:%d/svc:%d", s.ApplicationID, *s.ServiceID)
}

// String renders the scope by name
func (s Scope) String() string {
	if s.Service == "" {
		return s.Application
	}
	return s.Application + "/" + s.Service
}

// Application is a top-level namespace
type Application struct {
	ID          uint
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Service is a namespace nested under one application
type Service struct {
	ID            uint
	ApplicationID uint
	Name          string
	Description   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Summary is the descriptive header of an OpenAPI document
type Summary struct {
	Title       string `json:"title,omitempty"`
	APIVersion  string `json:"api_version,omitempty"`
	SpecVersion string `json:"spec_version,omitempty"`
	PathCount   int    `json:"path_count"`
}

// Schema is one stored version of a document within a scope
type Schema struct {
	ID        uint
	Scope     Scope
	Version   int
	Format    Format
	Digest    string
	Size      int64
	Path      string
	FileName  string
	Summary   Summary
	IsLatest  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ImportRequest carries an upload into the registry
type ImportRequest struct {
	Application string
	Service     string
	Content     []byte
	// Format may be empty when FileName has a recognised extension.
	Format   Format
	FileName string
	Replace  bool
}

// ImportResult describes the version an import produced or resolved to
type ImportResult struct {
	ID           uint
	Application  string
	Service      string
	Version      int
	Digest       string
	Size         int64
	Format       Format
	Path         string
	Summary      Summary
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Replaced     bool
	Deduplicated bool
}

// SchemaContent pairs a version's metadata with its verified bytes
type SchemaContent struct {
	Schema  *Schema
	Content []byte
}

// RegistryStats summarises the repository contents
type RegistryStats struct {
	Applications int64
	Services     int64
	Schemas      int64
	TotalBytes   int64
	ByFormat     map[string]int64
}

// ImportStage names a step of the import state machine
type ImportStage string

const (
	StageValidating ImportStage = "validating"
	StageResolving  ImportStage = "resolving"
	StageWriting    ImportStage = "writing"
	StageCommitting ImportStage = "committing"
	StageDone       ImportStage = "done"
)
