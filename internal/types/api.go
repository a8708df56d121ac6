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

package types

import (
	"time"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}

// OpenAPISummary is the descriptive header extracted from an imported document
type OpenAPISummary struct {
	Title       string `json:"title,omitempty"`
	APIVersion  string `json:"api_version,omitempty"`
	SpecVersion string `json:"spec_version,omitempty"`
	PathCount   int    `json:"path_count"`
}

// SchemaMetadata describes one stored version of a schema
type SchemaMetadata struct {
	ID          uint           `json:"id"`
	Application string         `json:"application"`
	Service     string         `json:"service,omitempty"`
	Version     int            `json:"version"`
	Format      string         `json:"format"`
	Digest      string         `json:"digest"`
	Size        int64          `json:"size"`
	FileName    string         `json:"file_name,omitempty"`
	IsLatest    bool           `json:"is_latest"`
	Summary     OpenAPISummary `json:"summary"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ImportResponse is returned by the upload endpoint
type ImportResponse struct {
	Message      string         `json:"message"`
	Schema       SchemaMetadata `json:"schema"`
	Replaced     bool           `json:"replaced"`
	Deduplicated bool           `json:"deduplicated"`
	Attempts     int            `json:"attempts"`
	Timestamp    time.Time      `json:"timestamp"`
}

// LatestSchemaResponse carries the latest version together with its content
type LatestSchemaResponse struct {
	Schema    SchemaMetadata `json:"schema"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// SchemaResponse wraps a single version's metadata
type SchemaResponse struct {
	Schema    SchemaMetadata `json:"schema"`
	Timestamp time.Time      `json:"timestamp"`
}

// VersionsResponse lists every version of a scope in ascending order
type VersionsResponse struct {
	Application string           `json:"application"`
	Service     string           `json:"service,omitempty"`
	Versions    []SchemaMetadata `json:"versions"`
	Count       int              `json:"count"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Application is the API view of an application namespace
type Application struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service is the API view of a service namespace
type Service struct {
	ID          uint      `json:"id"`
	Application string    `json:"application"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ApplicationsResponse lists applications
type ApplicationsResponse struct {
	Applications []Application `json:"applications"`
	Count        int           `json:"count"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ServicesResponse lists the services of one application
type ServicesResponse struct {
	Application string    `json:"application"`
	Services    []Service `json:"services"`
	Count       int       `json:"count"`
	Timestamp   time.Time `json:"timestamp"`
}

// RegistryStats summarises the contents of the store
type RegistryStats struct {
	Applications int64            `json:"applications"`
	Services     int64            `json:"services"`
	Schemas      int64            `json:"schemas"`
	TotalBytes   int64            `json:"total_bytes"`
	ByFormat     map[string]int64 `json:"by_format"`
}

// StatsResponse wraps registry statistics
type StatsResponse struct {
	Stats     RegistryStats `json:"stats"`
	Timestamp time.Time     `json:"timestamp"`
}
