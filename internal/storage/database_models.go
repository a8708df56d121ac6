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
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/amtp-protocol/schemavault/internal/schema"
)

// ApplicationModel application table model
type ApplicationModel struct {
	ID          uint      `gorm:"primarykey"`
	Name        string    `gorm:"size:128;uniqueIndex;not null"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for ApplicationModel
func (ApplicationModel) TableName() string {
	return "applications"
}

// ServiceModel service table model. Names are unique per application.
type ServiceModel struct {
	ID            uint      `gorm:"primarykey"`
	ApplicationID uint      `gorm:"not null;uniqueIndex:idx_services_application_name,priority:1"`
	Name          string    `gorm:"size:128;not null;uniqueIndex:idx_services_application_name,priority:2"`
	Description   string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for ServiceModel
func (ServiceModel) TableName() string {
	return "services"
}

// SchemaModel schema table model. ScopeKey is never NULL, so the unique
// index also covers application-level schemas that have no service.
type SchemaModel struct {
	ID            uint           `gorm:"primarykey"`
	ScopeKey      string         `gorm:"size:64;not null;uniqueIndex:idx_schemas_scope_version,priority:1"`
	Version       int            `gorm:"not null;uniqueIndex:idx_schemas_scope_version,priority:2"`
	ApplicationID uint           `gorm:"not null;index"`
	ServiceID     *uint          `gorm:"index"`
	FileFormat    string         `gorm:"size:8;not null"`
	FileName      string         `gorm:"size:255"`
	FilePath      string         `gorm:"size:1024;not null"`
	FileSize      int64          `gorm:"not null"`
	Checksum      string         `gorm:"size:64;not null"`
	Summary       datatypes.JSON `gorm:"column:summary"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

// TableName returns the table name for SchemaModel
func (SchemaModel) TableName() string {
	return "schemas"
}

func toApplication(m *ApplicationModel) *schema.Application {
	return &schema.Application{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toService(m *ServiceModel) *schema.Service {
	return &schema.Service{
		ID:            m.ID,
		ApplicationID: m.ApplicationID,
		Name:          m.Name,
		Description:   m.Description,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toSchemaModel(s *schema.Schema) (*SchemaModel, error) {
	summary, err := json.Marshal(s.Summary)
	if err != nil {
		return nil, err
	}

	var serviceID *uint
	if s.Scope.ServiceID != nil {
		id := *s.Scope.ServiceID
		serviceID = &id
	}

	return &SchemaModel{
		ID:            s.ID,
		ScopeKey:      s.Scope.Key(),
		Version:       s.Version,
		ApplicationID: s.Scope.ApplicationID,
		ServiceID:     serviceID,
		FileFormat:    string(s.Format),
		FileName:      s.FileName,
		FilePath:      s.Path,
		FileSize:      s.Size,
		Checksum:      s.Digest,
		Summary:       datatypes.JSON(summary),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}, nil
}

// toSchema converts a row back; scope supplies the names the row only
// references by ID.
func toSchema(m *SchemaModel, scope schema.Scope) *schema.Schema {
	var summary schema.Summary
	if len(m.Summary) > 0 {
		// A malformed summary only loses descriptive fields
		_ = json.Unmarshal(m.Summary, &summary)
	}

	return &schema.Schema{
		ID:        m.ID,
		Scope:     scope,
		Version:   m.Version,
		Format:    schema.Format(m.FileFormat),
		Digest:    m.Checksum,
		Size:      m.FileSize,
		Path:      m.FilePath,
		FileName:  m.FileName,
		Summary:   summary,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
