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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	vaulterrors "github.com/amtp-protocol/schemavault/internal/errors"
	"github.com/amtp-protocol/schemavault/internal/schema"
)

// DatabaseRepository stores schema metadata through gorm on postgres or sqlite
type DatabaseRepository struct {
	config DatabaseStorageConfig
	db     *gorm.DB
}

// NewDatabaseRepository creates a new database repository. If dbOverride is non-nil, it is used (for testing).
func NewDatabaseRepository(config DatabaseStorageConfig, dbOverride ...*gorm.DB) (*DatabaseRepository, error) {
	var db *gorm.DB
	if len(dbOverride) > 0 && dbOverride[0] != nil {
		db = dbOverride[0]
	} else {
		dialector, err := openDialector(config)
		if err != nil {
			return nil, err
		}

		db, err = gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}

		// Set connection pool settings
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if config.MaxConnections > 0 {
			sqlDB.SetMaxOpenConns(config.MaxConnections)
		} else if isSQLite(config.Driver) {
			// sqlite allows one writer; a single connection queues writers
			// instead of failing them with "database is locked"
			sqlDB.SetMaxOpenConns(1)
		}
		if config.MaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(time.Duration(config.MaxIdleTime) * time.Second)
		}
	}

	ds := &DatabaseRepository{
		config: config,
		db:     db,
	}

	if config.AutoMigrate {
		if err := ds.Migrate(context.Background()); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

func openDialector(config DatabaseStorageConfig) (gorm.Dialector, error) {
	switch strings.ToLower(config.Driver) {
	case "postgres", "postgresql", "":
		return postgres.New(postgres.Config{
			DSN: config.ConnectionString,
		}), nil
	case "sqlite", "sqlite3":
		if err := ensureSQLiteDir(config.ConnectionString); err != nil {
			return nil, err
		}
		return sqlite.Open(config.ConnectionString), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}
}

// ensureSQLiteDir creates the directory of a file-backed sqlite database
func ensureSQLiteDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	path := dsn
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

// Migrate creates or updates the tables
func (ds *DatabaseRepository) Migrate(ctx context.Context) error {
	if err := ds.db.WithContext(ctx).AutoMigrate(&ApplicationModel{}, &ServiceModel{}, &SchemaModel{}); err != nil {
		return fmt.Errorf("failed to migrate schema tables: %w", err)
	}
	return nil
}

// EnsureApplication returns the named application, creating it if needed
func (ds *DatabaseRepository) EnsureApplication(ctx context.Context, name string) (*schema.Application, error) {
	if name == "" {
		return nil, fmt.Errorf("application name cannot be empty")
	}

	var model ApplicationModel
	err := ds.db.WithContext(ctx).Where("name = ?", name).First(&model).Error
	if err == nil {
		return toApplication(&model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, vaulterrors.NewRepositoryError("failed to get application", err)
	}

	now := time.Now().UTC()
	model = ApplicationModel{Name: name, CreatedAt: now, UpdatedAt: now}
	if err := ds.db.WithContext(ctx).Create(&model).Error; err != nil {
		if !isUniqueViolation(err) {
			return nil, vaulterrors.NewRepositoryError("failed to create application", err)
		}

		// Created concurrently; return the winner
		var existing ApplicationModel
		if err := ds.db.WithContext(ctx).Where("name = ?", name).First(&existing).Error; err != nil {
			return nil, vaulterrors.NewRepositoryError("failed to get application", err)
		}
		return toApplication(&existing), nil
	}

	return toApplication(&model), nil
}

// EnsureService returns the named service of an application, creating it if needed
func (ds *DatabaseRepository) EnsureService(ctx context.Context, applicationID uint, name string) (*schema.Service, error) {
	if name == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}

	var model ServiceModel
	err := ds.db.WithContext(ctx).
		Where("application_id = ? AND name = ?", applicationID, name).
		First(&model).Error
	if err == nil {
		return toService(&model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, vaulterrors.NewRepositoryError("failed to get service", err)
	}

	now := time.Now().UTC()
	model = ServiceModel{ApplicationID: applicationID, Name: name, CreatedAt: now, UpdatedAt: now}
	if err := ds.db.WithContext(ctx).Create(&model).Error; err != nil {
		if !isUniqueViolation(err) {
			return nil, vaulterrors.NewRepositoryError("failed to create service", err)
		}

		var existing ServiceModel
		if err := ds.db.WithContext(ctx).
			Where("application_id = ? AND name = ?", applicationID, name).
			First(&existing).Error; err != nil {
			return nil, vaulterrors.NewRepositoryError("failed to get service", err)
		}
		return toService(&existing), nil
	}

	return toService(&model), nil
}

// FindScope resolves application and service names without creating them
func (ds *DatabaseRepository) FindScope(ctx context.Context, application, service string) (schema.Scope, error) {
	var app ApplicationModel
	if err := ds.db.WithContext(ctx).Where("name = ?", application).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return schema.Scope{}, vaulterrors.NewNotFoundError(fmt.Sprintf("application %q", application))
		}
		return schema.Scope{}, vaulterrors.NewRepositoryError("failed to get application", err)
	}

	scope := schema.Scope{ApplicationID: app.ID, Application: app.Name}
	if service == "" {
		return scope, nil
	}

	var svc ServiceModel
	if err := ds.db.WithContext(ctx).
		Where("application_id = ? AND name = ?", app.ID, service).
		First(&svc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return schema.Scope{}, vaulterrors.NewNotFoundError(fmt.Sprintf("service %q of application %q", service, application))
		}
		return schema.Scope{}, vaulterrors.NewRepositoryError("failed to get service", err)
	}

	serviceID := svc.ID
	scope.ServiceID = &serviceID
	scope.Service = svc.Name
	return scope, nil
}

// RecordSchema writes the row for a version and runs opts.Publish in the
// same transaction. The unique index on (scope_key, version) turns a
// concurrent insert of the same version into a VersionConflict error.
func (ds *DatabaseRepository) RecordSchema(ctx context.Context, record *schema.Schema, opts schema.RecordOptions) (*schema.Schema, error) {
	if record == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	if record.Version <= 0 {
		return nil, fmt.Errorf("schema version must be positive")
	}

	model, err := toSchemaModel(record)
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema: %w", err)
	}
	now := time.Now().UTC()

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if opts.Replace {
			if err := replaceSchemaRow(tx, model, opts.ExpectedDigest, record.Scope, now); err != nil {
				return err
			}
		} else {
			model.CreatedAt = now
			model.UpdatedAt = now
			if err := tx.Create(model).Error; err != nil {
				if isUniqueViolation(err) {
					return vaulterrors.NewVersionConflictError(record.Scope.String(), record.Version, err)
				}
				return fmt.Errorf("failed to create schema in database: %w", err)
			}
		}

		if opts.Publish != nil {
			if err := opts.Publish(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if vaulterrors.IsVaultError(err) {
			return nil, err
		}
		return nil, vaulterrors.NewRepositoryError("failed to record schema", err)
	}

	return toSchema(model, record.Scope), nil
}

// replaceSchemaRow updates the row in place. The digest guard makes a
// concurrent replace that committed first a conflict instead of a silent
// overwrite.
func replaceSchemaRow(tx *gorm.DB, model *SchemaModel, expectedDigest string, scope schema.Scope, now time.Time) error {
	query := tx.Model(&SchemaModel{}).Where("scope_key = ? AND version = ?", model.ScopeKey, model.Version)
	if expectedDigest != "" {
		query = query.Where("checksum = ?", expectedDigest)
	}

	result := query.Updates(map[string]interface{}{
		"file_format": model.FileFormat,
		"file_name":   model.FileName,
		"file_path":   model.FilePath,
		"file_size":   model.FileSize,
		"checksum":    model.Checksum,
		"summary":     model.Summary,
		"updated_at":  now,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update schema in database: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return vaulterrors.NewVersionConflictError(scope.String(), model.Version,
			fmt.Errorf("version changed or was removed before replace"))
	}

	if err := tx.Where("scope_key = ? AND version = ?", model.ScopeKey, model.Version).Take(model).Error; err != nil {
		return fmt.Errorf("failed to reload schema: %w", err)
	}
	return nil
}

// Latest returns the maximum version of a scope
func (ds *DatabaseRepository) Latest(ctx context.Context, scope schema.Scope) (*schema.Schema, error) {
	var model SchemaModel
	if err := ds.db.WithContext(ctx).
		Where("scope_key = ?", scope.Key()).
		Order("version DESC").
		Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, vaulterrors.NewNotFoundError(fmt.Sprintf("schema for %s", scope))
		}
		return nil, vaulterrors.NewRepositoryError("failed to get latest schema", err)
	}
	return toSchema(&model, scope), nil
}

// ByVersion returns one version of a scope
func (ds *DatabaseRepository) ByVersion(ctx context.Context, scope schema.Scope, version int) (*schema.Schema, error) {
	var model SchemaModel
	if err := ds.db.WithContext(ctx).
		Where("scope_key = ? AND version = ?", scope.Key(), version).
		Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, vaulterrors.NewNotFoundError(fmt.Sprintf("version %d of %s", version, scope))
		}
		return nil, vaulterrors.NewRepositoryError("failed to get schema", err)
	}
	return toSchema(&model, scope), nil
}

// Versions returns every version of a scope, oldest first
func (ds *DatabaseRepository) Versions(ctx context.Context, scope schema.Scope) ([]*schema.Schema, error) {
	var models []SchemaModel
	if err := ds.db.WithContext(ctx).
		Where("scope_key = ?", scope.Key()).
		Order("version ASC").
		Find(&models).Error; err != nil {
		return nil, vaulterrors.NewRepositoryError("failed to list schema versions", err)
	}

	result := make([]*schema.Schema, 0, len(models))
	for i := range models {
		result = append(result, toSchema(&models[i], scope))
	}
	return result, nil
}

// ListApplications returns every application ordered by name
func (ds *DatabaseRepository) ListApplications(ctx context.Context) ([]*schema.Application, error) {
	var models []ApplicationModel
	if err := ds.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, vaulterrors.NewRepositoryError("failed to list applications", err)
	}

	result := make([]*schema.Application, 0, len(models))
	for i := range models {
		result = append(result, toApplication(&models[i]))
	}
	return result, nil
}

// ListServices returns the services of an application ordered by name
func (ds *DatabaseRepository) ListServices(ctx context.Context, applicationID uint) ([]*schema.Service, error) {
	var models []ServiceModel
	if err := ds.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("name ASC").
		Find(&models).Error; err != nil {
		return nil, vaulterrors.NewRepositoryError("failed to list services", err)
	}

	result := make([]*schema.Service, 0, len(models))
	for i := range models {
		result = append(result, toService(&models[i]))
	}
	return result, nil
}

// Stats returns row counts and stored bytes
func (ds *DatabaseRepository) Stats(ctx context.Context) (schema.RegistryStats, error) {
	stats := schema.RegistryStats{ByFormat: make(map[string]int64)}
	db := ds.db.WithContext(ctx)

	if err := db.Model(&ApplicationModel{}).Count(&stats.Applications).Error; err != nil {
		return stats, fmt.Errorf("failed to count applications: %w", err)
	}
	if err := db.Model(&ServiceModel{}).Count(&stats.Services).Error; err != nil {
		return stats, fmt.Errorf("failed to count services: %w", err)
	}

	var rows []struct {
		FileFormat string
		Count      int64
		Bytes      int64
	}
	if err := db.Model(&SchemaModel{}).
		Select("file_format, count(*) as count, COALESCE(SUM(file_size), 0) as bytes").
		Group("file_format").
		Scan(&rows).Error; err != nil {
		return stats, fmt.Errorf("failed to get schema counts: %w", err)
	}
	for _, row := range rows {
		stats.ByFormat[row.FileFormat] = row.Count
		stats.Schemas += row.Count
		stats.TotalBytes += row.Bytes
	}

	return stats, nil
}

// HealthCheck pings the database
func (ds *DatabaseRepository) HealthCheck(ctx context.Context) error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (ds *DatabaseRepository) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isUniqueViolation recognises duplicate-key errors from either driver
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
