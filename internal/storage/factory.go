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
	"fmt"
	"strings"

	"github.com/amtp-protocol/schemavault/internal/schema"
)

// NewRepository creates a repository based on the configuration
func NewRepository(config StorageConfig) (schema.Repository, error) {
	storageType := strings.ToLower(config.Type)
	if storageType == "" {
		storageType = "memory" // Default to memory storage
	}

	switch storageType {
	case "memory":
		return NewMemoryRepository(), nil

	case "database":
		dbConfig := DatabaseStorageConfig{}
		if config.Database != nil {
			dbConfig = *config.Database
		}
		return NewDatabaseRepository(dbConfig)

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// DefaultStorageConfig returns a default storage configuration
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Type: "database",
		Database: &DatabaseStorageConfig{
			Driver:           "sqlite",
			ConnectionString: "./data/schemavault.db",
			AutoMigrate:      true,
		},
	}
}
