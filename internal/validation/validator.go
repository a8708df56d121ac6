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

package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/amtp-protocol/schemavault/internal/errors"
	"github.com/amtp-protocol/schemavault/internal/schema"
)

// Upload is what the HTTP layer knows about an incoming file before it
// reaches the registry
type Upload struct {
	Application string
	Service     string
	FileName    string
	Content     []byte
}

// Validator checks uploads at the request boundary
type Validator struct {
	maxSize              int64
	requireOpenAPIFields bool
}

// New creates a new validator with the given configuration
func New(maxSize int64, requireOpenAPIFields bool) *Validator {
	return &Validator{
		maxSize:              maxSize,
		requireOpenAPIFields: requireOpenAPIFields,
	}
}

// ValidateUpload runs the request-level checks and returns the format
// derived from the file name
func (v *Validator) ValidateUpload(upload *Upload) (schema.Format, error) {
	if upload == nil {
		return "", errors.New(errors.ErrInvalidRequestFormat, "upload cannot be nil")
	}

	if err := v.ValidateScope(upload.Application, upload.Service); err != nil {
		return "", err
	}

	format, err := v.ValidateFileName(upload.FileName)
	if err != nil {
		return "", err
	}

	if len(upload.Content) == 0 {
		return "", errors.NewValidationError("uploaded file is empty", map[string]interface{}{
			"file": upload.FileName,
		})
	}
	if v.maxSize > 0 && int64(len(upload.Content)) > v.maxSize {
		return "", errors.Newf(errors.ErrPayloadTooLarge, "file size %d exceeds maximum of %d bytes", len(upload.Content), v.maxSize)
	}
	if !utf8.Valid(upload.Content) {
		return "", errors.NewValidationError("file must be UTF-8 encoded", map[string]interface{}{
			"file": upload.FileName,
		})
	}

	if v.requireOpenAPIFields {
		doc, err := schema.ParseDocument(upload.Content, format)
		if err != nil {
			return "", err
		}
		if err := ValidateOpenAPIFields(doc); err != nil {
			return "", errors.NewValidationError(err.Error(), map[string]interface{}{
				"file": upload.FileName,
			})
		}
	}

	return format, nil
}

// ValidateScope checks application and optional service names
func (v *Validator) ValidateScope(application, service string) error {
	if application == "" {
		return errors.NewValidationError("application is required", nil)
	}
	if err := schema.ValidateName("application", application); err != nil {
		return err
	}
	if service != "" {
		if err := schema.ValidateName("service", service); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFileName requires a .json, .yaml or .yml extension
func (v *Validator) ValidateFileName(name string) (schema.Format, error) {
	if name == "" {
		return "", errors.NewValidationError("file name is required", nil)
	}
	format, ok := schema.FormatFromFileName(name)
	if !ok {
		return "", errors.NewValidationError(
			fmt.Sprintf("unsupported file type %q, expected .json, .yaml or .yml", strings.ToLower(filepath.Ext(name))),
			map[string]interface{}{"file": name},
		)
	}
	return format, nil
}

// ValidateOpenAPIFields checks the top-level fields every OpenAPI or
// Swagger document carries
func ValidateOpenAPIFields(doc schema.Document) error {
	_, hasOpenAPI := doc["openapi"]
	_, hasSwagger := doc["swagger"]
	if !hasOpenAPI && !hasSwagger {
		return fmt.Errorf("missing 'openapi' or 'swagger' field")
	}

	if _, ok := doc["info"]; !ok {
		return fmt.Errorf("missing 'info' field")
	}

	if _, ok := doc["paths"]; !ok {
		return fmt.Errorf("missing 'paths' field")
	}

	version := doc.SpecVersion()
	if !strings.HasPrefix(version, "3.") && !strings.HasPrefix(version, "2.") {
		return fmt.Errorf("unsupported OpenAPI version: %s", version)
	}

	return nil
}
