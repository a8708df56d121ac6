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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/amtp-protocol/schemavault/internal/errors"
)

// Document is a parsed schema document's top-level mapping
type Document map[string]interface{}

// ParseDocument parses data as the given format. The top level must be a
// mapping; nothing beyond well-formedness is checked.
func ParseDocument(data []byte, format Format) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewInvalidSchemaFormatError(string(format), fmt.Errorf("document is empty"))
	}

	var doc Document
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.NewInvalidSchemaFormatError(string(format), err)
		}
	case FormatYAML:
		// Decoding into Document would make yaml.v3 type nested mappings
		// as Document too
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.NewInvalidSchemaFormatError(string(format), err)
		}
		doc = Document(raw)
	default:
		return nil, errors.NewInvalidSchemaFormatError(string(format), fmt.Errorf("unsupported format"))
	}

	if doc == nil {
		return nil, errors.NewInvalidSchemaFormatError(string(format), fmt.Errorf("top level must be a mapping"))
	}
	return doc, nil
}

// Summarize extracts the OpenAPI header of a parsed document. Missing
// fields are left empty.
func (d Document) Summarize() Summary {
	summary := Summary{
		SpecVersion: d.SpecVersion(),
	}

	if info, ok := asMap(d["info"]); ok {
		summary.Title = scalarString(info["title"])
		summary.APIVersion = scalarString(info["version"])
	}
	if paths, ok := asMap(d["paths"]); ok {
		summary.PathCount = len(paths)
	}
	return summary
}

// SpecVersion returns the "openapi" or, for 2.0 documents, "swagger" field
func (d Document) SpecVersion() string {
	if v := scalarString(d["openapi"]); v != "" {
		return v
	}
	return scalarString(d["swagger"])
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Document:
		return m, true
	default:
		return nil, false
	}
}

// scalarString renders YAML/JSON scalars; YAML may decode "2.0" as a float
func scalarString(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		rendered := strconv.FormatFloat(value, 'f', -1, 64)
		if !strings.Contains(rendered, ".") {
			rendered += ".0"
		}
		return rendered
	default:
		return fmt.Sprint(value)
	}
}
