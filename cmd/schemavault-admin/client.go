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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/amtp-protocol/schemavault/internal/errors"
	"github.com/amtp-protocol/schemavault/internal/types"
	"github.com/amtp-protocol/schemavault/internal/validation"
)

// apiClient talks to the schemavault HTTP API
type apiClient struct {
	baseURL string
	http    *http.Client
	verbose bool
	log     io.Writer
}

func newAPIClient(opts *globalOptions, log io.Writer) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(opts.gatewayURL, "/"),
		http:    &http.Client{Timeout: opts.timeout},
		verbose: opts.verbose,
		log:     log,
	}
}

type apiResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (c *apiClient) makeAPIRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string) (*apiResponse, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	if c.verbose {
		fmt.Fprintf(c.log, "Making %s request to: %s\n", method, target)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrServiceUnavailable, "failed to reach schemavault server", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if c.verbose {
		fmt.Fprintf(c.log, "Response status: %d\n", resp.StatusCode)
		if id := resp.Header.Get("X-Request-ID"); id != "" {
			fmt.Fprintf(c.log, "Request ID: %s\n", id)
		}
	}

	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp.StatusCode, respBody)
	}

	return &apiResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// decodeAPIError turns an error body back into a VaultError so the exit
// code follows the server's error code
func decodeAPIError(statusCode int, body []byte) error {
	var errorResp types.ErrorResponse
	if json.Unmarshal(body, &errorResp) == nil && errorResp.Error.Code != "" {
		return &errors.VaultError{
			Code:      errors.ErrorCode(errorResp.Error.Code),
			Message:   errorResp.Error.Message,
			Details:   errorResp.Error.Details,
			Timestamp: errorResp.Error.Timestamp,
			RequestID: errorResp.Error.RequestID,
		}
	}
	return errors.Newf(errors.ErrInternalError, "API error (%d): %s", statusCode, strings.TrimSpace(string(body)))
}

func (c *apiClient) getJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	resp, err := c.makeAPIRequest(ctx, http.MethodGet, endpoint, query, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// uploadSchema posts a local file as a multipart import
func (c *apiClient) uploadSchema(ctx context.Context, path, application, service string, replace bool) (*types.ImportResponse, error) {
	if _, err := validation.New(0, false).ValidateFileName(path); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrValidationFailed, "spec file %s does not exist", path)
		}
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := [][2]string{
		{"application", application},
		{"service", service},
		{"replace", strconv.FormatBool(replace)},
	}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, fmt.Errorf("failed to build upload: %w", err)
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	if c.verbose {
		fmt.Fprintf(c.log, "Uploading %s (%d bytes)\n", path, len(content))
	}

	resp, err := c.makeAPIRequest(ctx, http.MethodPost, "/v1/schemas", nil, &body, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var result types.ImportResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func scopeQuery(application, service string) url.Values {
	query := url.Values{}
	query.Set("application", application)
	if service != "" {
		query.Set("service", service)
	}
	return query
}
