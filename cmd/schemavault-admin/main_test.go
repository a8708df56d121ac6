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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amtp-protocol/schemavault/internal/config"
	"github.com/amtp-protocol/schemavault/internal/errors"
	"github.com/amtp-protocol/schemavault/internal/server"
)

const petstoreJSON = `{"openapi":"3.0.3","info":{"title":"Petstore","version":"1.0.0"},"paths":{"/pets":{},"/owners":{}}}`

const petstoreYAML = `openapi: 3.1.0
info:
  title: Petstore
  version: 2.0.0
paths:
  /pets: {}
`

func startServer(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Type = "memory"
	cfg.Schema.StorageRoot = t.TempDir()
	cfg.Logging.Level = "error"

	s, err := server.New(cfg)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	ts := httptest.NewServer(s.GetRouter())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return ts.URL
}

func writeSpec(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write spec: %v", err)
	}
	return path
}

// run executes the CLI against gateway and returns stdout, stderr and the error
func run(t *testing.T, gateway string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--gateway", gateway, "--timeout", "5s"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestImportAndList(t *testing.T) {
	gateway := startServer(t)
	jsonSpec := writeSpec(t, "petstore.json", petstoreJSON)
	yamlSpec := writeSpec(t, "petstore.yaml", petstoreYAML)

	out, _, err := run(t, gateway, "import", "--spec", jsonSpec, "--application", "billing", "--service", "payments")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(out, "Stored version 1 of billing/payments") {
		t.Errorf("unexpected import output: %s", out)
	}

	out, _, err = run(t, gateway, "import", "-f", yamlSpec, "-a", "billing", "-s", "payments")
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if !strings.Contains(out, "Version:  2") || !strings.Contains(out, "Format:   yaml") {
		t.Errorf("unexpected import output: %s", out)
	}

	out, _, err = run(t, gateway, "import", "-f", yamlSpec, "-a", "billing", "-s", "payments")
	if err != nil {
		t.Fatalf("duplicate import failed: %v", err)
	}
	if !strings.Contains(out, "Content unchanged") {
		t.Errorf("expected dedup message, got: %s", out)
	}

	out, _, err = run(t, gateway, "list", "-a", "billing", "-s", "payments")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 2 versions, got:\n%s", out)
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[2]), "v1") {
		t.Errorf("expected unmarked v1, got %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "* v2") {
		t.Errorf("expected latest marker on v2, got %q", lines[3])
	}
}

func TestListNamespaces(t *testing.T) {
	gateway := startServer(t)
	spec := writeSpec(t, "api.json", petstoreJSON)
	for _, args := range [][]string{
		{"-a", "billing", "-s", "payments"},
		{"-a", "billing", "-s", "invoices"},
		{"-a", "shipping"},
	} {
		if _, _, err := run(t, gateway, append([]string{"import", "-f", spec}, args...)...); err != nil {
			t.Fatalf("import %v failed: %v", args, err)
		}
	}

	out, _, err := run(t, gateway, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := "billing\n  invoices\n  payments\nshipping\n"
	if out != want {
		t.Errorf("expected namespace tree %q, got %q", want, out)
	}

	out, _, err = run(t, gateway, "apps")
	if err != nil {
		t.Fatalf("apps failed: %v", err)
	}
	if !strings.Contains(out, "billing") || !strings.Contains(out, "shipping") {
		t.Errorf("unexpected apps output: %s", out)
	}

	out, _, err = run(t, gateway, "services", "billing")
	if err != nil {
		t.Fatalf("services failed: %v", err)
	}
	if !strings.Contains(out, "invoices") || !strings.Contains(out, "payments") {
		t.Errorf("unexpected services output: %s", out)
	}

	out, _, err = run(t, gateway, "stats")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !strings.Contains(out, "Schemas:      3") || !strings.Contains(out, "json: 3") {
		t.Errorf("unexpected stats output: %s", out)
	}
}

func TestShow(t *testing.T) {
	gateway := startServer(t)
	spec := writeSpec(t, "api.json", petstoreJSON)
	if _, _, err := run(t, gateway, "import", "-f", spec, "-a", "billing"); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	out, _, err := run(t, gateway, "show", "-a", "billing")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	for _, want := range []string{
		"billing version 1 (latest)",
		"Title:        Petstore",
		"API version:  1.0.0",
		"Endpoints:    2",
		"Digest:       ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	out, _, err = run(t, gateway, "show", "-a", "billing", "--version", "1")
	if err != nil {
		t.Fatalf("show --version failed: %v", err)
	}
	if !strings.Contains(out, "billing version 1") {
		t.Errorf("unexpected show output: %s", out)
	}
}

func TestGet(t *testing.T) {
	gateway := startServer(t)
	spec := writeSpec(t, "api.yaml", petstoreYAML)
	if _, _, err := run(t, gateway, "import", "-f", spec, "-a", "billing"); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	out, _, err := run(t, gateway, "get", "-a", "billing")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if out != petstoreYAML {
		t.Errorf("expected latest content on stdout, got %q", out)
	}

	target := filepath.Join(t.TempDir(), "downloaded.yaml")
	_, errOut, err := run(t, gateway, "get", "-a", "billing", "--version", "1", "-o", target)
	if err != nil {
		t.Fatalf("get --version failed: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("expected downloaded file: %v", err)
	}
	if string(data) != petstoreYAML {
		t.Errorf("expected stored content, got %q", data)
	}
	if !strings.Contains(errOut, "Wrote version 1 of billing") {
		t.Errorf("unexpected status output: %s", errOut)
	}
}

func TestGet_DigestMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Schema-Digest", strings.Repeat("0", 64))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(petstoreJSON))
	}))
	defer ts.Close()

	_, _, err := run(t, ts.URL, "get", "-a", "billing", "--version", "1")
	if err == nil {
		t.Fatal("expected digest mismatch error")
	}
	if code := exitCode(err); code != 6 {
		t.Errorf("expected exit code 6, got %d (%v)", code, err)
	}
}

func TestExitCodes(t *testing.T) {
	gateway := startServer(t)
	spec := writeSpec(t, "api.json", petstoreJSON)
	badExt := writeSpec(t, "api.txt", petstoreJSON)
	broken := writeSpec(t, "broken.json", `{"openapi":`)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"replace without version", []string{"import", "-f", spec, "-a", "billing", "--replace"}, 3},
		{"unknown application", []string{"show", "-a", "nobody"}, 7},
		{"unsupported extension", []string{"import", "-f", badExt, "-a", "billing"}, 2},
		{"missing spec file", []string{"import", "-f", filepath.Join(t.TempDir(), "missing.json"), "-a", "billing"}, 2},
		{"malformed document", []string{"import", "-f", broken, "-a", "billing"}, 2},
		{"invalid name", []string{"import", "-f", spec, "-a", "bill ing"}, 2},
		{"service without application", []string{"list", "-s", "payments"}, 2},
		{"missing version", []string{"get", "-a", "billing", "--version", "5"}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, gateway, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := exitCode(err); code != tt.code {
				t.Errorf("expected exit code %d, got %d (%v)", tt.code, code, err)
			}
		})
	}
}

func TestExitCode_Unreachable(t *testing.T) {
	_, _, err := run(t, "http://127.0.0.1:1", "apps")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !errors.HasCode(err, errors.ErrServiceUnavailable) {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
	if code := exitCode(err); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestDecodeAPIError(t *testing.T) {
	err := decodeAPIError(http.StatusBadGateway, []byte("upstream down"))
	if !errors.HasCode(err, errors.ErrInternalError) {
		t.Errorf("expected INTERNAL_ERROR for a non-JSON body, got %v", err)
	}

	body := []byte(`{"error":{"code":"VERSION_CONFLICT","message":"taken","request_id":"r1"}}`)
	err = decodeAPIError(http.StatusConflict, body)
	vaultErr, ok := errors.AsVaultError(err)
	if !ok || vaultErr.Code != errors.ErrVersionConflict || vaultErr.RequestID != "r1" {
		t.Errorf("expected decoded VERSION_CONFLICT, got %v", err)
	}
	if exitCode(err) != 4 {
		t.Errorf("expected exit code 4, got %d", exitCode(err))
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "http://unused", "version", "--short")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("expected %q, got %q", version, out)
	}
}
