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
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/amtp-protocol/schemavault/internal/errors"
	"github.com/amtp-protocol/schemavault/internal/schema"
	"github.com/amtp-protocol/schemavault/internal/types"
)

// scopeFlags are the --application/--service pair shared by schema commands
type scopeFlags struct {
	application string
	service     string
}

func (s *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.application, "application", "a", "", "Application name")
	cmd.Flags().StringVarP(&s.service, "service", "s", "", "Service name (optional)")
}

func (s *scopeFlags) describe() string {
	return schema.DescribeScope(s.application, s.service)
}

func importCmd(opts *globalOptions) *cobra.Command {
	var (
		scope   scopeFlags
		spec    string
		replace bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an OpenAPI document as a new version",
		Long: `Import an OpenAPI document (.json, .yaml or .yml) into an application or
service. Unchanged content resolves to the current latest version. With
--replace the latest version is overwritten in place instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			client := newAPIClient(opts, cmd.ErrOrStderr())
			resp, err := client.uploadSchema(ctx, spec, scope.application, scope.service, replace)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Message)
			fmt.Fprintf(out, "  Version:  %d\n", resp.Schema.Version)
			fmt.Fprintf(out, "  Format:   %s\n", resp.Schema.Format)
			fmt.Fprintf(out, "  Size:     %d bytes\n", resp.Schema.Size)
			fmt.Fprintf(out, "  Digest:   %s\n", resp.Schema.Digest)
			if opts.verbose {
				fmt.Fprintf(out, "  Attempts: %d\n", resp.Attempts)
			}
			return nil
		},
	}

	scope.register(cmd)
	cmd.Flags().StringVarP(&spec, "spec", "f", "", "Path to the OpenAPI document")
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace the latest version instead of adding one")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("application")

	return cmd
}

func listCmd(opts *globalOptions) *cobra.Command {
	var scope scopeFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schema versions",
		Long: `List every version of an application or service, oldest first. The latest
version is marked with '*'. Without --application, list the applications and
their services.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			client := newAPIClient(opts, cmd.ErrOrStderr())
			if scope.application == "" {
				if scope.service != "" {
					return errors.New(errors.ErrValidationFailed, "--service requires --application")
				}
				return printNamespaces(ctx, client, cmd.OutOrStdout())
			}

			var resp types.VersionsResponse
			if err := client.getJSON(ctx, "/v1/schemas/versions", scopeQuery(scope.application, scope.service), &resp); err != nil {
				return err
			}
			return printVersions(cmd.OutOrStdout(), scope.describe(), resp.Versions)
		},
	}

	scope.register(cmd)
	return cmd
}

func printVersions(out io.Writer, scope string, versions []types.SchemaMetadata) error {
	fmt.Fprintf(out, "Schemas for %s:\n", scope)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  VERSION\tFORMAT\tSIZE\tTITLE\tDIGEST\tCREATED")
	for _, v := range versions {
		marker := " "
		if v.IsLatest {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s v%d\t%s\t%d\t%s\t%s\t%s\n",
			marker, v.Version, v.Format, v.Size, v.Summary.Title, shortDigest(v.Digest),
			v.CreatedAt.Local().Format(time.RFC3339))
	}
	return tw.Flush()
}

func printNamespaces(ctx context.Context, client *apiClient, out io.Writer) error {
	var apps types.ApplicationsResponse
	if err := client.getJSON(ctx, "/v1/applications", nil, &apps); err != nil {
		return err
	}
	if apps.Count == 0 {
		fmt.Fprintln(out, "No applications")
		return nil
	}

	for _, app := range apps.Applications {
		fmt.Fprintln(out, app.Name)

		var services types.ServicesResponse
		if err := client.getJSON(ctx, "/v1/applications/"+app.Name+"/services", nil, &services); err != nil {
			return err
		}
		for _, svc := range services.Services {
			fmt.Fprintf(out, "  %s\n", svc.Name)
		}
	}
	return nil
}

func showCmd(opts *globalOptions) *cobra.Command {
	var (
		scope   scopeFlags
		version int
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the details of one schema version",
		Long:  `Show the metadata of a version. Without --version the latest version is shown.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			client := newAPIClient(opts, cmd.ErrOrStderr())
			meta, err := fetchMetadata(ctx, client, scope, version)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			latest := ""
			if meta.IsLatest {
				latest = " (latest)"
			}
			fmt.Fprintf(out, "%s version %d%s\n", scope.describe(), meta.Version, latest)
			fmt.Fprintf(out, "  Title:        %s\n", orDash(meta.Summary.Title))
			fmt.Fprintf(out, "  API version:  %s\n", orDash(meta.Summary.APIVersion))
			fmt.Fprintf(out, "  Spec version: %s\n", orDash(meta.Summary.SpecVersion))
			fmt.Fprintf(out, "  Endpoints:    %d\n", meta.Summary.PathCount)
			fmt.Fprintf(out, "  Format:       %s\n", meta.Format)
			fmt.Fprintf(out, "  Size:         %d bytes\n", meta.Size)
			fmt.Fprintf(out, "  Digest:       %s\n", meta.Digest)
			if meta.FileName != "" {
				fmt.Fprintf(out, "  File name:    %s\n", meta.FileName)
			}
			fmt.Fprintf(out, "  Created:      %s\n", meta.CreatedAt.Local().Format(time.RFC3339))
			if !meta.UpdatedAt.Equal(meta.CreatedAt) {
				fmt.Fprintf(out, "  Updated:      %s\n", meta.UpdatedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}

	scope.register(cmd)
	cmd.Flags().IntVar(&version, "version", 0, "Version number (default latest)")
	_ = cmd.MarkFlagRequired("application")

	return cmd
}

func fetchMetadata(ctx context.Context, client *apiClient, scope scopeFlags, version int) (types.SchemaMetadata, error) {
	query := scopeQuery(scope.application, scope.service)
	if version <= 0 {
		var resp types.LatestSchemaResponse
		if err := client.getJSON(ctx, "/v1/schemas/latest", query, &resp); err != nil {
			return types.SchemaMetadata{}, err
		}
		return resp.Schema, nil
	}

	var resp types.SchemaResponse
	if err := client.getJSON(ctx, "/v1/schemas/versions/"+strconv.Itoa(version), query, &resp); err != nil {
		return types.SchemaMetadata{}, err
	}
	return resp.Schema, nil
}

func getCmd(opts *globalOptions) *cobra.Command {
	var (
		scope   scopeFlags
		version int
		output  string
	)

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Download the content of a schema version",
		Long: `Download the stored bytes of a version, verified against its digest.
Without --version the latest version is downloaded. Without --output the
content is written to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			client := newAPIClient(opts, cmd.ErrOrStderr())
			content, meta, err := fetchContent(ctx, client, scope, version)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(content)
				return err
			}
			if err := os.WriteFile(output, content, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote version %d of %s to %s (%d bytes)\n",
				meta.version, scope.describe(), output, len(content))
			return nil
		},
	}

	scope.register(cmd)
	cmd.Flags().IntVar(&version, "version", 0, "Version number (default latest)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	_ = cmd.MarkFlagRequired("application")

	return cmd
}

type contentMeta struct {
	version int
	digest  string
}

// fetchContent downloads a version and checks the bytes against the digest
// the server reported
func fetchContent(ctx context.Context, client *apiClient, scope scopeFlags, version int) ([]byte, contentMeta, error) {
	query := scopeQuery(scope.application, scope.service)

	var content []byte
	var meta contentMeta
	if version <= 0 {
		var resp types.LatestSchemaResponse
		if err := client.getJSON(ctx, "/v1/schemas/latest", query, &resp); err != nil {
			return nil, contentMeta{}, err
		}
		content = []byte(resp.Content)
		meta = contentMeta{version: resp.Schema.Version, digest: resp.Schema.Digest}
	} else {
		endpoint := "/v1/schemas/versions/" + strconv.Itoa(version) + "/content"
		resp, err := client.makeAPIRequest(ctx, http.MethodGet, endpoint, query, nil, "")
		if err != nil {
			return nil, contentMeta{}, err
		}
		content = resp.Body
		meta = contentMeta{version: version, digest: resp.Header.Get("X-Schema-Digest")}
	}

	if meta.digest != "" {
		if err := schema.VerifyContent(fmt.Sprintf("%s version %d", scope.describe(), meta.version), content, meta.digest); err != nil {
			return nil, contentMeta{}, err
		}
	}
	return content, meta, nil
}

func commandContext(cmd *cobra.Command, opts *globalOptions) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		return context.WithTimeout(ctx, opts.timeout)
	}
	return context.WithCancel(ctx)
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
