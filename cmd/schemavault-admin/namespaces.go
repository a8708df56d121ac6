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
	"fmt"
	"net/url"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/amtp-protocol/schemavault/internal/types"
)

func appsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			var resp types.ApplicationsResponse
			if err := newAPIClient(opts, cmd.ErrOrStderr()).getJSON(ctx, "/v1/applications", nil, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Count == 0 {
				fmt.Fprintln(out, "No applications")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCREATED")
			for _, app := range resp.Applications {
				fmt.Fprintf(tw, "%s\t%s\n", app.Name, app.CreatedAt.Local().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func servicesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "services <application>",
		Short: "List the services of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			var resp types.ServicesResponse
			endpoint := "/v1/applications/" + url.PathEscape(args[0]) + "/services"
			if err := newAPIClient(opts, cmd.ErrOrStderr()).getJSON(ctx, endpoint, nil, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Count == 0 {
				fmt.Fprintf(out, "No services in %s\n", args[0])
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCREATED")
			for _, svc := range resp.Services {
				fmt.Fprintf(tw, "%s\t%s\n", svc.Name, svc.CreatedAt.Local().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func statsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show registry statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			var resp types.StatsResponse
			if err := newAPIClient(opts, cmd.ErrOrStderr()).getJSON(ctx, "/v1/stats", nil, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Registry statistics:")
			fmt.Fprintf(out, "  Applications: %d\n", resp.Stats.Applications)
			fmt.Fprintf(out, "  Services:     %d\n", resp.Stats.Services)
			fmt.Fprintf(out, "  Schemas:      %d\n", resp.Stats.Schemas)
			fmt.Fprintf(out, "  Total size:   %d bytes\n", resp.Stats.TotalBytes)

			formats := make([]string, 0, len(resp.Stats.ByFormat))
			for format := range resp.Stats.ByFormat {
				formats = append(formats, format)
			}
			sort.Strings(formats)
			for _, format := range formats {
				fmt.Fprintf(out, "    %-5s %d\n", format+":", resp.Stats.ByFormat[format])
			}
			return nil
		},
	}
}
