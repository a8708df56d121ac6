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
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amtp-protocol/schemavault/internal/config"
	"github.com/amtp-protocol/schemavault/internal/logging"
	"github.com/amtp-protocol/schemavault/internal/server"
)

func runHealthCheck(cfg *config.Config) error {
	addr := cfg.Server.Address
	// If addr starts with :, prepend localhost
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}

	scheme := "http"
	client := &http.Client{
		Timeout: 2 * time.Second,
	}
	if cfg.TLS.Enabled {
		// The probe runs next to the server and only checks liveness
		scheme = "https"
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}

	resp, err := client.Get(scheme + "://" + addr + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

func main() {
	configFile := flag.String("config", os.Getenv("SCHEMAVAULT_CONFIG"), "Path to YAML configuration file")
	healthCheck := flag.Bool("health-check", false, "Run health check")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		if err := runHealthCheck(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger := logging.NewLogger(cfg.Logging).WithComponent("main")

	// Create HTTP server
	srv, err := server.New(cfg)
	if err != nil {
		logger.Fatal("Failed to create server", err)
	}

	// Start server in a goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Infof("Shutting down server on %s", sig)

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", err)
	}

	logger.Info("Server exited")
}
