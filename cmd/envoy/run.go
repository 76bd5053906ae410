// Copyright 2026 Envoyproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/surki/envoy/admin"
	"github.com/surki/envoy/config"
	"github.com/surki/envoy/hostcache"
	"github.com/surki/envoy/upstream"
)

var adminAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cluster manager daemon",
	Long: `Run loads the bootstrap configuration, starts discovery for every
cluster, and serves the admin endpoint until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return errors.New("a configuration file is required (--config)")
		}
		logger, err := newLogger()
		if err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		opts := upstream.Options{Logger: logger}
		if cfg.HostCache != nil {
			cache, err := hostcache.Open(cfg.HostCache.Path)
			if err != nil {
				return fmt.Errorf("open host cache: %w", err)
			}
			defer func() {
				if err := cache.Close(); err != nil {
					logger.Warn().Err(err).Msg("closing host cache")
				}
			}()
			opts.HostCache = cache
			logger.Info().Str("path", cfg.HostCache.Path).Msg("host cache open")
		}

		manager, err := upstream.NewManager(cfg, opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := manager.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing cluster manager")
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := manager.WaitReady(ctx); err == nil {
				logger.Info().Msg("all clusters initialized")
			}
		}()

		addr := adminAddr
		if addr == "" && cfg.Admin != nil {
			addr = cfg.Admin.Address
		}
		adminErr := make(chan error, 1)
		var adminSrv *admin.Server
		if addr != "" {
			adminSrv = admin.NewServer(manager, logger)
			go func() {
				adminErr <- adminSrv.Start(addr)
			}()
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
		case err := <-adminErr:
			return fmt.Errorf("admin server: %w", err)
		}

		if adminSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := adminSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("admin shutdown")
			}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&adminAddr, "admin-addr", "", "admin listen address (overrides the configuration file)")
}
