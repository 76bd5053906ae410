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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surki/envoy/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a bootstrap configuration file",
	Long: `Validate parses and validates the configuration without starting
anything, and exits non-zero if the configuration would be rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return errors.New("a configuration file is required (--config)")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d clusters\n", len(cfg.Clusters))
		return nil
	},
}
