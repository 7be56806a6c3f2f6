// Copyright 2026 Hivekit
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hivekit/hive/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "hived",
	Short:   "Hive coordinator - agent swarm orchestration runtime",
	Long:    `Hive coordinator (hived) runs agent swarm sessions: topology-routed task delegation, elastic worker pools, tiered memory, and rule-driven LLM provider selection.`,
	Version: version.Get(),
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HIVE_DATA_DIR/hive.yaml)")
	rootCmd.AddCommand(serveCmd)
}
