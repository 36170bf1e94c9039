/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var snakemakeCmd = &cobra.Command{
	Use:   "snakemake [snakemake flags...]",
	Short: "Run snakemake with hyperdrive as its cluster executor",
	// all flags belong to snakemake, not to us
	DisableFlagParsing: true,
	RunE:               runSnakemake,
}

func init() {
	rootCmd.AddCommand(snakemakeCmd)
}

func runSnakemake(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := newScheduler(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if !lo.Some(args, []string{"-n", "--dry-run"}) {
		if err := syncWorkflow(s.cfg.WorkflowPrefix(), s.cfg.Cache); err != nil {
			return err
		}
	}
	// pay the catalog and price fetches up front so the submit storm
	// that follows runs on cached data
	if err := s.refreshCatalog(ctx); err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own path, %w", err)
	}
	snakemake, err := exec.LookPath("snakemake")
	if err != nil {
		return fmt.Errorf("finding snakemake, %w", err)
	}
	argv := append([]string{
		"snakemake",
		"--default-remote-provider", "S3",
		"--default-remote-prefix", s.cfg.Prefix,
		"--config", "DEFAULT_REMOTE_PREFIX=" + s.cfg.Prefix,
		"--no-shared-fs",
		"--use-conda",
		"--use-singularity",
		"--max-status-checks-per-second", "10",
		"--cluster", self + " submit-job",
		"--cluster-status", self + " smk-status",
		"--jobs", "1000000",
	}, args...)
	return syscall.Exec(snakemake, argv, os.Environ())
}

// syncWorkflow mirrors the working directory to the workflow prefix.
// This shells out to the aws CLI: its sync diffing is exactly the
// behavior wanted and not worth reimplementing.
func syncWorkflow(workflowPrefix, cacheFile string) error {
	sync := exec.Command("aws", "s3", "sync",
		"--exclude", ".snakemake/*",
		"--exclude", ".git/*",
		"--exclude", configFile,
		"--exclude", cacheFile,
		"--delete",
		".", "s3://"+workflowPrefix)
	sync.Stdout = os.Stdout
	sync.Stderr = os.Stderr
	if err := sync.Run(); err != nil {
		return fmt.Errorf("syncing workflow directory, %w", err)
	}
	return nil
}
