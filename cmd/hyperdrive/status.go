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
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
	"github.com/hyperdrive-run/hyperdrive/pkg/controllers/lifecycle"
)

// statusInterval rate-limits reconciliation behind the interactive
// status table; operators poll it far less often than the engine does.
const statusInterval = 30 * time.Second

var smkStatusCmd = &cobra.Command{
	Use:   "smk-status <jobid>",
	Short: "Print a job's status for the workflow engine",
	Args:  cobra.ExactArgs(1),
	RunE:  runSmkStatus,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List jobs",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(smkStatusCmd)
	rootCmd.AddCommand(statusCmd)
}

func runSmkStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := newScheduler(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.controller.Reconcile(ctx, lifecycle.DefaultInterval); err != nil {
		return err
	}
	status, err := s.controller.Status(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(status)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := newScheduler(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.controller.Reconcile(ctx, statusInterval); err != nil {
		return err
	}
	jobs, err := s.store.Jobs(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"jobid", "jobname", "status", "instance_id", "start_time", "end_time"})
	table.SetBorder(false)
	for _, job := range jobs {
		table.Append([]string{
			job.ID, job.Name, string(job.Status), job.InstanceID,
			formatStamp(job.StartTime), formatStamp(job.EndTime),
		})
	}
	table.Render()
	return nil
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var cleanCacheCmd = &cobra.Command{
	Use:   "clean-cache",
	Short: "Remove finished jobs from the cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := newScheduler(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.store.DeleteTerminalJobs(ctx)
		if err != nil {
			return err
		}
		s.log.Infow("cleaned cache", "removed", n)
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <jobid>",
	Short: "Fail a job and terminate its instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newScheduler(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		job, known, err := s.store.Job(ctx, args[0])
		if err != nil {
			return err
		}
		if !known {
			return lifecycle.ErrJobNotFound
		}
		if _, err := s.store.SetJobStatus(ctx, job.ID, cache.StatusFailed); err != nil {
			return err
		}
		if job.InstanceID == "" {
			return nil
		}
		return s.launcher.Terminate(ctx, job.InstanceID)
	},
}

func init() {
	rootCmd.AddCommand(cleanCacheCmd)
	rootCmd.AddCommand(killCmd)
}
