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

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var submitJobCmd = &cobra.Command{
	Use:   "submit-job <jobscript>",
	Short: "Launch one job on a fresh spot instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmitJob,
}

func init() {
	rootCmd.AddCommand(submitJobCmd)
}

func runSubmitJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	script, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading jobscript %s, %w", args[0], err)
	}
	s, err := newScheduler(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.refreshCatalog(ctx); err != nil {
		return err
	}
	jobid := uuid.NewString()
	if err := s.launcher.Launch(ctx, jobid, string(script)); err != nil {
		return err
	}
	// the workflow engine captures stdout as the cluster job id
	fmt.Println(jobid)
	return nil
}
