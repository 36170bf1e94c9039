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
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/hyperdrive-run/hyperdrive/pkg/awserrors"
)

// ErrNoLogData is surfaced when the worker has not created the job's
// log stream yet.
var ErrNoLogData = errors.New("no log data")

var logCmd = &cobra.Command{
	Use:   "log <jobid>",
	Short: "Print logs from a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

func init() {
	logCmd.Flags().IntP("lines", "n", 10, "Number of log events to fetch")
	logCmd.Flags().Bool("head", false, "Read from the start of the stream instead of the end")

	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	lines, _ := cmd.Flags().GetInt("lines")
	head, _ := cmd.Flags().GetBool("head")
	jobid := args[0]

	s, err := newScheduler(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := s.clients.CloudWatchLogs.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(s.cfg.LogGroupName),
		LogStreamName: aws.String(jobid),
		Limit:         aws.Int32(int32(lines)),
		StartFromHead: aws.Bool(head),
	})
	if awserrors.IsNoLogData(err) {
		return ErrNoLogData
	}
	if err != nil {
		return fmt.Errorf("fetching log events, %w", err)
	}
	for _, event := range out.Events {
		stamp := time.UnixMilli(lo.FromPtr(event.Timestamp)).Local()
		fmt.Printf("%s | %s\n", stamp.Format("2006-01-02 15:04:05"), lo.FromPtr(event.Message))
	}
	fmt.Println("------")
	job, known, err := s.store.Job(ctx, jobid)
	if err != nil {
		return err
	}
	if known {
		fmt.Printf("status: %s\n", job.Status)
	}
	return nil
}
