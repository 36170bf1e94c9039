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

// Package agent is the worker-side runtime: it bootstraps a freshly
// booted spot instance, gathers local disks into a scratch volume, runs
// the job as an unprivileged user while streaming logs, and reports the
// terminal status back to the scheduler's queue.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
)

const (
	condaBinPath = "/opt/conda/bin"
	mountDir     = "/tmp"
	baseDir      = "/tmp/ec2-user"
	jobUser      = "ec2-user"
	cloudInitLog = "/var/log/cloud-init-output.log"

	// streamFlushTimeout bounds how long the final log drain may delay
	// the poweroff.
	streamFlushTimeout = 10 * time.Second
)

var (
	workflowDir   = filepath.Join(baseDir, "workflow")
	jobScriptPath = filepath.Join(baseDir, "job.sh")
)

type Agent struct {
	payload Payload
	clients *sdk.Clients
	log     *zap.SugaredLogger

	stopStreaming context.CancelFunc
	streaming     *errgroup.Group
}

// New loads the cloud-init payload and builds region-resolved clients.
func New(ctx context.Context, log *zap.SugaredLogger) (*Agent, error) {
	raw, err := os.ReadFile(PayloadPath)
	if err != nil {
		return nil, fmt.Errorf("reading agent payload, %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding agent payload, %w", err)
	}
	clients, region, err := sdk.NewWorkerClients(ctx)
	if err != nil {
		return nil, err
	}
	log.Infow("agent booted", "jobid", payload.JobID, "region", region)
	return &Agent{payload: payload, clients: clients, log: log}, nil
}

// Run executes the agent phases in order. Any error leaves the caller
// responsible for posting FAILED and powering off.
func (a *Agent) Run(ctx context.Context) error {
	start := time.Now()

	streamCtx, stopStreaming := context.WithCancel(ctx)
	a.stopStreaming = stopStreaming
	group, streamCtx := errgroup.WithContext(streamCtx)
	a.streaming = group
	streamer := NewStreamer(a.clients.CloudWatchLogs, a.payload.LogGroup, a.payload.JobID, a.streamedFiles(), a.log)
	group.Go(func() error { return streamer.Run(streamCtx) })

	if err := SetupScratch(a.log); err != nil {
		return err
	}
	if err := a.fetchJob(ctx); err != nil {
		return err
	}
	cmd, err := StartJob(ctx)
	if err != nil {
		return err
	}
	fmt.Println("--JOB-START--")
	summary, exitErr := Gather(cmd, mountDir)
	fmt.Println("--JOB-END--")
	summary.Runtime = time.Since(start)
	summary.Print()

	status := cache.StatusSuccess
	if exitErr != nil {
		a.log.Errorw("job exited with failure", "error", exitErr)
		status = cache.StatusFailed
	}
	return a.ReportTerminal(ctx, status)
}

// ReportTerminal posts exactly one terminal message for this run. It is
// retried because losing it would leave the job RUNNING forever on the
// scheduler side.
func (a *Agent) ReportTerminal(ctx context.Context, status cache.JobStatus) error {
	body, err := json.Marshal(message{JobID: a.payload.JobID, Status: string(status)})
	if err != nil {
		return fmt.Errorf("encoding terminal message, %w", err)
	}
	return retry.Do(func() error {
		_, err := a.clients.SQS.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(a.payload.SQSURL),
			MessageBody: aws.String(string(body)),
		})
		return err
	}, retry.Attempts(5), retry.Context(ctx))
}

// Shutdown stops the log streamer, waits for its final drain, then
// powers the instance off. The worker never outlives its job.
func (a *Agent) Shutdown() {
	if a.stopStreaming != nil {
		a.stopStreaming()
		done := make(chan error, 1)
		go func() { done <- a.streaming.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				a.log.Errorw("log streaming failed", "error", err)
			}
		case <-time.After(streamFlushTimeout):
			a.log.Error("log streamer did not flush in time")
		}
	}
	if err := exec.Command("poweroff").Run(); err != nil {
		a.log.Errorw("poweroff failed", "error", err)
	}
}

// streamedFiles lists the watched log files: the cloud-init output
// first, so the stream always opens with the boot log, then any
// workflow-relative extras the jobscript declared.
func (a *Agent) streamedFiles() []string {
	files := []string{cloudInitLog}
	for _, extra := range a.payload.ExtraLogs {
		files = append(files, filepath.Join(workflowDir, extra))
	}
	return files
}

type message struct {
	JobID  string `json:"jobid"`
	Status string `json:"status"`
}
