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

package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/avast/retry-go"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
)

// pollInterval is how often the streamer checks for watched files that
// do not exist yet (extra logs appear only once the job creates them).
const pollInterval = time.Second

// Streamer tails a set of local files into one per-job log stream.
// Batches across files may interleave, but each file's lines stay in
// order because a single goroutine owns all reads.
type Streamer struct {
	logs   sdk.CloudWatchLogsAPI
	group  string
	stream string
	files  []string
	log    *zap.SugaredLogger

	watcher  *fsnotify.Watcher
	handles  map[string]*os.File
	sequence *string
}

func NewStreamer(logs sdk.CloudWatchLogsAPI, group, stream string, files []string, log *zap.SugaredLogger) *Streamer {
	return &Streamer{
		logs:    logs,
		group:   group,
		stream:  stream,
		files:   files,
		log:     log,
		handles: map[string]*os.File{},
	}
}

// Run streams until ctx is cancelled. It creates the log stream, then
// alternates between adopting files as they appear and forwarding
// modifications.
func (s *Streamer) Run(ctx context.Context) error {
	err := retry.Do(func() error {
		_, err := s.logs.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
			LogGroupName:  aws.String(s.group),
			LogStreamName: aws.String(s.stream),
		})
		return err
	}, retry.Attempts(5), retry.Context(ctx))
	if err != nil {
		return fmt.Errorf("creating log stream %s, %w", s.stream, err)
	}
	s.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher, %w", err)
	}
	defer s.watcher.Close()
	defer s.closeHandles()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		s.adoptPending(ctx)
		select {
		case <-ctx.Done():
			// final drain so the job's last lines are not lost
			s.forwardAll(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
		case event := <-s.watcher.Events:
			if event.Op.Has(fsnotify.Write) {
				s.forward(ctx, event.Name)
			}
		case werr := <-s.watcher.Errors:
			s.log.Errorw("file watcher error", "error", werr)
		}
	}
}

// adoptPending starts watching files that have appeared since the last
// pass and immediately forwards their existing content.
func (s *Streamer) adoptPending(ctx context.Context) {
	for _, file := range s.files {
		if _, watched := s.handles[file]; watched {
			continue
		}
		handle, err := os.Open(file)
		if err != nil {
			continue
		}
		if err := s.watcher.Add(file); err != nil {
			s.log.Errorw("watching log file", "file", file, "error", err)
			_ = handle.Close()
			continue
		}
		s.handles[file] = handle
		s.forward(ctx, file)
	}
}

func (s *Streamer) forwardAll(ctx context.Context) {
	for file := range s.handles {
		s.forward(ctx, file)
	}
}

// forward reads everything new in a file and posts it as one
// timestamped batch, threading the sequence token between calls.
func (s *Streamer) forward(ctx context.Context, file string) {
	handle, ok := s.handles[file]
	if !ok {
		return
	}
	now := time.Now().UnixMilli()
	var events []cwltypes.InputLogEvent
	scanner := bufio.NewScanner(handle)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		events = append(events, cwltypes.InputLogEvent{
			Timestamp: aws.Int64(now),
			Message:   aws.String(scanner.Text()),
		})
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		s.log.Errorw("reading log file", "file", file, "error", err)
	}
	if len(events) == 0 {
		return
	}
	out, err := s.logs.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(s.group),
		LogStreamName: aws.String(s.stream),
		LogEvents:     events,
		SequenceToken: s.sequence,
	})
	if err != nil {
		s.log.Errorw("posting log events", "file", file, "error", err)
		return
	}
	s.sequence = out.NextSequenceToken
}

func (s *Streamer) closeHandles() {
	for _, handle := range s.handles {
		_ = handle.Close()
	}
}
