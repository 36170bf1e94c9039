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

package agent_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/hyperdrive-run/hyperdrive/pkg/agent"
	"github.com/hyperdrive-run/hyperdrive/pkg/fake"
)

var _ = Describe("Streamer", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		logsapi *fake.CloudWatchLogsAPI
	)
	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		logsapi = &fake.CloudWatchLogsAPI{}
	})
	AfterEach(func() {
		cancel()
		logsapi.Reset()
	})

	It("should surface a log stream that cannot be created", func() {
		logsapi.CreateLogStreamBehavior.Error.Set(errors.New("AccessDeniedException"), fake.MaxCalls(0))
		s := agent.NewStreamer(logsapi, "/hyperdrive/jobs", "job-1", nil, zap.NewNop().Sugar())
		Expect(s.Run(ctx)).ToNot(Succeed())
	})
	It("should forward file content to the job stream", func() {
		file := filepath.Join(GinkgoT().TempDir(), "out.log")
		Expect(os.WriteFile(file, []byte("line one\nline two\n"), 0o644)).To(Succeed())
		s := agent.NewStreamer(logsapi, "/hyperdrive/jobs", "job-1", []string{file}, zap.NewNop().Sugar())

		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()
		Eventually(func() int { return logsapi.PutLogEventsBehavior.Calls() }).Should(BeNumerically(">=", 1))
		cancel()
		Eventually(done).Should(Receive(BeNil()))

		put := logsapi.PutLogEventsBehavior.CalledWithInput.At(0)
		Expect(lo.FromPtr(put.LogGroupName)).To(Equal("/hyperdrive/jobs"))
		Expect(lo.FromPtr(put.LogStreamName)).To(Equal("job-1"))
		Expect(lo.Map(put.LogEvents, func(e cwltypes.InputLogEvent, _ int) string { return lo.FromPtr(e.Message) })).
			To(Equal([]string{"line one", "line two"}))
	})
})
