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
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/hyperdrive-run/hyperdrive/pkg/agent"
	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
	"github.com/hyperdrive-run/hyperdrive/pkg/fake"
)

const queueURL = "https://sqs.us-east-1.amazonaws.com/000000000000/hd-jobs"

var _ = Describe("ReportTerminal", func() {
	var (
		ctx    context.Context
		sqsapi *fake.SQSAPI
		a      *agent.Agent
	)
	BeforeEach(func() {
		ctx = context.Background()
		sqsapi = &fake.SQSAPI{}
		a = agent.NewTestAgent(
			agent.Payload{JobID: "job-1", SQSURL: queueURL},
			&sdk.Clients{SQS: sqsapi},
			zap.NewNop().Sugar(),
		)
	})
	AfterEach(func() {
		sqsapi.Reset()
	})

	It("should post exactly one SUCCESS message after a clean run", func() {
		Expect(a.ReportTerminal(ctx, cache.StatusSuccess)).To(Succeed())
		Expect(sqsapi.SendMessageBehavior.Calls()).To(Equal(1))
		sent := sqsapi.SendMessageBehavior.CalledWithInput.At(0)
		Expect(lo.FromPtr(sent.QueueUrl)).To(Equal(queueURL))
		var msg map[string]string
		Expect(json.Unmarshal([]byte(lo.FromPtr(sent.MessageBody)), &msg)).To(Succeed())
		Expect(msg).To(Equal(map[string]string{"jobid": "job-1", "status": "SUCCESS"}))
	})
	It("should post exactly one FAILED message after a failed run", func() {
		Expect(a.ReportTerminal(ctx, cache.StatusFailed)).To(Succeed())
		Expect(sqsapi.SendMessageBehavior.Calls()).To(Equal(1))
		sent := sqsapi.SendMessageBehavior.CalledWithInput.At(0)
		var msg map[string]string
		Expect(json.Unmarshal([]byte(lo.FromPtr(sent.MessageBody)), &msg)).To(Succeed())
		Expect(msg).To(Equal(map[string]string{"jobid": "job-1", "status": "FAILED"}))
	})
	It("should retry transient queue failures until the message lands", func() {
		sqsapi.SendMessageBehavior.Error.Set(errors.New("throttled"), fake.MaxCalls(2))
		Expect(a.ReportTerminal(ctx, cache.StatusFailed)).To(Succeed())
		Expect(sqsapi.SendMessageBehavior.SuccessfulCalls()).To(Equal(1))
	})
})
