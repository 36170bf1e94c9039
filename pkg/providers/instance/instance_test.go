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

package instance_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"

	"github.com/hyperdrive-run/hyperdrive/pkg/agent"
	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
	"github.com/hyperdrive-run/hyperdrive/pkg/providers/instance"
)

const jobScript = "#!/bin/sh\n# properties = {\"rule\": \"align\", \"jobid\": 7, \"threads\": 2, \"resources\": {\"mem_mb\": 4096}, \"log\": [\"logs/align.log\"]}\necho hi\n"

var _ = Describe("Launch", func() {
	BeforeEach(func() {
		Expect(store.PutShapes(ctx, []cache.InstanceShape{
			{Name: "m5.large", CPUs: 2, MemMiB: 8192, StorageGB: 0},
			{Name: "m5d.large", CPUs: 2, MemMiB: 8192, StorageGB: 75},
		})).To(Succeed())
		Expect(store.UpsertQuotes(ctx, []cache.SpotQuote{
			{Shape: "m5.large", Zone: "us-east-1a", Price: 0.03},
			{Shape: "m5d.large", Zone: "us-east-1a", Price: 0.05},
		})).To(Succeed())
	})

	It("should upload the jobscript before launching", func() {
		Expect(provider.Launch(ctx, "job-1", jobScript)).To(Succeed())
		Expect(s3api.PutObjectBehavior.CalledWithInput.Len()).To(Equal(1))
		put := s3api.PutObjectBehavior.CalledWithInput.At(0)
		Expect(lo.FromPtr(put.Bucket)).To(Equal("hd-bucket"))
		Expect(lo.FromPtr(put.Key)).To(Equal("team/_jobs/job-1"))
	})
	It("should request a one-time spot instance in the chosen zone", func() {
		Expect(provider.Launch(ctx, "job-1", jobScript)).To(Succeed())
		Expect(ec2api.RunInstancesBehavior.CalledWithInput.Len()).To(Equal(1))
		run := ec2api.RunInstancesBehavior.CalledWithInput.At(0)
		Expect(run.InstanceType).To(Equal(ec2types.InstanceTypeM5Large))
		Expect(lo.FromPtr(run.Placement.AvailabilityZone)).To(Equal("us-east-1a"))
		Expect(run.InstanceMarketOptions.MarketType).To(Equal(ec2types.MarketTypeSpot))
		Expect(run.InstanceMarketOptions.SpotOptions.SpotInstanceType).To(Equal(ec2types.SpotInstanceTypeOneTime))
		Expect(lo.FromPtr(run.ImageId)).To(Equal("ami-012345"))
		Expect(run.SecurityGroupIds).To(Equal([]string{"sg-0aa"}))
	})
	It("should tag the instance and its volumes", func() {
		Expect(provider.Launch(ctx, "job-1", jobScript)).To(Succeed())
		run := ec2api.RunInstancesBehavior.CalledWithInput.At(0)
		Expect(run.TagSpecifications).To(HaveLen(2))
		Expect(lo.Map(run.TagSpecifications, func(ts ec2types.TagSpecification, _ int) ec2types.ResourceType { return ts.ResourceType })).
			To(ConsistOf(ec2types.ResourceTypeInstance, ec2types.ResourceTypeVolume))
		keys := lo.Map(run.TagSpecifications[0].Tags, func(t ec2types.Tag, _ int) string { return lo.FromPtr(t.Key) })
		Expect(keys).To(ConsistOf("Name", "HD-JobId", "HD-Prefix", "HD-Stack"))
	})
	It("should embed the agent payload in the user data", func() {
		Expect(provider.Launch(ctx, "job-1", jobScript)).To(Succeed())
		run := ec2api.RunInstancesBehavior.CalledWithInput.At(0)
		decoded, err := base64.StdEncoding.DecodeString(lo.FromPtr(run.UserData))
		Expect(err).ToNot(HaveOccurred())

		var payload agent.Payload
		start := bytes.IndexByte(decoded, '{')
		end := bytes.LastIndexByte(decoded, '}')
		Expect(start).To(BeNumerically(">=", 0))
		Expect(json.Unmarshal(decoded[start:end+1], &payload)).To(Succeed())
		Expect(payload.JobID).To(Equal("job-1"))
		Expect(payload.Prefix).To(Equal("hd-bucket/team"))
		Expect(payload.LogGroup).To(Equal("/hyperdrive/jobs"))
		Expect(payload.ExtraLogs).To(Equal([]string{"logs/align.log"}))
	})
	It("should omit the scratch volume when instance storage suffices", func() {
		Expect(provider.Launch(ctx, "job-1", jobScript)).To(Succeed())
		run := ec2api.RunInstancesBehavior.CalledWithInput.At(0)
		Expect(run.BlockDeviceMappings).To(BeEmpty())
	})
	It("should attach a scratch volume when disk is required", func() {
		script := "#!/bin/sh\n# properties = {\"rule\": \"align\", \"jobid\": 7, \"resources\": {\"disk_gb\": 50}}\n"
		Expect(provider.Launch(ctx, "job-1", script)).To(Succeed())
		run := ec2api.RunInstancesBehavior.CalledWithInput.At(0)
		Expect(run.BlockDeviceMappings).To(HaveLen(1))
		Expect(lo.FromPtr(run.BlockDeviceMappings[0].DeviceName)).To(Equal("/dev/xvdz"))
		Expect(lo.FromPtr(run.BlockDeviceMappings[0].Ebs.VolumeSize)).To(Equal(int32(50)))
		Expect(run.BlockDeviceMappings[0].Ebs.VolumeType).To(Equal(ec2types.VolumeTypeGp2))
	})
	It("should persist the RUNNING job row", func() {
		Expect(provider.Launch(ctx, "job-1", jobScript)).To(Succeed())
		job, known, err := store.Job(ctx, "job-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(known).To(BeTrue())
		Expect(job.Status).To(Equal(cache.StatusRunning))
		Expect(job.Name).To(Equal("hd-align-7"))
		Expect(job.InstanceID).ToNot(BeEmpty())
		Expect(job.Script).To(Equal(jobScript))
		Expect(job.StartTime.IsZero()).To(BeFalse())
	})
	It("should fail with LaunchRejected when no instance comes back", func() {
		ec2api.RunInstancesBehavior.Output.Set(&ec2.RunInstancesOutput{})
		Expect(provider.Launch(ctx, "job-1", jobScript)).To(MatchError(instance.ErrLaunchRejected))
	})
})
