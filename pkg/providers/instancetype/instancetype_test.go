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

package instancetype_test

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"

	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
)

// eligibleInfo builds an instance type that passes every catalog
// filter; tests then break one condition at a time.
func eligibleInfo(name string) ec2types.InstanceTypeInfo {
	return ec2types.InstanceTypeInfo{
		InstanceType: ec2types.InstanceType(name),
		ProcessorInfo: &ec2types.ProcessorInfo{
			SupportedArchitectures:   []ec2types.ArchitectureType{ec2types.ArchitectureTypeX8664},
			SustainedClockSpeedInGhz: aws.Float64(3.1),
		},
		SupportedUsageClasses:         []ec2types.UsageClassType{ec2types.UsageClassTypeSpot, ec2types.UsageClassTypeOnDemand},
		SupportedRootDeviceTypes:      []ec2types.RootDeviceType{ec2types.RootDeviceTypeEbs},
		BareMetal:                     aws.Bool(false),
		BurstablePerformanceSupported: aws.Bool(false),
		VCpuInfo:                      &ec2types.VCpuInfo{DefaultVCpus: aws.Int32(4)},
		MemoryInfo:                    &ec2types.MemoryInfo{SizeInMiB: aws.Int64(16384)},
	}
}

func describeOutput(infos ...ec2types.InstanceTypeInfo) *ec2.DescribeInstanceTypesOutput {
	return &ec2.DescribeInstanceTypesOutput{InstanceTypes: infos}
}

var _ = Describe("EnsurePopulated", func() {
	It("should cache eligible shapes with their dimensions", func() {
		info := eligibleInfo("m5.xlarge")
		info.InstanceStorageInfo = &ec2types.InstanceStorageInfo{TotalSizeInGB: aws.Int64(100)}
		ec2api.DescribeInstanceTypesBehavior.Output.Set(describeOutput(info))

		Expect(provider.EnsurePopulated(ctx)).To(Succeed())
		shapes, err := store.Shapes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(shapes).To(HaveLen(1))
		Expect(shapes[0]).To(Equal(cache.InstanceShape{
			Name: "m5.xlarge", CPUs: 4, MemMiB: 16384, StorageGB: 100, Features: map[string]float64{},
		}))
	})
	It("should attach static features to known shapes", func() {
		ec2api.DescribeInstanceTypesBehavior.Output.Set(describeOutput(eligibleInfo("c5n.xlarge")))

		Expect(provider.EnsurePopulated(ctx)).To(Succeed())
		shapes, err := store.Shapes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(shapes[0].Features).To(HaveKey("nic"))
	})
	It("should skip the fetch when shapes are already cached", func() {
		Expect(store.PutShapes(ctx, []cache.InstanceShape{{Name: "m5.large", CPUs: 2, MemMiB: 8192}})).To(Succeed())

		Expect(provider.EnsurePopulated(ctx)).To(Succeed())
		Expect(ec2api.DescribeInstanceTypesBehavior.Calls()).To(Equal(0))
	})
	It("should fail when the filter leaves nothing", func() {
		gpu := eligibleInfo("p3.2xlarge")
		gpu.GpuInfo = &ec2types.GpuInfo{}
		ec2api.DescribeInstanceTypesBehavior.Output.Set(describeOutput(gpu))

		Expect(provider.EnsurePopulated(ctx)).To(HaveOccurred())
	})

	DescribeTable("filter policy",
		func(mutate func(*ec2types.InstanceTypeInfo), want bool) {
			info := eligibleInfo("m5.xlarge")
			mutate(&info)
			ec2api.DescribeInstanceTypesBehavior.Output.Set(describeOutput(info, eligibleInfo("m5.large")))

			Expect(provider.EnsurePopulated(ctx)).To(Succeed())
			shapes, err := store.Shapes(ctx)
			Expect(err).ToNot(HaveOccurred())
			names := lo.Map(shapes, func(s cache.InstanceShape, _ int) string { return s.Name })
			if want {
				Expect(names).To(ContainElement("m5.xlarge"))
			} else {
				Expect(names).To(Equal([]string{"m5.large"}))
			}
		},
		Entry("keeps a plain x86 spot shape", func(*ec2types.InstanceTypeInfo) {}, true),
		Entry("drops arm-only shapes", func(i *ec2types.InstanceTypeInfo) {
			i.ProcessorInfo.SupportedArchitectures = []ec2types.ArchitectureType{ec2types.ArchitectureTypeArm64}
		}, false),
		Entry("drops shapes without a clock speed", func(i *ec2types.InstanceTypeInfo) {
			i.ProcessorInfo.SustainedClockSpeedInGhz = nil
		}, false),
		Entry("drops on-demand-only shapes", func(i *ec2types.InstanceTypeInfo) {
			i.SupportedUsageClasses = []ec2types.UsageClassType{ec2types.UsageClassTypeOnDemand}
		}, false),
		Entry("drops instance-store-root shapes", func(i *ec2types.InstanceTypeInfo) {
			i.SupportedRootDeviceTypes = []ec2types.RootDeviceType{ec2types.RootDeviceTypeInstanceStore}
		}, false),
		Entry("drops gpu shapes", func(i *ec2types.InstanceTypeInfo) {
			i.GpuInfo = &ec2types.GpuInfo{}
		}, false),
		Entry("drops fpga shapes", func(i *ec2types.InstanceTypeInfo) {
			i.FpgaInfo = &ec2types.FpgaInfo{}
		}, false),
		Entry("drops inference accelerator shapes", func(i *ec2types.InstanceTypeInfo) {
			i.InferenceAcceleratorInfo = &ec2types.InferenceAcceleratorInfo{}
		}, false),
		Entry("drops bare metal shapes", func(i *ec2types.InstanceTypeInfo) {
			i.BareMetal = aws.Bool(true)
		}, false),
		Entry("drops burstable shapes", func(i *ec2types.InstanceTypeInfo) {
			i.BurstablePerformanceSupported = aws.Bool(true)
		}, false),
	)
})
