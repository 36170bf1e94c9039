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

// Package instancetype enumerates the EC2 instance shapes hyperdrive is
// willing to run jobs on and caches them locally.
package instancetype

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
)

// features.yaml carries shape dimensions EC2 does not report as plain
// numbers, e.g. the network bandwidth class. Matched verbatim by shape
// name; absent shapes simply have no extra features.
//
//go:embed features.yaml
var featureFile []byte

type DefaultProvider struct {
	ec2api sdk.EC2API
	store  *cache.Store
	log    *zap.SugaredLogger
}

func NewDefaultProvider(ec2api sdk.EC2API, store *cache.Store, log *zap.SugaredLogger) *DefaultProvider {
	return &DefaultProvider{ec2api: ec2api, store: store, log: log}
}

// EnsurePopulated fills the instance_types table on first use. Shapes
// are not re-fetched once present; operators clear the cache file to
// force a refresh.
func (p *DefaultProvider) EnsurePopulated(ctx context.Context) error {
	n, err := p.store.ShapeCount(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	features, err := staticFeatures()
	if err != nil {
		return err
	}
	var shapes []cache.InstanceShape
	paginator := ec2.NewDescribeInstanceTypesPaginator(p.ec2api, &ec2.DescribeInstanceTypesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing instance types, %w", err)
		}
		for _, info := range page.InstanceTypes {
			if !eligible(info) {
				continue
			}
			shapes = append(shapes, toShape(info, features))
		}
	}
	if len(shapes) == 0 {
		return fmt.Errorf("no eligible instance types found")
	}
	p.log.Debugw("populated instance type catalog", "shape-count", len(shapes))
	return p.store.PutShapes(ctx, shapes)
}

// eligible applies the catalog policy: plain x86_64 spot-capable shapes
// with EBS roots, no accelerators, not bare metal, not burstable.
func eligible(info ec2types.InstanceTypeInfo) bool {
	if info.ProcessorInfo == nil || !lo.Contains(info.ProcessorInfo.SupportedArchitectures, ec2types.ArchitectureTypeX8664) {
		return false
	}
	if info.ProcessorInfo.SustainedClockSpeedInGhz == nil {
		return false
	}
	if !lo.Contains(info.SupportedUsageClasses, ec2types.UsageClassTypeSpot) {
		return false
	}
	if !lo.Contains(info.SupportedRootDeviceTypes, ec2types.RootDeviceTypeEbs) {
		return false
	}
	if info.GpuInfo != nil || info.FpgaInfo != nil || info.InferenceAcceleratorInfo != nil {
		return false
	}
	if lo.FromPtr(info.BareMetal) {
		return false
	}
	if lo.FromPtr(info.BurstablePerformanceSupported) {
		return false
	}
	return true
}

func toShape(info ec2types.InstanceTypeInfo, features map[string]map[string]float64) cache.InstanceShape {
	shape := cache.InstanceShape{
		Name:     string(info.InstanceType),
		Features: features[string(info.InstanceType)],
	}
	if info.VCpuInfo != nil {
		shape.CPUs = lo.FromPtr(info.VCpuInfo.DefaultVCpus)
	}
	if info.MemoryInfo != nil {
		shape.MemMiB = lo.FromPtr(info.MemoryInfo.SizeInMiB)
	}
	if info.InstanceStorageInfo != nil {
		shape.StorageGB = int32(lo.FromPtr(info.InstanceStorageInfo.TotalSizeInGB))
	}
	return shape
}

func staticFeatures() (map[string]map[string]float64, error) {
	features := map[string]map[string]float64{}
	if err := yaml.Unmarshal(featureFile, &features); err != nil {
		return nil, fmt.Errorf("decoding static feature file, %w", err)
	}
	return features, nil
}
