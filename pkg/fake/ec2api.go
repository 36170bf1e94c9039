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

package fake

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
)

// EC2Behavior must be reset between tests otherwise tests will
// pollute each other.
type EC2Behavior struct {
	DescribeInstanceTypesBehavior    MockedFunction[ec2.DescribeInstanceTypesInput, ec2.DescribeInstanceTypesOutput]
	DescribeSpotPriceHistoryBehavior MockedFunction[ec2.DescribeSpotPriceHistoryInput, ec2.DescribeSpotPriceHistoryOutput]
	DescribeInstancesBehavior        MockedFunction[ec2.DescribeInstancesInput, ec2.DescribeInstancesOutput]
	RunInstancesBehavior             MockedFunction[ec2.RunInstancesInput, ec2.RunInstancesOutput]
	TerminateInstancesBehavior       MockedFunction[ec2.TerminateInstancesInput, ec2.TerminateInstancesOutput]
}

type EC2API struct {
	sdk.EC2API
	EC2Behavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (e *EC2API) Reset() {
	e.DescribeInstanceTypesBehavior.Reset()
	e.DescribeSpotPriceHistoryBehavior.Reset()
	e.DescribeInstancesBehavior.Reset()
	e.RunInstancesBehavior.Reset()
	e.TerminateInstancesBehavior.Reset()
}

func (e *EC2API) DescribeInstanceTypes(_ context.Context, input *ec2.DescribeInstanceTypesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error) {
	return e.DescribeInstanceTypesBehavior.Invoke(input, func(_ *ec2.DescribeInstanceTypesInput) (*ec2.DescribeInstanceTypesOutput, error) {
		return &ec2.DescribeInstanceTypesOutput{}, nil
	})
}

func (e *EC2API) DescribeSpotPriceHistory(_ context.Context, input *ec2.DescribeSpotPriceHistoryInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
	return e.DescribeSpotPriceHistoryBehavior.Invoke(input, func(_ *ec2.DescribeSpotPriceHistoryInput) (*ec2.DescribeSpotPriceHistoryOutput, error) {
		return &ec2.DescribeSpotPriceHistoryOutput{}, nil
	})
}

// DescribeInstances defaults to reporting every requested instance as
// running.
func (e *EC2API) DescribeInstances(_ context.Context, input *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return e.DescribeInstancesBehavior.Invoke(input, func(in *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
		return &ec2.DescribeInstancesOutput{
			Reservations: []ec2types.Reservation{{
				Instances: lo.Map(in.InstanceIds, func(id string, _ int) ec2types.Instance {
					return ec2types.Instance{
						InstanceId: aws.String(id),
						State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
					}
				}),
			}},
		}, nil
	})
}

func (e *EC2API) RunInstances(_ context.Context, input *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	return e.RunInstancesBehavior.Invoke(input, func(in *ec2.RunInstancesInput) (*ec2.RunInstancesOutput, error) {
		return &ec2.RunInstancesOutput{
			Instances: []ec2types.Instance{{
				InstanceId:   aws.String(fmt.Sprintf("i-%017x", rand.Uint64())),
				InstanceType: in.InstanceType,
			}},
		}, nil
	})
}

func (e *EC2API) TerminateInstances(_ context.Context, input *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	return e.TerminateInstancesBehavior.Invoke(input, func(in *ec2.TerminateInstancesInput) (*ec2.TerminateInstancesOutput, error) {
		return &ec2.TerminateInstancesOutput{
			TerminatingInstances: lo.Map(in.InstanceIds, func(id string, _ int) ec2types.InstanceStateChange {
				return ec2types.InstanceStateChange{
					InstanceId:   aws.String(id),
					CurrentState: &ec2types.InstanceState{Name: ec2types.InstanceStateNameShuttingDown},
				}
			}),
		}, nil
	})
}
