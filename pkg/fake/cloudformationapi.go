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

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"

	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
)

// CloudFormationBehavior must be reset between tests otherwise tests
// will pollute each other.
type CloudFormationBehavior struct {
	DescribeStacksBehavior MockedFunction[cloudformation.DescribeStacksInput, cloudformation.DescribeStacksOutput]
}

type CloudFormationAPI struct {
	sdk.CloudFormationAPI
	CloudFormationBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (c *CloudFormationAPI) Reset() {
	c.DescribeStacksBehavior.Reset()
}

func (c *CloudFormationAPI) DescribeStacks(_ context.Context, input *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	return c.DescribeStacksBehavior.Invoke(input, func(_ *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
		return &cloudformation.DescribeStacksOutput{}, nil
	})
}
