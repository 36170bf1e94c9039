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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/google/uuid"

	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
)

// CloudWatchLogsBehavior must be reset between tests otherwise tests
// will pollute each other.
type CloudWatchLogsBehavior struct {
	CreateLogStreamBehavior MockedFunction[cloudwatchlogs.CreateLogStreamInput, cloudwatchlogs.CreateLogStreamOutput]
	PutLogEventsBehavior    MockedFunction[cloudwatchlogs.PutLogEventsInput, cloudwatchlogs.PutLogEventsOutput]
	GetLogEventsBehavior    MockedFunction[cloudwatchlogs.GetLogEventsInput, cloudwatchlogs.GetLogEventsOutput]
}

type CloudWatchLogsAPI struct {
	sdk.CloudWatchLogsAPI
	CloudWatchLogsBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (c *CloudWatchLogsAPI) Reset() {
	c.CreateLogStreamBehavior.Reset()
	c.PutLogEventsBehavior.Reset()
	c.GetLogEventsBehavior.Reset()
}

func (c *CloudWatchLogsAPI) CreateLogStream(_ context.Context, input *cloudwatchlogs.CreateLogStreamInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	return c.CreateLogStreamBehavior.Invoke(input, func(_ *cloudwatchlogs.CreateLogStreamInput) (*cloudwatchlogs.CreateLogStreamOutput, error) {
		return &cloudwatchlogs.CreateLogStreamOutput{}, nil
	})
}

func (c *CloudWatchLogsAPI) PutLogEvents(_ context.Context, input *cloudwatchlogs.PutLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
	return c.PutLogEventsBehavior.Invoke(input, func(_ *cloudwatchlogs.PutLogEventsInput) (*cloudwatchlogs.PutLogEventsOutput, error) {
		return &cloudwatchlogs.PutLogEventsOutput{NextSequenceToken: aws.String(uuid.NewString())}, nil
	})
}

func (c *CloudWatchLogsAPI) GetLogEvents(_ context.Context, input *cloudwatchlogs.GetLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	return c.GetLogEventsBehavior.Invoke(input, func(_ *cloudwatchlogs.GetLogEventsInput) (*cloudwatchlogs.GetLogEventsOutput, error) {
		return &cloudwatchlogs.GetLogEventsOutput{}, nil
	})
}
