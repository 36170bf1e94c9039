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

	"github.com/aws/aws-sdk-go-v2/service/s3"

	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
)

// S3Behavior must be reset between tests otherwise tests will pollute
// each other.
type S3Behavior struct {
	HeadBucketBehavior    MockedFunction[s3.HeadBucketInput, s3.HeadBucketOutput]
	PutObjectBehavior     MockedFunction[s3.PutObjectInput, s3.PutObjectOutput]
	GetObjectBehavior     MockedFunction[s3.GetObjectInput, s3.GetObjectOutput]
	ListObjectsV2Behavior MockedFunction[s3.ListObjectsV2Input, s3.ListObjectsV2Output]
}

type S3API struct {
	sdk.S3API
	S3Behavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (s *S3API) Reset() {
	s.HeadBucketBehavior.Reset()
	s.PutObjectBehavior.Reset()
	s.GetObjectBehavior.Reset()
	s.ListObjectsV2Behavior.Reset()
}

func (s *S3API) HeadBucket(_ context.Context, input *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return s.HeadBucketBehavior.Invoke(input, func(_ *s3.HeadBucketInput) (*s3.HeadBucketOutput, error) {
		return &s3.HeadBucketOutput{}, nil
	})
}

func (s *S3API) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	// Body is a live reader and cannot survive the mock's JSON cloning
	recorded := *input
	recorded.Body = nil
	return s.PutObjectBehavior.Invoke(&recorded, func(_ *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return &s3.PutObjectOutput{}, nil
	})
}

func (s *S3API) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return s.GetObjectBehavior.Invoke(input, func(_ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return &s3.GetObjectOutput{}, nil
	})
}

func (s *S3API) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return s.ListObjectsV2Behavior.Invoke(input, func(_ *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
		return &s3.ListObjectsV2Output{}, nil
	})
}
