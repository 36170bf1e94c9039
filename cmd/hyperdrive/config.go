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

package main

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/hyperdrive-run/hyperdrive/pkg/apis/config"
	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
	"github.com/hyperdrive-run/hyperdrive/pkg/awserrors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or update the hyperdrive config from stack outputs",
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().String("stack-name", "", "Provisioned infrastructure stack")
	configCmd.Flags().String("prefix", "", "Object storage prefix (bucket/key)")
	configCmd.Flags().String("ami", "", "Worker machine image id")
	configCmd.Flags().String("cache", "hyperdrive.cache", "Cache file path")
	_ = configCmd.MarkFlagRequired("stack-name")
	_ = configCmd.MarkFlagRequired("prefix")
	_ = configCmd.MarkFlagRequired("ami")

	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	stackName, _ := cmd.Flags().GetString("stack-name")
	prefix, _ := cmd.Flags().GetString("prefix")
	ami, _ := cmd.Flags().GetString("ami")
	cacheFile, _ := cmd.Flags().GetString("cache")

	clients, err := sdk.NewClients(ctx)
	if err != nil {
		return err
	}
	cfg := &config.Config{
		Cache:     cacheFile,
		AMIID:     ami,
		Prefix:    prefix,
		StackName: stackName,
	}
	bucket, _ := cfg.SplitPrefix()
	if _, err := clients.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		if awserrors.IsNotFound(err) {
			return fmt.Errorf("bucket %s does not exist", bucket)
		}
		return fmt.Errorf("cant access bucket %s, %w", bucket, err)
	}
	out, err := clients.CloudFormation.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil || len(out.Stacks) == 0 {
		return fmt.Errorf("stack %s not found", stackName)
	}
	for _, output := range out.Stacks[0].Outputs {
		if err := cfg.SetOutput(lo.FromPtr(output.OutputKey), lo.FromPtr(output.OutputValue)); err != nil {
			return err
		}
	}
	return cfg.Save(configFile)
}
