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

// Package instance launches one tagged spot instance per job and owns
// the worker bootstrap payload.
package instance

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"text/template"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/hyperdrive-run/hyperdrive/pkg/agent"
	"github.com/hyperdrive-run/hyperdrive/pkg/apis/config"
	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
	"github.com/hyperdrive-run/hyperdrive/pkg/jobscript"
	"github.com/hyperdrive-run/hyperdrive/pkg/providers/selection"
)

// ScratchDevice is where the extra EBS scratch volume attaches; the
// agent discovers it as a plain additional disk.
const ScratchDevice = "/dev/xvdz"

// ErrLaunchRejected means the API accepted the request but returned no
// instance id.
var ErrLaunchRejected = errors.New("run-instances returned no instance id")

//go:embed userdata.sh.tmpl
var userDataTemplate string

type DefaultProvider struct {
	ec2api   sdk.EC2API
	s3api    sdk.S3API
	store    *cache.Store
	selector *selection.Selector
	cfg      *config.Config
	log      *zap.SugaredLogger

	userData *template.Template
	pick     func(n int) int
}

func NewDefaultProvider(ec2api sdk.EC2API, s3api sdk.S3API, store *cache.Store, selector *selection.Selector, cfg *config.Config, log *zap.SugaredLogger) *DefaultProvider {
	return &DefaultProvider{
		ec2api:   ec2api,
		s3api:    s3api,
		store:    store,
		selector: selector,
		cfg:      cfg,
		log:      log,
		userData: template.Must(template.New("userdata").Parse(userDataTemplate)),
		pick:     rand.IntN,
	}
}

// Launch places one job on a fresh spot instance: parse requirements,
// upload the script, pick the cheapest placement, boot a tagged worker
// and persist the RUNNING row. Retrying a rejected launch is the
// caller's responsibility.
func (p *DefaultProvider) Launch(ctx context.Context, jobid, script string) error {
	req, err := jobscript.ParseRequirements(script)
	if err != nil {
		return err
	}
	if err := p.uploadScript(ctx, jobid, script); err != nil {
		return err
	}
	placements, err := p.selector.CheapestPlacements(ctx, req)
	if err != nil {
		return err
	}
	// ties are broken at random to spread load across zones
	placement := placements[p.pick(len(placements))]
	p.log.Infow("launching job", "jobid", jobid, "shape", placement.Shape, "zone", placement.Zone, "cost", placement.Cost)

	userData, err := p.renderUserData(jobid, req.ExtraLogs)
	if err != nil {
		return err
	}
	instanceID, err := p.runInstance(ctx, req.Name, jobid, placement, userData)
	if err != nil {
		return err
	}
	return p.store.PutJob(ctx, cache.Job{
		ID:         jobid,
		Name:       req.Name,
		Status:     cache.StatusRunning,
		InstanceID: instanceID,
		Script:     script,
		StartTime:  cache.NowSecond(),
	})
}

// Terminate kills the instance backing a job.
func (p *DefaultProvider) Terminate(ctx context.Context, instanceID string) error {
	if _, err := p.ec2api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	}); err != nil {
		return fmt.Errorf("terminating instance %s, %w", instanceID, err)
	}
	return nil
}

func (p *DefaultProvider) uploadScript(ctx context.Context, jobid, script string) error {
	bucket, _ := p.cfg.SplitPrefix()
	if _, err := p.s3api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(p.cfg.JobScriptKey(jobid)),
		Body:   strings.NewReader(script),
	}); err != nil {
		return fmt.Errorf("uploading jobscript for %s, %w", jobid, err)
	}
	return nil
}

func (p *DefaultProvider) renderUserData(jobid string, extraLogs []string) (string, error) {
	payload, err := json.Marshal(agent.Payload{
		JobID:     jobid,
		SQSURL:    p.cfg.JobQueueURL,
		Prefix:    p.cfg.Prefix,
		LogGroup:  p.cfg.LogGroupName,
		ExtraLogs: extraLogs,
	})
	if err != nil {
		return "", fmt.Errorf("encoding agent payload, %w", err)
	}
	var buf bytes.Buffer
	if err := p.userData.Execute(&buf, map[string]string{"Payload": string(payload)}); err != nil {
		return "", fmt.Errorf("rendering user data, %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (p *DefaultProvider) runInstance(ctx context.Context, name, jobid string, placement selection.Placement, userData string) (string, error) {
	tags := []ec2types.Tag{
		{Key: aws.String("Name"), Value: aws.String(name)},
		{Key: aws.String("HD-JobId"), Value: aws.String(jobid)},
		{Key: aws.String("HD-Prefix"), Value: aws.String(p.cfg.Prefix)},
		{Key: aws.String("HD-Stack"), Value: aws.String(p.cfg.StackName)},
	}
	input := &ec2.RunInstancesInput{
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		ImageId:          aws.String(p.cfg.AMIID),
		InstanceType:     ec2types.InstanceType(placement.Shape),
		SecurityGroupIds: []string{p.cfg.SecurityGroupID},
		Placement:        &ec2types.Placement{AvailabilityZone: aws.String(placement.Zone)},
		UserData:         aws.String(userData),
		IamInstanceProfile: &ec2types.IamInstanceProfileSpecification{
			Arn: aws.String(p.cfg.WorkerProfileARN),
		},
		InstanceMarketOptions: &ec2types.InstanceMarketOptionsRequest{
			MarketType: ec2types.MarketTypeSpot,
			SpotOptions: &ec2types.SpotMarketOptions{
				SpotInstanceType: ec2types.SpotInstanceTypeOneTime,
			},
		},
		TagSpecifications: []ec2types.TagSpecification{
			{ResourceType: ec2types.ResourceTypeInstance, Tags: tags},
			{ResourceType: ec2types.ResourceTypeVolume, Tags: tags},
		},
	}
	if placement.ExtraEBSGB > 0 {
		input.BlockDeviceMappings = []ec2types.BlockDeviceMapping{{
			DeviceName: aws.String(ScratchDevice),
			Ebs: &ec2types.EbsBlockDevice{
				VolumeSize: aws.Int32(placement.ExtraEBSGB),
				VolumeType: ec2types.VolumeTypeGp2,
			},
		}}
	}
	out, err := p.ec2api.RunInstances(ctx, input)
	if err != nil {
		return "", fmt.Errorf("requesting spot instance, %w", err)
	}
	if len(out.Instances) == 0 || lo.FromPtr(out.Instances[0].InstanceId) == "" {
		return "", ErrLaunchRejected
	}
	return lo.FromPtr(out.Instances[0].InstanceId), nil
}
