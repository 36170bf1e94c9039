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

// Package lifecycle reconciles job state from two loosely-ordered
// sources: terminal messages posted by workers to the job queue, and
// instance-state observations from the EC2 API. Whichever reaches the
// cache first wins; the loser is a no-op against a terminal job.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
	"github.com/hyperdrive-run/hyperdrive/pkg/awserrors"
	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
)

// DefaultInterval rate-limits both reconciliation routines across the
// workflow engine's status-check storm.
const DefaultInterval = 7 * time.Second

const (
	queueLockKey    = "sqs_status"
	instanceLockKey = "instance_status"
)

// describeTTL memoizes instance descriptions within one invocation so
// back-to-back reconciles don't re-describe the same fleet.
const describeTTL = 5 * time.Second

// ErrJobNotFound is returned by Status for jobids this cache has never
// seen.
var ErrJobNotFound = errors.New("job not found")

// Launcher relaunches a job from its original script after a capacity
// loss.
type Launcher interface {
	Launch(ctx context.Context, jobid, script string) error
}

// BackoffMarker records a capacity shortage against a (shape, zone).
type BackoffMarker interface {
	Backoff(ctx context.Context, shape, zone string) error
}

// message is the single JSON object workers post per job.
type message struct {
	JobID  string `json:"jobid"`
	Status string `json:"status"`
}

type Controller struct {
	store    *cache.Store
	sqsapi   sdk.SQSAPI
	ec2api   sdk.EC2API
	launcher Launcher
	backoff  BackoffMarker
	queueURL string
	log      *zap.SugaredLogger

	describes *gocache.Cache
}

func NewController(store *cache.Store, sqsapi sdk.SQSAPI, ec2api sdk.EC2API, launcher Launcher, backoff BackoffMarker, queueURL string, log *zap.SugaredLogger) *Controller {
	return &Controller{
		store:     store,
		sqsapi:    sqsapi,
		ec2api:    ec2api,
		launcher:  launcher,
		backoff:   backoff,
		queueURL:  queueURL,
		log:       log,
		describes: gocache.New(describeTTL, describeTTL),
	}
}

// Reconcile runs both routines. Each is separately rate-limited, so a
// caller losing one lock can still win the other.
func (c *Controller) Reconcile(ctx context.Context, interval time.Duration) error {
	return multierr.Append(c.CheckQueue(ctx, interval), c.CheckInstances(ctx, interval))
}

// CheckQueue drains terminal messages from the job queue. Messages for
// jobids this cache does not know are left in the queue for the
// scheduler instance that owns them.
func (c *Controller) CheckQueue(ctx context.Context, interval time.Duration) error {
	acquired, err := c.store.TimedLock(ctx, queueLockKey, interval)
	if err != nil || !acquired {
		return err
	}
	out, err := c.sqsapi.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     2,
	})
	if err != nil {
		return fmt.Errorf("receiving job messages, %w", err)
	}
	var errs error
	for _, raw := range out.Messages {
		errs = multierr.Append(errs, c.handleMessage(ctx, raw))
	}
	return errs
}

func (c *Controller) handleMessage(ctx context.Context, raw sqstypes.Message) error {
	var msg message
	if err := json.Unmarshal([]byte(lo.FromPtr(raw.Body)), &msg); err != nil {
		// a malformed message would wedge the queue; drop it
		c.log.Errorw("deleting unparseable job message", "error", err)
		return c.deleteMessage(ctx, raw)
	}
	_, known, err := c.store.Job(ctx, msg.JobID)
	if err != nil {
		return err
	}
	if !known {
		return nil
	}
	changed, err := c.store.SetJobStatus(ctx, msg.JobID, cache.JobStatus(msg.Status))
	if err != nil {
		return err
	}
	if !changed {
		c.log.Debugw("ignoring message for terminal job", "jobid", msg.JobID, "status", msg.Status)
	}
	return c.deleteMessage(ctx, raw)
}

func (c *Controller) deleteMessage(ctx context.Context, raw sqstypes.Message) error {
	if _, err := c.sqsapi.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: raw.ReceiptHandle,
	}); err != nil {
		return fmt.Errorf("deleting job message, %w", err)
	}
	return nil
}

// CheckInstances inspects the instances behind RUNNING jobs and reacts
// to their state reasons: capacity losses park the job for relaunch,
// operator terminations fail the job, normal shutdowns defer to the
// queue message. Each pass ends with a relaunch sweep over the parked
// jobs, so a refused launch is retried on every subsequent pass.
func (c *Controller) CheckInstances(ctx context.Context, interval time.Duration) error {
	acquired, err := c.store.TimedLock(ctx, instanceLockKey, interval)
	if err != nil || !acquired {
		return err
	}
	jobs, err := c.store.RunningJobs(ctx)
	if err != nil {
		return err
	}
	var errs error
	if len(jobs) > 0 {
		byInstance := lo.KeyBy(jobs, func(j cache.Job) string { return j.InstanceID })
		instances, err := c.describeInstances(ctx, lo.Keys(byInstance))
		if err != nil {
			return err
		}
		for _, inst := range instances {
			job, ok := byInstance[lo.FromPtr(inst.InstanceId)]
			if !ok {
				continue
			}
			errs = multierr.Append(errs, c.handleInstance(ctx, job, inst))
		}
	}
	return multierr.Append(errs, c.relaunchPending(ctx))
}

func (c *Controller) describeInstances(ctx context.Context, ids []string) ([]ec2types.Instance, error) {
	if cached, ok := c.describes.Get(describeKey(ids)); ok {
		return cached.([]ec2types.Instance), nil
	}
	out, err := c.ec2api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
	if err != nil {
		return nil, fmt.Errorf("describing job instances, %w", err)
	}
	instances := lo.FlatMap(out.Reservations, func(r ec2types.Reservation, _ int) []ec2types.Instance {
		return r.Instances
	})
	c.describes.SetDefault(describeKey(ids), instances)
	return instances, nil
}

func (c *Controller) handleInstance(ctx context.Context, job cache.Job, inst ec2types.Instance) error {
	if inst.State == nil {
		return nil
	}
	switch inst.State.Name {
	case ec2types.InstanceStateNamePending, ec2types.InstanceStateNameRunning:
		// still alive; the state reason carries no signal yet
		return nil
	}
	code := ""
	if inst.StateReason != nil {
		code = lo.FromPtr(inst.StateReason.Code)
	}
	switch {
	case code == awserrors.ReasonInstanceShutdown:
		// normal job end; the worker's queue message is authoritative
		return nil
	case awserrors.IsRetriableReason(code):
		return c.retry(ctx, job, inst)
	case code == awserrors.ReasonUserShutdown:
		_, err := c.store.SetJobStatus(ctx, job.ID, cache.StatusFailed)
		return err
	default:
		c.log.Errorw("job instance gone for unexpected reason", "jobid", job.ID, "reason", code, "message", stateReasonMessage(inst))
		_, err := c.store.SetJobStatus(ctx, job.ID, cache.StatusFailed)
		return err
	}
}

// retry parks the job PENDING and records the capacity loss against
// the offering; the relaunch sweep picks the job up from there.
func (c *Controller) retry(ctx context.Context, job cache.Job, inst ec2types.Instance) error {
	changed, err := c.store.SetJobStatus(ctx, job.ID, cache.StatusPending)
	if err != nil || !changed {
		return err
	}
	zone := ""
	if inst.Placement != nil {
		zone = lo.FromPtr(inst.Placement.AvailabilityZone)
	}
	c.log.Infow("parking job after capacity loss", "jobid", job.ID, "shape", string(inst.InstanceType), "zone", zone)
	return c.backoff.Backoff(ctx, string(inst.InstanceType), zone)
}

// relaunchPending relaunches every parked job from its original script.
// A refused launch keeps the job PENDING for the next pass instead of
// failing the reconcile, so retries are unlimited and gated only by the
// per-offering backoff.
func (c *Controller) relaunchPending(ctx context.Context) error {
	jobs, err := c.store.PendingJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := c.launcher.Launch(ctx, job.ID, job.Script); err != nil {
			c.log.Infow("relaunch still blocked", "jobid", job.ID, "error", err)
		}
	}
	return nil
}

// Status answers the workflow engine's poll: running, success or
// failed. PENDING is reported as running so the engine keeps waiting
// through a retry.
func (c *Controller) Status(ctx context.Context, jobid string) (string, error) {
	job, known, err := c.store.Job(ctx, jobid)
	if err != nil {
		return "", err
	}
	if !known {
		return "", ErrJobNotFound
	}
	if job.Status == cache.StatusPending {
		return "running", nil
	}
	return strings.ToLower(string(job.Status)), nil
}

func describeKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func stateReasonMessage(inst ec2types.Instance) string {
	if inst.StateReason == nil {
		return ""
	}
	return lo.FromPtr(inst.StateReason.Message)
}
