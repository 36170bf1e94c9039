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

package cache

import "time"

// NowSecond is the canonical timestamp for cache rows: UTC, truncated
// to the second so values survive their RFC 3339 serialization.
func NowSecond() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	// StatusPending marks a job awaiting a retry launch after a
	// capacity shortage or preemption.
	StatusPending JobStatus = "PENDING"
	StatusRunning JobStatus = "RUNNING"
	StatusSuccess JobStatus = "SUCCESS"
	StatusFailed  JobStatus = "FAILED"
)

// Terminal returns true once the status can never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Job is a single rule invocation tracked by the scheduler.
type Job struct {
	ID         string
	Name       string
	Status     JobStatus
	InstanceID string
	Script     string
	StartTime  time.Time
	EndTime    time.Time // zero unless Status.Terminal()
}

// InstanceShape describes one eligible EC2 instance type. Features are
// extra numeric dimensions (e.g. network bandwidth class) matched
// against jobscript resource requirements.
type InstanceShape struct {
	Name      string
	CPUs      int32
	MemMiB    int64
	StorageGB int32
	Features  map[string]float64
}

// SpotQuote is the latest known spot price for a (shape, zone) pair.
// A quote with Backoff >= 1 is excluded from selection until the next
// price refresh resets it.
type SpotQuote struct {
	Shape   string
	Zone    string
	Price   float64
	Backoff int
}
