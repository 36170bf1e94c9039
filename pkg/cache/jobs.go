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

import (
	"context"
	"database/sql"
	"fmt"
)

// PutJob inserts or overwrites a job row. A retry launch reuses the
// jobid with a fresh instance and start time; rows that already reached
// a terminal status are never touched.
func (s *Store) PutJob(ctx context.Context, job Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (jobid, jobname, status, instance_id, orig_jobscript, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(jobid) DO UPDATE SET
			jobname = excluded.jobname,
			status = excluded.status,
			instance_id = excluded.instance_id,
			orig_jobscript = excluded.orig_jobscript,
			start_time = excluded.start_time
		WHERE jobs.status NOT IN (?, ?)`,
		job.ID, job.Name, string(job.Status), job.InstanceID, job.Script,
		formatTime(job.StartTime), formatTime(job.EndTime),
		string(StatusSuccess), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("storing job %s, %w", job.ID, err)
	}
	return nil
}

// Job returns the stored row for jobid, reporting false if unknown.
func (s *Store) Job(ctx context.Context, jobid string) (Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT jobid, jobname, status, instance_id, orig_jobscript, start_time, end_time
		FROM jobs WHERE jobid = ?`, jobid)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("reading job %s, %w", jobid, err)
	}
	return job, true, nil
}

// Jobs returns every stored job ordered by start time.
func (s *Store) Jobs(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, `
		SELECT jobid, jobname, status, instance_id, orig_jobscript, start_time, end_time
		FROM jobs ORDER BY start_time`)
}

// RunningJobs returns the jobs whose instances should be described.
func (s *Store) RunningJobs(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, `
		SELECT jobid, jobname, status, instance_id, orig_jobscript, start_time, end_time
		FROM jobs WHERE status = ? AND instance_id != ''`, string(StatusRunning))
}

// PendingJobs returns jobs parked by a capacity loss that are waiting
// for a relaunch.
func (s *Store) PendingJobs(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, `
		SELECT jobid, jobname, status, instance_id, orig_jobscript, start_time, end_time
		FROM jobs WHERE status = ?`, string(StatusPending))
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs, %w", err)
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row, %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SetJobStatus transitions a job, refusing any transition out of a
// terminal status. It returns true when the row actually changed.
// Entering a terminal status stamps end_time.
func (s *Store) SetJobStatus(ctx context.Context, jobid string, status JobStatus) (bool, error) {
	endTime := ""
	if status.Terminal() {
		endTime = formatTime(s.now())
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, end_time = ?
		WHERE jobid = ? AND status NOT IN (?, ?)`,
		string(status), endTime, jobid, string(StatusSuccess), string(StatusFailed))
	if err != nil {
		return false, fmt.Errorf("updating status of job %s, %w", jobid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating status of job %s, %w", jobid, err)
	}
	return n > 0, nil
}

// DeleteTerminalJobs removes finished jobs, returning how many went.
func (s *Store) DeleteTerminalJobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status IN (?, ?)`,
		string(StatusSuccess), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("cleaning terminal jobs, %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var job Job
	var status, startTime, endTime string
	if err := row.Scan(&job.ID, &job.Name, &status, &job.InstanceID, &job.Script, &startTime, &endTime); err != nil {
		return Job{}, err
	}
	job.Status = JobStatus(status)
	job.StartTime = parseTime(startTime)
	job.EndTime = parseTime(endTime)
	return job, nil
}
