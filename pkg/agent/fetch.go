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

package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/avast/retry-go"
	"github.com/samber/lo"
)

// fetchJob pulls the jobscript and the synced workflow directory onto
// the scratch volume and hands the tree to the job user.
func (a *Agent) fetchJob(ctx context.Context) error {
	bucket, keyPrefix, _ := strings.Cut(a.payload.Prefix, "/")
	if err := os.MkdirAll(workflowDir, 0o755); err != nil {
		return fmt.Errorf("creating workflow dir, %w", err)
	}
	if err := a.download(ctx, bucket, path.Join(keyPrefix, "_jobs", a.payload.JobID), jobScriptPath); err != nil {
		return err
	}
	if err := a.syncWorkflow(ctx, bucket, path.Join(keyPrefix, "_workflow")); err != nil {
		return err
	}
	return chownTree(baseDir)
}

func (a *Agent) syncWorkflow(ctx context.Context, bucket, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(a.clients.S3, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing workflow objects, %w", err)
		}
		for _, obj := range page.Contents {
			key := lo.FromPtr(obj.Key)
			rel := strings.TrimPrefix(key, prefix+"/")
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			if err := a.download(ctx, bucket, key, filepath.Join(workflowDir, filepath.FromSlash(rel))); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Agent) download(ctx context.Context, bucket, key, dest string) error {
	return retry.Do(func() error {
		out, err := a.clients.S3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("fetching s3://%s/%s, %w", bucket, key, err)
		}
		defer out.Body.Close()
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating %s, %w", filepath.Dir(dest), err)
		}
		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("creating %s, %w", dest, err)
		}
		defer f.Close()
		if _, err := io.Copy(f, out.Body); err != nil {
			return fmt.Errorf("writing %s, %w", dest, err)
		}
		return nil
	}, retry.Attempts(3), retry.Context(ctx))
}

func chownTree(dir string) error {
	uid, gid, err := jobUserIDs()
	if err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(p string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(p, uid, gid)
	})
}
