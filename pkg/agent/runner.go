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
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// StartJob launches the jobscript as the unprivileged job user inside
// the workflow directory. The agent runs as root for the storage and
// network setup; the job itself must not.
func StartJob(ctx context.Context) (*exec.Cmd, error) {
	uid, gid, err := jobUserIDs()
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "/bin/bash", jobScriptPath)
	cmd.Dir = workflowDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid:    uint32(uid),
			Gid:    uint32(gid),
			Groups: []uint32{},
		},
	}
	cmd.Env = append(os.Environ(),
		"HOME="+baseDir,
		"LC_ALL=C",
		"LANG=C",
		"PATH="+condaBinPath+":"+os.Getenv("PATH"),
	)
	// files the job creates must stay group/other readable for the
	// log streamer
	old := syscall.Umask(0o022)
	err = cmd.Start()
	syscall.Umask(old)
	if err != nil {
		return nil, fmt.Errorf("starting jobscript, %w", err)
	}
	return cmd, nil
}

func jobUserIDs() (int, int, error) {
	u, err := user.Lookup(jobUser)
	if err != nil {
		return 0, 0, fmt.Errorf("looking up job user %s, %w", jobUser, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing uid %q, %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing gid %q, %w", u.Gid, err)
	}
	return uid, gid, nil
}
