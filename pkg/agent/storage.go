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
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const raidDevice = "/dev/md0"

// BlockDevice is one row of lsblk output.
type BlockDevice struct {
	Name       string
	Type       string
	MountPoint string
}

// SetupScratch assembles every non-root disk into a scratch volume
// mounted at /tmp and moves the job user's home onto it. With a single
// extra disk the disk is used directly; with several they are striped
// into a RAID-0. With none, scratch stays on the root volume and the
// agent carries on.
func SetupScratch(log *zap.SugaredLogger) error {
	devices, err := lsblk()
	if err != nil {
		return err
	}
	root, found := lo.Find(devices, func(d BlockDevice) bool { return d.MountPoint == "/" })
	if !found {
		return fmt.Errorf("no root mount found in block device list")
	}
	disks := lo.Filter(devices, func(d BlockDevice, _ int) bool {
		return d.Type == "disk" && !strings.Contains(root.Name, d.Name)
	})
	for _, d := range devices {
		if d.MountPoint != "/" && d.MountPoint != "" {
			if err := run("umount", d.MountPoint); err != nil {
				log.Errorw("unmounting ephemeral mount", "mountpoint", d.MountPoint, "error", err)
			}
		}
	}

	var device string
	switch len(disks) {
	case 0:
		log.Info("no scratch disk found; staying on the root volume")
		return nil
	case 1:
		device = disks[0].Name
	default:
		args := []string{"-C", "--force", "--run", raidDevice, "--level=0", "-n", strconv.Itoa(len(disks))}
		for _, d := range disks {
			args = append(args, d.Name)
		}
		if err := run("mdadm", args...); err != nil {
			return fmt.Errorf("assembling raid0 scratch, %w", err)
		}
		device = raidDevice
	}

	if err := run("mkfs.xfs", "-f", device); err != nil {
		return fmt.Errorf("formatting scratch volume, %w", err)
	}
	// park the home directory while its mountpoint changes underneath it
	if _, err := os.Stat(baseDir); err == nil {
		if err := run("mv", baseDir, "/home/"); err != nil {
			return fmt.Errorf("parking home directory, %w", err)
		}
	}
	if err := run("mount", device, mountDir); err != nil {
		return fmt.Errorf("mounting scratch volume, %w", err)
	}
	if _, err := os.Stat("/home/" + jobUser); err == nil {
		if err := run("mv", "/home/"+jobUser, mountDir); err != nil {
			return fmt.Errorf("restoring home directory, %w", err)
		}
	}
	if err := os.Chmod(mountDir, 0o777); err != nil {
		return fmt.Errorf("opening scratch permissions, %w", err)
	}
	log.Infow("scratch storage ready", "device", device, "disks", len(disks))
	return nil
}

// lsblk shells out for the block device list. The raw output is parsed
// column-by-column against the header line; rows may be short (trailing
// columns like MOUNTPOINT are omitted when empty) and the header widths
// vary between util-linux versions.
func lsblk() ([]BlockDevice, error) {
	out, err := exec.Command("lsblk", "-b", "-r", "-p").Output()
	if err != nil {
		return nil, fmt.Errorf("listing block devices, %w", err)
	}
	return parseBlockDevices(out)
}

func parseBlockDevices(out []byte) ([]BlockDevice, error) {
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) < 1 {
		return nil, fmt.Errorf("empty lsblk output")
	}
	header := strings.Fields(lines[0])
	var devices []BlockDevice
	for _, line := range lines[1:] {
		fields := strings.Split(line, " ")
		row := map[string]string{}
		for i, col := range header {
			if i < len(fields) {
				row[col] = fields[i]
			} else {
				row[col] = ""
			}
		}
		devices = append(devices, BlockDevice{
			Name:       row["NAME"],
			Type:       row["TYPE"],
			MountPoint: unescapeMount(row["MOUNTPOINT"]),
		})
	}
	return devices, nil
}

// lsblk -r escapes spaces in mountpoints as \x20
func unescapeMount(v string) string {
	return strings.ReplaceAll(v, `\x20`, " ")
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
