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
	"io"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

const sampleInterval = 10 * time.Second

// Summary holds the peak resource usage observed over the life of a
// job. Peaks are whole-machine figures, which is fine because the job
// is the only tenant.
type Summary struct {
	PeakMemMB      float64
	PeakMemPercent float64
	PeakDiskMB     float64
	PeakDiskPct    float64
	PeakCPUPercent float64
	Cores          int
	Runtime        time.Duration
}

// Gather waits for the job to finish while sampling resource usage.
// The returned error is the job's exit error; sampling failures are
// swallowed so a broken probe never fails a healthy job.
func Gather(cmd *exec.Cmd, mountdir string) (Summary, error) {
	summary := Summary{Cores: runtime.NumCPU()}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			summary.sample(mountdir)
			return summary, err
		case <-ticker.C:
			summary.sample(mountdir)
		}
	}
}

func (s *Summary) sample(mountdir string) {
	if vm, err := mem.VirtualMemory(); err == nil {
		s.PeakMemMB = max(s.PeakMemMB, float64(vm.Used)/(1024*1024))
		s.PeakMemPercent = max(s.PeakMemPercent, vm.UsedPercent)
	}
	if du, err := disk.Usage(mountdir); err == nil {
		s.PeakDiskMB = max(s.PeakDiskMB, float64(du.Used)/(1024*1024))
		s.PeakDiskPct = max(s.PeakDiskPct, du.UsedPercent)
	}
	if perCore, err := cpu.Percent(0, true); err == nil {
		s.PeakCPUPercent = max(s.PeakCPUPercent, lo.Sum(perCore))
	}
}

// Print writes the usage summary to stdout, where the log streamer
// picks it up as the tail of the job's stream.
func (s Summary) Print() {
	s.Fprint(os.Stdout)
}

// Fprint writes the summary block, one MB/GB/percent line per resource.
func (s Summary) Fprint(w io.Writer) {
	fmt.Fprintf(w, "peak memory: %.1fMB, %.1fGB, %.1f%%\n", s.PeakMemMB, s.PeakMemMB/1024, s.PeakMemPercent)
	fmt.Fprintf(w, "peak disk: %.1fMB, %.1fGB, %.1f%%\n", s.PeakDiskMB, s.PeakDiskMB/1024, s.PeakDiskPct)
	fmt.Fprintf(w, "peak cpu: %.1f%% / %d cores\n", s.PeakCPUPercent, s.Cores)
	fmt.Fprintf(w, "total runtime: %s\n", s.Runtime.Truncate(time.Second))
}
