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

// hyperdrive-agent runs as the cloud-init payload of a worker instance.
// It never outlives its job: whatever happens, the instance powers off.
package main

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hyperdrive-run/hyperdrive/pkg/agent"
	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
)

func main() {
	log := newLogger()
	defer func() { _ = log.Sync() }()
	ctx := context.Background()

	a, err := agent.New(ctx, log)
	if err != nil {
		// without a payload there is nobody to report failure to
		log.Errorw("agent bootstrap failed", "error", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		log.Errorw("agent run failed", "error", err)
		if rerr := a.ReportTerminal(ctx, cache.StatusFailed); rerr != nil {
			log.Errorw("reporting failure", "error", rerr)
		}
	}
	a.Shutdown()
}

// newLogger writes to stdout so agent lines land in the cloud-init
// output log and get streamed with the job's own output.
func newLogger() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zap.Must(cfg.Build()).Sugar()
}
