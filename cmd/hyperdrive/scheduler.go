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
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hyperdrive-run/hyperdrive/pkg/apis/config"
	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
	"github.com/hyperdrive-run/hyperdrive/pkg/controllers/lifecycle"
	"github.com/hyperdrive-run/hyperdrive/pkg/providers/instance"
	"github.com/hyperdrive-run/hyperdrive/pkg/providers/instancetype"
	"github.com/hyperdrive-run/hyperdrive/pkg/providers/pricing"
	"github.com/hyperdrive-run/hyperdrive/pkg/providers/selection"
)

// scheduler wires the providers behind every subcommand but config.
// Each invocation is short-lived; the cache file is the only state
// shared between them.
type scheduler struct {
	cfg        *config.Config
	store      *cache.Store
	clients    *sdk.Clients
	catalog    *instancetype.DefaultProvider
	prices     *pricing.DefaultProvider
	launcher   *instance.DefaultProvider
	controller *lifecycle.Controller
	log        *zap.SugaredLogger
}

func newScheduler(ctx context.Context) (*scheduler, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(cfg.Cache)
	if err != nil {
		return nil, err
	}
	clients, err := sdk.NewClients(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log := newLogger()
	catalog := instancetype.NewDefaultProvider(clients.EC2, store, log)
	prices := pricing.NewDefaultProvider(clients.EC2, store, log)
	selector := selection.NewSelector(store)
	launcher := instance.NewDefaultProvider(clients.EC2, clients.S3, store, selector, cfg, log)
	controller := lifecycle.NewController(store, clients.SQS, clients.EC2, launcher, prices, cfg.JobQueueURL, log)
	return &scheduler{
		cfg:        cfg,
		store:      store,
		clients:    clients,
		catalog:    catalog,
		prices:     prices,
		launcher:   launcher,
		controller: controller,
		log:        log,
	}, nil
}

func (s *scheduler) Close() {
	_ = s.log.Sync()
	_ = s.store.Close()
}

// refreshCatalog makes sure selection has shapes and quotes to work
// with. Both calls are internally rate-limited, so this is cheap in the
// common case.
func (s *scheduler) refreshCatalog(ctx context.Context) error {
	if err := s.catalog.EnsurePopulated(ctx); err != nil {
		return err
	}
	return s.prices.Refresh(ctx)
}

// newLogger writes structured lines to stderr; stdout is reserved for
// subcommand output the workflow engine parses.
func newLogger() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zap.Must(cfg.Build()).Sugar()
}
