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

// Package pricing keeps per (shape, zone) spot quotes fresh and tracks
// capacity backoff counters against them.
package pricing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"
	"go.uber.org/zap"

	sdk "github.com/hyperdrive-run/hyperdrive/pkg/aws"
	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
)

// RefreshInterval rate-limits spot price fetches across overlapping
// CLI invocations.
const RefreshInterval = 30 * time.Minute

const lockKey = "spot_prices"

type DefaultProvider struct {
	ec2api sdk.EC2API
	store  *cache.Store
	log    *zap.SugaredLogger
}

func NewDefaultProvider(ec2api sdk.EC2API, store *cache.Store, log *zap.SugaredLogger) *DefaultProvider {
	return &DefaultProvider{ec2api: ec2api, store: store, log: log}
}

// Refresh updates quotes for every cached shape, gated by a timed lock
// so concurrent invocations collapse to a single fetch. Losing the lock
// is not an error; the caller proceeds on cached quotes.
func (p *DefaultProvider) Refresh(ctx context.Context) error {
	acquired, err := p.store.TimedLock(ctx, lockKey, RefreshInterval)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	shapes, err := p.store.Shapes(ctx)
	if err != nil {
		return err
	}
	if len(shapes) == 0 {
		return nil
	}
	p.log.Info("refreshing spot prices")
	quotes, err := p.fetch(ctx, lo.Map(shapes, func(s cache.InstanceShape, _ int) ec2types.InstanceType {
		return ec2types.InstanceType(s.Name)
	}))
	if err != nil {
		return err
	}
	return p.store.UpsertQuotes(ctx, quotes)
}

// fetch reads the spot price history bounded to "now", which yields
// exactly the latest quote per (shape, zone). Do not widen the window;
// the reduce below assumes latest-only semantics.
func (p *DefaultProvider) fetch(ctx context.Context, shapes []ec2types.InstanceType) ([]cache.SpotQuote, error) {
	now := time.Now()
	type stamped struct {
		quote cache.SpotQuote
		ts    time.Time
	}
	latest := map[string]stamped{}
	paginator := ec2.NewDescribeSpotPriceHistoryPaginator(p.ec2api, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       shapes,
		ProductDescriptions: []string{"Linux/UNIX"},
		StartTime:           aws.Time(now),
		EndTime:             aws.Time(now),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing spot price history, %w", err)
		}
		for _, sph := range page.SpotPriceHistory {
			price, err := strconv.ParseFloat(lo.FromPtr(sph.SpotPrice), 64)
			// these errors shouldn't occur, but if the API does return a bad record we skip it
			if err != nil || sph.Timestamp == nil {
				p.log.Debugw("skipping unparseable price record", "shape", string(sph.InstanceType), "zone", lo.FromPtr(sph.AvailabilityZone))
				continue
			}
			key := string(sph.InstanceType) + "/" + lo.FromPtr(sph.AvailabilityZone)
			if prior, ok := latest[key]; ok && !sph.Timestamp.After(prior.ts) {
				continue
			}
			latest[key] = stamped{
				ts: *sph.Timestamp,
				quote: cache.SpotQuote{
					Shape: string(sph.InstanceType),
					Zone:  lo.FromPtr(sph.AvailabilityZone),
					Price: price,
				},
			}
		}
	}
	return lo.Map(lo.Values(latest), func(s stamped, _ int) cache.SpotQuote { return s.quote }), nil
}

// Backoff marks a (shape, zone) as capacity constrained. The quote is
// skipped by selection until the next refresh observes a fresh price.
func (p *DefaultProvider) Backoff(ctx context.Context, shape, zone string) error {
	p.log.Debugw("backing off offering", "shape", shape, "zone", zone)
	return p.store.IncrementBackoff(ctx, shape, zone)
}
