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

package pricing_test

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
	"github.com/hyperdrive-run/hyperdrive/pkg/providers/pricing"
)

func quote(shape, zone, price string, ts time.Time) ec2types.SpotPrice {
	return ec2types.SpotPrice{
		InstanceType:     ec2types.InstanceType(shape),
		AvailabilityZone: aws.String(zone),
		SpotPrice:        aws.String(price),
		Timestamp:        aws.Time(ts),
	}
}

var _ = Describe("Refresh", func() {
	var base time.Time

	BeforeEach(func() {
		base = time.Now().Add(-time.Hour)
		Expect(store.PutShapes(ctx, []cache.InstanceShape{
			{Name: "m5.large", CPUs: 2, MemMiB: 8192},
		})).To(Succeed())
	})

	It("should store the latest quote per shape and zone", func() {
		ec2api.DescribeSpotPriceHistoryBehavior.Output.Set(&ec2.DescribeSpotPriceHistoryOutput{
			SpotPriceHistory: []ec2types.SpotPrice{
				quote("m5.large", "us-east-1a", "0.030", base),
				quote("m5.large", "us-east-1a", "0.035", base.Add(time.Minute)),
				quote("m5.large", "us-east-1b", "0.028", base),
			},
		})

		Expect(provider.Refresh(ctx)).To(Succeed())
		quotes, err := store.Quotes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(quotes).To(ConsistOf(
			cache.SpotQuote{Shape: "m5.large", Zone: "us-east-1a", Price: 0.035},
			cache.SpotQuote{Shape: "m5.large", Zone: "us-east-1b", Price: 0.028},
		))
	})
	It("should skip unparseable price records", func() {
		bad := quote("m5.large", "us-east-1a", "not-a-price", base)
		ec2api.DescribeSpotPriceHistoryBehavior.Output.Set(&ec2.DescribeSpotPriceHistoryOutput{
			SpotPriceHistory: []ec2types.SpotPrice{bad, quote("m5.large", "us-east-1b", "0.028", base)},
		})

		Expect(provider.Refresh(ctx)).To(Succeed())
		quotes, err := store.Quotes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(quotes).To(HaveLen(1))
		Expect(quotes[0].Zone).To(Equal("us-east-1b"))
	})
	It("should clear a prior backoff when a fresh quote lands", func() {
		ec2api.DescribeSpotPriceHistoryBehavior.Output.Set(&ec2.DescribeSpotPriceHistoryOutput{
			SpotPriceHistory: []ec2types.SpotPrice{quote("m5.large", "us-east-1a", "0.030", base)},
		})
		Expect(provider.Refresh(ctx)).To(Succeed())
		Expect(provider.Backoff(ctx, "m5.large", "us-east-1a")).To(Succeed())

		// force the next refresh through a fresh store lock
		quotes, err := store.Quotes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(quotes[0].Backoff).To(Equal(1))
		Expect(store.UpsertQuotes(ctx, quotes[:1])).To(Succeed())

		quotes, err = store.Quotes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(quotes[0].Backoff).To(Equal(0))
	})
	It("should collapse overlapping refreshes through the timed lock", func() {
		ec2api.DescribeSpotPriceHistoryBehavior.Output.Set(&ec2.DescribeSpotPriceHistoryOutput{
			SpotPriceHistory: []ec2types.SpotPrice{quote("m5.large", "us-east-1a", "0.030", base)},
		})

		Expect(provider.Refresh(ctx)).To(Succeed())
		Expect(provider.Refresh(ctx)).To(Succeed())
		Expect(ec2api.DescribeSpotPriceHistoryBehavior.Calls()).To(Equal(1))
	})
	It("should do nothing without cached shapes", func() {
		empty, err := cache.Open(GinkgoT().TempDir() + "/empty.cache")
		Expect(err).ToNot(HaveOccurred())
		defer empty.Close()

		p := pricing.NewDefaultProvider(ec2api, empty, zap.NewNop().Sugar())
		Expect(p.Refresh(ctx)).To(Succeed())
		Expect(ec2api.DescribeSpotPriceHistoryBehavior.Calls()).To(Equal(0))
	})
})
