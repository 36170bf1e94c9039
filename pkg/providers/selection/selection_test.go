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

package selection_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"

	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
	"github.com/hyperdrive-run/hyperdrive/pkg/jobscript"
	"github.com/hyperdrive-run/hyperdrive/pkg/providers/selection"
)

var _ = Describe("Cheapest", func() {
	var shapes []cache.InstanceShape
	var quotes []cache.SpotQuote
	var req jobscript.Requirements

	BeforeEach(func() {
		shapes = []cache.InstanceShape{
			{Name: "s1", CPUs: 2, MemMiB: 4096},
			{Name: "s2", CPUs: 4, MemMiB: 4096},
		}
		quotes = []cache.SpotQuote{
			{Shape: "s1", Zone: "a", Price: 0.02},
			{Shape: "s1", Zone: "b", Price: 0.02},
			{Shape: "s2", Zone: "a", Price: 0.04},
			{Shape: "s2", Zone: "b", Price: 0.04},
		}
		req = jobscript.Requirements{CPUs: 2, MemMiB: 4096}
	})

	It("should return the full minimum-cost tie set", func() {
		placements, err := selection.Cheapest(shapes, quotes, req)
		Expect(err).ToNot(HaveOccurred())
		Expect(placements).To(HaveLen(2))
		Expect(lo.Map(placements, func(p selection.Placement, _ int) string { return p.Shape + "/" + p.Zone })).
			To(ConsistOf("s1/a", "s1/b"))
		Expect(placements[0].Cost).To(Equal(0.02))
	})
	It("should exclude shapes that do not fit", func() {
		req.CPUs = 4
		placements, err := selection.Cheapest(shapes, quotes, req)
		Expect(err).ToNot(HaveOccurred())
		Expect(lo.Map(placements, func(p selection.Placement, _ int) string { return p.Shape })).
			To(ConsistOf("s2", "s2"))
	})
	It("should exclude backed-off quotes", func() {
		quotes[0].Backoff = 1
		placements, err := selection.Cheapest(shapes, quotes, req)
		Expect(err).ToNot(HaveOccurred())
		Expect(placements).To(HaveLen(1))
		Expect(placements[0].Zone).To(Equal("b"))
	})
	It("should fail with NoFeasibleShape when nothing fits", func() {
		req.MemMiB = 1 << 40
		_, err := selection.Cheapest(shapes, quotes, req)
		Expect(err).To(MatchError(selection.ErrNoFeasibleShape))
	})
	It("should fail with AllBackedOff when every quote is constrained", func() {
		for i := range quotes {
			quotes[i].Backoff = 1
		}
		_, err := selection.Cheapest(shapes, quotes, req)
		Expect(err).To(MatchError(selection.ErrAllBackedOff))
	})
	It("should fail with NoFeasibleShape before AllBackedOff", func() {
		req.MemMiB = 1 << 40
		for i := range quotes {
			quotes[i].Backoff = 1
		}
		_, err := selection.Cheapest(shapes, quotes, req)
		Expect(err).To(MatchError(selection.ErrNoFeasibleShape))
	})
	It("should filter on feature minima", func() {
		shapes[0].Features = map[string]float64{"nic": 10}
		shapes[1].Features = map[string]float64{"nic": 25}
		req.Features = map[string]float64{"nic": 25}
		placements, err := selection.Cheapest(shapes, quotes, req)
		Expect(err).ToNot(HaveOccurred())
		Expect(lo.EveryBy(placements, func(p selection.Placement) bool { return p.Shape == "s2" })).To(BeTrue())
	})

	Context("scratch disk costing", func() {
		BeforeEach(func() {
			shapes = []cache.InstanceShape{
				{Name: "ebs-only", CPUs: 2, MemMiB: 4096, StorageGB: 0},
				{Name: "bundled", CPUs: 2, MemMiB: 4096, StorageGB: 100},
			}
			quotes = []cache.SpotQuote{
				{Shape: "ebs-only", Zone: "a", Price: 0.02},
				{Shape: "bundled", Zone: "a", Price: 0.02},
			}
		})

		It("should charge prorated EBS for missing storage", func() {
			req.DiskGB = 100
			placements, err := selection.Cheapest(shapes, quotes, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(placements).To(HaveLen(1))
			Expect(placements[0].Shape).To(Equal("bundled"))
			Expect(placements[0].ExtraEBSGB).To(Equal(int32(0)))
		})
		It("should size the extra volume to the shortfall", func() {
			req.DiskGB = 150
			placements, err := selection.Cheapest(shapes, quotes, req)
			Expect(err).ToNot(HaveOccurred())
			byShape := lo.KeyBy(placements, func(p selection.Placement) string { return p.Shape })
			Expect(byShape["bundled"].ExtraEBSGB).To(Equal(int32(50)))
			if p, ok := byShape["ebs-only"]; ok {
				Expect(p.ExtraEBSGB).To(Equal(int32(150)))
			}
		})
		It("should make the tie-break on total cost including EBS", func() {
			req.DiskGB = 100
			placements, err := selection.Cheapest(shapes, quotes, req)
			Expect(err).ToNot(HaveOccurred())
			// bundled wins: 0.02 vs 0.02 + 100 * prorate
			Expect(placements).To(HaveLen(1))
			Expect(placements[0].Cost).To(Equal(0.02))
		})
	})
})
