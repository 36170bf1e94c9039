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

// Package selection matches job requirements against the cached shape
// catalog and spot quotes and returns the cheapest placements.
package selection

import (
	"context"
	"errors"
	"math"

	"github.com/samber/lo"

	"github.com/hyperdrive-run/hyperdrive/pkg/cache"
	"github.com/hyperdrive-run/hyperdrive/pkg/jobscript"
)

// EBSGBHour prorates the monthly $0.10/GiB gp2 figure to an hourly
// per-GiB cost so attached scratch volumes compare against bundled
// instance storage.
const EBSGBHour = 0.1 / (24 * 30)

var (
	ErrNoFeasibleShape = errors.New("no instance shape satisfies the job requirements")
	ErrAllBackedOff    = errors.New("all matching spot offerings are backed off; try again later")
)

// Placement is one launchable (shape, zone) candidate.
type Placement struct {
	Shape string
	Zone  string
	// Cost is the hourly spot price plus the prorated cost of the
	// extra EBS scratch volume, if one is needed.
	Cost float64
	// ExtraEBSGB is the scratch volume size to attach; 0 when the
	// shape's bundled instance storage already covers the requirement.
	ExtraEBSGB        int32
	InstanceStorageGB int32
}

type Selector struct {
	store *cache.Store
}

func NewSelector(store *cache.Store) *Selector {
	return &Selector{store: store}
}

// CheapestPlacements returns every candidate tied on minimum cost. The
// caller picks uniformly at random among them to spread load across
// zones.
func (s *Selector) CheapestPlacements(ctx context.Context, req jobscript.Requirements) ([]Placement, error) {
	shapes, err := s.store.Shapes(ctx)
	if err != nil {
		return nil, err
	}
	quotes, err := s.store.Quotes(ctx)
	if err != nil {
		return nil, err
	}
	return Cheapest(shapes, quotes, req)
}

// Cheapest is the pure selection algorithm over an in-memory catalog.
func Cheapest(shapes []cache.InstanceShape, quotes []cache.SpotQuote, req jobscript.Requirements) ([]Placement, error) {
	eligible := lo.Filter(shapes, func(shape cache.InstanceShape, _ int) bool {
		return fits(shape, req)
	})
	if len(eligible) == 0 {
		return nil, ErrNoFeasibleShape
	}
	byShape := lo.KeyBy(eligible, func(shape cache.InstanceShape) string { return shape.Name })

	var candidates []Placement
	minCost := math.Inf(1)
	for _, quote := range quotes {
		shape, ok := byShape[quote.Shape]
		if !ok || quote.Backoff >= 1 {
			continue
		}
		extraEBS := req.DiskGB - shape.StorageGB
		if extraEBS < 0 {
			extraEBS = 0
		}
		cost := quote.Price + float64(extraEBS)*EBSGBHour
		candidates = append(candidates, Placement{
			Shape:             shape.Name,
			Zone:              quote.Zone,
			Cost:              cost,
			ExtraEBSGB:        extraEBS,
			InstanceStorageGB: shape.StorageGB,
		})
		minCost = math.Min(minCost, cost)
	}
	if len(candidates) == 0 {
		return nil, ErrAllBackedOff
	}
	return lo.Filter(candidates, func(p Placement, _ int) bool {
		return p.Cost == minCost
	}), nil
}

func fits(shape cache.InstanceShape, req jobscript.Requirements) bool {
	if shape.CPUs < req.CPUs || shape.MemMiB < req.MemMiB {
		return false
	}
	for key, min := range req.Features {
		if shape.Features[key] < min {
			return false
		}
	}
	return true
}
