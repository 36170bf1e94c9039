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

package cache

import (
	"context"
	"fmt"
)

// ShapeCount reports how many instance shapes are cached.
func (s *Store) ShapeCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instance_types`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting instance shapes, %w", err)
	}
	return n, nil
}

// PutShapes stores instance shapes and their feature values, replacing
// any prior rows for the same shape.
func (s *Store) PutShapes(ctx context.Context, shapes []InstanceShape) error {
	for _, shape := range shapes {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO instance_types (shape, cpus, mem_mb, storage_gb)
			VALUES (?, ?, ?, ?)`,
			shape.Name, shape.CPUs, shape.MemMiB, shape.StorageGB); err != nil {
			return fmt.Errorf("storing shape %s, %w", shape.Name, err)
		}
		for key, value := range shape.Features {
			if _, err := s.db.ExecContext(ctx, `
				INSERT OR REPLACE INTO it_features (shape, key, value)
				VALUES (?, ?, ?)`, shape.Name, key, value); err != nil {
				return fmt.Errorf("storing feature %s of shape %s, %w", key, shape.Name, err)
			}
		}
	}
	return nil
}

// Shapes returns all cached shapes with their features attached.
func (s *Store) Shapes(ctx context.Context) ([]InstanceShape, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT shape, cpus, mem_mb, storage_gb FROM instance_types`)
	if err != nil {
		return nil, fmt.Errorf("listing instance shapes, %w", err)
	}
	defer rows.Close()
	byName := map[string]*InstanceShape{}
	var shapes []*InstanceShape
	for rows.Next() {
		shape := &InstanceShape{Features: map[string]float64{}}
		if err := rows.Scan(&shape.Name, &shape.CPUs, &shape.MemMiB, &shape.StorageGB); err != nil {
			return nil, fmt.Errorf("scanning shape row, %w", err)
		}
		byName[shape.Name] = shape
		shapes = append(shapes, shape)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	frows, err := s.db.QueryContext(ctx, `SELECT shape, key, value FROM it_features`)
	if err != nil {
		return nil, fmt.Errorf("listing shape features, %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var name, key string
		var value float64
		if err := frows.Scan(&name, &key, &value); err != nil {
			return nil, fmt.Errorf("scanning feature row, %w", err)
		}
		if shape, ok := byName[name]; ok {
			shape.Features[key] = value
		}
	}
	if err := frows.Err(); err != nil {
		return nil, err
	}

	out := make([]InstanceShape, 0, len(shapes))
	for _, shape := range shapes {
		out = append(out, *shape)
	}
	return out, nil
}

// UpsertQuotes replaces spot quotes with freshly observed prices. A
// fresh quote clears any prior backoff.
func (s *Store) UpsertQuotes(ctx context.Context, quotes []SpotQuote) error {
	for _, q := range quotes {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO spot_prices (shape, az, price, backoff)
			VALUES (?, ?, ?, 0)`, q.Shape, q.Zone, q.Price); err != nil {
			return fmt.Errorf("storing quote %s/%s, %w", q.Shape, q.Zone, err)
		}
	}
	return nil
}

// Quotes returns all cached spot quotes.
func (s *Store) Quotes(ctx context.Context) ([]SpotQuote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT shape, az, price, backoff FROM spot_prices`)
	if err != nil {
		return nil, fmt.Errorf("listing spot quotes, %w", err)
	}
	defer rows.Close()
	var quotes []SpotQuote
	for rows.Next() {
		var q SpotQuote
		if err := rows.Scan(&q.Shape, &q.Zone, &q.Price, &q.Backoff); err != nil {
			return nil, fmt.Errorf("scanning quote row, %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// IncrementBackoff bumps the backoff counter for a (shape, zone). The
// increment happens inside the statement so concurrent observers never
// lose an update.
func (s *Store) IncrementBackoff(ctx context.Context, shape, zone string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE spot_prices SET backoff = backoff + 1 WHERE shape = ? AND az = ?`,
		shape, zone); err != nil {
		return fmt.Errorf("backing off %s/%s, %w", shape, zone, err)
	}
	return nil
}
