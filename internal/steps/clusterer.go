// Copyright 2026 Veristat Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package steps

import (
	"context"
	"fmt"
	"math"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
)

const (
	maxClusters      = 4
	kmeansIterations = 25
)

// Clusterer segments rows over the numeric feature space with a small
// k-means and summarizes each segment. The summary feeds personas.
type Clusterer struct{}

func (*Clusterer) Name() string { return registry.StepClusterer }

func (*Clusterer) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	tbl, err := loadTable(runID, st)
	if err != nil {
		return nil, err
	}

	names := numericColumns(tbl)
	if len(names) == 0 {
		return notApplicable("NO_NUMERIC_COLUMNS",
			"clustering needs at least one numeric column"), nil
	}

	cols := alignMatrix(tbl, names)
	if len(cols) == 0 || len(cols[0]) < 2 {
		return notApplicable("TOO_FEW_COMPLETE_ROWS",
			"clustering needs at least two fully numeric rows"), nil
	}
	rows := transpose(cols)

	k := maxClusters
	if len(rows) < k {
		k = len(rows)
	}

	assignment, centroids := kmeans(ctx, rows, k)
	if assignment == nil {
		return nil, canceled(ctx)
	}

	segments := make([]any, 0, k)
	for c := 0; c < k; c++ {
		size := 0
		for _, a := range assignment {
			if a == c {
				size++
			}
		}
		if size == 0 {
			continue
		}
		centroid := store.Document{}
		for j, name := range names {
			centroid[name] = centroids[c][j]
		}
		segments = append(segments, store.Document{
			"segment_id": fmt.Sprintf("segment_%d", c),
			"size":       float64(size),
			"share":      float64(size) / float64(len(rows)),
			"centroid":   centroid,
		})
	}

	doc := store.Document{
		"available": true,
		"features":  toAny(names),
		"segments":  segments,
	}
	if err := st.Write(runID, artifact.Pending(artifact.EnhancedAnalytics), doc); err != nil {
		return nil, err
	}
	return ok(), nil
}

func toAny(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

func transpose(cols [][]float64) [][]float64 {
	if len(cols) == 0 {
		return nil
	}
	rows := make([][]float64, len(cols[0]))
	for i := range rows {
		rows[i] = make([]float64, len(cols))
		for j := range cols {
			rows[i][j] = cols[j][i]
		}
	}
	return rows
}

// kmeans runs Lloyd's algorithm with deterministic spread-out seeding.
// Returns nil when ctx expires mid-iteration.
func kmeans(ctx context.Context, rows [][]float64, k int) ([]int, [][]float64) {
	// Standardize per dimension so no feature dominates the distance.
	dims := len(rows[0])
	scaled := make([][]float64, len(rows))
	for d := 0; d < dims; d++ {
		col := make([]float64, len(rows))
		for i, r := range rows {
			col[i] = r[d]
		}
		m, s := mean(col), stddev(col)
		if s == 0 {
			s = 1
		}
		for i := range rows {
			if scaled[i] == nil {
				scaled[i] = make([]float64, dims)
			}
			scaled[i][d] = (rows[i][d] - m) / s
		}
	}

	// Seed with evenly spaced rows in input order.
	centroids := make([][]float64, k)
	for c := 0; c < k; c++ {
		centroids[c] = append([]float64(nil), scaled[c*len(scaled)/k]...)
	}

	assignment := make([]int, len(scaled))
	for iter := 0; iter < kmeansIterations; iter++ {
		if ctx.Err() != nil {
			return nil, nil
		}
		changed := false
		for i, row := range scaled {
			best, bestDist := 0, math.Inf(1)
			for c, cent := range centroids {
				d := sqDist(row, cent)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}
		for c := range centroids {
			var members [][]float64
			for i, a := range assignment {
				if a == c {
					members = append(members, scaled[i])
				}
			}
			if len(members) == 0 {
				continue
			}
			for d := 0; d < dims; d++ {
				var sum float64
				for _, m := range members {
					sum += m[d]
				}
				centroids[c][d] = sum / float64(len(members))
			}
		}
		if !changed {
			break
		}
	}

	// Report centroids in original units.
	out := make([][]float64, k)
	for c := 0; c < k; c++ {
		out[c] = make([]float64, dims)
		var members int
		for i, a := range assignment {
			if a == c {
				for d := 0; d < dims; d++ {
					out[c][d] += rows[i][d]
				}
				members++
			}
		}
		if members > 0 {
			for d := 0; d < dims; d++ {
				out[c][d] /= float64(members)
			}
		}
	}
	return assignment, out
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
