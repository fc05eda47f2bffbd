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

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
)

// Personas turns clusterer segments into named behavioral profiles with
// strategy notes. It needs the promoted enhanced analytics; without
// segments it reports itself not applicable.
type Personas struct{}

func (*Personas) Name() string { return registry.StepPersonas }

func (*Personas) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	analytics, err := st.Read(runID, artifact.EnhancedAnalytics)
	if err != nil {
		return notApplicable("NO_SEGMENTS",
			"no promoted segment analytics to build personas from"), nil
	}
	if available, ok := analytics["available"].(bool); ok && !available {
		return notApplicable("NO_SEGMENTS", "segment analytics unavailable"), nil
	}

	segments, _ := analytics["segments"].([]any)
	if len(segments) == 0 {
		return notApplicable("NO_SEGMENTS", "clusterer produced no segments"), nil
	}

	profiles := make([]any, 0, len(segments))
	for i, s := range segments {
		seg, _ := s.(map[string]any)
		share, _ := seg["share"].(float64)
		profiles = append(profiles, store.Document{
			"persona_id": fmt.Sprintf("persona_%d", i),
			"segment_id": seg["segment_id"],
			"label":      personaLabel(i, share),
			"share":      share,
			"centroid":   seg["centroid"],
			"strategy":   strategyNote(share),
		})
	}

	doc := store.Document{"personas": profiles}
	if err := st.Write(runID, artifact.Personas, doc); err != nil {
		return nil, err
	}
	return ok(), nil
}

func personaLabel(i int, share float64) string {
	switch {
	case share >= 0.5:
		return "dominant cohort"
	case share >= 0.25:
		return "major cohort"
	case share >= 0.1:
		return "minor cohort"
	default:
		return fmt.Sprintf("niche cohort %d", i)
	}
}

func strategyNote(share float64) string {
	if share >= 0.25 {
		return "representative of the bulk of the data; trends here drive the headline metrics"
	}
	return "small segment; treat its aggregates as indicative, not conclusive"
}
