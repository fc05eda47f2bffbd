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
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/dataset"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
)

// Ingestion loads the submitted dataset, leaves a sanitized CSV copy in
// the run directory and writes the identity card. It is the only step
// that touches the original upload.
type Ingestion struct{}

func (*Ingestion) Name() string { return registry.StepIngestion }

func (*Ingestion) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	cfg, err := st.Read(runID, artifact.RunConfig)
	if err != nil {
		return nil, fmt.Errorf("reading run config: %w", err)
	}
	source, _ := cfg["source_path"].(string)
	if source == "" {
		return nil, fmt.Errorf("run config has no source_path")
	}

	tbl, err := dataset.Load(source)
	if err != nil {
		return nil, err
	}
	if len(tbl.Columns) == 0 {
		return nil, fmt.Errorf("dataset has no columns")
	}

	copyPath, err := st.Path(runID, artifact.DatasetFile)
	if err != nil {
		return nil, err
	}
	if err := writeCSV(copyPath, tbl); err != nil {
		return nil, fmt.Errorf("writing dataset copy: %w", err)
	}

	fp := dataset.ComputeFingerprint(tbl)
	columns := make([]any, len(tbl.Columns))
	for i, c := range tbl.Columns {
		columns[i] = c
	}

	card := store.Document{
		"source_file":    filepath.Base(source),
		"source_format":  strings.TrimPrefix(strings.ToLower(filepath.Ext(source)), "."),
		"fingerprint":    fp.Hash,
		"columns":        columns,
		"column_count":   float64(len(tbl.Columns)),
		"row_count":      float64(fp.RowCount),
		"size_mb":        tbl.SizeMB(),
		"ingested_at":    time.Now().UTC().Format(time.RFC3339),
		"target_column":  targetColumn(runID, st),
	}
	if err := st.Write(runID, artifact.IdentityCard, card); err != nil {
		return nil, err
	}

	return &step.Result{
		Success:    true,
		StdoutTail: step.CapTail(fmt.Sprintf("ingested %d rows, %d columns", fp.RowCount, len(tbl.Columns))),
	}, nil
}

// writeCSV writes the normalized table atomically.
func writeCSV(path string, tbl *dataset.Table) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dataset-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(tbl.Columns); err != nil {
		tmp.Close()
		return err
	}
	for _, row := range tbl.Rows {
		if err := w.Write(row); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
