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

package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "data.csv", "revenue,region\n100,north\n250.5,south\n")

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"revenue", "region"}, tbl.Columns)
	assert.Len(t, tbl.Rows, 2)

	values, parseRate := tbl.NumericColumn("revenue")
	assert.Equal(t, []float64{100, 250.5}, values)
	assert.Equal(t, 1.0, parseRate)
}

func TestLoadTSV(t *testing.T) {
	path := writeFile(t, "data.tsv", "a\tb\n1\t2\n")

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Len(t, tbl.Rows, 1)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "data.json", `[{"x": 1, "y": "a"}, {"x": 2}]`)

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, tbl.Columns)
	assert.Len(t, tbl.Rows, 2)

	y, ok := tbl.Column("y")
	require.True(t, ok)
	assert.Equal(t, []string{"a", ""}, y)
}

func TestLoadRejectsBinaryFormats(t *testing.T) {
	for _, name := range []string{"data.xlsx", "data.parquet"} {
		path := writeFile(t, name, "not really binary")
		_, err := Load(path)
		var unsupported *ErrUnsupportedFormat
		require.ErrorAs(t, err, &unsupported, "format %s", name)
	}
}

func TestLoadEmptyDataset(t *testing.T) {
	path := writeFile(t, "data.csv", "")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestNumericColumnSkipsMissing(t *testing.T) {
	path := writeFile(t, "data.csv", "v\n1\nNA\n\n3\nnot-a-number\n")

	tbl, err := Load(path)
	require.NoError(t, err)

	values, parseRate := tbl.NumericColumn("v")
	assert.Equal(t, []float64{1, 3}, values)
	// 3 present cells (1, 3, not-a-number), 2 parsed.
	assert.InDelta(t, 2.0/3.0, parseRate, 1e-9)
}

func TestLooksDatetime(t *testing.T) {
	assert.True(t, LooksDatetime("2026-03-01"))
	assert.True(t, LooksDatetime("2026-03-01T10:00:00Z"))
	assert.True(t, LooksDatetime("03/15/2026"))
	assert.False(t, LooksDatetime("revenue"))
	assert.False(t, LooksDatetime("123.45"))
	assert.False(t, LooksDatetime(""))
}

func TestFingerprintIsStable(t *testing.T) {
	tbl := &Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "2"}, {"3", "4"}}}

	fp1 := ComputeFingerprint(tbl)
	fp2 := ComputeFingerprint(tbl)
	assert.Equal(t, fp1.Hash, fp2.Hash)
	assert.Equal(t, 2, fp1.RowCount)
	assert.Equal(t, []string{"a", "b"}, fp1.Columns)

	// Any cell change alters the hash.
	tbl.Rows[1][1] = "5"
	fp3 := ComputeFingerprint(tbl)
	assert.NotEqual(t, fp1.Hash, fp3.Hash)
}
