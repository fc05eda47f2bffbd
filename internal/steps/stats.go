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
	"math"
	"sort"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func sortedCopy(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

// pearson computes the correlation coefficient of two equal-length series.
// Returns 0 for degenerate inputs (length < 2 or zero variance).
func pearson(x, y []float64) float64 {
	n := len(x)
	if n != len(y) || n < 2 {
		return 0
	}
	mx, my := mean(x), mean(y)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// olsFit fits y = b0 + b·X by ordinary least squares via the normal
// equations with Gaussian elimination. Returns the intercept, per-feature
// coefficients and the R² on the training rows. ok is false when the
// system is singular (perfectly collinear features).
func olsFit(features [][]float64, y []float64) (intercept float64, coefs []float64, r2 float64, ok bool) {
	n := len(y)
	p := len(features)
	if n == 0 || p == 0 {
		return 0, nil, 0, false
	}

	// Design matrix with leading intercept column, normal equations
	// A = XᵀX, b = Xᵀy.
	dim := p + 1
	a := make([][]float64, dim)
	b := make([]float64, dim)
	for i := range a {
		a[i] = make([]float64, dim)
	}
	for r := 0; r < n; r++ {
		row := make([]float64, dim)
		row[0] = 1
		for j := 0; j < p; j++ {
			row[j+1] = features[j][r]
		}
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				a[i][j] += row[i] * row[j]
			}
			b[i] += row[i] * y[r]
		}
	}

	sol, solvable := solve(a, b)
	if !solvable {
		return 0, nil, 0, false
	}

	// R² from residuals.
	my := mean(y)
	var ssTot, ssRes float64
	for r := 0; r < n; r++ {
		pred := sol[0]
		for j := 0; j < p; j++ {
			pred += sol[j+1] * features[j][r]
		}
		ssRes += (y[r] - pred) * (y[r] - pred)
		ssTot += (y[r] - my) * (y[r] - my)
	}
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	if r2 < 0 {
		r2 = 0
	}
	if r2 > 1 {
		r2 = 1
	}

	return sol[0], sol[1:], r2, true
}

// solve performs Gaussian elimination with partial pivoting on a copy of
// the inputs. ok is false for singular systems.
func solve(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	m := make([][]float64, n)
	for i := range m {
		m[i] = append(append([]float64(nil), a[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := m[r][col] / m[col][col]
			for c := col; c <= n; c++ {
				m[r][c] -= factor * m[col][c]
			}
		}
	}

	sol := make([]float64, n)
	for i := 0; i < n; i++ {
		sol[i] = m[i][n] / m[i][i]
	}
	return sol, true
}

// vif computes the variance inflation factor of feature idx against the
// remaining features: 1/(1-R²) of the auxiliary regression. Returns +Inf
// when the feature is an exact linear combination of the others.
func vif(features [][]float64, idx int) float64 {
	if len(features) < 2 {
		return 1
	}
	others := make([][]float64, 0, len(features)-1)
	for j, f := range features {
		if j != idx {
			others = append(others, f)
		}
	}
	_, _, r2, ok := olsFit(others, features[idx])
	if !ok || r2 >= 1-1e-9 {
		return math.Inf(1)
	}
	return 1 / (1 - r2)
}

// rmse computes root-mean-square error of predictions.
func rmse(y, pred []float64) float64 {
	if len(y) == 0 || len(y) != len(pred) {
		return 0
	}
	var ss float64
	for i := range y {
		d := y[i] - pred[i]
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(y)))
}

// mae computes mean absolute error of predictions.
func mae(y, pred []float64) float64 {
	if len(y) == 0 || len(y) != len(pred) {
		return 0
	}
	var sum float64
	for i := range y {
		sum += math.Abs(y[i] - pred[i])
	}
	return sum / float64(len(y))
}
