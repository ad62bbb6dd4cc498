// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"math"

	"golang.org/x/exp/constraints"
)

// onlineState is the running softmax state (max, sum, out) of the rows of one query tile,
// updated one key tile at a time.
//
// After visiting keys K_1..K_t of a row: max = max score seen, sum = Σ exp(score - max) over the
// scores seen (before dropout), and out = Σ dropout(exp(score - max)) · V.
type onlineState[F constraints.Float] struct {
	headDim  int
	max, sum []F
	out      []F
}

func newOnlineState[F constraints.Float](numRows, headDim int) *onlineState[F] {
	return &onlineState[F]{
		headDim: headDim,
		max:     make([]F, numRows),
		sum:     make([]F, numRows),
		out:     make([]F, numRows*headDim),
	}
}

func negInf[F constraints.Float]() F { return F(math.Inf(-1)) }

func exp[F constraints.Float](x F) F { return F(math.Exp(float64(x))) }

// reset sets all rows to the empty state (max=-∞, sum=0, out=0).
func (s *onlineState[F]) reset() {
	for ii := range s.max {
		s.max[ii] = negInf[F]()
		s.sum[ii] = 0
	}
	clear(s.out)
}

// resume sets the row state from a normalized partial output and its log-sum-exp: (max=lse, sum=1, out=normalized).
func (s *onlineState[F]) resume(row int, lse F, normalized []float32) {
	s.max[row] = lse
	s.sum[row] = 1
	out := s.rowOut(row)
	for k, v := range normalized {
		out[k] = F(v)
	}
	if math.IsInf(float64(lse), -1) {
		s.sum[row] = 0
		clear(out)
	}
}

func (s *onlineState[F]) rowOut(row int) []F {
	return s.out[row*s.headDim : (row+1)*s.headDim]
}

// update folds one key tile into the row state.
//
// scores holds the scaled scores of the tile, with masked positions set to -∞. keep is the dropout
// mask (nil if dropout is disabled). values is the staged value tile, [len(scores), headDim].
// round is applied to the exponentiated weights before they multiply the values, and again after the
// dropout scale is applied.
func (s *onlineState[F]) update(row int, scores []F, keep []bool, values []float32, dropoutScale F, round func(F) F) {
	mTile := negInf[F]()
	for _, score := range scores {
		mTile = max(mTile, score)
	}
	mPrev := s.max[row]
	mNew := max(mPrev, mTile)
	if math.IsInf(float64(mNew), -1) {
		return
	}
	var alpha F
	if !math.IsInf(float64(mPrev), -1) {
		alpha = exp(mPrev - mNew)
	}
	out := s.rowOut(row)
	if alpha != 1 {
		for k := range out {
			out[k] *= alpha
		}
	}
	var tileSum F
	d := s.headDim
	for c, score := range scores {
		if math.IsInf(float64(score), -1) {
			continue
		}
		p := exp(score - mNew)
		tileSum += p
		if keep != nil && !keep[c] {
			continue
		}
		p = round(p)
		if keep != nil {
			p = round(p * dropoutScale)
		}
		v := values[c*d : (c+1)*d]
		for k := range out {
			out[k] += p * F(v[k])
		}
	}
	s.sum[row] = alpha*s.sum[row] + tileSum
	s.max[row] = mNew
}

// finalize returns the row's log-sum-exp and writes the normalized output (out/sum) with the given setter.
// Rows that saw no valid key get a zero output and -∞.
func (s *onlineState[F]) finalize(row int, set func(k int, value F)) (lse F) {
	out := s.rowOut(row)
	l := s.sum[row]
	if l == 0 {
		for k := range out {
			set(k, 0)
		}
		return negInf[F]()
	}
	inv := 1 / l
	for k, v := range out {
		set(k, v*inv)
	}
	return s.max[row] + F(math.Log(float64(l)))
}

func dot32(a, b []float32) float32 {
	var sum float32
	for k, v := range a {
		sum += v * b[k]
	}
	return sum
}

func dot64(a, b []float32) float64 {
	var sum float64
	for k, v := range a {
		sum += float64(v) * float64(b[k])
	}
	return sum
}
