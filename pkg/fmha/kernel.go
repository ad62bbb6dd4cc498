// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"math"
	"sync"

	"github.com/x448/float16"
)

// attentionCall holds the state shared by all units of work of one forward call.
// Units write disjoint rows of the outputs and temporaries, so no locking is needed.
type attentionCall struct {
	layout  *BatchLayout
	plan    TilePlan
	shape   WorkingShape
	qkv     *packedQKV
	isHalf  bool
	causal  bool
	scales  Scales
	dropout *DropoutState

	ctx, ctx2 elementWriter
	lse       []float32

	// Temporaries, only set in looped mode.
	oTmp, o2Tmp, lse2 []float32

	// softmax is only set if the diagnostics matrix was requested.
	softmax *elementWriter

	scratch sync.Pool
}

// unit of work: one query tile of one head of one sequence.
type unit struct {
	batch, head, queryTile int
}

// units lists the units covering every valid query row. Zero-length sequences have none.
func (c *attentionCall) units() []unit {
	var units []unit
	for b := range c.layout.BatchSize() {
		numQueryTiles := (c.layout.SequenceLength(b) + QueryTileRows - 1) / QueryTileRows
		for h := range c.shape.NumHeads {
			for qt := range numQueryTiles {
				units = append(units, unit{batch: b, head: h, queryTile: qt})
			}
		}
	}
	return units
}

// lseIndex is the flat index of row i of (batch*numHeads + head) in the [batch, heads, padded] normalizers.
func (c *attentionCall) lseIndex(bh, i int) int {
	return bh*c.plan.PaddedSeqLen + i
}

// contextIndex is the flat index of the first element of (token, head) in the [tokens, heads, headDim] outputs.
func (c *attentionCall) contextIndex(token, head int) int {
	return (token*c.shape.NumHeads + head) * c.shape.HeadDim
}

func (c *attentionCall) roundPrimary(p float32) float32 { return roundToElement(c.isHalf, p) }

func roundSecondary(p float64) float64 { return p }

// run computes one unit: it visits the key tiles in ascending order and maintains the running softmax
// state of both precision paths.
func (c *attentionCall) run(u unit) {
	s := c.scratch.Get().(*unitScratch)
	defer c.scratch.Put(s)

	d := c.shape.HeadDim
	bh := u.batch*c.shape.NumHeads + u.head
	seqStart := c.layout.SequenceStart(u.batch)
	seqLen := c.layout.SequenceLength(u.batch)
	i0 := u.queryTile * QueryTileRows
	numRows := min(QueryTileRows, seqLen-i0)
	lastRow := i0 + numRows - 1

	c.qkv.stage(s.q, querySlot, u.head, seqStart+i0, numRows)
	s.primary.reset()
	s.secondary.reset()

	primaryDropoutScale := c.scales.Dropout
	if c.isHalf {
		primaryDropoutScale = c.scales.DropoutHalf().Float32()
	}
	secondaryDropoutScale := float64(1)
	if c.dropout.Enabled() {
		secondaryDropoutScale = 1 / float64(c.dropout.KeepProbability)
	}

	width := c.plan.KeyTileWidth()
	for kt := range c.plan.NumKeyTiles() {
		j0 := kt * width
		if j0 >= seqLen || (c.causal && j0 > lastRow) {
			break
		}
		numCols := min(width, seqLen-j0)
		c.qkv.stage(s.k, keySlot, u.head, seqStart+j0, numCols)
		c.qkv.stage(s.v, valueSlot, u.head, seqStart+j0, numCols)
		if c.plan.Looped && kt > 0 {
			c.resume(s, u, bh, seqStart, i0, numRows)
		}

		var keep []bool
		if c.dropout.Enabled() {
			keep = s.keep[:numCols]
		}
		scores32 := s.scores32[:numCols]
		scores64 := s.scores64[:numCols]
		for r := range numRows {
			i := i0 + r
			q := s.q[r*d : (r+1)*d]
			for col := range numCols {
				if c.causal && j0+col > i {
					scores32[col] = float32(math.Inf(-1))
					scores64[col] = math.Inf(-1)
					continue
				}
				k := s.k[col*d : (col+1)*d]
				scores32[col] = c.scales.BMM1 * dot32(q, k)
				scores64[col] = float64(c.scales.BMM1) * dot64(q, k)
			}
			if keep != nil {
				c.dropout.KeepRow(bh, i, j0, keep)
			}
			s.primary.update(r, scores32, keep, s.v, primaryDropoutScale, c.roundPrimary)
			s.secondary.update(r, scores64, keep, s.v, secondaryDropoutScale, roundSecondary)
		}
		if c.plan.Looped {
			c.persist(s, u, bh, seqStart, i0, numRows)
		}
	}
	c.finalize(s, u, bh, seqStart, i0, numRows)
	if c.softmax != nil {
		c.recordSoftmax(s, u, bh, seqStart, i0, numRows)
	}
}

// persist writes the normalized running state into the temporaries: o_tmp/o2_tmp hold out/sum,
// LogSumExp/lse2 hold max + log(sum).
func (c *attentionCall) persist(s *unitScratch, u unit, bh, seqStart, i0, numRows int) {
	d := c.shape.HeadDim
	for r := range numRows {
		i := i0 + r
		ctxIdx := c.contextIndex(seqStart+i, u.head)
		lseIdx := c.lseIndex(bh, i)
		oTmp := c.oTmp[ctxIdx : ctxIdx+d]
		o2Tmp := c.o2Tmp[ctxIdx : ctxIdx+d]
		c.lse[lseIdx] = s.primary.finalize(r, func(k int, value float32) { oTmp[k] = value })
		c.lse2[lseIdx] = float32(s.secondary.finalize(r, func(k int, value float64) { o2Tmp[k] = float32(value) }))
	}
}

// resume reloads the running state from the temporaries, before folding in a new key tile.
func (c *attentionCall) resume(s *unitScratch, u unit, bh, seqStart, i0, numRows int) {
	d := c.shape.HeadDim
	for r := range numRows {
		i := i0 + r
		ctxIdx := c.contextIndex(seqStart+i, u.head)
		lseIdx := c.lseIndex(bh, i)
		s.primary.resume(r, c.lse[lseIdx], c.oTmp[ctxIdx:ctxIdx+d])
		s.secondary.resume(r, float64(c.lse2[lseIdx]), c.o2Tmp[ctxIdx:ctxIdx+d])
	}
}

// finalize writes the context vectors and the log-sum-exp of the unit's rows.
func (c *attentionCall) finalize(s *unitScratch, u unit, bh, seqStart, i0, numRows int) {
	d := c.shape.HeadDim
	for r := range numRows {
		i := i0 + r
		ctxIdx := c.contextIndex(seqStart+i, u.head)
		if c.plan.Looped {
			// The temporaries already hold the normalized result of the last key tile.
			for k := range d {
				c.ctx.set(ctxIdx+k, c.oTmp[ctxIdx+k])
				c.ctx2.set(ctxIdx+k, c.o2Tmp[ctxIdx+k])
			}
			continue
		}
		c.lse[c.lseIndex(bh, i)] = s.primary.finalize(r, func(k int, value float32) {
			c.ctx.set(ctxIdx+k, value)
		})
		s.secondary.finalize(r, func(k int, value float64) {
			c.ctx2.set(ctxIdx+k, float32(value))
		})
	}
}

// recordSoftmax recomputes the scores of the unit's rows and stores exp(score - lse) into the
// diagnostics matrix, negated where the weight was dropped. Masked and padding entries are left untouched.
func (c *attentionCall) recordSoftmax(s *unitScratch, u unit, bh, seqStart, i0, numRows int) {
	d := c.shape.HeadDim
	padded := c.plan.PaddedSeqLen
	seqLen := c.layout.SequenceLength(u.batch)
	lastRow := i0 + numRows - 1
	width := c.plan.KeyTileWidth()
	for j0 := 0; j0 < seqLen; j0 += width {
		if c.causal && j0 > lastRow {
			break
		}
		numCols := min(width, seqLen-j0)
		c.qkv.stage(s.k, keySlot, u.head, seqStart+j0, numCols)
		keep := s.keep[:numCols]
		for r := range numRows {
			i := i0 + r
			lse := c.lse[c.lseIndex(bh, i)]
			c.dropout.KeepRow(bh, i, j0, keep)
			rowBase := (bh*padded+i)*padded + j0
			q := s.q[r*d : (r+1)*d]
			for col := range numCols {
				if c.causal && j0+col > i {
					break
				}
				p := float32(math.Exp(float64(c.scales.BMM1*dot32(q, s.k[col*d:(col+1)*d]) - lse)))
				if !keep[col] {
					p = -p
				}
				c.softmax.set(rowBase+col, p)
			}
		}
	}
}

// countNonFinite returns the number of NaN or infinite values of a float16 or float32 flat slice.
func countNonFinite(flat any) int {
	var count int
	switch values := flat.(type) {
	case []float16.Float16:
		for _, v := range values {
			if v.IsNaN() || v.IsInf(0) {
				count++
			}
		}
	case []float32:
		for _, v := range values {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				count++
			}
		}
	}
	return count
}
