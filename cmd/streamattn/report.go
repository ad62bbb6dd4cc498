// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/gomlx/streamattn/pkg/core/tensors"
	"github.com/gomlx/streamattn/pkg/fmha"
	"github.com/gomlx/streamattn/pkg/fmha/fmhatest"
	"github.com/schollz/progressbar/v3"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = evenRowStyle
			} else {
				s = oddRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

type report struct {
	engine  *fmha.Engine
	lengths []int
	dtype   dtypes.DType
	result  *fmha.Result
	ref     *fmhatest.Reference

	trials          int
	unbiasedMaxDiff float64
}

func tensorBytes(ts ...*tensors.Tensor) uint64 {
	var total uint64
	for _, t := range ts {
		if t != nil {
			total += uint64(t.Memory())
		}
	}
	return total
}

func (r *report) print() {
	result := r.result
	shape := result.Shape
	fmt.Println(titleStyle.Render("Call " + result.CallID.String()))
	table := newPlainTable(false)
	table.Row("config", r.engine.Config().String())
	table.Row("dtype", r.dtype.String())
	table.Row("batch size", humanize.Comma(int64(shape.BatchSize)))
	table.Row("total tokens", humanize.Comma(int64(result.Context.Shape().Dimensions[0])))
	table.Row("heads x head_dim", fmt.Sprintf("%d x %d", shape.NumHeads, shape.HeadDim))
	table.Row("padded length", strconv.Itoa(shape.PaddedSeqLen))
	table.Row("base tile width", strconv.Itoa(shape.BaseTileWidth))
	table.Row("looped", strconv.FormatBool(shape.Looped))
	table.Row("output bytes", humanize.Bytes(tensorBytes(result.Tensors()...)))
	if result.Dropout.Enabled() {
		table.Row("dropout keep", fmt.Sprintf("%.4f", result.Dropout.KeepProbability))
		table.Row("philox seed/offset", fmt.Sprintf("%#x / %d", result.Dropout.Philox.Seed, result.Dropout.Philox.Offset))
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Accuracy against the dense reference"))
	table = newPlainTable(true)
	table.Headers("Output", "Max abs diff")
	table.Row("context", fmt.Sprintf("%.3g", r.ref.MaxAbsDiff(result.Context)))
	table.Row("secondary context", fmt.Sprintf("%.3g", r.ref.MaxAbsDiff(result.SecondaryContext)))
	table.Row("log-sum-exp (relative)", fmt.Sprintf("%.3g", r.ref.MaxLSERelativeError(result.LogSumExp)))
	if r.trials > 0 {
		table.Row(fmt.Sprintf("mean of %d dropout trials", r.trials), fmt.Sprintf("%.3g", r.unbiasedMaxDiff))
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Sequences"))
	table = newPlainTable(true)
	table.Headers("#", "Length", "Min LSE", "Max LSE")
	lse := result.LogSumExp.ToFloat64()
	for b, length := range r.lengths {
		minLSE, maxLSE := math.Inf(1), math.Inf(-1)
		for h := range shape.NumHeads {
			rowBase := (b*shape.NumHeads + h) * shape.PaddedSeqLen
			for i := range length {
				minLSE = min(minLSE, lse[rowBase+i])
				maxLSE = max(maxLSE, lse[rowBase+i])
			}
		}
		if length == 0 {
			table.Row(strconv.Itoa(b), "0", "-", "-")
			continue
		}
		table.Row(strconv.Itoa(b), humanize.Comma(int64(length)), fmt.Sprintf("%.4f", minLSE), fmt.Sprintf("%.4f", maxLSE))
	}
	fmt.Println(table.Render())
}

// dropoutTrials runs the forward pass numTrials times with fresh dropout counters, and returns the
// largest difference between the averaged secondary context and the one computed without dropout.
func dropoutTrials(engine *fmha.Engine, qkv *tensors.Tensor, lengths []int, opts fmha.Options, numTrials int) (float64, error) {
	offsets := fmhatest.Offsets(lengths...)
	noDropoutOpts := opts
	noDropoutOpts.PDropout = 0
	noDropoutOpts.ReturnSoftmax = false
	want, err := engine.Forward(qkv, offsets, noDropoutOpts)
	if err != nil {
		return 0, err
	}
	opts.ReturnSoftmax = false
	mean := make([]float64, want.SecondaryContext.Size())
	bar := progressbar.NewOptions(numTrials,
		progressbar.OptionSetDescription("dropout trials"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("trials"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	for range numTrials {
		result, err := engine.Forward(qkv, offsets, opts)
		if err != nil {
			return 0, err
		}
		for ii, v := range result.SecondaryContext.ToFloat64() {
			mean[ii] += v / float64(numTrials)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	var maxDiff float64
	for ii, v := range want.SecondaryContext.ToFloat64() {
		maxDiff = max(maxDiff, math.Abs(mean[ii]-v))
	}
	return maxDiff, nil
}
