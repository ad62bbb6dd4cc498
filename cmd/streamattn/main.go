// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// streamattn runs the fused attention forward pass on a synthetic ragged batch, checks it against a
// dense reference and prints a report.
//
// Example:
//
//	streamattn -lengths=3,5,300 -head_dim=64 -heads=4 -causal -dropout=0.1 -trials=20
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/gomlx/streamattn/pkg/fmha"
	"github.com/gomlx/streamattn/pkg/fmha/fmhatest"
	"github.com/gomlx/streamattn/pkg/ml/random"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagLengths   = flag.String("lengths", "3,5", "Comma-separated lengths of the sequences in the batch.")
	flagHeads     = flag.Int("heads", 2, "Number of attention heads.")
	flagHeadDim   = flag.Int("head_dim", 16, "Head dimension: one of 16, 32, 64 or 128.")
	flagVectors   = flag.Int("vectors", 3, "Number of packed vectors per token and head (3 or 4).")
	flagDType     = flag.String("dtype", "float16", "Element type of the packed buffer: float16 or float32.")
	flagCausal    = flag.Bool("causal", false, "Apply a causal mask.")
	flagDropout   = flag.Float64("dropout", 0, "Dropout probability, in [0, 1).")
	flagScale     = flag.Float64("scale", 0, "Softmax scale. If 0, 1/sqrt(head_dim) is used.")
	flagMaxSeqLen = flag.Int("max_seq_len", 0, "Maximum sequence length hint. If 0 the longest sequence is used.")
	flagSeed      = flag.Uint64("seed", 42, "Seed for the synthetic inputs and the dropout generator.")
	flagTrials    = flag.Int("trials", 0, "Number of extra dropout trials to average, to check the dropout is unbiased.")
	flagSoftmax   = flag.Bool("softmax", false, "Also return the softmax diagnostics matrix.")
	flagConfig    = flag.String("config", "", fmt.Sprintf("Engine configuration (see fmha.ParseConfig). "+
		"If empty, $%s is used.", fmha.ConfigEnvVar))
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if err := run(); err != nil {
		klog.Errorf("streamattn failed: %+v", err)
		os.Exit(1)
	}
}

// parseLengths parses a comma-separated list of non-negative sequence lengths.
func parseLengths(lengthsStr string) ([]int, error) {
	var lengths []int
	for _, part := range strings.Split(lengthsStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		length, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid sequence length %q", part)
		}
		if length < 0 {
			return nil, errors.Errorf("sequence length must be >= 0, got %d", length)
		}
		lengths = append(lengths, length)
	}
	if len(lengths) == 0 {
		return nil, errors.Errorf("no sequence lengths given in %q", lengthsStr)
	}
	return lengths, nil
}

func newEngine() (*fmha.Engine, error) {
	if *flagConfig == "" {
		return fmha.NewEngine()
	}
	config, err := fmha.ParseConfig(*flagConfig)
	if err != nil {
		return nil, err
	}
	return fmha.NewEngineWithConfig(config), nil
}

func run() error {
	lengths, err := parseLengths(*flagLengths)
	if err != nil {
		return err
	}
	dtype, err := dtypes.FromName(*flagDType)
	if err != nil {
		return err
	}
	engine, err := newEngine()
	if err != nil {
		return err
	}

	offsets := fmhatest.CumulativeOffsets(lengths...)
	totalTokens := offsets[len(offsets)-1]
	qkv := fmhatest.PackedQKV(dtype, *flagSeed, totalTokens, *flagHeads, *flagVectors, *flagHeadDim, 1)
	generator := random.NewGeneratorWithSeed(*flagSeed)
	opts := fmha.Options{
		PDropout:      float32(*flagDropout),
		MaxSeqLen:     *flagMaxSeqLen,
		SoftmaxScale:  float32(*flagScale),
		Causal:        *flagCausal,
		ReturnSoftmax: *flagSoftmax,
		ZeroTensors:   true,
		Generator:     generator,
	}
	result, err := engine.Forward(qkv, fmhatest.Offsets(lengths...), opts)
	if err != nil {
		return err
	}

	scale := opts.SoftmaxScale
	if scale == 0 {
		scale = fmha.DefaultSoftmaxScale(*flagHeadDim)
	}
	var keep fmhatest.DropoutFn
	rescale := 1.0
	if result.Dropout.Enabled() {
		keep = result.Dropout.Keep
		rescale = float64(result.Dropout.RescaleFactor)
	}
	ref := fmhatest.Attention(qkv, offsets, float64(scale), opts.Causal, keep, rescale)
	r := &report{
		engine:  engine,
		lengths: lengths,
		dtype:   dtype,
		result:  result,
		ref:     ref,
	}
	if *flagTrials > 0 && result.Dropout.Enabled() {
		r.trials = *flagTrials
		r.unbiasedMaxDiff = must.M1(dropoutTrials(engine, qkv, lengths, opts, *flagTrials))
	}
	r.print()
	return nil
}
