// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fmha implements the forward pass of fused multi-head attention over a ragged batch
// of packed sequences.
//
// The queries, keys and values of all sequences are packed in one [total_tokens, num_heads, 3|4, head_dim]
// buffer, and the sequences are delimited by cumulative offsets. The computation is split in units of
// work, one per (sequence, head, query tile), that visit the keys one tile at a time with an online
// softmax, so the full attention matrix is never materialized.
//
// Example:
//
//	result, err := fmha.Forward(qkv, offsets, fmha.Options{SoftmaxScale: 0.125, Causal: true})
//	if err != nil { ... }
//	context := result.Context
package fmha

import (
	"math"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/streamattn/internal/workerspool"
	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/gomlx/streamattn/pkg/core/shapes"
	"github.com/gomlx/streamattn/pkg/core/tensors"
	"github.com/gomlx/streamattn/pkg/ml/random"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options of a forward call.
type Options struct {
	// PDropout is the probability of dropping an attention weight, in [0, 1).
	PDropout float32

	// MaxSeqLen is a hint of the longest sequence. If smaller than the actual longest sequence, the
	// actual length is used. 0 means no hint.
	MaxSeqLen int

	// SoftmaxScale multiplies the scores Q·Kᵀ. If 0, 1/sqrt(head_dim) is used.
	SoftmaxScale float32

	// Causal masks out keys after the query position (within each sequence).
	Causal bool

	// ZeroTensors zeroes the outputs before the call, and sets the log-sum-exp of padding rows to -∞.
	ZeroTensors bool

	// ReturnSoftmax allocates and fills Result.Softmax.
	ReturnSoftmax bool

	// Generator provides the dropout randomness. If nil, random.DefaultGenerator() is used.
	Generator *random.Generator
}

// Engine runs forward calls with a fixed configuration. It is safe for concurrent use.
type Engine struct {
	config      Config
	workers     *workerspool.Pool
	temporaries scratchPool
}

// NewEngine creates an Engine configured from the environment variable ConfigEnvVar, if set,
// or with DefaultConfig otherwise.
func NewEngine() (*Engine, error) {
	config := DefaultConfig
	if configStr, found := os.LookupEnv(ConfigEnvVar); found {
		var err error
		config, err = ParseConfig(configStr)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to parse $%s", ConfigEnvVar)
		}
	}
	return NewEngineWithConfig(config), nil
}

// NewEngineWithConfig creates an Engine with the given configuration.
func NewEngineWithConfig(config Config) *Engine {
	if config.DropoutBits == 0 {
		config.DropoutBits = DefaultConfig.DropoutBits
	}
	return &Engine{
		config:  config,
		workers: workerspool.NewWithParallelism(config.Workers),
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

var (
	defaultEngine     *Engine
	defaultEngineErr  error
	defaultEngineOnce sync.Once
)

// DefaultEngine returns the Engine used by Forward, created on first use with NewEngine.
func DefaultEngine() (*Engine, error) {
	defaultEngineOnce.Do(func() {
		defaultEngine, defaultEngineErr = NewEngine()
	})
	return defaultEngine, defaultEngineErr
}

// Forward runs Engine.Forward on the DefaultEngine.
func Forward(qkv, offsets *tensors.Tensor, opts Options) (*Result, error) {
	e, err := DefaultEngine()
	if err != nil {
		return nil, err
	}
	return e.Forward(qkv, offsets, opts)
}

// Forward computes attention for every sequence and head of the packed qkv buffer.
//
// qkv is [total_tokens, num_heads, 3|4, head_dim] of dtype Float16 or Float32, with queries in slot 0,
// keys in slot 1 and values in slot 2 (slot 3, if present, is ignored).
// offsets is a rank-1 Int32 or Int64 tensor with batch_size+1 cumulative offsets into total_tokens.
//
// All validation and allocation happens before any computation starts: on error no output is produced
// and, for invalid arguments, no dropout counters are consumed.
func (e *Engine) Forward(qkv, offsets *tensors.Tensor, opts Options) (*Result, error) {
	callID := uuid.New()
	if qkv == nil {
		return nil, errors.Wrap(ErrInvalidBatchLayout, "nil packed QKV tensor")
	}
	if qkv.Rank() != 4 {
		return nil, errors.Wrapf(ErrInvalidBatchLayout,
			"packed QKV must be [total_tokens, num_heads, 3|4, head_dim], got shape %s", qkv.Shape())
	}
	dims := qkv.Shape().Dimensions
	totalTokens, numHeads, numVectors, headDim := dims[0], dims[1], dims[2], dims[3]
	if numVectors != 3 && numVectors != 4 {
		return nil, errors.Wrapf(ErrInvalidBatchLayout,
			"packed QKV axis 2 must hold 3 or 4 vectors, got shape %s", qkv.Shape())
	}
	if numHeads < 1 {
		return nil, errors.Wrapf(ErrInvalidBatchLayout, "packed QKV has no heads, shape %s", qkv.Shape())
	}
	dtype := qkv.DType()
	if dtype != dtypes.Float16 && dtype != dtypes.Float32 {
		return nil, errors.Wrapf(ErrDeviceCapabilityUnsupported, "element type %s not supported, use Float16 or Float32", dtype)
	}
	layout, err := BatchLayoutFromTensor(offsets, totalTokens)
	if err != nil {
		return nil, err
	}

	maxSeqLen := opts.MaxSeqLen
	if trueMax := layout.MaxSequenceLength(); maxSeqLen < trueMax {
		if maxSeqLen > 0 {
			klog.Warningf("fmha call %s: max sequence length hint %d is smaller than the longest sequence (%d), using %d",
				callID, maxSeqLen, trueMax, trueMax)
		}
		maxSeqLen = trueMax
	}
	plan, err := PlanTiles(max(maxSeqLen, 1), headDim)
	if err != nil {
		return nil, err
	}
	dropout, err := NewDropoutState(opts.PDropout, random.PhiloxState{}, e.config.DropoutBits, plan.PaddedSeqLen)
	if err != nil {
		return nil, err
	}
	softmaxScale := opts.SoftmaxScale
	if softmaxScale == 0 {
		softmaxScale = DefaultSoftmaxScale(headDim)
	}
	if math.IsNaN(float64(softmaxScale)) || math.IsInf(float64(softmaxScale), 0) {
		return nil, errors.Errorf("softmax scale must be finite, got %g", softmaxScale)
	}

	shape := WorkingShape{
		BatchSize:     layout.BatchSize(),
		NumHeads:      numHeads,
		HeadDim:       headDim,
		PaddedSeqLen:  plan.PaddedSeqLen,
		BaseTileWidth: plan.BaseTileWidth,
		QueryTileRows: QueryTileRows,
		Looped:        plan.Looped,
	}
	contextShape := shapes.Make(dtype, totalTokens, numHeads, headDim)
	lseShape := shapes.Make(dtypes.Float32, shape.BatchSize, numHeads, plan.PaddedSeqLen)
	var softmaxShape shapes.Shape
	var scratchBytes uint64
	if plan.Looped {
		scratchBytes += 2*uint64(contextShape.Size())*4 + uint64(lseShape.Memory())
	}
	if opts.ReturnSoftmax {
		softmaxShape = shapes.Make(dtype, shape.BatchSize, numHeads, plan.PaddedSeqLen, plan.PaddedSeqLen)
		scratchBytes += uint64(softmaxShape.Memory())
	}
	if e.config.MaxScratchBytes > 0 && scratchBytes > e.config.MaxScratchBytes {
		return nil, errors.Wrapf(ErrResourceExhausted, "call needs %s of scratch, limit is %s",
			humanize.IBytes(scratchBytes), humanize.IBytes(e.config.MaxScratchBytes))
	}

	call := &attentionCall{
		layout:  layout,
		plan:    plan,
		shape:   shape,
		qkv:     newPackedQKV(qkv),
		isHalf:  dtype == dtypes.Float16,
		causal:  opts.Causal,
		dropout: dropout,
	}
	result := &Result{Shape: shape, Dropout: dropout, CallID: callID}
	err = exceptions.TryCatch[error](func() {
		result.Context = tensors.FromShape(contextShape)
		result.SecondaryContext = tensors.FromShape(contextShape)
		result.LogSumExp = tensors.FromShape(lseShape)
		if opts.ReturnSoftmax {
			result.Softmax = tensors.FromShape(softmaxShape)
		}
		if plan.Looped {
			call.oTmp = e.temporaries.get(contextShape.Size())
			call.o2Tmp = e.temporaries.get(contextShape.Size())
			call.lse2 = e.temporaries.get(lseShape.Size())
		}
	})
	if err != nil {
		return nil, errors.Wrapf(ErrResourceExhausted, "allocating outputs of call %s: %v", callID, err)
	}
	defer func() {
		e.temporaries.put(call.oTmp)
		e.temporaries.put(call.o2Tmp)
		e.temporaries.put(call.lse2)
	}()
	if opts.ZeroTensors {
		result.Context.Zero()
		result.SecondaryContext.Zero()
		result.LogSumExp.FillFloat(math.Inf(-1))
		if result.Softmax != nil {
			result.Softmax.Zero()
		}
		clear(call.oTmp)
		clear(call.o2Tmp)
		clear(call.lse2)
	}

	if dropout.Enabled() {
		generator := opts.Generator
		if generator == nil {
			generator = random.DefaultGenerator()
		}
		budget := CounterBudget(plan.PaddedSeqLen, dropout.Bits)
		dropout.Philox = generator.ReservePhilox(budget)
		klog.V(2).Infof("fmha call %s: reserved %d Philox counters at offset %d (seed %#x)",
			callID, budget, dropout.Philox.Offset, dropout.Philox.Seed)
	}
	call.scales = NewScales(softmaxScale, dropout)
	call.ctx = newElementWriter(result.Context)
	call.ctx2 = newElementWriter(result.SecondaryContext)
	call.lse = result.LogSumExp.FlatAny().([]float32)
	if result.Softmax != nil {
		w := newElementWriter(result.Softmax)
		call.softmax = &w
	}
	call.scratch.New = func() any { return newUnitScratch(headDim, plan.KeyTileWidth()) }

	units := call.units()
	if klog.V(1).Enabled() {
		klog.Infof("fmha call %s: %s, %d units, causal=%v, p_dropout=%g, scratch=%s",
			callID, shape, len(units), opts.Causal, opts.PDropout, humanize.Bytes(scratchBytes))
	}
	if err := e.workers.ForEach(len(units), func(idx int) { call.run(units[idx]) }); err != nil {
		return nil, errors.WithMessagef(err, "fmha call %s failed", callID)
	}

	if e.config.CheckFinite {
		numNonFinite := countNonFinite(result.Context.FlatAny()) + countNonFinite(result.SecondaryContext.FlatAny())
		if numNonFinite > 0 {
			klog.Warningf("fmha call %s: %d non-finite values in the context outputs", callID, numNonFinite)
		}
	}
	return result, nil
}
