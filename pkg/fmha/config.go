// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// ConfigEnvVar is the environment variable with the configuration used by NewEngine.
// See ParseConfig for the format.
const ConfigEnvVar = "STREAMATTN_CONFIG"

// Config of an Engine.
type Config struct {
	// Workers is the maximum number of units of work running in parallel.
	// 0 runs every unit inline in the calling goroutine, -1 is unlimited.
	Workers int

	// MaxScratchBytes limits the temporaries and softmax diagnostics allocated per call. 0 means no limit.
	MaxScratchBytes uint64

	// DropoutBits is the width of the random draws used for dropout.
	DropoutBits DropoutBits

	// CheckFinite counts non-finite values in the outputs after each call, and logs a warning if any is found.
	CheckFinite bool
}

// DefaultConfig is used when no configuration is given.
var DefaultConfig = Config{
	Workers:         runtime.NumCPU(),
	MaxScratchBytes: 4 << 30,
	DropoutBits:     DropoutBits32,
}

// ParseConfig parses a comma-separated list of options, applied on top of DefaultConfig. E.g.:
//
//	"workers=8,max_scratch=2GiB,dropout_bits=16,check_finite"
//
// Options:
//   - workers=<int>: see Config.Workers.
//   - max_scratch=<size>: accepts humanized sizes ("512MB", "2GiB"), 0 for no limit.
//   - dropout_bits=<16|32>.
//   - check_finite or check_finite=<bool>.
//
// Unknown options are an error.
func ParseConfig(config string) (Config, error) {
	c := DefaultConfig
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		var err error
		switch key {
		case "workers":
			c.Workers, err = strconv.Atoi(value)
			if err == nil && c.Workers < -1 {
				err = errors.Errorf("must be >= -1")
			}
		case "max_scratch":
			c.MaxScratchBytes, err = humanize.ParseBytes(value)
		case "dropout_bits":
			var bits int
			bits, err = strconv.Atoi(value)
			if err == nil && bits != int(DropoutBits16) && bits != int(DropoutBits32) {
				err = errors.Errorf("must be 16 or 32")
			}
			c.DropoutBits = DropoutBits(bits)
		case "check_finite":
			c.CheckFinite = true
			if hasValue {
				c.CheckFinite, err = strconv.ParseBool(value)
			}
		default:
			return Config{}, errors.Errorf("unknown configuration option %q in %q", key, config)
		}
		if err != nil {
			return Config{}, errors.WithMessagef(err, "invalid value for configuration option %q in %q", key, config)
		}
	}
	return c, nil
}

// String returns the configuration in the format accepted by ParseConfig.
func (c Config) String() string {
	parts := []string{
		fmt.Sprintf("workers=%d", c.Workers),
		fmt.Sprintf("max_scratch=%s", humanize.IBytes(c.MaxScratchBytes)),
		fmt.Sprintf("dropout_bits=%d", int(c.DropoutBits)),
	}
	if c.CheckFinite {
		parts = append(parts, "check_finite")
	}
	return strings.Join(parts, ",")
}
