package main

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the CLI flags in a TOML file. All fields are
// pointers so absent keys leave the built-in defaults untouched; an
// explicit flag on the command line overrides both.
//
//	[train]
//	k = [5, 7, 9]
//	ntrials = 5
//	epsilon = 0.001
//
//	[project]
//	min-iter = 10
type fileConfig struct {
	Train   trainFileConfig   `toml:"train"`
	Project projectFileConfig `toml:"project"`
}

type trainFileConfig struct {
	K          []int    `toml:"k"`
	A          *float64 `toml:"a"`
	C          *float64 `toml:"c"`
	Ap         *float64 `toml:"ap"`
	Cp         *float64 `toml:"cp"`
	Bp         *float64 `toml:"bp"`
	Dp         *float64 `toml:"dp"`
	Dtype      *string  `toml:"dtype"`
	Seed       *int64   `toml:"seed"`
	NTrials    *int     `toml:"ntrials"`
	Validation *string  `toml:"validation"`
	Reproject  *bool    `toml:"reproject"`
	BatchSize  *int     `toml:"batch-size"`
	Order      *string  `toml:"order"`
	NJobs      *int     `toml:"njobs"`
	MaxWorkers *int     `toml:"max-workers"`
	SaveAll    *bool    `toml:"save-all"`

	monitorFileConfig
}

type projectFileConfig struct {
	RecalcBp *bool  `toml:"recalc-bp"`
	Seed     *int64 `toml:"seed"`
	NJobs    *int   `toml:"njobs"`

	monitorFileConfig
}

type monitorFileConfig struct {
	MinIter        *int     `toml:"min-iter"`
	MaxIter        *int     `toml:"max-iter"`
	CheckFreq      *int     `toml:"check-freq"`
	Epsilon        *float64 `toml:"epsilon"`
	BetterThanNAgo *int     `toml:"better-than-n-ago"`
	SmoothLoss     *int     `toml:"smooth-loss"`
}

// loadFileConfig parses path as TOML; an empty path yields the zero
// config (every key absent).
func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
