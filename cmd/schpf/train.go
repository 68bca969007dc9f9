package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"schpf/coo"
	"schpf/hpf"
)

// trainFlags holds the raw flag values for the train subcommand. Enum
// flags (dtype, order) stay strings until resolve().
type trainFlags struct {
	input      string
	output     string
	ks         []int
	a, c       float64
	ap, cp     float64
	bp, dp     float64
	dtype      string
	seed       int64
	ntrials    int
	validation string
	reproject  bool
	batchSize  int
	order      string
	njobs      int
	maxWorkers int
	saveAll    bool

	minIter        int
	maxIter        int
	checkFreq      int
	epsilon        float64
	betterThanNAgo int
	smoothLoss     int
}

func newTrainCmd(st *rootState) *cobra.Command {
	tf := &trainFlags{}
	def := hpf.DefaultTrainOptions()

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit factorization models on a count matrix",
		Example: `  schpf train --input counts.txt --k 7 --output model.gob
  schpf train --input counts.txt --k 5 --k 7 --ntrials 5 --output fit.gob`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, st, tf)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&tf.input, "input", "i", "", "count matrix in whitespace-separated cell/gene/count lines")
	f.StringVarP(&tf.output, "output", "o", "", "output model path (multi-k and --save-all derive per-model names)")
	f.IntSliceVarP(&tf.ks, "k", "k", nil, "number of factors; repeat for a sweep over several values")
	f.Float64Var(&tf.a, "a", def.A.Resolve(1), "cell loading shape; negative resolves to 1/sqrt(k)")
	f.Float64Var(&tf.c, "c", def.C.Resolve(1), "gene loading shape; negative resolves to 1/sqrt(k)")
	f.Float64Var(&tf.ap, "ap", def.Ap, "cell capacity shape a'")
	f.Float64Var(&tf.cp, "cp", def.Cp, "gene capacity shape c'")
	f.Float64Var(&tf.bp, "bp", 0, "cell capacity rate b'; 0 estimates it from the data")
	f.Float64Var(&tf.dp, "dp", 0, "gene capacity rate d'; 0 estimates it from the data")
	f.StringVar(&tf.dtype, "dtype", "float64", "parameter storage precision: float64|float32")
	f.Int64Var(&tf.seed, "seed", def.Seed, "master seed; trial seeds derive from it deterministically")
	f.IntVar(&tf.ntrials, "ntrials", def.NTrials, "independently initialized trials per k; best loss wins")
	f.StringVar(&tf.validation, "validation", "", "held-out matrix for convergence and trial comparison")
	f.BoolVar(&tf.reproject, "reproject", false, "re-infer the cell side over all cells after a minibatched trial")
	f.IntVar(&tf.batchSize, "batch-size", 0, "cells per minibatch sweep; 0 trains full-batch")
	f.StringVar(&tf.order, "order", "sequential", "sweep order: sequential|simultaneous")
	f.IntVar(&tf.njobs, "njobs", def.NJobs, "workers within a sweep")
	f.IntVar(&tf.maxWorkers, "max-workers", def.MaxWorkers, "concurrently running trials")
	f.BoolVar(&tf.saveAll, "save-all", false, "write every successful trial, not only the selected one")

	f.IntVar(&tf.minIter, "min-iter", def.Monitor.MinIter, "iterations before convergence may be declared")
	f.IntVar(&tf.maxIter, "max-iter", def.Monitor.MaxIter, "hard iteration cap")
	f.IntVar(&tf.checkFreq, "check-freq", def.Monitor.CheckFreq, "sweeps between loss checks")
	f.Float64Var(&tf.epsilon, "epsilon", def.Monitor.Epsilon, "relative loss-change convergence threshold")
	f.IntVar(&tf.betterThanNAgo, "better-than-n-ago", def.Monitor.BetterThanNAgo, "divergence lookback in checks; 0 disables")
	f.IntVar(&tf.smoothLoss, "smooth-loss", def.Monitor.SmoothLoss, "checks averaged before testing convergence")

	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runTrain(cmd *cobra.Command, st *rootState, tf *trainFlags) error {
	cfg, err := loadFileConfig(st.configPath)
	if err != nil {
		return err
	}
	ks, opts, validationPath, saveAll, err := resolveTrainOptions(cmd, tf, cfg.Train)
	if err != nil {
		return err
	}
	opts.Monitor.Logger = st.log
	if len(ks) == 0 {
		return fmt.Errorf("at least one --k is required")
	}

	X, err := readMatrix(tf.input)
	if err != nil {
		return err
	}
	nr, nc := X.Dims()
	st.log.Info().Int("cells", nr).Int("genes", nc).Int("nnz", X.NNZ()).
		Str("input", tf.input).Msg("loaded count matrix")

	if validationPath != "" {
		v, err := readMatrix(validationPath)
		if err != nil {
			return err
		}
		opts.Validation = v
	}

	switch {
	case saveAll:
		return trainSaveAll(st, X, ks, opts, tf.output)
	case len(ks) > 1:
		models, err := hpf.TrainParallel(X, ks, opts)
		for k, m := range models {
			if werr := writeModel(outputPath(tf.output, k, -1), m); werr != nil {
				return werr
			}
		}
		return err
	default:
		m, err := hpf.Train(X, ks[0], opts)
		if err != nil {
			return err
		}
		return writeModel(tf.output, m)
	}
}

// trainSaveAll runs every trial for every k and writes each successful
// model; the selected trial additionally lands at the plain per-k path.
func trainSaveAll(st *rootState, X *coo.Matrix, ks []int, opts hpf.TrainOptions, output string) error {
	var firstErr error
	for _, k := range ks {
		results, err := hpf.TrainAll(X, k, opts)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, r := range results {
			if r.Model == nil {
				continue
			}
			if err := writeModel(outputPath(output, k, r.Trial), r.Model); err != nil {
				return err
			}
			if !r.Rejected {
				if err := writeModel(outputPath(output, k, -1), r.Model); err != nil {
					return err
				}
			}
		}
	}
	return firstErr
}

// resolveTrainOptions layers the three option sources: built-in
// defaults, then the config file, then explicit flags.
func resolveTrainOptions(cmd *cobra.Command, tf *trainFlags, fc trainFileConfig) (ks []int, opts hpf.TrainOptions, validation string, saveAll bool, err error) {
	opts = hpf.DefaultTrainOptions()
	ks = fc.K

	a, c := opts.A.Resolve(1), opts.C.Resolve(1)
	dtype, order := "float64", "sequential"
	if fc.A != nil {
		a = *fc.A
	}
	if fc.C != nil {
		c = *fc.C
	}
	if fc.Ap != nil {
		opts.Ap = *fc.Ap
	}
	if fc.Cp != nil {
		opts.Cp = *fc.Cp
	}
	if fc.Bp != nil {
		opts.Bp = *fc.Bp
	}
	if fc.Dp != nil {
		opts.Dp = *fc.Dp
	}
	if fc.Dtype != nil {
		dtype = *fc.Dtype
	}
	if fc.Seed != nil {
		opts.Seed = *fc.Seed
	}
	if fc.NTrials != nil {
		opts.NTrials = *fc.NTrials
	}
	if fc.Validation != nil {
		validation = *fc.Validation
	}
	if fc.Reproject != nil {
		opts.Reproject = *fc.Reproject
	}
	if fc.BatchSize != nil {
		opts.BatchSize = *fc.BatchSize
	}
	if fc.Order != nil {
		order = *fc.Order
	}
	if fc.NJobs != nil {
		opts.NJobs = *fc.NJobs
	}
	if fc.MaxWorkers != nil {
		opts.MaxWorkers = *fc.MaxWorkers
	}
	if fc.SaveAll != nil {
		saveAll = *fc.SaveAll
	}
	applyMonitorFileConfig(&opts.Monitor, fc.monitorFileConfig)

	f := cmd.Flags()
	if f.Changed("k") {
		ks = tf.ks
	}
	if f.Changed("a") {
		a = tf.a
	}
	if f.Changed("c") {
		c = tf.c
	}
	if f.Changed("ap") {
		opts.Ap = tf.ap
	}
	if f.Changed("cp") {
		opts.Cp = tf.cp
	}
	if f.Changed("bp") {
		opts.Bp = tf.bp
	}
	if f.Changed("dp") {
		opts.Dp = tf.dp
	}
	if f.Changed("dtype") {
		dtype = tf.dtype
	}
	if f.Changed("seed") {
		opts.Seed = tf.seed
	}
	if f.Changed("ntrials") {
		opts.NTrials = tf.ntrials
	}
	if f.Changed("validation") {
		validation = tf.validation
	}
	if f.Changed("reproject") {
		opts.Reproject = tf.reproject
	}
	if f.Changed("batch-size") {
		opts.BatchSize = tf.batchSize
	}
	if f.Changed("order") {
		order = tf.order
	}
	if f.Changed("njobs") {
		opts.NJobs = tf.njobs
	}
	if f.Changed("max-workers") {
		opts.MaxWorkers = tf.maxWorkers
	}
	if f.Changed("save-all") {
		saveAll = tf.saveAll
	}
	applyMonitorFlags(&opts.Monitor, f, tf)

	opts.A = shapeFromValue(a)
	opts.C = shapeFromValue(c)
	if opts.Dtype, err = parseDtype(dtype); err != nil {
		return nil, opts, "", false, err
	}
	if opts.Order, err = parseOrder(order); err != nil {
		return nil, opts, "", false, err
	}
	return ks, opts, validation, saveAll, nil
}

func applyMonitorFileConfig(mo *hpf.MonitorOptions, mc monitorFileConfig) {
	if mc.MinIter != nil {
		mo.MinIter = *mc.MinIter
	}
	if mc.MaxIter != nil {
		mo.MaxIter = *mc.MaxIter
	}
	if mc.CheckFreq != nil {
		mo.CheckFreq = *mc.CheckFreq
	}
	if mc.Epsilon != nil {
		mo.Epsilon = *mc.Epsilon
	}
	if mc.BetterThanNAgo != nil {
		mo.BetterThanNAgo = *mc.BetterThanNAgo
	}
	if mc.SmoothLoss != nil {
		mo.SmoothLoss = *mc.SmoothLoss
	}
}

func applyMonitorFlags(mo *hpf.MonitorOptions, f interface{ Changed(string) bool }, tf *trainFlags) {
	if f.Changed("min-iter") {
		mo.MinIter = tf.minIter
	}
	if f.Changed("max-iter") {
		mo.MaxIter = tf.maxIter
	}
	if f.Changed("check-freq") {
		mo.CheckFreq = tf.checkFreq
	}
	if f.Changed("epsilon") {
		mo.Epsilon = tf.epsilon
	}
	if f.Changed("better-than-n-ago") {
		mo.BetterThanNAgo = tf.betterThanNAgo
	}
	if f.Changed("smooth-loss") {
		mo.SmoothLoss = tf.smoothLoss
	}
}

// shapeFromValue maps a negative flag value onto the auto (1/sqrt(k))
// resolution; anything else is taken literally.
func shapeFromValue(v float64) hpf.Shape {
	if v < 0 {
		return hpf.AutoShape()
	}
	return hpf.FixedShape(v)
}

func parseDtype(s string) (hpf.Dtype, error) {
	switch strings.ToLower(s) {
	case "float64", "f64", "double":
		return hpf.Float64, nil
	case "float32", "f32", "single":
		return hpf.Float32, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q (want float64 or float32)", s)
	}
}

func parseOrder(s string) (hpf.Order, error) {
	switch strings.ToLower(s) {
	case "sequential", "seq":
		return hpf.OrderSequential, nil
	case "simultaneous", "sim":
		return hpf.OrderSimultaneous, nil
	default:
		return 0, fmt.Errorf("unknown sweep order %q (want sequential or simultaneous)", s)
	}
}

func readMatrix(path string) (*coo.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := coo.ReadTXT(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func writeModel(path string, m *hpf.Model) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := hpf.SaveModel(f, m); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// outputPath derives per-model file names from the base output path for
// multi-k sweeps and --save-all: "fit.gob" becomes "fit.k7.gob" and
// "fit.k7.trial2.gob". trial < 0 marks the selected model for that k.
func outputPath(base string, k, trial int) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if trial < 0 {
		return fmt.Sprintf("%s.k%d%s", stem, k, ext)
	}
	return fmt.Sprintf("%s.k%d.trial%d%s", stem, k, trial, ext)
}
