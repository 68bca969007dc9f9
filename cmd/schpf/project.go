package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"schpf/hpf"
)

type projectFlags struct {
	model    string
	input    string
	output   string
	recalcBp bool
	seed     int64
	njobs    int

	minIter        int
	maxIter        int
	checkFreq      int
	epsilon        float64
	betterThanNAgo int
	smoothLoss     int
}

func newProjectCmd(st *rootState) *cobra.Command {
	pf := &projectFlags{}
	def := hpf.DefaultProjectOptions()

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Infer cell-side parameters for new cells under a trained model",
		Long: `Project fixes the gene-side parameters of a trained model and infers
fresh cell-side parameters for a new count matrix over the same genes.`,
		Example: `  schpf project --model model.gob --input new_counts.txt --output proj.gob`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProject(cmd, st, pf)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&pf.model, "model", "m", "", "trained model written by schpf train")
	f.StringVarP(&pf.input, "input", "i", "", "count matrix over the same genes as the model")
	f.StringVarP(&pf.output, "output", "o", "", "output projection path")
	f.BoolVar(&pf.recalcBp, "recalc-bp", false, "re-estimate the cell capacity rate from the new data")
	f.Int64Var(&pf.seed, "seed", def.Seed, "seed for the fresh cell-side initialization")
	f.IntVar(&pf.njobs, "njobs", def.NJobs, "workers within a sweep")

	f.IntVar(&pf.minIter, "min-iter", def.Monitor.MinIter, "iterations before convergence may be declared")
	f.IntVar(&pf.maxIter, "max-iter", def.Monitor.MaxIter, "hard iteration cap")
	f.IntVar(&pf.checkFreq, "check-freq", def.Monitor.CheckFreq, "sweeps between loss checks")
	f.Float64Var(&pf.epsilon, "epsilon", def.Monitor.Epsilon, "relative loss-change convergence threshold")
	f.IntVar(&pf.betterThanNAgo, "better-than-n-ago", def.Monitor.BetterThanNAgo, "divergence lookback in checks; 0 disables")
	f.IntVar(&pf.smoothLoss, "smooth-loss", def.Monitor.SmoothLoss, "checks averaged before testing convergence")

	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runProject(cmd *cobra.Command, st *rootState, pf *projectFlags) error {
	cfg, err := loadFileConfig(st.configPath)
	if err != nil {
		return err
	}
	opts := resolveProjectOptions(cmd, pf, cfg.Project)
	opts.Monitor.Logger = st.log

	m, err := loadModel(pf.model)
	if err != nil {
		return err
	}
	X, err := readMatrix(pf.input)
	if err != nil {
		return err
	}
	nr, nc := X.Dims()
	st.log.Info().Int("cells", nr).Int("genes", nc).Int("k", m.K).
		Str("model", pf.model).Msg("projecting new cells")

	p, err := m.Project(X, opts)
	if err != nil {
		return err
	}
	if loss, ok := p.FinalLoss(); ok {
		st.log.Info().Float64("loss", loss).Int("iterations", p.Iterations()).
			Stringer("state", p.State()).Msg("projection finished")
	}
	return writeProjection(pf.output, p)
}

func resolveProjectOptions(cmd *cobra.Command, pf *projectFlags, fc projectFileConfig) hpf.ProjectOptions {
	opts := hpf.DefaultProjectOptions()
	if fc.RecalcBp != nil {
		opts.RecalcBp = *fc.RecalcBp
	}
	if fc.Seed != nil {
		opts.Seed = *fc.Seed
	}
	if fc.NJobs != nil {
		opts.NJobs = *fc.NJobs
	}
	applyMonitorFileConfig(&opts.Monitor, fc.monitorFileConfig)

	f := cmd.Flags()
	if f.Changed("recalc-bp") {
		opts.RecalcBp = pf.recalcBp
	}
	if f.Changed("seed") {
		opts.Seed = pf.seed
	}
	if f.Changed("njobs") {
		opts.NJobs = pf.njobs
	}
	if f.Changed("min-iter") {
		opts.Monitor.MinIter = pf.minIter
	}
	if f.Changed("max-iter") {
		opts.Monitor.MaxIter = pf.maxIter
	}
	if f.Changed("check-freq") {
		opts.Monitor.CheckFreq = pf.checkFreq
	}
	if f.Changed("epsilon") {
		opts.Monitor.Epsilon = pf.epsilon
	}
	if f.Changed("better-than-n-ago") {
		opts.Monitor.BetterThanNAgo = pf.betterThanNAgo
	}
	if f.Changed("smooth-loss") {
		opts.Monitor.SmoothLoss = pf.smoothLoss
	}
	return opts
}

func loadModel(path string) (*hpf.Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := hpf.LoadModel(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

func writeProjection(path string, p *hpf.Projection) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := hpf.SaveProjection(f, p); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
