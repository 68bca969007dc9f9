package hpf

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
)

// This file is the persistence boundary: a Model or Projection is
// representable as a flat bag of named numeric arrays sufficient for exact
// reconstruction, and can be streamed to disk as gzipped gob.

// ModelFromGammas assembles a Model from externally reconstructed parts,
// validating dimensional and precision consistency. Mixing dtypes across
// the four families is a configuration error.
func ModelFromGammas(k int, dtype Dtype, a, ap, bp, c, cp, dp float64, xi, theta, eta, beta *Gamma) (*Model, error) {
	if xi == nil || theta == nil || eta == nil || beta == nil {
		return nil, fmt.Errorf("%w: all four variational families are required", ErrConfig)
	}
	m := &Model{
		K: k, Dtype: dtype,
		A: a, Ap: ap, Bp: bp,
		C: c, Cp: cp, Dp: dp,
		Xi: xi, Theta: theta, Eta: eta, Beta: beta,
		ncells: xi.Rows, ngenes: eta.Rows,
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Params flattens the model into named numeric arrays: "meta" is
// [K, dtype, ncells, ngenes], "hyper" is [a, a', b', c, c', d'], each
// variational family contributes "<name>.shape" and "<name>.rate", and
// "loss" carries the training trace. The arrays are copies.
func (m *Model) Params() map[string][]float64 {
	p := map[string][]float64{
		"meta":  {float64(m.K), float64(m.Dtype), float64(m.ncells), float64(m.ngenes)},
		"hyper": {m.A, m.Ap, m.Bp, m.C, m.Cp, m.Dp},
		"loss":  append([]float64(nil), m.losses...),
	}
	for name, g := range map[string]*Gamma{"xi": m.Xi, "theta": m.Theta, "eta": m.Eta, "beta": m.Beta} {
		p[name+".shape"] = append([]float64(nil), g.Shape...)
		p[name+".rate"] = append([]float64(nil), g.Rate...)
	}
	return p
}

// ModelFromParams reconstructs a Model from a Params bag.
func ModelFromParams(p map[string][]float64) (*Model, error) {
	meta, hyper := p["meta"], p["hyper"]
	if len(meta) != 4 || len(hyper) != 6 {
		return nil, fmt.Errorf("%w: malformed meta/hyper arrays", ErrConfig)
	}
	k, dtype := int(meta[0]), Dtype(meta[1])
	ncells, ngenes := int(meta[2]), int(meta[3])

	family := func(name string, rows, cols int) (*Gamma, error) {
		shape, rate := p[name+".shape"], p[name+".rate"]
		if len(shape) != rows*cols || len(rate) != rows*cols {
			return nil, fmt.Errorf("%w: %s arrays have %d/%d values, want %d",
				ErrConfig, name, len(shape), len(rate), rows*cols)
		}
		return &Gamma{
			Shape: append([]float64(nil), shape...),
			Rate:  append([]float64(nil), rate...),
			Rows:  rows, Cols: cols, Dtype: dtype,
		}, nil
	}
	xi, err := family("xi", ncells, 1)
	if err != nil {
		return nil, err
	}
	theta, err := family("theta", ncells, k)
	if err != nil {
		return nil, err
	}
	eta, err := family("eta", ngenes, 1)
	if err != nil {
		return nil, err
	}
	beta, err := family("beta", ngenes, k)
	if err != nil {
		return nil, err
	}
	m, err := ModelFromGammas(k, dtype, hyper[0], hyper[1], hyper[2], hyper[3], hyper[4], hyper[5],
		xi, theta, eta, beta)
	if err != nil {
		return nil, err
	}
	m.losses = append([]float64(nil), p["loss"]...)
	return m, nil
}

// modelSnapshot is the gob wire form of a Model.
type modelSnapshot struct {
	K                    int
	Dtype                Dtype
	A, Ap, Bp, C, Cp, Dp float64
	Xi, Theta, Eta, Beta *Gamma
	Losses               []float64
	State                State
	Iters                int
}

// SaveModel writes m to w as gzipped gob.
func SaveModel(w io.Writer, m *Model) error {
	gz := gzip.NewWriter(w)
	snap := modelSnapshot{
		K: m.K, Dtype: m.Dtype,
		A: m.A, Ap: m.Ap, Bp: m.Bp, C: m.C, Cp: m.Cp, Dp: m.Dp,
		Xi: m.Xi, Theta: m.Theta, Eta: m.Eta, Beta: m.Beta,
		Losses: m.losses, State: m.state, Iters: m.iters,
	}
	if err := gob.NewEncoder(gz).Encode(snap); err != nil {
		return fmt.Errorf("hpf: encode model: %w", err)
	}
	return gz.Close()
}

// LoadModel reads a model written by SaveModel and validates it.
func LoadModel(r io.Reader) (*Model, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("hpf: decode model: %w", err)
	}
	defer gz.Close()
	var snap modelSnapshot
	if err := gob.NewDecoder(gz).Decode(&snap); err != nil {
		return nil, fmt.Errorf("hpf: decode model: %w", err)
	}
	m, err := ModelFromGammas(snap.K, snap.Dtype,
		snap.A, snap.Ap, snap.Bp, snap.C, snap.Cp, snap.Dp,
		snap.Xi, snap.Theta, snap.Eta, snap.Beta)
	if err != nil {
		return nil, err
	}
	m.losses = snap.Losses
	m.state = snap.State
	m.iters = snap.Iters
	return m, nil
}

// projectionSnapshot is the gob wire form of a Projection.
type projectionSnapshot struct {
	K              int
	Dtype          Dtype
	Bp             float64
	Xi, Theta      *Gamma
	NCells, NGenes int
	Losses         []float64
	State          State
	Iters          int
}

// Params flattens the projection into named numeric arrays, mirroring
// Model.Params for the cell-side families.
func (p *Projection) Params() map[string][]float64 {
	return map[string][]float64{
		"meta":        {float64(p.K), float64(p.Dtype), float64(p.ncells), float64(p.ngenes)},
		"bp":          {p.Bp},
		"xi.shape":    append([]float64(nil), p.Xi.Shape...),
		"xi.rate":     append([]float64(nil), p.Xi.Rate...),
		"theta.shape": append([]float64(nil), p.Theta.Shape...),
		"theta.rate":  append([]float64(nil), p.Theta.Rate...),
		"loss":        append([]float64(nil), p.losses...),
	}
}

// SaveProjection writes p to w as gzipped gob.
func SaveProjection(w io.Writer, p *Projection) error {
	gz := gzip.NewWriter(w)
	snap := projectionSnapshot{
		K: p.K, Dtype: p.Dtype, Bp: p.Bp,
		Xi: p.Xi, Theta: p.Theta,
		NCells: p.ncells, NGenes: p.ngenes,
		Losses: p.losses, State: p.state, Iters: p.iters,
	}
	if err := gob.NewEncoder(gz).Encode(snap); err != nil {
		return fmt.Errorf("hpf: encode projection: %w", err)
	}
	return gz.Close()
}

// LoadProjection reads a projection written by SaveProjection.
func LoadProjection(r io.Reader) (*Projection, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("hpf: decode projection: %w", err)
	}
	defer gz.Close()
	var snap projectionSnapshot
	if err := gob.NewDecoder(gz).Decode(&snap); err != nil {
		return nil, fmt.Errorf("hpf: decode projection: %w", err)
	}
	p := &Projection{
		K: snap.K, Dtype: snap.Dtype, Bp: snap.Bp,
		Xi: snap.Xi, Theta: snap.Theta,
		ncells: snap.NCells, ngenes: snap.NGenes,
		losses: snap.Losses, state: snap.State, iters: snap.Iters,
	}
	if err := p.Xi.validateDims("xi", p.ncells, 1, p.Dtype); err != nil {
		return nil, err
	}
	if err := p.Theta.validateDims("theta", p.ncells, p.K, p.Dtype); err != nil {
		return nil, err
	}
	return p, nil
}
