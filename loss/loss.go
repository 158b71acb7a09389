// Package loss - The multi-term YOLO training objective, built as a gorgonia expression graph.
package loss

import (
	"fmt"

	"github.com/nvr-ai/aovek/config"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ErrShapeMismatch is returned when the truth and prediction tensors cannot be compared cell by cell.
var ErrShapeMismatch = errors.New("loss shape mismatch")

// Cell columns.
const (
	colX = iota
	colY
	colW
	colH
	colObjectness
	colClass
)

// Config holds the grid layout and the term weights of the loss.
type Config struct {
	GridSize       int
	NumClasses     int
	NumAnnotations int
	AlphaCoord     float32
	AlphaNoObj     float32
}

// FromConfig extracts the loss settings from the application configuration.
func FromConfig(c *config.Config) Config {
	return Config{
		GridSize:       c.LabelInfo.GridSize,
		NumClasses:     c.LabelInfo.NumberOfClasses,
		NumAnnotations: c.LabelInfo.NumberOfAnnotations,
		AlphaCoord:     c.Network.Train.Loss.AlphaCoord,
		AlphaNoObj:     c.Network.Train.Loss.AlphaNoObj,
	}
}

// Cells returns the number of grid cells.
func (c Config) Cells() int {
	return c.GridSize * c.GridSize
}

// CellWidth returns the number of values per cell.
func (c Config) CellWidth() int {
	return c.NumAnnotations + 1 + c.NumClasses
}

// maskColumn is the column used as the p_true mask: the first class
// probability, or objectness when there are no classes.
func (c Config) maskColumn() int {
	if c.NumClasses >= 1 {
		return colClass
	}
	return colObjectness
}

// Terms holds the scalar nodes of every loss term. Class is nil without classes.
type Terms struct {
	Coord *G.Node
	Dim   *G.Node
	Obj   *G.Node
	NoObj *G.Node
	Class *G.Node
	Total *G.Node
}

// Value holds the evaluated loss terms.
type Value struct {
	Coord float32
	Dim   float32
	Obj   float32
	NoObj float32
	Class float32
	Total float32
}

// Add sums two loss values term by term.
func (v Value) Add(o Value) Value {
	return Value{
		Coord: v.Coord + o.Coord,
		Dim:   v.Dim + o.Dim,
		Obj:   v.Obj + o.Obj,
		NoObj: v.NoObj + o.NoObj,
		Class: v.Class + o.Class,
		Total: v.Total + o.Total,
	}
}

func (v Value) String() string {
	return fmt.Sprintf("total=%.6f coord=%.6f dim=%.6f obj=%.6f noobj=%.6f class=%.6f",
		v.Total, v.Coord, v.Dim, v.Obj, v.NoObj, v.Class)
}

// batchSize infers the batch dimension of a tensor holding whole grids.
func (c Config) batchSize(shape tensor.Shape) (int, error) {
	per := c.Cells() * c.CellWidth()
	total := shape.TotalSize()
	if per <= 0 || total == 0 || total%per != 0 {
		return 0, errors.Wrapf(ErrShapeMismatch, "shape %v does not hold whole %dx%d grids", shape, c.Cells(), c.CellWidth())
	}
	return total / per, nil
}

// Build adds the loss terms to g.
//
// Both nodes are reshaped to (batch, cells, cellWidth); a single cell gets a
// zero cell appended so columns stay tensors. Every term is masked by
// p_true and reduced by summation over batch and cells. The no-object term uses
// the same mask as the object term. Widths and heights are clamped at zero
// before the square root.
//
// Arguments:
//   - g: The graph owning truth and pred.
//   - cfg: The grid layout and weights.
//   - truth: The ground-truth labels.
//   - pred: The network output, the same shape as truth.
//
// Returns:
//   - *Terms: The per-term and total scalar nodes.
//   - error: ErrShapeMismatch or a graph construction error.
func Build(g *G.ExprGraph, cfg Config, truth, pred *G.Node) (*Terms, error) {
	if !truth.Shape().Eq(pred.Shape()) {
		return nil, errors.Wrapf(ErrShapeMismatch, "truth %v vs pred %v", truth.Shape(), pred.Shape())
	}
	if cfg.NumAnnotations != colObjectness {
		return nil, errors.Wrapf(ErrShapeMismatch, "cell needs %d box values, got %d", colObjectness, cfg.NumAnnotations)
	}
	batch, err := cfg.batchSize(truth.Shape())
	if err != nil {
		return nil, err
	}

	b := &builder{g: g}
	shape := tensor.Shape{batch, cfg.Cells(), cfg.CellWidth()}
	t := b.reshape(truth, shape)
	p := b.reshape(pred, shape)
	if batch*cfg.Cells() == 1 {
		// Slicing a column out of a single cell evaluates to a scalar, which
		// the elementwise ops reject. An all-zero cell has mask 0 and adds nothing.
		t = b.padCell(t, cfg.CellWidth(), "truth_pad")
		p = b.padCell(p, cfg.CellWidth(), "pred_pad")
	}

	mask := b.column(t, cfg.maskColumn())
	alphaCoord := G.NewScalar(g, tensor.Float32, G.WithName("alpha_coord"), G.WithValue(cfg.AlphaCoord))
	alphaNoObj := G.NewScalar(g, tensor.Float32, G.WithName("alpha_noobj"), G.WithValue(cfg.AlphaNoObj))

	// coord: alpha_coord * sum(p * ((x - x')^2 + (y - y')^2))
	xy := b.add(b.sqDiff(b.column(t, colX), b.column(p, colX)), b.sqDiff(b.column(t, colY), b.column(p, colY)))
	coord := b.mul(alphaCoord, b.maskedSum(mask, xy))

	// dim: alpha_coord * sum(p * ((sqrt w - sqrt w')^2 + (sqrt h - sqrt h')^2))
	wh := b.add(
		b.sqDiff(b.sqrt(b.column(t, colW)), b.sqrt(b.column(p, colW))),
		b.sqDiff(b.sqrt(b.column(t, colH)), b.sqrt(b.column(p, colH))),
	)
	dim := b.mul(alphaCoord, b.maskedSum(mask, wh))

	// obj and noobj share the confidence error and the mask.
	conf := b.maskedSum(mask, b.sqDiff(b.column(t, colObjectness), b.column(p, colObjectness)))
	noobj := b.mul(alphaNoObj, conf)

	terms := &Terms{Coord: coord, Dim: dim, Obj: conf, NoObj: noobj}
	total := b.add(b.add(coord, dim), b.add(conf, noobj))

	if cfg.NumClasses >= 1 {
		terms.Class = b.maskedSum(mask, b.sqDiff(mask, b.column(p, colClass)))
		total = b.add(total, terms.Class)
	}
	terms.Total = total

	if b.err != nil {
		return nil, errors.Wrap(b.err, "building loss graph")
	}
	return terms, nil
}

// Compute evaluates the loss of one batch on a fresh graph.
//
// Arguments:
//   - cfg: The grid layout and weights.
//   - truth: Ground-truth labels, N x (cells*cellWidth) or N x cells x cellWidth.
//   - pred: Network output of the same shape.
//
// Returns:
//   - Value: The evaluated terms.
//   - error: ErrShapeMismatch, or a graph execution error.
//
// @example
// v, err := loss.Compute(cfg, labels, output)
// fmt.Println(v.Total)
func Compute(cfg Config, truth, pred *tensor.Dense) (Value, error) {
	if !truth.Shape().Eq(pred.Shape()) {
		return Value{}, errors.Wrapf(ErrShapeMismatch, "truth %v vs pred %v", truth.Shape(), pred.Shape())
	}
	if truth.Dtype() != tensor.Float32 || pred.Dtype() != tensor.Float32 {
		return Value{}, errors.Wrapf(ErrShapeMismatch, "want float32 tensors, got %v and %v", truth.Dtype(), pred.Dtype())
	}

	g := G.NewGraph()
	shape := truth.Shape().Clone()
	t := G.NewTensor(g, tensor.Float32, shape.Dims(), G.WithShape(shape...), G.WithName("truth"), G.WithValue(truth))
	p := G.NewTensor(g, tensor.Float32, shape.Dims(), G.WithShape(shape...), G.WithName("pred"), G.WithValue(pred))

	terms, err := Build(g, cfg, t, p)
	if err != nil {
		return Value{}, err
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return Value{}, errors.Wrap(err, "running loss graph")
	}

	v := Value{
		Coord: scalar(terms.Coord),
		Dim:   scalar(terms.Dim),
		Obj:   scalar(terms.Obj),
		NoObj: scalar(terms.NoObj),
		Total: scalar(terms.Total),
	}
	if terms.Class != nil {
		v.Class = scalar(terms.Class)
	}
	return v, nil
}

func scalar(n *G.Node) float32 {
	return n.Value().Data().(float32)
}

// builder chains graph operations and keeps the first error.
type builder struct {
	g   *G.ExprGraph
	err error
}

func (b *builder) do(fn func() (*G.Node, error)) *G.Node {
	if b.err != nil {
		return nil
	}
	n, err := fn()
	if err != nil {
		b.err = err
		return nil
	}
	return n
}

func (b *builder) reshape(n *G.Node, to tensor.Shape) *G.Node {
	return b.do(func() (*G.Node, error) { return G.Reshape(n, to) })
}

// column selects one value of every cell: (batch, cells, width) -> (batch, cells).
func (b *builder) column(n *G.Node, col int) *G.Node {
	return b.do(func() (*G.Node, error) { return G.Slice(n, nil, nil, G.S(col)) })
}

// padCell appends one zero cell: (1, 1, width) -> (1, 2, width).
func (b *builder) padCell(n *G.Node, width int, name string) *G.Node {
	if b.err != nil {
		return nil
	}
	zero := tensor.New(tensor.WithShape(1, 1, width), tensor.WithBacking(make([]float32, width)))
	pad := G.NewTensor(b.g, tensor.Float32, 3, G.WithShape(1, 1, width), G.WithName(name), G.WithValue(zero))
	return b.do(func() (*G.Node, error) { return G.Concat(1, n, pad) })
}

func (b *builder) add(x, y *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return G.Add(x, y) })
}

func (b *builder) mul(x, y *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return G.Mul(x, y) })
}

func (b *builder) sqDiff(x, y *G.Node) *G.Node {
	d := b.do(func() (*G.Node, error) { return G.Sub(x, y) })
	return b.do(func() (*G.Node, error) { return G.Square(d) })
}

// sqrt clamps negative values to zero first.
func (b *builder) sqrt(x *G.Node) *G.Node {
	r := b.do(func() (*G.Node, error) { return G.Rectify(x) })
	return b.do(func() (*G.Node, error) { return G.Sqrt(r) })
}

func (b *builder) maskedSum(mask, x *G.Node) *G.Node {
	m := b.do(func() (*G.Node, error) { return G.HadamardProd(mask, x) })
	return b.do(func() (*G.Node, error) { return G.Sum(m) })
}
