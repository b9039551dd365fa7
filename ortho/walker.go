package ortho

import "io"

import "github.com/cockroachdb/errors"
import "github.com/pterm/pterm"
import "go.uber.org/zap"

import "github.com/neurlang/ablation/device"
import "github.com/neurlang/ablation/logger"
import "github.com/neurlang/ablation/model"
import "github.com/neurlang/ablation/tensor"

// Option configures Apply
type Option func(*walker)

// WithProgress draws a progress bar on w, advanced once per finished block.
func WithProgress(w io.Writer) Option {
	return func(o *walker) {
		o.progress = w
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *walker) {
		if l != nil {
			o.log = l
		}
	}
}

// WithVisitor calls fn after each target has been rewritten.
func WithVisitor(fn func(name string, t *tensor.Tensor)) Option {
	return func(o *walker) {
		o.visit = fn
	}
}

type walker struct {
	progress io.Writer
	log      *zap.Logger
	visit    func(name string, t *tensor.Tensor)
}

// Apply orthogonalizes, in place, every weight of m that writes into the
// residual stream: the embedding, then for each block in order its attention
// output and its MLP output. Each is replaced by
// Orthogonalize(weight, direction, strength).
//
// The direction follows the weights across devices; the last relocated copy
// is reused while consecutive weights share a device.
//
// Apply returns m so calls can be chained. On error it stops at once; weights
// processed before the failure stay edited.
func Apply(r *device.Registry, m *model.Model, direction *tensor.Tensor, strength float32, opts ...Option) (*model.Model, error) {
	w := walker{log: zap.NewNop()}
	for _, o := range opts {
		o(&w)
	}

	targets, err := m.Targets()
	if err != nil {
		return nil, err
	}
	if direction == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil direction")
	}

	dir := direction
	defer func() {
		if dir != direction {
			dir.Free()
		}
	}()

	bar := w.start(len(m.Blocks))
	defer bar.stop()

	for _, t := range targets {
		if dev := t.Tensor.Device(); dir.Device() != dev {
			moved, err := direction.To(r, dev)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: move direction to %s", t.Name, dev)
			}
			if dir != direction {
				dir.Free()
			}
			dir = moved
			w.log.Debug("relocated direction", zap.Stringer(logger.FieldDevice, dev))
		}

		out, err := Orthogonalize(r, t.Tensor, dir, strength)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", t.Name)
		}
		err = tensor.Assign(t.Tensor, out)
		out.Free()
		if err != nil {
			return nil, errors.Wrapf(err, "%s: write back", t.Name)
		}

		w.log.Debug("orthogonalized",
			zap.String(logger.FieldTensor, t.Name),
			zap.Ints(logger.FieldShape, t.Tensor.Shape()),
			zap.Stringer(logger.FieldDevice, t.Tensor.Device()))
		if w.visit != nil {
			w.visit(t.Name, t.Tensor)
		}
		if t.Kind == model.MLPOut {
			bar.increment()
		}
	}

	w.log.Info("orthogonalized model",
		zap.Int(logger.FieldBlocks, len(m.Blocks)),
		zap.Int(logger.FieldTensors, len(targets)),
		zap.Float32(logger.FieldStrength, strength))
	return m, nil
}

type progress struct {
	p *pterm.ProgressbarPrinter
}

func (w *walker) start(blocks int) progress {
	if w.progress == nil || blocks == 0 {
		return progress{}
	}
	p, err := pterm.DefaultProgressbar.
		WithTotal(blocks).
		WithTitle("orthogonalizing blocks").
		WithWriter(w.progress).
		Start()
	if err != nil {
		w.log.Warn("progress bar unavailable", zap.Error(err))
		return progress{}
	}
	return progress{p: p}
}

func (p progress) increment() {
	if p.p != nil {
		p.p.Increment()
	}
}

func (p progress) stop() {
	if p.p != nil {
		p.p.Stop()
	}
}
