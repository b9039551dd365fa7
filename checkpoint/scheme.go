package checkpoint

import "fmt"
import "sort"

import "github.com/cockroachdb/errors"

import "github.com/neurlang/ablation/device"
import "github.com/neurlang/ablation/model"
import "github.com/neurlang/ablation/tensor"

// Scheme names the checkpoint tensors that hold a model's residual-stream writers.
type Scheme struct {
	Name      string
	Embedding string
	AttnOut   string // format string taking the block index
	MLPOut    string // format string taking the block index

	// Transposed is set when block output weights are stored as
	// [d_model, in] linear weights instead of with d_model trailing.
	Transposed bool
}

// Lens is the TransformerLens state dict layout.
var Lens = Scheme{
	Name:      "lens",
	Embedding: "embed.W_E",
	AttnOut:   "blocks.%d.attn.W_O",
	MLPOut:    "blocks.%d.mlp.W_out",
}

// HF is the Hugging Face Llama layout.
var HF = Scheme{
	Name:       "hf",
	Embedding:  "model.embed_tokens.weight",
	AttnOut:    "model.layers.%d.self_attn.o_proj.weight",
	MLPOut:     "model.layers.%d.mlp.down_proj.weight",
	Transposed: true,
}

var schemes = map[string]Scheme{
	Lens.Name: Lens,
	HF.Name:   HF,
}

// LookupScheme finds a scheme by name
func LookupScheme(name string) (Scheme, error) {
	s, ok := schemes[name]
	if !ok {
		return Scheme{}, errors.WithHintf(errors.Newf("unknown tensor naming scheme %q", name),
			"known schemes: %v", SchemeNames())
	}
	return s, nil
}

// SchemeNames lists the known scheme names
func SchemeNames() []string {
	var out []string
	for name := range schemes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Blocks counts the blocks of f under s by probing consecutive indices.
func (s Scheme) Blocks(f *File) int {
	n := 0
	for {
		if _, ok := f.Tensors[fmt.Sprintf(s.AttnOut, n)]; !ok {
			return n
		}
		n++
	}
}

func (s Scheme) names(i int) (attn, mlp string) {
	return fmt.Sprintf(s.AttnOut, i), fmt.Sprintf(s.MLPOut, i)
}

// Build assembles a model from the tensors of f named by s and uploads every
// weight to dev. Transposed schemes are turned around so that d_model is the
// trailing axis.
func Build(r *device.Registry, f *File, s Scheme, dev device.Device) (m *model.Model, err error) {
	m = &model.Model{}
	defer func() {
		if err != nil {
			m.Free()
			m = nil
		}
	}()

	if m.Embedding, err = load(r, f, s.Embedding, false, dev); err != nil {
		return
	}
	blocks := s.Blocks(f)
	if blocks == 0 {
		err = errors.Wrapf(model.ErrMissingAttribute, "no %q tensors", s.AttnOut)
		return
	}
	m.Blocks = make([]model.Block, blocks)
	for i := range m.Blocks {
		attn, mlp := s.names(i)
		if m.Blocks[i].Attn.WO, err = load(r, f, attn, s.Transposed, dev); err != nil {
			return
		}
		if m.Blocks[i].MLP.WOut, err = load(r, f, mlp, s.Transposed, dev); err != nil {
			return
		}
	}
	return m, nil
}

func load(r *device.Registry, f *File, name string, transposed bool, dev device.Device) (*tensor.Tensor, error) {
	e, ok := f.Tensors[name]
	if !ok {
		return nil, errors.Wrap(model.ErrMissingAttribute, name)
	}
	if !IsFloat(e.DType) {
		return nil, errors.Wrapf(ErrFormat, "%s: dtype %s cannot be edited", name, e.DType)
	}
	data := append([]float32(nil), e.Data...)
	shape := e.Shape
	if transposed {
		if len(shape) != 2 {
			return nil, errors.Wrapf(ErrFormat, "%s: linear weight must be 2-D, has shape %v", name, shape)
		}
		data = tensor.Transpose2D(data, shape[0], shape[1])
		shape = []int{shape[1], shape[0]}
	}
	t, err := tensor.Upload(r, dev, data, shape...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	return t, nil
}

// Store copies the weights of m back into the entries of f named by s,
// undoing the transposition done by Build.
func Store(f *File, s Scheme, m *model.Model) error {
	if err := store(f, s.Embedding, false, m.Embedding); err != nil {
		return err
	}
	for i, b := range m.Blocks {
		attn, mlp := s.names(i)
		if err := store(f, attn, s.Transposed, b.Attn.WO); err != nil {
			return err
		}
		if err := store(f, mlp, s.Transposed, b.MLP.WOut); err != nil {
			return err
		}
	}
	return nil
}

func store(f *File, name string, transposed bool, t *tensor.Tensor) error {
	e, ok := f.Tensors[name]
	if !ok || t == nil {
		return errors.Wrap(model.ErrMissingAttribute, name)
	}
	data, err := t.Host()
	if err != nil {
		return errors.Wrapf(err, "%s", name)
	}
	if len(data) != e.Len() {
		return errors.Wrapf(ErrFormat, "%s: %d values for shape %v", name, len(data), e.Shape)
	}
	if transposed {
		shape := t.Shape()
		data = tensor.Transpose2D(data, shape[0], shape[1])
	}
	e.Data = data
	return nil
}
