// Package model describes the transformer weights that get orthogonalized:
// the token embedding and, per block, the attention and MLP output matrices.
package model

import "fmt"

import "github.com/cockroachdb/errors"

import "github.com/neurlang/ablation/tensor"

// ErrMissingAttribute is returned when a model lacks a weight it is expected to have.
var ErrMissingAttribute = errors.New("missing attribute")

// Target names, in the TransformerLens convention.
const (
	EmbeddingName = "embed.W_E"
	attnOutName   = "blocks.%d.attn.W_O"
	mlpOutName    = "blocks.%d.mlp.W_out"
)

// Attention holds the attention weights of a block. WO maps head outputs into the residual stream.
type Attention struct {
	WO *tensor.Tensor
}

// MLP holds the MLP weights of a block. WOut maps hidden activations into the residual stream.
type MLP struct {
	WOut *tensor.Tensor
}

// Block is one transformer layer
type Block struct {
	Attn Attention
	MLP  MLP
}

// Model is a transformer: a token embedding followed by an ordered sequence of blocks.
// Every weight has the model dimension as its trailing axis.
type Model struct {
	Embedding *tensor.Tensor
	Blocks    []Block
}

// Kind says which weight of the model a Target is
type Kind uint8

const (
	Embedding Kind = iota
	AttnOut
	MLPOut
)

// Target is one weight tensor that writes into the residual stream.
type Target struct {
	Name   string
	Kind   Kind
	Block  int // -1 for the embedding
	Tensor *tensor.Tensor
}

// AttnOutName is the target name of block i's attention output weight
func AttnOutName(i int) string {
	return fmt.Sprintf(attnOutName, i)
}

// MLPOutName is the target name of block i's MLP output weight
func MLPOutName(i int) string {
	return fmt.Sprintf(mlpOutName, i)
}

// Targets lists the residual-stream writers in order: the embedding, then
// per block the attention output followed by the MLP output.
func (m *Model) Targets() ([]Target, error) {
	if m == nil {
		return nil, errors.Wrap(ErrMissingAttribute, "nil model")
	}
	if m.Embedding == nil {
		return nil, errors.Wrap(ErrMissingAttribute, EmbeddingName)
	}
	out := make([]Target, 0, 1+2*len(m.Blocks))
	out = append(out, Target{Name: EmbeddingName, Kind: Embedding, Block: -1, Tensor: m.Embedding})
	for i, b := range m.Blocks {
		if b.Attn.WO == nil {
			return nil, errors.Wrap(ErrMissingAttribute, AttnOutName(i))
		}
		if b.MLP.WOut == nil {
			return nil, errors.Wrap(ErrMissingAttribute, MLPOutName(i))
		}
		out = append(out,
			Target{Name: AttnOutName(i), Kind: AttnOut, Block: i, Tensor: b.Attn.WO},
			Target{Name: MLPOutName(i), Kind: MLPOut, Block: i, Tensor: b.MLP.WOut})
	}
	return out, nil
}

// Hidden is the model dimension, the trailing axis of the embedding.
func (m *Model) Hidden() int {
	if m == nil || m.Embedding == nil {
		return 0
	}
	return m.Embedding.Dim()
}

// Free releases the storage of every weight.
func (m *Model) Free() (err error) {
	if m == nil {
		return nil
	}
	if m.Embedding != nil {
		err = errors.CombineErrors(err, m.Embedding.Free())
	}
	for _, b := range m.Blocks {
		if b.Attn.WO != nil {
			err = errors.CombineErrors(err, b.Attn.WO.Free())
		}
		if b.MLP.WOut != nil {
			err = errors.CombineErrors(err, b.MLP.WOut.Free())
		}
	}
	return err
}
