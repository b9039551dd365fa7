package model

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurlang/ablation/tensor"
)

func weight(rows, cols int) *tensor.Tensor {
	return tensor.MustNew(make([]float32, rows*cols), rows, cols)
}

func TestTargetsOrder(t *testing.T) {
	m := &Model{
		Embedding: weight(5, 3),
		Blocks: []Block{
			{Attn: Attention{WO: weight(3, 3)}, MLP: MLP{WOut: weight(6, 3)}},
			{Attn: Attention{WO: weight(3, 3)}, MLP: MLP{WOut: weight(6, 3)}},
		},
	}
	targets, err := m.Targets()
	require.NoError(t, err)

	var names []string
	for _, tg := range targets {
		names = append(names, tg.Name)
	}
	want := []string{
		"embed.W_E",
		"blocks.0.attn.W_O",
		"blocks.0.mlp.W_out",
		"blocks.1.attn.W_O",
		"blocks.1.mlp.W_out",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}

	assert.Same(t, m.Embedding, targets[0].Tensor)
	assert.Equal(t, -1, targets[0].Block)
	assert.Same(t, m.Blocks[1].MLP.WOut, targets[4].Tensor)
	assert.Equal(t, MLPOut, targets[4].Kind)
	assert.Equal(t, 1, targets[4].Block)
	assert.Equal(t, 3, m.Hidden())
}

func TestTargetsMissing(t *testing.T) {
	var nilModel *Model
	_, err := nilModel.Targets()
	assert.True(t, errors.Is(err, ErrMissingAttribute))

	_, err = (&Model{}).Targets()
	assert.True(t, errors.Is(err, ErrMissingAttribute))

	m := &Model{
		Embedding: weight(2, 2),
		Blocks:    []Block{{Attn: Attention{WO: weight(2, 2)}}},
	}
	_, err = m.Targets()
	require.True(t, errors.Is(err, ErrMissingAttribute))
	assert.Contains(t, err.Error(), "blocks.0.mlp.W_out")
}

func TestTargetsEmbeddingOnly(t *testing.T) {
	targets, err := (&Model{Embedding: weight(2, 2)}).Targets()
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}
