package ortho

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/neurlang/ablation/device"
	"github.com/neurlang/ablation/logger"
	"github.com/neurlang/ablation/model"
	"github.com/neurlang/ablation/tensor"
)

func ones(shape ...int) *tensor.Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = 1
	}
	return tensor.MustNew(data, shape...)
}

// twoBlocks builds a model with dimension 4 whose weights are all ones
func twoBlocks() *model.Model {
	return &model.Model{
		Embedding: ones(10, 4),
		Blocks: []model.Block{
			{Attn: model.Attention{WO: ones(2, 3, 4)}, MLP: model.MLP{WOut: ones(8, 4)}},
			{Attn: model.Attention{WO: ones(2, 3, 4)}, MLP: model.MLP{WOut: ones(8, 4)}},
		},
	}
}

func TestApplyZeroesFirstCoordinate(t *testing.T) {
	r := emulated()
	defer r.Close()

	m := twoBlocks()
	embedding := m.Embedding
	d := tensor.MustNew([]float32{1, 0, 0, 0}, 4)

	var visited []string
	got, err := Apply(r, m, d, 1, WithVisitor(func(name string, _ *tensor.Tensor) {
		visited = append(visited, name)
	}))
	require.NoError(t, err)
	assert.Same(t, m, got)
	assert.Same(t, embedding, m.Embedding, "tensors are edited in place")

	want := []string{
		"embed.W_E",
		"blocks.0.attn.W_O",
		"blocks.0.mlp.W_out",
		"blocks.1.attn.W_O",
		"blocks.1.mlp.W_out",
	}
	if diff := cmp.Diff(want, visited); diff != "" {
		t.Errorf("visit order mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, visited, 1+2*len(m.Blocks))

	targets, err := m.Targets()
	require.NoError(t, err)
	for _, tg := range targets {
		data := host(t, tg.Tensor)
		for i, v := range data {
			if i%4 == 0 {
				assert.Equal(t, float32(0), v, "%s[%d]", tg.Name, i)
			} else {
				assert.Equal(t, float32(1), v, "%s[%d]", tg.Name, i)
			}
		}
	}
}

func TestApplyFollowsDevices(t *testing.T) {
	var opened []device.Device
	r := device.NewRegistryWith(func(d device.Device) (device.Backend, error) {
		opened = append(opened, d)
		if d == device.Host {
			return device.Open(d)
		}
		return device.Emulated(d), nil
	})
	defer r.Close()

	gpu1 := device.Device{Kind: device.CUDA, Ordinal: 1}
	onGPU := func(d device.Device, x *tensor.Tensor) *tensor.Tensor {
		y, err := x.To(r, d)
		require.NoError(t, err)
		return y
	}
	m := twoBlocks()
	m.Blocks[0].Attn.WO = onGPU(gpu, m.Blocks[0].Attn.WO)
	m.Blocks[0].MLP.WOut = onGPU(gpu, m.Blocks[0].MLP.WOut)
	m.Blocks[1].Attn.WO = onGPU(gpu1, m.Blocks[1].Attn.WO)
	m.Blocks[1].MLP.WOut = onGPU(gpu1, m.Blocks[1].MLP.WOut)

	d := tensor.MustNew([]float32{1, 0, 0, 0}, 4)
	core, logs := observer.New(zap.DebugLevel)
	_, err := Apply(r, m, d, 1, WithLogger(zap.New(core)))
	require.NoError(t, err)

	assert.Equal(t, device.Host, d.Device(), "caller's direction stays put")
	assert.Equal(t, gpu, m.Blocks[0].MLP.WOut.Device())
	assert.Equal(t, []float32{0, 1, 1, 1, 0, 1, 1, 1}, host(t, m.Blocks[1].MLP.WOut)[:8])

	// host -> gpu, gpu -> gpu1: two moves for five targets
	assert.Equal(t, 2, logs.FilterMessage("relocated direction").Len())
	assert.Equal(t, 5, logs.FilterMessage("orthogonalized").Len())
	assert.Equal(t, 1, logs.FilterMessage("orthogonalized model").Len())
	assert.Equal(t, []device.Device{gpu, gpu1}, opened)

	first := logs.FilterMessage("orthogonalized").All()[0].ContextMap()
	assert.Equal(t, model.EmbeddingName, first[logger.FieldTensor])
	assert.Equal(t, "cpu", first[logger.FieldDevice])
	moved := logs.FilterMessage("relocated direction").All()[1].ContextMap()
	assert.Equal(t, gpu1.String(), moved[logger.FieldDevice])
	summary := logs.FilterMessage("orthogonalized model").All()[0].ContextMap()
	assert.EqualValues(t, 5, summary[logger.FieldTensors])
}

func TestApplyStrength(t *testing.T) {
	r := emulated()
	defer r.Close()

	m := twoBlocks()
	_, err := Apply(r, m, tensor.MustNew([]float32{0, 1, 0, 0}, 4), 0.25)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.75, 1, 1}, host(t, m.Embedding)[:4])
}

func TestApplyDimensionMismatch(t *testing.T) {
	r := emulated()
	defer r.Close()

	m := twoBlocks()
	_, err := Apply(r, m, tensor.MustNew([]float32{1, 0, 0}, 3), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Contains(t, err.Error(), "embed.W_E")
}

func TestApplyPartial(t *testing.T) {
	r := emulated()
	defer r.Close()

	m := twoBlocks()
	m.Blocks[1].MLP.WOut = ones(8, 5)
	_, err := Apply(r, m, tensor.MustNew([]float32{1, 0, 0, 0}, 4), 1)
	require.True(t, errors.Is(err, ErrShapeMismatch))
	assert.Contains(t, err.Error(), "blocks.1.mlp.W_out")

	// no rollback: earlier targets keep their edit
	assert.Equal(t, float32(0), host(t, m.Embedding)[0])
	assert.Equal(t, float32(0), host(t, m.Blocks[1].Attn.WO)[0])
	assert.Equal(t, float32(1), host(t, m.Blocks[1].MLP.WOut)[0])
}

func TestApplyMissingAttribute(t *testing.T) {
	r := emulated()
	defer r.Close()
	d := tensor.MustNew([]float32{1, 0, 0, 0}, 4)

	_, err := Apply(r, nil, d, 1)
	assert.True(t, errors.Is(err, ErrMissingAttribute))

	m := twoBlocks()
	m.Blocks[0].Attn.WO = nil
	_, err = Apply(r, m, d, 1)
	assert.True(t, errors.Is(err, ErrMissingAttribute))
	assert.Equal(t, float32(1), host(t, m.Embedding)[0], "nothing is touched before the walk starts")
}

func TestApplyProgress(t *testing.T) {
	r := emulated()
	defer r.Close()

	var buf bytes.Buffer
	_, err := Apply(r, twoBlocks(), tensor.MustNew([]float32{1, 0, 0, 0}, 4), 1, WithProgress(&buf))
	require.NoError(t, err)
	assert.NotZero(t, buf.Len(), "the bar is drawn on the progress writer")
}
