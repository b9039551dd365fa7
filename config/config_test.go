package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurlang/ablation/device"
)

func flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("model", "", "")
	fs.String("direction", "", "")
	fs.String("direction-tensor", "", "")
	fs.String("output", "", "")
	fs.Float64("strength", 1, "")
	fs.String("device", "cpu", "")
	fs.String("config", "", "")
	return fs
}

func TestDefaults(t *testing.T) {
	v := New()
	v.Set("model", "m.safetensors")
	v.Set("direction", "d.safetensors")
	v.Set("output", "o.safetensors")
	c, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.Strength)
	assert.Equal(t, "direction", c.DirectionTensor)
	assert.Equal(t, "lens", c.Scheme)
	assert.Equal(t, device.Host, c.DeviceID())
	assert.False(t, c.Normalize)
}

func TestPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ablate.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
model = "file-model.safetensors"
direction = "file-direction.safetensors"
output = "file-out.safetensors"
strength = 0.25
direction_tensor = "refusal"
scheme = "hf"
`), 0o644))

	t.Setenv("ABLATE_STRENGTH", "0.5")
	t.Setenv("ABLATE_DIRECTION_TENSOR", "env-tensor")

	v := New()
	fs := flags()
	require.NoError(t, BindFlags(v, fs))
	require.NoError(t, fs.Parse([]string{"--output", "flag-out.safetensors"}))

	c, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, "file-model.safetensors", c.Model)
	assert.Equal(t, "flag-out.safetensors", c.Output, "flags beat the file")
	assert.Equal(t, 0.5, c.Strength, "env beats the file")
	assert.Equal(t, "env-tensor", c.DirectionTensor)
	assert.Equal(t, "hf", c.Scheme)
}

func TestValidate(t *testing.T) {
	ok := Config{Model: "m", Direction: "d", Output: "o", Device: "cpu", Scheme: "lens"}
	require.NoError(t, ok.Validate())

	c := ok
	c.Output = ""
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "ABLATE_OUTPUT")

	c = ok
	c.Device = "tpu"
	assert.True(t, errors.Is(c.Validate(), device.ErrDevice))

	c = ok
	c.Scheme = "gguf"
	assert.Error(t, c.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
