package main

import "fmt"
import "io"
import "time"

import "github.com/cockroachdb/errors"
import "github.com/spf13/cobra"
import "github.com/spf13/viper"
import "go.uber.org/zap"

import "github.com/neurlang/ablation/checkpoint"
import "github.com/neurlang/ablation/config"
import "github.com/neurlang/ablation/device"
import "github.com/neurlang/ablation/logger"
import "github.com/neurlang/ablation/ortho"
import "github.com/neurlang/ablation/tensor"

func newApplyCmd(v *viper.Viper, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Orthogonalize a checkpoint against a direction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *configPath)
			if err != nil {
				return err
			}
			return runApply(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	fs := cmd.Flags()
	fs.String("model", "", "model checkpoint (.safetensors)")
	fs.String("direction", "", "direction checkpoint (.safetensors)")
	fs.String("direction-tensor", checkpoint.DefaultDirectionTensor, "name of the direction tensor")
	fs.String("output", "", "where to write the edited checkpoint")
	fs.Float64("strength", 1, "fraction of the projection to remove (0 = none, 1 = all)")
	fs.String("device", "cpu", "device to run on: cpu, cuda or cuda:N")
	fs.String("scheme", checkpoint.Lens.Name, fmt.Sprintf("tensor naming scheme %v", checkpoint.SchemeNames()))
	fs.Bool("normalize", false, "scale the direction to unit norm first")
	fs.Bool("no-progress", false, "disable progress bar")
	if err := config.BindFlags(v, fs); err != nil {
		panic(err.Error())
	}
	return cmd
}

func runApply(cfg *config.Config, stdout, stderr io.Writer) error {
	start := time.Now()
	log := logger.Named("apply")

	scheme, err := checkpoint.LookupScheme(cfg.Scheme)
	if err != nil {
		return err
	}
	dev := cfg.DeviceID()

	reg := device.NewRegistry()
	defer reg.Close()

	f, err := checkpoint.ReadFile(cfg.Model)
	if err != nil {
		return err
	}
	log.Debug("read checkpoint", zap.String(logger.FieldFile, cfg.Model), zap.Int(logger.FieldTensors, len(f.Tensors)))

	m, err := checkpoint.Build(reg, f, scheme, dev)
	if err != nil {
		return errors.Wrapf(err, "%s (scheme %s)", cfg.Model, scheme.Name)
	}
	defer m.Free()

	// the direction stays on the host, the walker moves it next to each weight
	dir, err := checkpoint.LoadDirection(reg, cfg.Direction, cfg.DirectionTensor, cfg.Normalize, device.Host)
	if err != nil {
		return err
	}
	defer dir.Free()

	opts := []ortho.Option{ortho.WithLogger(log)}
	if !cfg.NoProgress {
		opts = append(opts, ortho.WithProgress(stderr))
	}
	if cfg.Verbose {
		opts = append(opts, ortho.WithVisitor(func(name string, t *tensor.Tensor) {
			fmt.Fprintf(stdout, "%-48s %v %s\n", name, t.Shape(), t.Device())
		}))
	}
	if _, err := ortho.Apply(reg, m, dir, float32(cfg.Strength), opts...); err != nil {
		return err
	}

	if err := checkpoint.Store(f, scheme, m); err != nil {
		return err
	}
	if err := f.WriteFile(cfg.Output); err != nil {
		return err
	}

	log.Info("wrote checkpoint",
		zap.String(logger.FieldFile, cfg.Output),
		zap.Stringer(logger.FieldDevice, dev),
		zap.String(logger.FieldScheme, scheme.Name),
		zap.Int(logger.FieldBlocks, len(m.Blocks)),
		zap.Float64(logger.FieldStrength, cfg.Strength),
		zap.Int64(logger.FieldDuration, time.Since(start).Milliseconds()))
	fmt.Fprintf(stdout, "orthogonalized %d blocks of %s at strength %g -> %s\n",
		len(m.Blocks), cfg.Model, cfg.Strength, cfg.Output)
	return nil
}
