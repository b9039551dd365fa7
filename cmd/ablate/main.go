package main

import "os"

import "github.com/cockroachdb/errors"
import "github.com/pterm/pterm"
import "github.com/spf13/cobra"

import "github.com/neurlang/ablation/config"
import "github.com/neurlang/ablation/logger"

func newRootCmd() *cobra.Command {
	v := config.New()
	var (
		configPath string
		pgo        bool
		prof       *cpuProfile
	)

	root := &cobra.Command{
		Use:   "ablate",
		Short: "Orthogonalize transformer weights against a direction",
		Long: `ablate removes a direction from everything a transformer writes into its
residual stream: the token embedding and, for every block, the attention
output and MLP output weights.

Examples:
  ablate apply --model model.safetensors --direction refusal.safetensors --output ablated.safetensors
  ablate apply --config ablate.toml --device cuda:0 --strength 0.8
  ablate devices`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if err := logger.Initialize(verbose); err != nil {
				return errors.Wrap(err, "failed to initialize logger")
			}
			if pgo {
				p, err := startProfile("default.pgo")
				if err != nil {
					return errors.Wrap(err, "start cpu profile")
				}
				prof = p
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			prof.stop()
			logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (toml, yaml or json)")
	root.PersistentFlags().Bool("verbose", false, "debug logging")
	root.PersistentFlags().BoolVar(&pgo, "pgo", false, "write a CPU profile to default.pgo")
	v.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))

	root.AddCommand(newApplyCmd(v, &configPath), newDevicesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		pterm.Error.Println(err.Error())
		for _, hint := range errors.GetAllHints(err) {
			pterm.Info.Println(hint)
		}
		os.Exit(1)
	}
}
