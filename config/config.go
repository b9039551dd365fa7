// Package config loads the settings of the ablate command with Viper.
//
// Precedence, highest first: command line flags, ABLATE_* environment
// variables, the config file, defaults.
package config

import "strings"

import "github.com/cockroachdb/errors"
import "github.com/spf13/pflag"
import "github.com/spf13/viper"

import "github.com/neurlang/ablation/checkpoint"
import "github.com/neurlang/ablation/device"

// EnvPrefix prefixes every environment variable read by Viper
const EnvPrefix = "ABLATE"

// Config is the resolved configuration of an ablate run
type Config struct {
	Model           string  `mapstructure:"model"`
	Direction       string  `mapstructure:"direction"`
	DirectionTensor string  `mapstructure:"direction_tensor"`
	Output          string  `mapstructure:"output"`
	Strength        float64 `mapstructure:"strength"`
	Device          string  `mapstructure:"device"`
	Scheme          string  `mapstructure:"scheme"`
	Normalize       bool    `mapstructure:"normalize"`
	NoProgress      bool    `mapstructure:"no_progress"`
	Verbose         bool    `mapstructure:"verbose"`
}

// SetDefaults sets default values for every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("direction_tensor", checkpoint.DefaultDirectionTensor)
	v.SetDefault("strength", 1.0)
	v.SetDefault("device", "cpu")
	v.SetDefault("scheme", checkpoint.Lens.Name)
	v.SetDefault("normalize", false)
	v.SetDefault("no_progress", false)
	v.SetDefault("verbose", false)
}

// New returns a Viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds each flag of fs to the key of the same name, with dashes
// turned into underscores.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		err = errors.CombineErrors(err, v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f))
	})
	return err
}

// Load reads the optional config file at path and returns the validated configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the configuration describes a runnable job.
func (c *Config) Validate() error {
	for _, req := range []struct{ key, val string }{
		{"model", c.Model},
		{"direction", c.Direction},
		{"output", c.Output},
	} {
		if req.val == "" {
			return errors.WithHintf(errors.Newf("%s is not set", req.key),
				"pass --%s or set %s_%s", req.key, EnvPrefix, strings.ToUpper(req.key))
		}
	}
	if _, err := device.Parse(c.Device); err != nil {
		return err
	}
	if _, err := checkpoint.LookupScheme(c.Scheme); err != nil {
		return err
	}
	return nil
}

// DeviceID is the parsed device
func (c *Config) DeviceID() device.Device {
	d, _ := device.Parse(c.Device)
	return d
}
