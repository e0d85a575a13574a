package config

import "flag"

// Flags are the command-line overrides shared by every subcommand.
type Flags struct {
	config     *string
	debug      *bool
	topology   *string
	backbone   *string
	tensorflow *bool
}

// BindFlags registers the override flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		config:     fs.String("config", "", "Path to config file"),
		debug:      fs.Bool("debug", false, "Enable debug logging"),
		topology:   fs.String("topology", "", "Path to topology file (.p2mt)"),
		backbone:   fs.String("backbone", "", "Image backbone name"),
		tensorflow: fs.Bool("tf", false, "Use the legacy projection sampler"),
	}
}

// ConfigPath returns the explicit config path if provided via -config.
func (f *Flags) ConfigPath() string {
	if f == nil {
		return ""
	}
	return *f.config
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if *f.debug {
		cfg.Logging.Level = "debug"
	}
	if *f.topology != "" {
		cfg.Topology.Path = *f.topology
	}
	if *f.backbone != "" {
		cfg.Model.Backbone = *f.backbone
	}
	if *f.tensorflow {
		cfg.Model.AlignWithTensorflow = true
	}
}
