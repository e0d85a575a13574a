// Package config handles pipeline configuration loading and management.
package config

import (
	"fmt"
	"math"
	"slices"

	"go.uber.org/multierr"

	"github.com/meshrecon/pixel2mesh/pkg/backbone"
	"github.com/meshrecon/pixel2mesh/pkg/camera"
	"github.com/meshrecon/pixel2mesh/pkg/dataset"
	"github.com/meshrecon/pixel2mesh/pkg/loss"
	"github.com/meshrecon/pixel2mesh/pkg/model"
)

// Config holds all pipeline settings.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Loss     LossConfig     `yaml:"loss"`
	Topology TopologyConfig `yaml:"topology"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ModelConfig holds network settings.
type ModelConfig struct {
	Name                string  `yaml:"name"`
	Backbone            string  `yaml:"backbone"`
	BackboneWidths      []int   `yaml:"backbone_widths,omitempty"`
	HiddenDim           int     `yaml:"hidden_dim"`
	LastHiddenDim       int     `yaml:"last_hidden_dim"`
	CoordDim            int     `yaml:"coord_dim"`
	GConvActivation     bool    `yaml:"gconv_activation"`
	ZThreshold          float64 `yaml:"z_threshold"`
	AlignWithTensorflow bool    `yaml:"align_with_tensorflow"`
	Seed                uint64  `yaml:"seed"`
}

// DatasetConfig holds camera constants and sample preparation settings.
type DatasetConfig struct {
	CameraF       [2]float64 `yaml:"camera_f"`
	CameraC       [2]float64 `yaml:"camera_c"`
	MeshPos       [3]float64 `yaml:"mesh_pos"`
	NumPoints     int        `yaml:"num_points"`
	ImageSize     int        `yaml:"image_size"`
	Normalization bool       `yaml:"normalization"`
}

// LossConfig holds the objective weights.
type LossConfig struct {
	Weights loss.Weights `yaml:"weights"`
}

// TopologyConfig locates the mesh topology file. An empty path means the
// built-in ellipsoid generator is used.
type TopologyConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with the standard ShapeNet settings.
func Default() *Config {
	cam := camera.Default()
	return &Config{
		Model: ModelConfig{
			Name:            model.NamePixel2Mesh,
			Backbone:        "cnn",
			HiddenDim:       192,
			LastHiddenDim:   192,
			CoordDim:        3,
			GConvActivation: true,
		},
		Dataset: DatasetConfig{
			CameraF:       cam.Focal,
			CameraC:       cam.Principal,
			MeshPos:       cam.MeshPos,
			NumPoints:     3000,
			ImageSize:     224,
			Normalization: true,
		},
		Loss: LossConfig{
			Weights: loss.DefaultWeights(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	if !slices.Contains(model.Variants(), c.Model.Name) {
		err = multierr.Append(err, fmt.Errorf("model.name: %w: %q", model.ErrUnknownVariant, c.Model.Name))
	}
	if !slices.Contains(backbone.Names(), c.Model.Backbone) {
		err = multierr.Append(err, fmt.Errorf("model.backbone: %w: %q", backbone.ErrUnknownBackbone, c.Model.Backbone))
	}
	if c.Model.HiddenDim <= 0 {
		err = multierr.Append(err, fmt.Errorf("model.hidden_dim must be positive, got %d", c.Model.HiddenDim))
	}
	if c.Model.LastHiddenDim <= 0 {
		err = multierr.Append(err, fmt.Errorf("model.last_hidden_dim must be positive, got %d", c.Model.LastHiddenDim))
	}
	if c.Model.CoordDim != 3 {
		err = multierr.Append(err, fmt.Errorf("model.coord_dim must be 3, got %d", c.Model.CoordDim))
	}
	if math.IsNaN(c.Model.ZThreshold) || math.IsInf(c.Model.ZThreshold, 0) {
		err = multierr.Append(err, fmt.Errorf("model.z_threshold must be finite"))
	}
	if _, cerr := c.Camera(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("dataset.camera_f: %w", cerr))
	}
	if c.Dataset.NumPoints <= 0 {
		err = multierr.Append(err, fmt.Errorf("dataset.num_points must be positive, got %d", c.Dataset.NumPoints))
	}
	if c.Dataset.ImageSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("dataset.image_size must be positive, got %d", c.Dataset.ImageSize))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	return err
}

// Camera returns the dataset camera constants.
func (c *Config) Camera() (camera.Params, error) {
	return camera.New(c.Dataset.CameraF, c.Dataset.CameraC, c.Dataset.MeshPos)
}

// ModelOptions converts the model section.
func (c *Config) ModelOptions() model.Options {
	return model.Options{
		Name: c.Model.Name,
		Backbone: backbone.Options{
			Name:   c.Model.Backbone,
			Widths: c.Model.BackboneWidths,
			Seed:   c.Model.Seed,
		},
		HiddenDim:           c.Model.HiddenDim,
		LastHiddenDim:       c.Model.LastHiddenDim,
		CoordDim:            c.Model.CoordDim,
		GConvActivation:     c.Model.GConvActivation,
		ZThreshold:          c.Model.ZThreshold,
		AlignWithTensorflow: c.Model.AlignWithTensorflow,
		Seed:                c.Model.Seed,
	}
}

// DatasetOptions converts the dataset section. The template switch is set by
// the model variant.
func (c *Config) DatasetOptions() dataset.Options {
	return dataset.Options{
		MeshPos:       c.Dataset.MeshPos,
		NumPoints:     c.Dataset.NumPoints,
		ImageSize:     c.Dataset.ImageSize,
		Normalization: c.Dataset.Normalization,
	}
}
