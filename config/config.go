package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/sugarme/gotch"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for out of range settings.
var ErrInvalidConfig = errors.New("invalid config")

// Layout is the data layout of 5-D volumetric tensors.
type Layout string

const (
	// ChannelsFirst is [batch, channel, depth, height, width].
	ChannelsFirst Layout = "channels_first"
	// ChannelsLast is [batch, depth, height, width, channel].
	ChannelsLast Layout = "channels_last"
)

// ChannelAxis returns the axis holding channels in a 5-D tensor of this layout.
func (l Layout) ChannelAxis() int64 {
	if l == ChannelsFirst {
		return 1
	}
	return -1
}

// Shape is a spatial volume size.
type Shape struct {
	D int64 `yaml:"d"`
	H int64 `yaml:"h"`
	W int64 `yaml:"w"`
}

// Voxels returns D*H*W.
func (s Shape) Voxels() int64 {
	return s.D * s.H * s.W
}

// MaxDepth bounds the number of resolution levels.
const MaxDepth = 16

// Config holds model, loss and training hyperparameters.
type Config struct {
	NumClass   int64   `yaml:"num_class"`
	BatchSize  int64   `yaml:"batch_size"`
	InChannels int64   `yaml:"in_channels"`
	Features   int64   `yaml:"features"`
	Depth      int     `yaml:"depth"`
	Layout     Layout  `yaml:"layout"`
	Eps        float64 `yaml:"bn_eps"`

	LR            float64 `yaml:"lr"`
	Optimizer     string  `yaml:"optimizer"`
	Epochs        int     `yaml:"epochs"`
	ValidateEvery int     `yaml:"validate_every"`

	Shape      Shape  `yaml:"shape"`
	WeightMode string `yaml:"weight_mode"`
	Workers    int    `yaml:"workers"`

	Cuda          bool   `yaml:"cuda"`
	Debug         bool   `yaml:"debug"`
	CheckpointDir string `yaml:"checkpoint_dir"`
}

// Default returns the settings the model was designed with:
// 4 imaging modalities, 4 classes, batches of 3 volumes of 20x144x144.
func Default() *Config {
	return &Config{
		NumClass:      4,
		BatchSize:     3,
		InChannels:    4,
		Features:      32,
		Depth:         3,
		Layout:        ChannelsFirst,
		Eps:           0.001,
		LR:            0.001,
		Optimizer:     "Adam",
		Epochs:        10,
		ValidateEvery: 1,
		Shape:         Shape{D: 20, H: 144, W: 144},
		WeightMode:    "uniform",
		Workers:       4,
		CheckpointDir: "./checkpoint",
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %v: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.NumClass < 2:
		return fmt.Errorf("%w: num_class must be >= 2, got %v", ErrInvalidConfig, c.NumClass)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch_size must be >= 1, got %v", ErrInvalidConfig, c.BatchSize)
	case c.InChannels < 1:
		return fmt.Errorf("%w: in_channels must be >= 1, got %v", ErrInvalidConfig, c.InChannels)
	case c.Features < 1:
		return fmt.Errorf("%w: features must be >= 1, got %v", ErrInvalidConfig, c.Features)
	case c.Depth < 1 || c.Depth > MaxDepth:
		return fmt.Errorf("%w: depth must be in [1, %v], got %v", ErrInvalidConfig, MaxDepth, c.Depth)
	case c.Layout != ChannelsFirst && c.Layout != ChannelsLast:
		return fmt.Errorf("%w: unknown layout %q", ErrInvalidConfig, c.Layout)
	case c.Optimizer != "SGD" && c.Optimizer != "Adam":
		return fmt.Errorf("%w: unknown optimizer %q", ErrInvalidConfig, c.Optimizer)
	case c.WeightMode != "uniform" && c.WeightMode != "balanced":
		return fmt.Errorf("%w: unknown weight_mode %q", ErrInvalidConfig, c.WeightMode)
	}

	// Each pooling step halves the volume, the transposed convs double it back.
	div := int64(1) << uint(c.Depth-1)
	if c.Shape.D%div != 0 || c.Shape.H%div != 0 || c.Shape.W%div != 0 {
		return fmt.Errorf("%w: shape %vx%vx%v not divisible by %v", ErrInvalidConfig, c.Shape.D, c.Shape.H, c.Shape.W, div)
	}

	return nil
}

// Device returns the device tensors and variables are placed on.
func (c *Config) Device() gotch.Device {
	if c.Cuda {
		return gotch.NewCuda().CudaIfAvailable()
	}
	return gotch.CPU
}
