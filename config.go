package flashsim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/blockdevice/image"
	"github.com/hupe1980/flashsim/harness"
)

// ErrConfigNotFound is returned when the config file does not exist.
// Callers can check for this with errors.Is(err, flashsim.ErrConfigNotFound).
var ErrConfigNotFound = errors.New("config file not found")

// DeviceConfig describes the simulated flash part.
type DeviceConfig struct {
	Size          uint64 `yaml:"size"`
	ReadSize      uint64 `yaml:"read_size"`
	ProgramSize   uint64 `yaml:"program_size"`
	EraseSize     uint64 `yaml:"erase_size"`
	ProgramCycles uint32 `yaml:"program_cycles"`
	EraseCycles   uint32 `yaml:"erase_cycles"`

	// IOLimit paces programs and erases, in bytes per second. 0 = unlimited.
	IOLimit int64 `yaml:"io_limit,omitempty"`

	// SliceOffset and SliceSize restrict the filesystem to part of the
	// device. SliceSize 0 means up to the end of the device.
	SliceOffset uint64 `yaml:"slice_offset,omitempty"`
	SliceSize   uint64 `yaml:"slice_size,omitempty"`
}

// Geometry returns the device geometry.
func (d DeviceConfig) Geometry() blockdevice.Geometry {
	return blockdevice.Geometry{
		Size:        d.Size,
		ReadSize:    d.ReadSize,
		ProgramSize: d.ProgramSize,
		EraseSize:   d.EraseSize,
	}
}

// HarnessConfig controls the perform loop.
type HarnessConfig struct {
	Iterations         int  `yaml:"iterations"`
	ForceFormat        bool `yaml:"force_format"`
	CheckEachIteration bool `yaml:"check_each_iteration"`
	ReadOnlyCheck      bool `yaml:"read_only_check"`
}

// Image store backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendMinIO = "minio"
)

// ImageConfig controls persistence of the simulated medium between runs.
type ImageConfig struct {
	// Backend is local (the default), s3 or minio.
	Backend string `yaml:"backend,omitempty"`
	// Dir is the image directory of the local backend. Empty disables
	// local images.
	Dir         string `yaml:"dir,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Compression string `yaml:"compression,omitempty"`
	// Resume loads the image before the run, if it exists.
	Resume bool `yaml:"resume,omitempty"`

	// Object storage settings of the s3 and minio backends. Credentials
	// come from the environment.
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Region    string `yaml:"region,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
	Insecure  bool   `yaml:"insecure,omitempty"`
}

// Enabled reports whether images are stored at all.
func (c ImageConfig) Enabled() bool {
	switch c.Backend {
	case "", BackendLocal:
		return c.Dir != ""
	default:
		return true
	}
}

// LogConfig selects the log level (debug, info, warn, error) and format
// (text, json, none).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full simulator configuration.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Harness HarnessConfig `yaml:"harness"`
	Image   ImageConfig   `yaml:"image,omitempty"`
	Log     LogConfig     `yaml:"log"`
}

// DefaultConfig returns the reference scenario: a 128 KiB part with 1/64/512
// byte units whose erase blocks survive 100 erases, driven for 100
// iterations with a check after each.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			Size:        131072,
			ReadSize:    blockdevice.DefaultReadSize,
			ProgramSize: blockdevice.DefaultProgramSize,
			EraseSize:   blockdevice.DefaultEraseSize,
			EraseCycles: 100,
		},
		Harness: HarnessConfig{
			Iterations:         harness.DefaultIterations,
			ForceFormat:        true,
			CheckEachIteration: true,
		},
		Image: ImageConfig{
			Name:        "device.img",
			Compression: image.CompressionZSTD.String(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML config file. Fields missing from the file keep
// their DefaultConfig values; unknown fields are rejected.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, ErrConfigNotFound
		}
		return Config{}, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	geo := c.Device.Geometry()
	if err := geo.Validate(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if c.Device.IOLimit < 0 {
		return fmt.Errorf("device: negative io_limit")
	}
	if c.Device.SliceOffset != 0 || c.Device.SliceSize != 0 {
		stop := c.sliceStop()
		if c.Device.SliceOffset >= stop || stop > geo.Size ||
			c.Device.SliceOffset%geo.EraseSize != 0 || stop%geo.EraseSize != 0 {
			return fmt.Errorf("device: slice [%d,%d) is not an erase-aligned range inside the device", c.Device.SliceOffset, stop)
		}
	}
	if c.Harness.Iterations < 0 {
		return fmt.Errorf("harness: negative iterations")
	}
	if c.Harness.Iterations == 0 && c.Device.ProgramCycles == 0 && c.Device.EraseCycles == 0 {
		return fmt.Errorf("harness: running until exhaustion needs a program or erase cycle limit")
	}
	if _, err := image.ParseCompression(c.Image.Compression); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	switch c.Image.Backend {
	case "", BackendLocal:
	case BackendS3:
		if c.Image.Bucket == "" {
			return fmt.Errorf("image: s3 backend without bucket")
		}
	case BackendMinIO:
		if c.Image.Bucket == "" || c.Image.Endpoint == "" {
			return fmt.Errorf("image: minio backend needs bucket and endpoint")
		}
	default:
		return fmt.Errorf("image: unknown backend %q", c.Image.Backend)
	}
	if c.Image.Enabled() && c.Image.Name == "" {
		return fmt.Errorf("image: store configured without name")
	}
	if _, err := NewLoggerFromConfig(c.Log, io.Discard); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (c Config) sliceStop() uint64 {
	if c.Device.SliceSize == 0 {
		return c.Device.Size
	}
	return c.Device.SliceOffset + c.Device.SliceSize
}
