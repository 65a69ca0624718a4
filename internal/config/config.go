// Package config loads the pipeline's top-level YAML configuration, in
// the style of the teacher's original config package: plain yaml-tagged
// structs with a Default() constructor rather than a tag-driven defaults
// library, loaded with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	StateDir string         `yaml:"state_dir"`
	TempDir  string         `yaml:"temp_dir"`
	Producer ProducerConfig `yaml:"producer"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Remote   RemoteConfig   `yaml:"remote"`
	Log      LogConfig      `yaml:"log"`
}

// ProducerConfig selects and configures the snapshot producer.
type ProducerConfig struct {
	Dataset   string `yaml:"dataset"`
	SplitSize string `yaml:"split_size"` // not read by the pipeline; chunks are sized by pipeline.chunk_size
}

// PipelineConfig configures chunking and the codec adapters.
type PipelineConfig struct {
	ChunkSize     int64  `yaml:"chunk_size"` // bytes, must be a power of two
	Compression   string `yaml:"compression" default:"zstd"`
	ZstdLevel     int    `yaml:"zstd_level" default:"3"`
	Encryption    string `yaml:"encryption" default:"aesgcm"`
	EncryptionKey string `yaml:"encryption_key"` // hex-encoded secret of any non-empty length, expanded to a 32-byte key via HKDF; used by "aesgcm"

	// MLKEMPublicKey/MLKEMPrivateKey are hex-encoded ML-KEM-768 key
	// material, used by "mlkem768". The private key is only needed to
	// run encrypt_test, since MLKEMAdapter.Verify decapsulates with it.
	MLKEMPublicKey  string `yaml:"mlkem768_public_key"`
	MLKEMPrivateKey string `yaml:"mlkem768_private_key"`
}

// RemoteConfig configures the S3-compatible remote store.
type RemoteConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region" default:"us-east-1"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style" default:"false"`
}

// LogConfig configures the ambient structured logger.
type LogConfig struct {
	Level string `yaml:"level" default:"info"`
}

// Default returns a Config with sensible defaults for local/dev use; a
// loaded file overrides these field by field.
func Default() Config {
	return Config{
		StateDir: "./state",
		TempDir:  "./tmp",
		Pipeline: PipelineConfig{
			ChunkSize:   4 << 30, // 4 GiB
			Compression: "zstd",
			ZstdLevel:   3,
			Encryption:  "aesgcm",
		},
		Remote: RemoteConfig{
			Region: "us-east-1",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and parses a YAML config file at path, starting from
// Default() so a partial file only overrides what it specifies.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants Load cannot express structurally: chunk_size
// must be a positive power of two per the chunker's contract, and the
// bucket/dataset fields that drive the rest of the pipeline must be set.
func (c Config) Validate() error {
	if c.Pipeline.ChunkSize <= 0 || c.Pipeline.ChunkSize&(c.Pipeline.ChunkSize-1) != 0 {
		return fmt.Errorf("config: pipeline.chunk_size must be a positive power of two, got %d", c.Pipeline.ChunkSize)
	}
	if c.Producer.Dataset == "" {
		return fmt.Errorf("config: producer.dataset must be set")
	}
	if c.Remote.Bucket == "" {
		return fmt.Errorf("config: remote.bucket must be set")
	}
	switch c.Pipeline.Compression {
	case "zstd", "none":
	default:
		return fmt.Errorf("config: unknown pipeline.compression %q", c.Pipeline.Compression)
	}
	switch c.Pipeline.Encryption {
	case "aesgcm", "mlkem768", "none":
	default:
		return fmt.Errorf("config: unknown pipeline.encryption %q", c.Pipeline.Encryption)
	}
	return nil
}
