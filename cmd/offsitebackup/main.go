// Command offsitebackup drives one resumable, off-site backup pipeline
// run: it loads configuration, wires the collaborators, and executes the
// stage-inference driver until the queue is empty or a stopping
// condition is hit, in the spirit of the teacher's cmd/vaultaire/main.go
// startup sequence.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ziteh/zfs-remote-backup/internal/chunking"
	"github.com/ziteh/zfs-remote-backup/internal/codec"
	"github.com/ziteh/zfs-remote-backup/internal/config"
	"github.com/ziteh/zfs-remote-backup/internal/hashing"
	"github.com/ziteh/zfs-remote-backup/internal/pipeline"
	"github.com/ziteh/zfs-remote-backup/internal/remotestore"
	"github.com/ziteh/zfs-remote-backup/internal/snapshotproducer"
	"github.com/ziteh/zfs-remote-backup/internal/statestore"
)

const (
	exitIdle     = 0
	exitFatal    = 1
	exitShutdown = 2
)

func main() {
	configPath := flag.String("config", "offsitebackup.yaml", "path to the YAML config file")
	auto := flag.Bool("auto", true, "run all pending stage steps instead of exactly one")
	flag.Parse()

	os.Exit(run(*configPath, *auto))
}

func run(configPath string, auto bool) int {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "offsitebackup: create logger: %v\n", err)
		return exitFatal
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("load config", zap.Error(err))
		return exitFatal
	}
	config.LoadFromEnv(&cfg)

	driver, err := wire(cfg, logger)
	if err != nil {
		logger.Error("wire collaborators", zap.Error(err))
		return exitFatal
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := driver.Run(ctx, auto); err != nil {
		if pipeline.IsShutdown(err) {
			return exitShutdown
		}
		logger.Error("pipeline run failed", zap.Error(err))
		return exitFatal
	}
	if ctx.Err() != nil {
		return exitShutdown
	}
	return exitIdle
}

func wire(cfg config.Config, logger *zap.Logger) (*pipeline.Driver, error) {
	store, err := statestore.Open(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	producer := snapshotproducer.NewZFSProducer(store, logger)

	hasher := hashing.New()
	chunker, err := chunking.New(cfg.Pipeline.ChunkSize, hasher)
	if err != nil {
		return nil, fmt.Errorf("build chunker: %w", err)
	}

	var compressor codec.CompressionAdapter
	switch cfg.Pipeline.Compression {
	case "zstd":
		compressor = codec.NewZstdAdapter(0)
	case "none":
		compressor = codec.NoopCompressionAdapter{}
	default:
		return nil, fmt.Errorf("unsupported compression %q", cfg.Pipeline.Compression)
	}

	var encryptor codec.EncryptionAdapter
	switch cfg.Pipeline.Encryption {
	case "aesgcm":
		secret, err := hex.DecodeString(cfg.Pipeline.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decode encryption key: %w", err)
		}
		key, err := codec.DeriveAESKey(secret, "offsitebackup-chunk-key/"+cfg.Producer.Dataset)
		if err != nil {
			return nil, fmt.Errorf("derive encryption key: %w", err)
		}
		encryptor, err = codec.NewAESGCMAdapter(key)
		if err != nil {
			return nil, fmt.Errorf("build encryptor: %w", err)
		}
	case "mlkem768":
		pub, err := hex.DecodeString(cfg.Pipeline.MLKEMPublicKey)
		if err != nil {
			return nil, fmt.Errorf("decode mlkem768 public key: %w", err)
		}
		priv, err := hex.DecodeString(cfg.Pipeline.MLKEMPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("decode mlkem768 private key: %w", err)
		}
		encryptor, err = codec.NewMLKEMAdapter(pub, priv)
		if err != nil {
			return nil, fmt.Errorf("build encryptor: %w", err)
		}
	case "none":
		encryptor = codec.NoopEncryptionAdapter{}
	default:
		return nil, fmt.Errorf("unsupported encryption %q", cfg.Pipeline.Encryption)
	}

	remote, err := remotestore.NewS3Store(context.Background(), cfg.Remote.Endpoint,
		cfg.Remote.AccessKey, cfg.Remote.SecretKey, cfg.Remote.Region, cfg.Remote.UsePathStyle, logger)
	if err != nil {
		return nil, fmt.Errorf("build remote store: %w", err)
	}

	return pipeline.New(store, producer, chunker, compressor, encryptor, remote, hasher, logger, cfg.TempDir, cfg.Remote.Bucket), nil
}
