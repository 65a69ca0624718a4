package config

import "os"

// LoadFromEnv overrides secret-bearing fields from the environment,
// the way app/backup_manager.py reads S3_BUCKET rather than committing
// credentials to the YAML file on disk.
func LoadFromEnv(cfg *Config) {
	if bucket := os.Getenv("OFFSITE_BACKUP_BUCKET"); bucket != "" {
		cfg.Remote.Bucket = bucket
	}
	if accessKey := os.Getenv("OFFSITE_BACKUP_ACCESS_KEY"); accessKey != "" {
		cfg.Remote.AccessKey = accessKey
	}
	if secretKey := os.Getenv("OFFSITE_BACKUP_SECRET_KEY"); secretKey != "" {
		cfg.Remote.SecretKey = secretKey
	}
	if key := os.Getenv("OFFSITE_BACKUP_ENCRYPTION_KEY"); key != "" {
		cfg.Pipeline.EncryptionKey = key
	}
	if level := os.Getenv("OFFSITE_BACKUP_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// GetEnvOrDefault returns the environment variable's value, or
// defaultValue if it is unset or empty.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
