// Package config loads miyah settings from an optional TOML file and the
// environment. Environment variables win over the file; CLI flags win over
// both and are applied by the commands themselves.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from TOML strings like "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds every setting used by the miyah binary.
type Config struct {
	// Report store server.
	DatabaseURL string `toml:"database_url"` // MIYAH_DATABASE_URL (empty = in-memory store)
	HTTPAddr    string `toml:"http_addr"`    // MIYAH_HTTP_ADDR (default ":8080")
	GRPCAddr    string `toml:"grpc_addr"`    // MIYAH_GRPC_ADDR (empty = no gRPC health listener)
	AuthToken   string `toml:"auth_token"`   // MIYAH_AUTH_TOKEN (empty = auth disabled)

	// Clients of the report store.
	ServerURL    string   `toml:"server_url"`    // MIYAH_SERVER_URL (default "http://localhost:8080")
	PollInterval Duration `toml:"poll_interval"` // MIYAH_POLL_INTERVAL (default 5s)

	// Mesh.
	NATSURL    string   `toml:"nats_url"`    // MIYAH_NATS_URL (default "nats://127.0.0.1:4222")
	Transport  string   `toml:"transport"`   // MIYAH_TRANSPORT: "nats" or "kv" (default "nats")
	Codec      string   `toml:"codec"`       // MIYAH_CODEC: "json" or "proto" (default "json")
	Channel    string   `toml:"channel"`     // MIYAH_CHANNEL (default "miyah-mesh")
	KVBucket   string   `toml:"kv_bucket"`   // MIYAH_KV_BUCKET (default "miyah_mesh")
	SeenTTL    Duration `toml:"seen_ttl"`    // MIYAH_SEEN_TTL (default 0 = remember forever)
	PeerExpiry Duration `toml:"peer_expiry"` // MIYAH_PEER_EXPIRY (default 0 = never expire)

	// Store events. When set, the server publishes report events here and
	// watchers use them to trigger an early poll.
	EventsURL string `toml:"events_url"` // MIYAH_EVENTS_URL (optional)

	// Sync settings.
	SyncInterval   Duration `toml:"sync_interval"`    // MIYAH_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string   `toml:"sync_s3_bucket"`   // MIYAH_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string   `toml:"sync_s3_endpoint"` // MIYAH_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string   `toml:"sync_s3_region"`   // MIYAH_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string   `toml:"sync_s3_key"`      // MIYAH_SYNC_S3_KEY (default "miyah/reports.jsonl")
	SyncGitRepo    string   `toml:"sync_git_repo"`    // MIYAH_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string   `toml:"sync_git_file"`    // MIYAH_SYNC_GIT_FILE (default "reports.jsonl")
	SyncGitBranch  string   `toml:"sync_git_branch"`  // MIYAH_SYNC_GIT_BRANCH (default "main")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:      ":8080",
		ServerURL:     "http://localhost:8080",
		PollInterval:  Duration{5 * time.Second},
		NATSURL:       "nats://127.0.0.1:4222",
		Transport:     "nats",
		Codec:         "json",
		Channel:       "miyah-mesh",
		KVBucket:      "miyah_mesh",
		SyncInterval:  Duration{3 * time.Minute},
		SyncS3Region:  "us-east-1",
		SyncS3Key:     "miyah/reports.jsonl",
		SyncGitFile:   "reports.jsonl",
		SyncGitBranch: "main",
	}
}

// Load reads the file named by MIYAH_CONFIG, if any, then applies the
// environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("MIYAH_CONFIG"))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	for key, dst := range map[string]*string{
		"MIYAH_DATABASE_URL":     &c.DatabaseURL,
		"MIYAH_HTTP_ADDR":        &c.HTTPAddr,
		"MIYAH_GRPC_ADDR":        &c.GRPCAddr,
		"MIYAH_AUTH_TOKEN":       &c.AuthToken,
		"MIYAH_SERVER_URL":       &c.ServerURL,
		"MIYAH_NATS_URL":         &c.NATSURL,
		"MIYAH_TRANSPORT":        &c.Transport,
		"MIYAH_CODEC":            &c.Codec,
		"MIYAH_CHANNEL":          &c.Channel,
		"MIYAH_KV_BUCKET":        &c.KVBucket,
		"MIYAH_EVENTS_URL":       &c.EventsURL,
		"MIYAH_SYNC_S3_BUCKET":   &c.SyncS3Bucket,
		"MIYAH_SYNC_S3_ENDPOINT": &c.SyncS3Endpoint,
		"MIYAH_SYNC_S3_REGION":   &c.SyncS3Region,
		"MIYAH_SYNC_S3_KEY":      &c.SyncS3Key,
		"MIYAH_SYNC_GIT_REPO":    &c.SyncGitRepo,
		"MIYAH_SYNC_GIT_FILE":    &c.SyncGitFile,
		"MIYAH_SYNC_GIT_BRANCH":  &c.SyncGitBranch,
	} {
		*dst = envOrDefault(key, *dst)
	}

	for key, dst := range map[string]*Duration{
		"MIYAH_POLL_INTERVAL": &c.PollInterval,
		"MIYAH_SEEN_TTL":      &c.SeenTTL,
		"MIYAH_PEER_EXPIRY":   &c.PeerExpiry,
		"MIYAH_SYNC_INTERVAL": &c.SyncInterval,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		dst.Duration = d
	}
	return nil
}

// Validate checks values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	switch c.Transport {
	case "nats", "kv":
	default:
		return fmt.Errorf("transport %q: want nats or kv", c.Transport)
	}
	switch c.Codec {
	case "json", "proto":
	default:
		return fmt.Errorf("codec %q: want json or proto", c.Codec)
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.SeenTTL.Duration < 0 || c.PeerExpiry.Duration < 0 || c.SyncInterval.Duration < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
