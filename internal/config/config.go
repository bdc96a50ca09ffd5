// Package config holds the compile-time constants this system is built
// against plus the small set of environment overrides that change
// deployment targets without changing protocol behavior.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Protocol constants. These are NOT runtime-tunable: they are contracts of
// the lease protocol and the shard reader's retry/validation cadence, not
// knobs exposed to operators.
const (
	// ReadsBetweenValidation is the shard reader's ownership re-validation
	// cadence: every pass through the read state counts (failed fetches
	// included), and ownership is re-validated at the start of every
	// ReadsBetweenValidation-th pass, before that pass's fetch.
	ReadsBetweenValidation = 10

	// MaxFetchRetries is the number of consecutive Fetch failures the
	// shard reader tolerates before releasing the lease and returning.
	MaxFetchRetries = 10

	// FetchBatchLimit is the number of records requested per Fetch call.
	FetchBatchLimit = 1000

	// IdleReaperWindow is how long the reaper waits between its snapshot
	// and its re-check of each shard's checkpoint.
	IdleReaperWindow = 5 * 60 // seconds; cmd/shardconsumer converts it to a time.Duration for the reaper

	// WorkerPoolSize bounds the number of concurrently running shard
	// readers per process.
	WorkerPoolSize = 5

	// EnumerateMaxAttempts bounds the supervisor's shard-enumeration
	// backoff loop at startup.
	EnumerateMaxAttempts = 5

	// ArchivalRetrySleepSeconds is the sleep between archival retries.
	// Archival retries indefinitely; this is the pace.
	ArchivalRetrySleepSeconds = 1

	// SearchMaxRetries bounds the bulk-index POST retry budget.
	SearchMaxRetries = 5

	// SearchRetrySleepSeconds is the sleep between search retries.
	SearchRetrySleepSeconds = 1
)

// Deployment-scoped constants. The getenv helpers below let operators
// point a binary at a local stack (e.g. LocalStack) without touching the
// protocol constants above.
const (
	DefaultStreamName    = "shard-consumer-stream"
	DefaultIndexName     = "shard_consumer_logs"
	DefaultSearchBulkURL = "http://localhost:8081/_bulk"
	DefaultBucketName    = "shard-consumer-archive"
	DefaultAssumeRoleARN = "arn:aws:iam::123456789012:role/shard-consumer"
	DefaultRegion        = "eu-west-1"
	DefaultLeaseTable    = "shard_leases"
	TimeZone             = "UTC"
)

// Config is the resolved set of deployment targets for one process. It is
// assembled once at startup from compile-time defaults overridden by
// environment variables via a getEnv(key, default) pattern.
type Config struct {
	Region        string
	StreamName    string
	IndexName     string
	SearchBulkURL string
	BucketName    string
	AssumeRoleARN string
	LeaseTable    string

	// Endpoint, when non-empty, overrides the AWS SDK endpoint resolution
	// for Kinesis/DynamoDB/S3, used for pointing at LocalStack in tests.
	Endpoint string

	Debug bool
}

// fileOverrides is the shape of the optional YAML config file. Every field
// is optional; anything left unset keeps its compile-time default or
// environment override. The file path comes from the CONFIG_FILE
// environment variable; there is no default path.
type fileOverrides struct {
	AWS struct {
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"aws"`
	Kinesis struct {
		StreamName string `yaml:"stream_name"`
	} `yaml:"kinesis"`
	Search struct {
		IndexName string `yaml:"index_name"`
		BulkURL   string `yaml:"bulk_url"`
	} `yaml:"search"`
	Archive struct {
		BucketName string `yaml:"bucket_name"`
	} `yaml:"archive"`
	Lease struct {
		TableName     string `yaml:"table_name"`
		AssumeRoleARN string `yaml:"assume_role_arn"`
	} `yaml:"lease"`
}

// Load resolves a Config from compile-time defaults, an optional YAML
// config file (CONFIG_FILE env var, silently skipped if absent), and
// environment variable overrides, in that precedence order (env wins).
// debug is the `debug` positional CLI token.
func Load(debug bool) Config {
	file := loadFileOverrides(os.Getenv("CONFIG_FILE"))

	cfg := Config{
		Region:        DefaultRegion,
		StreamName:    DefaultStreamName,
		IndexName:     DefaultIndexName,
		SearchBulkURL: DefaultSearchBulkURL,
		BucketName:    DefaultBucketName,
		AssumeRoleARN: DefaultAssumeRoleARN,
		LeaseTable:    DefaultLeaseTable,
		Debug:         debug,
	}

	if file != nil {
		applyNonEmpty(&cfg.Region, file.AWS.Region)
		applyNonEmpty(&cfg.Endpoint, file.AWS.Endpoint)
		applyNonEmpty(&cfg.StreamName, file.Kinesis.StreamName)
		applyNonEmpty(&cfg.IndexName, file.Search.IndexName)
		applyNonEmpty(&cfg.SearchBulkURL, file.Search.BulkURL)
		applyNonEmpty(&cfg.BucketName, file.Archive.BucketName)
		applyNonEmpty(&cfg.LeaseTable, file.Lease.TableName)
		applyNonEmpty(&cfg.AssumeRoleARN, file.Lease.AssumeRoleARN)
	}

	cfg.Region = getEnv("AWS_REGION", cfg.Region)
	cfg.StreamName = getEnv("STREAM_NAME", cfg.StreamName)
	cfg.IndexName = getEnv("INDEX_NAME", cfg.IndexName)
	cfg.SearchBulkURL = getEnv("SEARCH_BULK_URL", cfg.SearchBulkURL)
	cfg.BucketName = getEnv("ARCHIVE_BUCKET", cfg.BucketName)
	cfg.AssumeRoleARN = getEnv("ASSUME_ROLE_ARN", cfg.AssumeRoleARN)
	cfg.LeaseTable = getEnv("LEASE_TABLE", cfg.LeaseTable)
	cfg.Endpoint = getEnv("AWS_ENDPOINT_URL", cfg.Endpoint)

	return cfg
}

// loadFileOverrides reads and parses path if non-empty and present,
// returning nil (not an error) when there is no file to read — the YAML
// file is strictly optional, with no fixed expectation that one exists.
func loadFileOverrides(path string) *fileOverrides {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var f fileOverrides
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil
	}
	return &f
}

func applyNonEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Describe renders the resolved config as a single-line summary for
// startup logging.
func (c Config) Describe() string {
	return fmt.Sprintf("region=%s stream=%s index=%s bucket=%s lease_table=%s endpoint=%s debug=%v",
		c.Region, c.StreamName, c.IndexName, c.BucketName, c.LeaseTable, c.Endpoint, c.Debug)
}
