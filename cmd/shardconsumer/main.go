// Command shardconsumer runs the distributed shard consumer: it owns
// shards over a DynamoDB coordination store, reads them from Kinesis, ships
// batches to S3 and a search backend, and reaps shards nobody is making
// progress on. See SPEC_FULL.md for the full component design.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/sirupsen/logrus"

	"shardconsumer/internal/config"
	"shardconsumer/internal/lease"
	"shardconsumer/internal/logging"
	"shardconsumer/internal/reader"
	"shardconsumer/internal/reaper"
	"shardconsumer/internal/sink"
	"shardconsumer/internal/streamadapter"
	"shardconsumer/internal/worker"
)

func main() {
	debug := hasArg(os.Args[1:], "debug")
	log := logging.New(debug)

	cfg := config.Load(debug)
	log.WithField("config", cfg.Describe()).Info("shardconsumer: starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serveHealth(log)

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("shardconsumer: failed to load AWS config")
	}

	store := lease.NewStore(dynamodb.NewFromConfig(awsCfg), cfg.LeaseTable, log)
	manager := lease.NewManager(store)

	stream := streamadapter.NewAdapter(kinesis.NewFromConfig(awsCfg), cfg.StreamName, log)
	shipper := sink.NewAdapter(s3.NewFromConfig(awsCfg), http.DefaultClient, cfg.BucketName, cfg.SearchBulkURL, cfg.IndexName, log)

	shardReader := reader.New(manager, stream, shipper, log)
	idleReaper := reaper.New(manager, config.IdleReaperWindow*time.Second, log)
	supervisor := worker.New(stream, idleReaper, shardReader, config.WorkerPoolSize, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shardconsumer: shutting down")
		cancel()
	}()

	supervisor.Run(ctx)
}

// loadAWSConfig builds the shared AWS config, assuming cfg.AssumeRoleARN
// via STS when set, and pointing the SDK at a local endpoint (e.g.
// LocalStack) when cfg.Endpoint is set.
func loadAWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(_, region string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true, SigningRegion: region}, nil
			}),
		))
	}

	base, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load default aws config: %w", err)
	}

	if cfg.AssumeRoleARN == "" {
		return base, nil
	}

	stsClient := sts.NewFromConfig(base)
	base.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN))
	return base, nil
}

// serveHealth serves the liveness endpoint.
func serveHealth(log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"UP"}`)
	})

	log.Info("shardconsumer: health endpoint listening on :8080")
	if err := http.ListenAndServe(":8080", mux); err != nil {
		log.WithError(err).Warn("shardconsumer: health server stopped")
	}
}

func hasArg(args []string, token string) bool {
	for _, a := range args {
		if a == token {
			return true
		}
	}
	return false
}
