// Package sink implements the twin-sink shipping step (C3, §4.3): archival
// to S3 followed by a bulk-index POST to the search backend. Archival must
// succeed before search is attempted — archival is the durable ground
// truth; the search backend is only a view (§4.3).
package sink

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"shardconsumer/internal/lease"
)

// S3API is the subset of the S3 client this adapter needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// HTTPClient is the subset of net/http's Client this adapter needs,
// narrowed to a single method so tests can substitute a fake transport
// without standing up a real listener.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Clock abstracts time.Now so tests can pin the hour bucket and UUID used
// in the wire format and the archival key.
type Clock func() time.Time

// UUIDGen abstracts UUID generation for the same reason.
type UUIDGen func() string

// Adapter is the sink adapter (C3).
type Adapter struct {
	s3         S3API
	httpClient HTTPClient
	bucket     string
	searchURL  string
	indexName  string
	log        *logrus.Logger

	now  Clock
	uuid UUIDGen

	archivalRetrySleep time.Duration
	searchRetrySleep   time.Duration
	searchMaxRetries   int
}

// NewAdapter builds a sink Adapter. indexName is the fixed `<index>` token
// used in the bulk wire format (§6.3).
func NewAdapter(s3Client S3API, httpClient HTTPClient, bucket, searchURL, indexName string, log *logrus.Logger) *Adapter {
	return &Adapter{
		s3:                 s3Client,
		httpClient:         httpClient,
		bucket:             bucket,
		searchURL:          searchURL,
		indexName:          indexName,
		log:                log,
		now:                time.Now,
		uuid:               func() string { return uuid.NewString() },
		archivalRetrySleep: time.Second,
		searchRetrySleep:   time.Second,
		searchMaxRetries:   5,
	}
}

// ShipBatch performs the two-stage push described in §4.3. It returns true
// iff both stages succeeded within their retry budgets. An empty batch is
// still shipped (an empty bulk buffer is a legal, if pointless, archival
// object) — callers in the shard reader only invoke ShipBatch for
// non-empty batches, per §4.5.
func (a *Adapter) ShipBatch(ctx context.Context, records []lease.Record) bool {
	buf := BuildBulkBuffer(a.indexName, records, a.now())

	a.archiveForever(ctx, buf)
	return a.postToSearch(ctx, buf)
}

// archiveForever retries the S3 PutObject indefinitely, sleeping between
// attempts: archival is the durable ground truth, so it never gives up.
func (a *Adapter) archiveForever(ctx context.Context, buf []byte) {
	key := archivalKey(a.now(), a.uuid())

	for {
		_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(buf),
		})
		if err == nil {
			return
		}

		a.log.WithError(err).WithField("key", key).Warn("sink: archival attempt failed, retrying")
		sleepOrDone(ctx, a.archivalRetrySleep)
		if ctx.Err() != nil {
			return
		}
	}
}

// postToSearch POSTs buf to the bulk-index endpoint, retrying up to
// searchMaxRetries times before reporting failure.
func (a *Adapter) postToSearch(ctx context.Context, buf []byte) bool {
	for attempt := 0; attempt <= a.searchMaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.searchURL, bytes.NewReader(buf))
		if err != nil {
			a.log.WithError(err).Error("sink: failed to build bulk-index request")
			return false
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if resp.Body != nil {
				resp.Body.Close()
			}
			return true
		}

		if err == nil {
			a.log.WithField("status", resp.StatusCode).Warn("sink: bulk-index POST returned non-2xx, retrying")
			if resp.Body != nil {
				resp.Body.Close()
			}
		} else {
			a.log.WithError(err).Warn("sink: bulk-index POST failed, retrying")
		}

		if attempt == a.searchMaxRetries {
			break
		}
		sleepOrDone(ctx, a.searchRetrySleep)
		if ctx.Err() != nil {
			return false
		}
	}

	return false
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
