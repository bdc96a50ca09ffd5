// Package streamadapter implements the stream adapter (C2, §4.2): shard
// enumeration, iterator acquisition and record batch fetches against
// Amazon Kinesis.
package streamadapter

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/sirupsen/logrus"

	"shardconsumer/internal/lease"
)

// KinesisAPI is the subset of the Kinesis client this adapter needs,
// following the same scoped-interface convention as lease.DynamoDBAPI.
type KinesisAPI interface {
	DescribeStream(ctx context.Context, params *kinesis.DescribeStreamInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, params *kinesis.GetShardIteratorInput, optFns ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, params *kinesis.GetRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error)
}

// Iterator is an opaque continuation handle for Fetch.
type Iterator string

// Adapter is the stream adapter (C2).
type Adapter struct {
	api        KinesisAPI
	streamName string
	log        *logrus.Logger
}

// NewAdapter builds an Adapter for the given stream.
func NewAdapter(api KinesisAPI, streamName string, log *logrus.Logger) *Adapter {
	return &Adapter{api: api, streamName: streamName, log: log}
}

// EnumerateShards pages through DescribeStream until has-more-shards is
// false, using the last shard of each page as the next page's exclusive
// start (§4.2). Returns nil on any error.
func (a *Adapter) EnumerateShards(ctx context.Context) []lease.ShardID {
	var shardIDs []lease.ShardID
	var exclusiveStart *string

	for {
		out, err := a.api.DescribeStream(ctx, &kinesis.DescribeStreamInput{
			StreamName:            aws.String(a.streamName),
			ExclusiveStartShardId: exclusiveStart,
		})
		if err != nil {
			a.log.WithError(err).Error("stream adapter: describe stream failed")
			return nil
		}

		shards := out.StreamDescription.Shards
		for _, s := range shards {
			shardIDs = append(shardIDs, lease.ShardID(aws.ToString(s.ShardId)))
		}

		if !out.StreamDescription.HasMoreShards || len(shards) == 0 {
			break
		}
		exclusiveStart = shards[len(shards)-1].ShardId
	}

	return shardIDs
}

// OpenIterator positions an iterator for shardID. If seq is non-empty the
// iterator starts AFTER that sequence number; otherwise it starts at the
// trim horizon.
func (a *Adapter) OpenIterator(ctx context.Context, shardID lease.ShardID, seq lease.SequenceNumber) (Iterator, error) {
	input := &kinesis.GetShardIteratorInput{
		ShardId:    aws.String(string(shardID)),
		StreamName: aws.String(a.streamName),
	}

	if seq != "" {
		input.ShardIteratorType = types.ShardIteratorTypeAfterSequenceNumber
		input.StartingSequenceNumber = aws.String(string(seq))
	} else {
		input.ShardIteratorType = types.ShardIteratorTypeTrimHorizon
	}

	out, err := a.api.GetShardIterator(ctx, input)
	if err != nil {
		return "", err
	}
	return Iterator(aws.ToString(out.ShardIterator)), nil
}

// Fetch pulls up to limit records from iter, returning the batch and a
// continuation iterator. An empty continuation means the shard is
// exhausted.
func (a *Adapter) Fetch(ctx context.Context, iter Iterator, limit int32) ([]lease.Record, Iterator, error) {
	out, err := a.api.GetRecords(ctx, &kinesis.GetRecordsInput{
		ShardIterator: aws.String(string(iter)),
		Limit:         aws.Int32(limit),
	})
	if err != nil {
		return nil, "", err
	}

	records := make([]lease.Record, 0, len(out.Records))
	for _, r := range out.Records {
		records = append(records, lease.Record{
			SequenceNumber: lease.SequenceNumber(aws.ToString(r.SequenceNumber)),
			Data:           r.Data,
		})
	}

	return records, Iterator(aws.ToString(out.NextShardIterator)), nil
}
