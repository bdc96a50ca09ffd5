package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

// shardIDAttr, ownerIDAttr etc. name the table's attributes (§6.5).
const (
	shardIDAttr     = "shard_id"
	ownerIDAttr     = "owner_id"
	seqNumberAttr   = "sequence_number"
	ownerSwitchAttr = "number_of_owners_switched"
)

// DynamoDBAPI is the subset of the DynamoDB client the store adapter uses.
// Scoping the interface to just these methods (rather than depending on
// *dynamodb.Client directly) is what lets Store be tested against a
// hand-written fake with no mocking framework.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store is the coordination store adapter (C1, §4.1). Every method is
// synchronous and idempotent on failure: failures return absence/false
// rather than partially committing.
type Store struct {
	api       DynamoDBAPI
	tableName string
	log       *logrus.Logger
}

// NewStore builds a Store bound to the given DynamoDB table.
func NewStore(api DynamoDBAPI, tableName string, log *logrus.Logger) *Store {
	return &Store{api: api, tableName: tableName, log: log}
}

// Read returns the Lease for shardID, or nil if it is missing or the read
// failed. Callers cannot distinguish the two cases (§4.1).
func (s *Store) Read(ctx context.Context, shardID ShardID) *Lease {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			shardIDAttr: &types.AttributeValueMemberS{Value: string(shardID)},
		},
	})
	if err != nil {
		s.log.WithError(err).WithField("shard_id", shardID).Warn("lease store: read failed")
		return nil
	}
	if out.Item == nil {
		return nil
	}
	return itemToLease(shardID, out.Item)
}

// Insert unconditionally writes a new Lease with owner set, no checkpoint,
// and counter = 1. Returns whether the write succeeded.
func (s *Store) Insert(ctx context.Context, shardID ShardID, owner WorkerID) bool {
	item := map[string]types.AttributeValue{
		shardIDAttr:     &types.AttributeValueMemberS{Value: string(shardID)},
		ownerIDAttr:     &types.AttributeValueMemberS{Value: string(owner)},
		ownerSwitchAttr: &types.AttributeValueMemberN{Value: "1"},
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		s.log.WithError(err).WithField("shard_id", shardID).Warn("lease store: insert failed")
		return false
	}
	return true
}

// InsertIfAbsent closes the race on a never-before-seen shard: it uses a
// condition expression instead of Insert's unconditional PutItem.
func (s *Store) InsertIfAbsent(ctx context.Context, shardID ShardID, owner WorkerID) bool {
	item := map[string]types.AttributeValue{
		shardIDAttr:     &types.AttributeValueMemberS{Value: string(shardID)},
		ownerIDAttr:     &types.AttributeValueMemberS{Value: string(owner)},
		ownerSwitchAttr: &types.AttributeValueMemberN{Value: "1"},
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String(fmt.Sprintf("attribute_not_exists(%s)", shardIDAttr)),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false
		}
		s.log.WithError(err).WithField("shard_id", shardID).Warn("lease store: conditional insert failed")
		return false
	}
	return true
}

// ClaimIfUnowned performs the compare-and-set ownership transfer: it
// succeeds only if the stored owner_id is missing or null, in which case it
// sets owner_id and increments the switch counter atomically.
func (s *Store) ClaimIfUnowned(ctx context.Context, shardID ShardID, newOwner WorkerID) bool {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			shardIDAttr: &types.AttributeValueMemberS{Value: string(shardID)},
		},
		UpdateExpression:    aws.String(fmt.Sprintf("SET %s = :owner, %s = if_not_exists(%s, :zero) + :incr", ownerIDAttr, ownerSwitchAttr, ownerSwitchAttr)),
		ConditionExpression: aws.String(fmt.Sprintf("attribute_not_exists(%s) OR %s = :nullval", ownerIDAttr, ownerIDAttr)),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner":   &types.AttributeValueMemberS{Value: string(newOwner)},
			":incr":    &types.AttributeValueMemberN{Value: "1"},
			":zero":    &types.AttributeValueMemberN{Value: "0"},
			":nullval": &types.AttributeValueMemberNULL{Value: true},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false
		}
		s.log.WithError(err).WithField("shard_id", shardID).Warn("lease store: claim failed")
		return false
	}
	return true
}

// Checkpoint unconditionally advances the lease's sequence_number. No owner
// check is performed at the store layer; a lost-ownership race is caught
// by the reader's periodic ValidateOwnership, not by this write.
func (s *Store) Checkpoint(ctx context.Context, shardID ShardID, seq SequenceNumber) bool {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			shardIDAttr: &types.AttributeValueMemberS{Value: string(shardID)},
		},
		UpdateExpression: aws.String(fmt.Sprintf("SET %s = :seq", seqNumberAttr)),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":seq": &types.AttributeValueMemberS{Value: string(seq)},
		},
	})
	if err != nil {
		s.log.WithError(err).WithField("shard_id", shardID).Warn("lease store: checkpoint failed")
		return false
	}
	return true
}

// ReleaseOwner unconditionally clears the lease's owner_id. Errors are
// logged and swallowed (§4.1).
func (s *Store) ReleaseOwner(ctx context.Context, shardID ShardID) {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			shardIDAttr: &types.AttributeValueMemberS{Value: string(shardID)},
		},
		UpdateExpression: aws.String(fmt.Sprintf("REMOVE %s", ownerIDAttr)),
	})
	if err != nil {
		s.log.WithError(err).WithField("shard_id", shardID).Warn("lease store: release failed")
	}
}

func itemToLease(shardID ShardID, item map[string]types.AttributeValue) *Lease {
	lease := &Lease{ShardID: shardID}

	if v, ok := item[ownerIDAttr]; ok {
		if s, ok := v.(*types.AttributeValueMemberS); ok && s.Value != "" {
			owner := WorkerID(s.Value)
			lease.OwnerID = &owner
		}
	}

	if v, ok := item[seqNumberAttr]; ok {
		if s, ok := v.(*types.AttributeValueMemberS); ok && s.Value != "" {
			seq := SequenceNumber(s.Value)
			lease.SequenceNumber = &seq
		}
	}

	if v, ok := item[ownerSwitchAttr]; ok {
		if n, ok := v.(*types.AttributeValueMemberN); ok {
			if parsed, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
				lease.NumberOfOwnersSwitched = parsed
			}
		}
	}

	return lease
}
