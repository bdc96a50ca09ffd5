package lease

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamoDB is a minimal, hand-written stand-in for the real DynamoDB
// client, scoped to exactly the conditional-write semantics Store relies
// on — a small, purpose-built test double rather than a generated mock.
type fakeDynamoDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Key[shardIDAttr].(*types.AttributeValueMemberS).Value
	item, ok := f.items[key]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Item[shardIDAttr].(*types.AttributeValueMemberS).Value

	if aws.ToString(in.ConditionExpression) != "" {
		if _, exists := f.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	f.items[key] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Key[shardIDAttr].(*types.AttributeValueMemberS).Value
	item, exists := f.items[key]
	if !exists {
		item = map[string]types.AttributeValue{
			shardIDAttr: &types.AttributeValueMemberS{Value: key},
		}
	}

	cond := aws.ToString(in.ConditionExpression)
	if cond != "" {
		owner, hasOwner := item[ownerIDAttr]
		_, ownerIsNull := owner.(*types.AttributeValueMemberNULL)
		if hasOwner && !ownerIsNull {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	update := aws.ToString(in.UpdateExpression)
	switch update {
	case "SET owner_id = :owner, number_of_owners_switched = if_not_exists(number_of_owners_switched, :zero) + :incr":
		item[ownerIDAttr] = in.ExpressionAttributeValues[":owner"]
		cur := int64(0)
		if n, ok := item[ownerSwitchAttr].(*types.AttributeValueMemberN); ok {
			cur, _ = strconv.ParseInt(n.Value, 10, 64)
		}
		item[ownerSwitchAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(cur+1, 10)}
	case "SET sequence_number = :seq":
		item[seqNumberAttr] = in.ExpressionAttributeValues[":seq"]
	case "REMOVE owner_id":
		delete(item, ownerIDAttr)
	}

	f.items[key] = item
	return &dynamodb.UpdateItemOutput{}, nil
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
