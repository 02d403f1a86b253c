package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-planning-poker/internal/cache"
)

// cacheAPI is the subset of the DynamoDB client used by CacheStore.
type cacheAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// CacheStore implements cache.Store on a DynamoDB table.
// PK: cache_key. Counters live in the numeric attribute "n", other values in
// the binary attribute "b". expires_at is the table's TTL attribute; since
// DynamoDB deletes expired items lazily, reads also check it.
type CacheStore struct {
	client    cacheAPI
	tableName string
	now       func() time.Time
}

var _ cache.Store = (*CacheStore)(nil)

func NewCacheStore(client *dynamodb.Client, tableName string) *CacheStore {
	return &CacheStore{client: client, tableName: tableName, now: time.Now}
}

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            strKey(fieldCacheKey, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	val, ok := decodeCacheItem(out.Item, s.now())
	return val, ok, nil
}

func (s *CacheStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      encodeCacheItem(key, val, s.deadline(ttl)),
	})
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Incr uses an atomic ADD guarded by a condition that the counter exists and
// has not expired. A failed condition means the key is missing, expired or
// holds a non-numeric value, so it is overwritten with cache.IncrFallback.
func (s *CacheStore) Incr(ctx context.Context, key string, fallbackTTL time.Duration) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 strKey(fieldCacheKey, key),
		UpdateExpression:    aws.String("ADD #n :one"),
		ConditionExpression: aws.String("attribute_exists(#n) AND (attribute_not_exists(#exp) OR #exp > :now)"),
		ExpressionAttributeNames: map[string]string{
			"#n":   fieldCacheCount,
			"#exp": fieldExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err == nil {
		n, ok := out.Attributes[fieldCacheCount].(*types.AttributeValueMemberN)
		if !ok {
			return 0, fmt.Errorf("cache incr %s: counter missing from response", key)
		}
		return strconv.ParseInt(n.Value, 10, 64)
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return 0, fmt.Errorf("cache incr %s: %w", key, err)
	}
	if err := s.Set(ctx, key, []byte(strconv.FormatInt(cache.IncrFallback, 10)), fallbackTTL); err != nil {
		return 0, err
	}
	return cache.IncrFallback, nil
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       strKey(fieldCacheKey, key),
	})
	if err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// deadline returns the Unix expiry for ttl, or 0 for no expiry.
func (s *CacheStore) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).Unix()
}

// encodeCacheItem stores integer values in "n" so Incr can ADD to them.
func encodeCacheItem(key string, val []byte, expiresAt int64) map[string]types.AttributeValue {
	item := strKey(fieldCacheKey, key)
	if _, err := strconv.ParseInt(string(val), 10, 64); err == nil {
		item[fieldCacheCount] = &types.AttributeValueMemberN{Value: string(val)}
	} else {
		item[fieldCacheBlob] = &types.AttributeValueMemberB{Value: val}
	}
	if expiresAt > 0 {
		item[fieldExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)}
	}
	return item
}

func decodeCacheItem(item map[string]types.AttributeValue, now time.Time) ([]byte, bool) {
	if item == nil {
		return nil, false
	}
	if exp, ok := item[fieldExpiresAt].(*types.AttributeValueMemberN); ok {
		if ts, err := strconv.ParseInt(exp.Value, 10, 64); err == nil && now.Unix() >= ts {
			return nil, false
		}
	}
	if n, ok := item[fieldCacheCount].(*types.AttributeValueMemberN); ok {
		return []byte(n.Value), true
	}
	if b, ok := item[fieldCacheBlob].(*types.AttributeValueMemberB); ok {
		return b.Value, true
	}
	return nil, false
}
