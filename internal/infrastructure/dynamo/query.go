package dynamo

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// roomQuery selects a room's items from a table partitioned by room_id.
// When skPrefix is set only items whose sort key sk starts with it match.
// Reads are strongly consistent so a write is visible to the next query.
func roomQuery(table, roomID, sk, skPrefix string) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": fieldRoomID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: roomID},
		},
		ConsistentRead: aws.Bool(true),
	}
	if skPrefix != "" {
		in.KeyConditionExpression = aws.String("#pk = :pk AND begins_with(#sk, :sk)")
		in.ExpressionAttributeNames["#sk"] = sk
		in.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: skPrefix}
	}
	return in
}

// roomItem builds a strongly consistent GetItem for one item of a
// room-partitioned table.
func roomItem(table, roomID, sk, skValue string) *dynamodb.GetItemInput {
	return &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            compositeKey(fieldRoomID, roomID, sk, skValue),
		ConsistentRead: aws.Bool(true),
	}
}

// queryAll runs in, following pagination, and unmarshals into T.
func queryAll[T any](ctx context.Context, client *dynamodb.Client, in *dynamodb.QueryInput) ([]T, error) {
	var items []T
	p := dynamodb.NewQueryPaginator(client, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var page []T
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		items = append(items, page...)
	}
	return items, nil
}

// getOne fetches a single item. A missing item is reported as found=false.
func getOne[T any](ctx context.Context, client *dynamodb.Client, in *dynamodb.GetItemInput) (*T, bool, error) {
	out, err := client.GetItem(ctx, in)
	if err != nil {
		return nil, false, err
	}
	if out.Item == nil {
		return nil, false, nil
	}
	var v T
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, false, err
	}
	return &v, true, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return err != nil && errors.As(err, &ccf)
}

// isTxConditionFailed reports whether a transaction was cancelled because
// one of its condition checks failed.
func isTxConditionFailed(err error) bool {
	var tce *types.TransactionCanceledException
	if err == nil || !errors.As(err, &tce) {
		return false
	}
	for _, r := range tce.CancellationReasons {
		if aws.ToString(r.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}
