package dynamo

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-planning-poker/internal/domain"
)

// StoryRepo manages stories. PK: room_id, SK: story_id.
type StoryRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewStoryRepo(client *dynamodb.Client, tableName string) *StoryRepo {
	return &StoryRepo{client: client, tableName: tableName}
}

func (r *StoryRepo) Put(ctx context.Context, s *domain.Story) error {
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return fmt.Errorf("marshal story: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *StoryRepo) Get(ctx context.Context, roomID, storyID string) (*domain.Story, error) {
	s, ok, err := getOne[domain.Story](ctx, r.client, roomItem(r.tableName, roomID, fieldStoryID, storyID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("story not found: %w", domain.ErrNotFound)
	}
	return s, nil
}

// ListByRoom returns a room's stories in creation order.
func (r *StoryRepo) ListByRoom(ctx context.Context, roomID string) ([]domain.Story, error) {
	stories, err := queryAll[domain.Story](ctx, r.client, roomQuery(r.tableName, roomID, "", ""))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(stories, func(i, j int) bool { return stories[i].CreatedAt.Before(stories[j].CreatedAt) })
	return stories, nil
}

func (r *StoryRepo) Update(ctx context.Context, roomID, storyID string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldRoomID, roomID, fieldStoryID, storyID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ConditionExpression:       aws.String("attribute_exists(story_id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("story not found: %w", domain.ErrNotFound)
	}
	return err
}

func (r *StoryRepo) SetRevealed(ctx context.Context, roomID, storyID string, revealed bool) error {
	return r.Update(ctx, roomID, storyID, map[string]interface{}{fieldRevealed: revealed})
}

func (r *StoryRepo) SetConsensus(ctx context.Context, roomID, storyID, value string) error {
	return r.Update(ctx, roomID, storyID, map[string]interface{}{fieldConsensusValue: value})
}

// ResetRound clears the revealed flag and consensus value.
func (r *StoryRepo) ResetRound(ctx context.Context, roomID, storyID string) error {
	return r.Update(ctx, roomID, storyID, map[string]interface{}{
		fieldRevealed:       false,
		fieldConsensusValue: "",
	})
}

func (r *StoryRepo) Delete(ctx context.Context, roomID, storyID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(fieldRoomID, roomID, fieldStoryID, storyID),
	})
	return err
}
