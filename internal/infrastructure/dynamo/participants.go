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

// ParticipantRepo manages room members.
// PK: room_id, SK: participant_id.
type ParticipantRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewParticipantRepo(client *dynamodb.Client, tableName string) *ParticipantRepo {
	return &ParticipantRepo{client: client, tableName: tableName}
}

func (r *ParticipantRepo) Put(ctx context.Context, p *domain.Participant) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *ParticipantRepo) Get(ctx context.Context, roomID, participantID string) (*domain.Participant, error) {
	p, ok, err := getOne[domain.Participant](ctx, r.client, roomItem(r.tableName, roomID, fieldParticipantID, participantID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("participant not found: %w", domain.ErrNotFound)
	}
	return p, nil
}

// ListByRoom returns members in join order.
func (r *ParticipantRepo) ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error) {
	ps, err := queryAll[domain.Participant](ctx, r.client, roomQuery(r.tableName, roomID, "", ""))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].JoinedAt.Before(ps[j].JoinedAt) })
	return ps, nil
}

func (r *ParticipantRepo) Delete(ctx context.Context, roomID, participantID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(fieldRoomID, roomID, fieldParticipantID, participantID),
	})
	return err
}
