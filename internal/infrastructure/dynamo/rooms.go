package dynamo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-planning-poker/internal/domain"
)

// RoomRepo provides typed DynamoDB operations for the rooms table.
// PK: room_id. The public code is claimed in a second table (PK: code)
// written in the same transaction, so codes are unique and resolving one
// is a consistent point read.
type RoomRepo struct {
	client     *dynamodb.Client
	tableName  string
	codesTable string
}

func NewRoomRepo(client *dynamodb.Client, tableName, codesTable string) *RoomRepo {
	return &RoomRepo{client: client, tableName: tableName, codesTable: codesTable}
}

type roomCode struct {
	Code   string `dynamodbav:"code"`
	RoomID string `dynamodbav:"room_id"`
}

// createRoomTx writes the room and claims its code, both only if absent.
func createRoomTx(roomsTable, codesTable string, room *domain.Room) (*dynamodb.TransactWriteItemsInput, error) {
	item, err := attributevalue.MarshalMap(room)
	if err != nil {
		return nil, fmt.Errorf("marshal room: %w", err)
	}
	claim, err := attributevalue.MarshalMap(roomCode{Code: room.Code, RoomID: room.RoomID})
	if err != nil {
		return nil, fmt.Errorf("marshal room code: %w", err)
	}
	return &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(roomsTable),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(room_id)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(codesTable),
				Item:                claim,
				ConditionExpression: aws.String("attribute_not_exists(code)"),
			}},
		},
	}, nil
}

// Create inserts a room, failing with ErrConflict when the id or the code
// is taken.
func (r *RoomRepo) Create(ctx context.Context, room *domain.Room) error {
	in, err := createRoomTx(r.tableName, r.codesTable, room)
	if err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, in)
	if isTxConditionFailed(err) {
		return fmt.Errorf("room %s / code %s exists: %w", room.RoomID, room.Code, domain.ErrConflict)
	}
	return err
}

func (r *RoomRepo) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	room, ok, err := getOne[domain.Room](ctx, r.client, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldRoomID, roomID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("room not found: %w", domain.ErrNotFound)
	}
	return room, nil
}

func (r *RoomRepo) GetByCode(ctx context.Context, code string) (*domain.Room, error) {
	claim, ok, err := getOne[roomCode](ctx, r.client, &dynamodb.GetItemInput{
		TableName:      aws.String(r.codesTable),
		Key:            strKey(fieldCode, code),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("room %s not found: %w", code, domain.ErrNotFound)
	}
	return r.Get(ctx, claim.RoomID)
}

// ListRecent returns up to limit rooms, newest first.
func (r *RoomRepo) ListRecent(ctx context.Context, limit int) ([]domain.Room, error) {
	var rooms []domain.Room
	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
	})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var page []domain.Room
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		rooms = append(rooms, page...)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
	if limit > 0 && len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

func (r *RoomRepo) Update(ctx context.Context, roomID string, updates map[string]interface{}) error {
	updates[fieldUpdatedAt] = time.Now().UTC()
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldRoomID, roomID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ConditionExpression:       aws.String("attribute_exists(room_id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("room not found: %w", domain.ErrNotFound)
	}
	return err
}

func (r *RoomRepo) Rename(ctx context.Context, roomID, name string) error {
	return r.Update(ctx, roomID, map[string]interface{}{fieldName: name})
}

func (r *RoomRepo) SetJira(ctx context.Context, roomID string, j domain.JiraSettings) error {
	return r.Update(ctx, roomID, map[string]interface{}{fieldJira: j})
}

// Delete removes the room and releases its code.
func (r *RoomRepo) Delete(ctx context.Context, roomID, code string) error {
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{TableName: aws.String(r.tableName), Key: strKey(fieldRoomID, roomID)}},
			{Delete: &types.Delete{TableName: aws.String(r.codesTable), Key: strKey(fieldCode, code)}},
		},
	})
	return err
}
