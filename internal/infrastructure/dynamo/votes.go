package dynamo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-planning-poker/internal/domain"
)

// VoteRepo stores one vote per (story, participant).
// PK: room_id, SK: vote_key ("{story_id}#{participant_id}"), so a second Put
// for the same pair overwrites the first and a room's votes are one
// partition.
type VoteRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewVoteRepo(client *dynamodb.Client, tableName string) *VoteRepo {
	return &VoteRepo{client: client, tableName: tableName}
}

func voteKey(storyID, participantID string) string {
	return storyID + "#" + participantID
}

func voteItem(v *domain.Vote) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("marshal vote: %w", err)
	}
	item[fieldVoteKey] = &types.AttributeValueMemberS{Value: voteKey(v.StoryID, v.ParticipantID)}
	return item, nil
}

// Put upserts the vote for v.StoryID and v.ParticipantID.
func (r *VoteRepo) Put(ctx context.Context, v *domain.Vote) error {
	item, err := voteItem(v)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *VoteRepo) ListByStory(ctx context.Context, roomID, storyID string) ([]domain.Vote, error) {
	return queryAll[domain.Vote](ctx, r.client, roomQuery(r.tableName, roomID, fieldVoteKey, voteKey(storyID, "")))
}

func (r *VoteRepo) ListByRoom(ctx context.Context, roomID string) ([]domain.Vote, error) {
	return queryAll[domain.Vote](ctx, r.client, roomQuery(r.tableName, roomID, "", ""))
}

func (r *VoteRepo) Delete(ctx context.Context, roomID, storyID, participantID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(fieldRoomID, roomID, fieldVoteKey, voteKey(storyID, participantID)),
	})
	return err
}

// DeleteByStory removes every vote on a story. It keeps going on individual
// failures and returns the first one.
func (r *VoteRepo) DeleteByStory(ctx context.Context, roomID, storyID string) error {
	votes, err := r.ListByStory(ctx, roomID, storyID)
	if err != nil {
		return err
	}
	return r.deleteAll(ctx, roomID, votes)
}

// DeleteByParticipant removes a participant's votes within a room.
func (r *VoteRepo) DeleteByParticipant(ctx context.Context, roomID, participantID string) error {
	votes, err := r.ListByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	var mine []domain.Vote
	for _, v := range votes {
		if v.ParticipantID == participantID {
			mine = append(mine, v)
		}
	}
	return r.deleteAll(ctx, roomID, mine)
}

func (r *VoteRepo) deleteAll(ctx context.Context, roomID string, votes []domain.Vote) error {
	var firstErr error
	for _, v := range votes {
		if err := r.Delete(ctx, roomID, v.StoryID, v.ParticipantID); err != nil {
			slog.Warn("failed to delete vote", "room_id", roomID, "story_id", v.StoryID, "participant_id", v.ParticipantID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
