package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/pkg/id"
)

// ExportURLTTL is how long an export download link stays valid.
const ExportURLTTL = 15 * time.Minute

type exportDoc struct {
	Code       string        `json:"code"`
	Name       string        `json:"name"`
	CardSet    string        `json:"card_set"`
	ExportedAt time.Time     `json:"exported_at"`
	Stories    []exportStory `json:"stories"`
}

type exportStory struct {
	Title     string            `json:"title"`
	Notes     string            `json:"notes,omitempty"`
	Revealed  bool              `json:"revealed"`
	Consensus string            `json:"consensus"`
	Votes     map[string]string `json:"votes"`
}

func ExportKey(code, exportID string) string {
	return fmt.Sprintf("exports/%s/%s.json", code, exportID)
}

func (s *service) Export(ctx context.Context, sess *domain.Session, room *domain.Room) (string, error) {
	if s.exports == nil {
		return "", fmt.Errorf("export storage not configured: %w", domain.ErrNotFound)
	}
	if _, err := s.requireFacilitator(ctx, sess, room); err != nil {
		return "", err
	}
	snap, _, err := s.state.GetSnapshot(ctx, room)
	if err != nil {
		return "", err
	}

	doc := exportDoc{
		Code:       room.Code,
		Name:       room.Name,
		CardSet:    room.CardSet,
		ExportedAt: s.now().UTC(),
		Stories:    make([]exportStory, 0, len(snap.Stories)),
	}
	for _, sv := range snap.Stories {
		es := exportStory{
			Title:     sv.Story.Title,
			Notes:     sv.Story.Notes,
			Revealed:  sv.Story.Revealed,
			Consensus: sv.Story.ConsensusValue,
			Votes:     make(map[string]string, len(sv.Votes)),
		}
		// Hidden votes stay hidden in the export too.
		if sv.Story.Revealed {
			for _, v := range sv.Votes {
				es.Votes[v.DisplayName] = v.Value
			}
		}
		doc.Stories = append(doc.Stories, es)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}

	key := ExportKey(room.Code, id.New())
	if _, err := s.exports.PutJSON(ctx, key, data); err != nil {
		return "", err
	}
	url, err := s.exports.PresignedURL(ctx, key, ExportURLTTL)
	if err != nil {
		return "", err
	}
	slog.Info("room exported", "room_id", room.RoomID, "key", key)
	return url, nil
}
