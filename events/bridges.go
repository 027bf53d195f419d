package events

import (
	"context"
	"fmt"

	"github.com/Dosada05/format-engine/brackets"
	"github.com/Dosada05/format-engine/models"
	"github.com/Dosada05/format-engine/notify"
)

// TournamentRoom is the websocket room for one tournament's live viewers.
func TournamentRoom(tournamentID int) string {
	return fmt.Sprintf("tournament_%d", tournamentID)
}

// HubBridge pushes completion events to live bracket viewers over the
// tournament's websocket room.
type HubBridge struct {
	Hub *brackets.Hub
}

func (b *HubBridge) Name() string { return "websocket" }

func (b *HubBridge) HandleMatchCompleted(_ context.Context, event models.MatchCompletedEvent) error {
	room := TournamentRoom(event.TournamentID)
	b.Hub.BroadcastToRoom(room, brackets.HubMessage{
		Type:    "MATCH_COMPLETED",
		RoomID:  room,
		Payload: event,
	})
	return nil
}

func (b *HubBridge) HandleStageCompleted(_ context.Context, event models.StageCompletedEvent) error {
	room := TournamentRoom(event.TournamentID)
	b.Hub.BroadcastToRoom(room, brackets.HubMessage{
		Type:    "STAGE_COMPLETED",
		RoomID:  room,
		Payload: event,
	})
	return nil
}

// NotifierBridge mails both sides of a finalized match.
type NotifierBridge struct {
	Notifier notify.Notifier
}

func (b *NotifierBridge) Name() string { return "notifier" }

func (b *NotifierBridge) HandleMatchCompleted(ctx context.Context, event models.MatchCompletedEvent) error {
	data := map[string]interface{}{
		"match_id": event.MatchID,
		"stage_id": event.StageID,
	}
	if err := b.Notifier.Notify(ctx, event.WinnerID, notify.TemplateMatchFinalized, data); err != nil {
		return err
	}
	if event.LoserID != nil {
		return b.Notifier.Notify(ctx, *event.LoserID, notify.TemplateMatchFinalized, data)
	}
	return nil
}

func (b *NotifierBridge) HandleStageCompleted(_ context.Context, _ models.StageCompletedEvent) error {
	// Stage closure is broadcast to viewers only; no per-participant mail.
	return nil
}
