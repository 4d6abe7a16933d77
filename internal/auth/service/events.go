package service

import (
	"context"
	"log"

	"github.com/keyfold/keyfold/internal/auth/event"
)

// logEvent appends one audit record. Appends are best effort: a failed write
// never blocks the auth decision it describes.
func (s *Service) logEvent(ctx context.Context, userID string, eventType event.Type, detail event.Detail) {
	details, err := event.EncodeDetail(detail)
	if err != nil {
		log.Printf("encode %s event detail: %v", eventType, err)
		return
	}
	record := event.Event{
		UserID:    userID,
		Type:      eventType,
		Details:   details,
		CreatedAt: s.now().UTC(),
	}
	if err := s.events.AppendEvent(ctx, record); err != nil {
		log.Printf("append %s event: %v", eventType, err)
	}
}
