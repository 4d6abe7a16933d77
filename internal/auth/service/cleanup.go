package service

import (
	"context"
	"log"
	"time"
)

// StartCleanup sweeps expired sessions, challenges, and email codes on a
// fixed interval until ctx is done.
//
// Reads already filter on expiry, so the sweep is purely hygienic; a missed
// pass is harmless.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *Service) cleanupExpired(ctx context.Context) {
	now := s.now().UTC()
	if err := s.sessions.DeleteExpiredSessions(ctx, now); err != nil {
		log.Printf("cleanup expired sessions: %v", err)
	}
	if err := s.challenges.DeleteExpiredChallenges(ctx, now); err != nil {
		log.Printf("cleanup expired challenges: %v", err)
	}
	if err := s.emailCodes.DeleteExpiredEmailCodes(ctx, now); err != nil {
		log.Printf("cleanup expired email codes: %v", err)
	}
}
