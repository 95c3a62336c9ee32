package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tessera/internal/crdt"
)

// Replay loads a room's update log into doc and returns the number of
// updates replayed. The doc's own updates restore its local seq, so new
// local updates continue after the logged ones.
func (s *Store) Replay(ctx context.Context, room string, doc *crdt.Doc) (int, error) {
	updates, err := s.ReadUpdates(ctx, room)
	if err != nil {
		return 0, fmt.Errorf("replay %s: %w", room, err)
	}
	if err := doc.Load(updates); err != nil {
		return 0, fmt.Errorf("replay %s: %w", room, err)
	}
	slog.Debug("replayed update log",
		"room", room,
		"updates", len(updates),
		"actor", doc.Actor())
	return len(updates), nil
}
