package game

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dakling/katagollum/internal/domain"
)

// memrepo is a development-only in-memory archiver used when no DB is
// configured.
type memrepo struct {
	mu sync.RWMutex

	byUUID map[string]archivedGame
}

type archivedGame struct {
	game  domain.GameRecord
	moves []domain.MoveRecord
	chats []domain.ChatRecord
	sgf   string
}

func NewMemoryArchiver() Archiver {
	return &memrepo{byUUID: make(map[string]archivedGame)}
}

func (m *memrepo) SaveResult(ctx context.Context, sess *Session, method string) error {
	if sess == nil {
		return nil
	}
	key := strings.TrimSpace(sess.Game.UUID)
	if key == "" {
		return nil
	}

	entry := archivedGame{
		game:  sess.Game,
		moves: append([]domain.MoveRecord(nil), sess.Moves...),
		chats: append([]domain.ChatRecord(nil), sess.Chats...),
		sgf:   BuildSGF(&sess.Game, sess.Moves),
	}

	m.mu.Lock()
	m.byUUID[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *memrepo) RecentGames(ctx context.Context, limit int) ([]domain.GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]domain.GameRecord, 0, len(m.byUUID))
	for _, e := range m.byUUID {
		g := e.game
		g.GameOver = true
		items = append(items, g)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// SGF returns the archived record for a game, empty when unknown.
func (m *memrepo) SGF(uuid string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byUUID[strings.TrimSpace(uuid)].sgf
}

func (m *memrepo) Close() error { return nil }
