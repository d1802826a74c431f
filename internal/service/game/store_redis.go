package game

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dakling/katagollum/internal/domain"
)

const defaultSessionTTL = time.Hour

// Session is everything a web game carries: the record, the move list, and
// the chat transcript. It is stored as one JSON value so a Watch covers the
// whole session.
type Session struct {
	Game  domain.GameRecord   `json:"game"`
	Moves []domain.MoveRecord `json:"moves"`
	Chats []domain.ChatRecord `json:"chats"`
}

type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func (s *SessionStore) keyGame(id int64) string  { return "game:" + strconv.FormatInt(id, 10) }
func (s *SessionStore) keyUUID(u string) string  { return "game:index:uuid:" + u }
func (s *SessionStore) keySeq() string           { return "game:seq" }
func (s *SessionStore) keyAll() string           { return "game:index:all" }

// Create allocates an id, persists the fresh session, and indexes it.
func (s *SessionStore) Create(ctx context.Context, g domain.GameRecord) (*Session, error) {
	id, err := s.rdb.Incr(ctx, s.keySeq()).Result()
	if err != nil {
		return nil, err
	}
	g.ID = id
	now := time.Now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	sess := &Session{Game: g, Moves: []domain.MoveRecord{}, Chats: []domain.ChatRecord{}}
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, s.keyUUID(g.UUID), g.ID, s.ttl).Err(); err != nil {
		return nil, err
	}
	if err := s.rdb.SAdd(ctx, s.keyAll(), g.ID).Err(); err != nil {
		return nil, err
	}
	_ = s.rdb.Expire(ctx, s.keyAll(), s.ttl).Err()
	return sess, nil
}

func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	sess.Game.UpdatedAt = time.Now()
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keyGame(sess.Game.ID), raw, s.ttl).Err(); err != nil {
		return err
	}
	// keep the uuid index alive as long as the session
	_ = s.rdb.Expire(ctx, s.keyUUID(sess.Game.UUID), s.ttl).Err()
	return nil
}

// Load returns nil, nil when the session does not exist or has expired.
func (s *SessionStore) Load(ctx context.Context, id int64) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.keyGame(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) LoadByUUID(ctx context.Context, uuid string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.keyUUID(uuid)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, id)
}

// List returns every live session. Expired ids in the index are skipped.
func (s *SessionStore) List(ctx context.Context) ([]*Session, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyAll()).Result()
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, idStr := range ids {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		sess, _ := s.Load(ctx, id)
		if sess == nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// AppendMove adds a move under Watch so concurrent submissions cannot both
// claim the same move number. A zero MoveNumber is assigned the next slot.
func (s *SessionStore) AppendMove(ctx context.Context, id int64, mv domain.MoveRecord) (*Session, error) {
	key := s.keyGame(id)
	var updated *Session
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		if mv.MoveNumber == 0 {
			mv.MoveNumber = len(sess.Moves) + 1
		}
		if mv.CreatedAt.IsZero() {
			mv.CreatedAt = time.Now()
		}
		sess.Moves = append(sess.Moves, mv)
		sess.Game.UpdatedAt = time.Now()

		newRaw, err := json.Marshal(&sess)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		updated = &sess
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AppendChat adds a transcript entry under Watch.
func (s *SessionStore) AppendChat(ctx context.Context, id int64, msg domain.ChatRecord) (*Session, error) {
	key := s.keyGame(id)
	var updated *Session
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		sess.Chats = append(sess.Chats, msg)
		sess.Game.UpdatedAt = time.Now()

		newRaw, err := json.Marshal(&sess)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		updated = &sess
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkOver finishes the game under Watch and records the result string.
func (s *SessionStore) MarkOver(ctx context.Context, id int64, result string) (*Session, error) {
	key := s.keyGame(id)
	var updated *Session
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		sess.Game.GameOver = true
		sess.Game.Result = result
		sess.Game.UpdatedAt = time.Now()

		newRaw, err := json.Marshal(&sess)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		updated = &sess
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a session and its indexes.
func (s *SessionStore) Delete(ctx context.Context, id int64) error {
	sess, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	if sess != nil {
		_ = s.rdb.Del(ctx, s.keyUUID(sess.Game.UUID)).Err()
	}
	_ = s.rdb.SRem(ctx, s.keyAll(), id).Err()
	return s.rdb.Del(ctx, s.keyGame(id)).Err()
}
