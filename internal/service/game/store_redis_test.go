package game

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dakling/katagollum/internal/domain"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSessionStore(rdb, time.Minute), mr
}

func TestSessionCreateAndLoad(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, domain.GameRecord{
		UUID:      "abc-123",
		BoardSize: 19,
		Komi:      7.5,
		UserColor: "B",
		Persona:   "sarcastic",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Game.ID == 0 {
		t.Fatalf("expected allocated id")
	}

	got, err := store.Load(ctx, sess.Game.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatalf("expected session")
	}
	if got.Game.UUID != "abc-123" || got.Game.Komi != 7.5 {
		t.Fatalf("unexpected record: %+v", got.Game)
	}

	byUUID, err := store.LoadByUUID(ctx, "abc-123")
	if err != nil {
		t.Fatalf("LoadByUUID: %v", err)
	}
	if byUUID == nil || byUUID.Game.ID != sess.Game.ID {
		t.Fatalf("uuid index mismatch: %+v", byUUID)
	}
}

func TestSessionLoadMissing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Load(ctx, 999)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil for missing session, got %+v", sess)
	}
}

func TestSessionIDsAreSequential(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, domain.GameRecord{UUID: "a"})
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := store.Create(ctx, domain.GameRecord{UUID: "b"})
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if b.Game.ID != a.Game.ID+1 {
		t.Fatalf("expected sequential ids, got %d then %d", a.Game.ID, b.Game.ID)
	}
}

func TestAppendMoveNumbersMoves(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, domain.GameRecord{UUID: "g1", BoardSize: 19})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sess, err = store.AppendMove(ctx, sess.Game.ID, domain.MoveRecord{Color: "B", Coordinate: "D4"})
	if err != nil {
		t.Fatalf("AppendMove#1: %v", err)
	}
	sess, err = store.AppendMove(ctx, sess.Game.ID, domain.MoveRecord{Color: "W", Coordinate: "Q16"})
	if err != nil {
		t.Fatalf("AppendMove#2: %v", err)
	}

	if len(sess.Moves) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(sess.Moves))
	}
	if sess.Moves[0].MoveNumber != 1 || sess.Moves[1].MoveNumber != 2 {
		t.Fatalf("unexpected numbering: %d, %d", sess.Moves[0].MoveNumber, sess.Moves[1].MoveNumber)
	}
	if sess.Moves[1].Coordinate != "Q16" {
		t.Fatalf("unexpected move: %+v", sess.Moves[1])
	}
}

func TestAppendMoveMissingSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AppendMove(ctx, 42, domain.MoveRecord{Color: "B", Coordinate: "D4"}); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAppendChatKeepsOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, domain.GameRecord{UUID: "g2"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.AppendChat(ctx, sess.Game.ID, domain.ChatRecord{Role: "user", Content: "My move: D4"}); err != nil {
		t.Fatalf("AppendChat#1: %v", err)
	}
	sess, err = store.AppendChat(ctx, sess.Game.ID, domain.ChatRecord{Role: "assistant", Content: "Bold choice."})
	if err != nil {
		t.Fatalf("AppendChat#2: %v", err)
	}
	if len(sess.Chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(sess.Chats))
	}
	if sess.Chats[0].Role != "user" || sess.Chats[1].Role != "assistant" {
		t.Fatalf("unexpected order: %+v", sess.Chats)
	}
}

func TestMarkOverSetsResult(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, domain.GameRecord{UUID: "g3"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess, err = store.MarkOver(ctx, sess.Game.ID, "B+12.5")
	if err != nil {
		t.Fatalf("MarkOver: %v", err)
	}
	if !sess.Game.GameOver || sess.Game.Result != "B+12.5" {
		t.Fatalf("unexpected record: %+v", sess.Game)
	}
}

func TestListSkipsExpired(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, domain.GameRecord{UUID: "live"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := store.Create(ctx, domain.GameRecord{UUID: "stale"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// expire the second session but leave its index entry behind
	mr.Del(store.keyGame(b.Game.ID))

	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Game.ID != a.Game.ID {
		t.Fatalf("expected only the live session, got %d", len(sessions))
	}
}

func TestDeleteRemovesIndexes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, domain.GameRecord{UUID: "gone"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(ctx, sess.Game.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := store.Load(ctx, sess.Game.ID)
	if err != nil || got != nil {
		t.Fatalf("expected session gone, got %+v err=%v", got, err)
	}
	byUUID, err := store.LoadByUUID(ctx, "gone")
	if err != nil || byUUID != nil {
		t.Fatalf("expected uuid index gone, got %+v err=%v", byUUID, err)
	}
}
