package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dakling/katagollum/internal/domain"
	"github.com/dakling/katagollum/internal/game"
	"github.com/dakling/katagollum/internal/llm"
	"github.com/dakling/katagollum/internal/persona"
	svcgame "github.com/dakling/katagollum/internal/service/game"
	"github.com/dakling/katagollum/internal/tools"
	"github.com/dakling/katagollum/pkg/gamedto"
)

type fakeRunner struct {
	result game.TurnResult
	err    error

	gotMove    string
	gotHistory []llm.Message
}

func (f *fakeRunner) Run(_ context.Context, userMove string, history []llm.Message) (game.TurnResult, error) {
	f.gotMove = userMove
	f.gotHistory = append([]llm.Message(nil), history...)
	return f.result, f.err
}

type testHarness struct {
	ts      *httptest.Server
	runner  *fakeRunner
	archive svcgame.Archiver
	store   *svcgame.SessionStore
}

func newTestServer(t *testing.T) *testHarness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalog, err := persona.Load()
	if err != nil {
		t.Fatalf("load personas: %v", err)
	}

	svc := svcgame.NewService(catalog, svcgame.Config{}, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })

	runner := &fakeRunner{}
	archive := svcgame.NewMemoryArchiver()
	store := svcgame.NewSessionStore(rdb, 0)

	srv := NewServer(Config{}, Deps{
		Service:  svc,
		Registry: tools.NewRegistry(svc, zap.NewNop()),
		Catalog:  catalog,
		Store:    store,
		Archive:  archive,
		Renderer: svcgame.NewGobanRenderer(),
		Turns: func(llm.GameContext, string) TurnRunner {
			return runner
		},
	}, zap.NewNop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testHarness{ts: ts, runner: runner, archive: archive, store: store}
}

func (h *testHarness) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(h.ts.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (h *testHarness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeAs[T any](t *testing.T, resp *http.Response, want int) T {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (h *testHarness) createGame(t *testing.T, body any) gamedto.GameResponse {
	t.Helper()
	return decodeAs[gamedto.GameResponse](t, h.postJSON(t, "/api/games/", body), http.StatusCreated)
}

func TestCreateGameAndBoard(t *testing.T) {
	h := newTestServer(t)

	g := h.createGame(t, map[string]any{"board_size": 9, "komi": 5.5, "user_color": "B"})
	if g.ID != 1 || g.UUID == "" {
		t.Fatalf("game = %+v", g)
	}
	if g.AIColor != "W" || g.Persona != "arrogant" {
		t.Fatalf("game = %+v", g)
	}

	b := decodeAs[gamedto.BoardResponse](t, h.get(t, "/api/games/1/board/"), http.StatusOK)
	if b.BoardSize != 9 || len(b.Board) != 9 || len(b.Board[0]) != 9 {
		t.Fatalf("board = %dx%d", len(b.Board), b.BoardSize)
	}
	if b.Board[0][0] != "." {
		t.Fatalf("empty board has %q at origin", b.Board[0][0])
	}
}

func TestCreateGameDefaults(t *testing.T) {
	h := newTestServer(t)
	g := h.createGame(t, map[string]any{})
	if g.BoardSize != 19 || g.Komi != 7.5 || g.UserColor != "B" {
		t.Fatalf("defaults = %+v", g)
	}
}

func TestSubmitMoveFlow(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, map[string]any{"user_color": "B"})
	h.runner.result = game.TurnResult{
		Reply:      "gotcha",
		UserPlayed: "D4",
		EngineMove: "Q16",
		ScoreDelta: 2.0,
		Committed:  true,
	}

	resp := decodeAs[gamedto.SubmitMoveResponse](t,
		h.postJSON(t, "/api/games/1/submit_move/", map[string]any{"coordinate": "D4"}),
		http.StatusOK)
	if resp.UserMove != "D4" || resp.AIMove != "Q16" || !resp.Committed {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.BotResponse != "gotcha" || resp.ScoreDelta != "+2.0" {
		t.Fatalf("resp = %+v", resp)
	}
	if h.runner.gotMove != "D4" {
		t.Fatalf("runner got %q", h.runner.gotMove)
	}

	b := decodeAs[gamedto.BoardResponse](t, h.get(t, "/api/games/1/board/"), http.StatusOK)
	if len(b.Moves) != 2 || b.Moves[0].MoveNumber != 1 || b.Moves[1].MoveNumber != 2 {
		t.Fatalf("moves = %+v", b.Moves)
	}
	if b.Board[15][3] != "B" {
		t.Fatalf("D4 cell = %q", b.Board[15][3])
	}
	if b.Board[3][15] != "W" {
		t.Fatalf("Q16 cell = %q", b.Board[3][15])
	}

	chats := decodeAs[[]gamedto.ChatMessageResponse](t, h.get(t, "/api/chat/?game_id=1"), http.StatusOK)
	if len(chats) != 1 || chats[0].Role != "assistant" || chats[0].Content != "gotcha" {
		t.Fatalf("chats = %+v", chats)
	}
}

func TestSubmitMoveKeepsUserStoneWhenNotCommitted(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, nil)
	h.runner.result = game.TurnResult{Reply: "no thanks"}

	resp := decodeAs[gamedto.SubmitMoveResponse](t,
		h.postJSON(t, "/api/games/1/submit_move/", map[string]any{"coordinate": "D4"}),
		http.StatusOK)
	if resp.Committed || resp.AIMove != "" || resp.ScoreDelta != "" {
		t.Fatalf("resp = %+v", resp)
	}

	b := decodeAs[gamedto.BoardResponse](t, h.get(t, "/api/games/1/board/"), http.StatusOK)
	if len(b.Moves) != 1 {
		t.Fatalf("moves = %+v", b.Moves)
	}
}

func TestSubmitMoveValidation(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, nil)

	e := decodeAs[gamedto.ErrorResponse](t,
		h.postJSON(t, "/api/games/1/submit_move/", map[string]any{}),
		http.StatusBadRequest)
	if e.Error != "Coordinate required" {
		t.Fatalf("error = %q", e.Error)
	}

	e = decodeAs[gamedto.ErrorResponse](t,
		h.postJSON(t, "/api/games/99/submit_move/", map[string]any{"coordinate": "D4"}),
		http.StatusNotFound)
	if e.Error != "Game not found" {
		t.Fatalf("error = %q", e.Error)
	}
}

func TestSubmitMovePassesRecentHistory(t *testing.T) {
	h := newTestServer(t)
	g := h.createGame(t, nil)
	for i := 0; i < 12; i++ {
		_, err := h.store.AppendChat(context.Background(), g.ID, domain.ChatRecord{
			Role:    "assistant",
			Content: fmt.Sprintf("msg %d", i),
		})
		if err != nil {
			t.Fatalf("seed chat: %v", err)
		}
	}
	h.runner.result = game.TurnResult{Reply: "ok"}

	decodeAs[gamedto.SubmitMoveResponse](t,
		h.postJSON(t, "/api/games/1/submit_move/", map[string]any{"coordinate": "D4"}),
		http.StatusOK)

	if len(h.runner.gotHistory) != 10 {
		t.Fatalf("history len = %d, want 10", len(h.runner.gotHistory))
	}
	if h.runner.gotHistory[0].Content != "msg 2" {
		t.Fatalf("history starts with %q", h.runner.gotHistory[0].Content)
	}
}

func TestSendMessageChat(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, nil)
	h.runner.result = game.TurnResult{Reply: "lol"}

	resp := decodeAs[gamedto.SendMessageResponse](t,
		h.postJSON(t, "/api/chat/send_message/", map[string]any{"game_id": 1, "content": "hi there"}),
		http.StatusCreated)
	if resp.UserMessage.Content != "hi there" || resp.UserMessage.Role != "user" {
		t.Fatalf("user message = %+v", resp.UserMessage)
	}
	if resp.BotMessage.Content != "lol" || resp.BotMessage.Role != "assistant" {
		t.Fatalf("bot message = %+v", resp.BotMessage)
	}

	chats := decodeAs[[]gamedto.ChatMessageResponse](t, h.get(t, "/api/chat/?game_id=1"), http.StatusOK)
	if len(chats) != 2 {
		t.Fatalf("chats = %+v", chats)
	}
}

func TestSendMessageValidation(t *testing.T) {
	h := newTestServer(t)
	e := decodeAs[gamedto.ErrorResponse](t,
		h.postJSON(t, "/api/chat/send_message/", map[string]any{"content": "hi"}),
		http.StatusBadRequest)
	if e.Error != "game_id and content required" {
		t.Fatalf("error = %q", e.Error)
	}

	e = decodeAs[gamedto.ErrorResponse](t,
		h.postJSON(t, "/api/chat/send_message/", map[string]any{"game_id": 42, "content": "hi"}),
		http.StatusNotFound)
	if e.Error != "Game not found" {
		t.Fatalf("error = %q", e.Error)
	}
}

func TestSendMessageRecordsCommittedMove(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, nil)
	h.runner.result = game.TurnResult{
		Reply:      "bold",
		UserPlayed: "D4",
		EngineMove: "C3",
		Committed:  true,
	}

	decodeAs[gamedto.SendMessageResponse](t,
		h.postJSON(t, "/api/chat/send_message/", map[string]any{"game_id": 1, "content": "I play D4"}),
		http.StatusCreated)

	b := decodeAs[gamedto.BoardResponse](t, h.get(t, "/api/games/1/board/"), http.StatusOK)
	if len(b.Moves) != 2 {
		t.Fatalf("moves = %+v", b.Moves)
	}
	if b.Moves[0].Coordinate != "D4" || b.Moves[0].Color != "B" {
		t.Fatalf("user move = %+v", b.Moves[0])
	}
	if b.Moves[1].Coordinate != "C3" || b.Moves[1].Color != "W" {
		t.Fatalf("engine move = %+v", b.Moves[1])
	}
}

func TestSendMessageNonUserRoleStoredVerbatim(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, nil)

	msg := decodeAs[gamedto.ChatMessageResponse](t,
		h.postJSON(t, "/api/chat/send_message/", map[string]any{
			"game_id": 1, "content": "greetings", "role": "assistant",
		}),
		http.StatusCreated)
	if msg.Role != "assistant" || msg.Content != "greetings" {
		t.Fatalf("message = %+v", msg)
	}
	if h.runner.gotMove != "" {
		t.Fatal("turn runner should not fire for non-user roles")
	}
}

func TestFirstMoveUserOpens(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, map[string]any{"user_color": "B"})

	resp := decodeAs[gamedto.FirstMoveResponse](t,
		h.postJSON(t, "/api/games/1/first_move/", nil),
		http.StatusOK)
	if resp.Move != "" || resp.Color != "" || resp.Message != "" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.BoardState == nil {
		t.Fatal("board_state missing")
	}
}

func TestFirstMoveEngineUnavailable(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, map[string]any{"user_color": "W"})

	resp := h.postJSON(t, "/api/games/1/first_move/", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Message != "Failed to generate first move" || out.Error == "" {
		t.Fatalf("out = %+v", out)
	}
}

func TestFinishResignArchives(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, map[string]any{"user_color": "B"})

	resp := decodeAs[gamedto.FinishResponse](t,
		h.postJSON(t, "/api/games/1/finish/", map[string]any{"method": "resign"}),
		http.StatusOK)
	if resp.Result != "W+R" {
		t.Fatalf("result = %q", resp.Result)
	}

	g := decodeAs[gamedto.BoardResponse](t, h.get(t, "/api/games/1/board/"), http.StatusOK)
	if !g.GameOver {
		t.Fatal("game not marked over")
	}

	recent, err := h.archive.RecentGames(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent games: %v", err)
	}
	if len(recent) != 1 || recent[0].Result != "W+R" {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestFinishUnknownMethod(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, nil)
	e := decodeAs[gamedto.ErrorResponse](t,
		h.postJSON(t, "/api/games/1/finish/", map[string]any{"method": "flip_table"}),
		http.StatusBadRequest)
	if e.Error != "unknown finish method" {
		t.Fatalf("error = %q", e.Error)
	}
}

func TestListGamesNewestFirst(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, nil)
	h.createGame(t, nil)

	games := decodeAs[[]gamedto.GameResponse](t, h.get(t, "/api/games/"), http.StatusOK)
	if len(games) != 2 || games[0].ID != 2 || games[1].ID != 1 {
		t.Fatalf("games = %+v", games)
	}
}

func TestChatListRequiresGameID(t *testing.T) {
	h := newTestServer(t)
	e := decodeAs[gamedto.ErrorResponse](t, h.get(t, "/api/chat/"), http.StatusBadRequest)
	if e.Error != "game_id required" {
		t.Fatalf("error = %q", e.Error)
	}
}

func TestListTools(t *testing.T) {
	h := newTestServer(t)
	out := decodeAs[gamedto.ToolListResponse](t, h.get(t, "/list_tools"), http.StatusOK)
	if len(out.Tools) != 2 {
		t.Fatalf("tools = %+v", out.Tools)
	}
}

func TestCallToolUnknown(t *testing.T) {
	h := newTestServer(t)
	e := decodeAs[gamedto.ErrorResponse](t,
		h.postJSON(t, "/call_tool", gamedto.ToolCallRequest{Name: "bogus"}),
		http.StatusBadRequest)
	if e.Error != "Unknown tool: bogus" {
		t.Fatalf("error = %q", e.Error)
	}
}

func TestCallToolEngineError(t *testing.T) {
	h := newTestServer(t)
	e := decodeAs[gamedto.ErrorResponse](t,
		h.postJSON(t, "/call_tool", gamedto.ToolCallRequest{
			Name:      tools.ToolProcessUserMove,
			Arguments: map[string]any{"color": "B", "move": "D4"},
		}),
		http.StatusInternalServerError)
	if !strings.Contains(e.Error, "not initialized") {
		t.Fatalf("error = %q", e.Error)
	}
}

func TestBoardStateEndpoint(t *testing.T) {
	h := newTestServer(t)
	out := decodeAs[struct {
		Result gamedto.BoardState `json:"result"`
	}](t, h.get(t, "/board_state"), http.StatusOK)
	if out.Result.BoardSize != 19 {
		t.Fatalf("board_size = %d", out.Result.BoardSize)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	out := decodeAs[struct {
		Status      string `json:"status"`
		Initialized bool   `json:"initialized"`
	}](t, h.get(t, "/healthz"), http.StatusOK)
	if out.Status != "ok" || out.Initialized {
		t.Fatalf("out = %+v", out)
	}
}

func TestBoardPNG(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, map[string]any{"board_size": 9})

	resp := h.get(t, "/api/games/1/board.png")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	var magic [8]byte
	if _, err := io.ReadFull(resp.Body, magic[:]); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(magic[:4], []byte("\x89PNG")) {
		t.Fatalf("not a PNG: % x", magic)
	}
}

func TestSGFDownload(t *testing.T) {
	h := newTestServer(t)
	h.createGame(t, map[string]any{"board_size": 9})
	h.runner.result = game.TurnResult{Reply: "ok", UserPlayed: "D4", EngineMove: "C3", Committed: true}
	decodeAs[gamedto.SubmitMoveResponse](t,
		h.postJSON(t, "/api/games/1/submit_move/", map[string]any{"coordinate": "D4"}),
		http.StatusOK)

	resp := h.get(t, "/api/games/1/sgf/")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	sgf := buf.String()
	if !strings.HasPrefix(sgf, "(;GM[1]FF[4]") || !strings.Contains(sgf, "SZ[9]") {
		t.Fatalf("sgf = %q", sgf)
	}
	if !strings.Contains(sgf, ";B[df]") {
		t.Fatalf("sgf missing user move: %q", sgf)
	}
}

func TestInitializeSurvivesEngineFailure(t *testing.T) {
	h := newTestServer(t)
	g := decodeAs[gamedto.GameResponse](t,
		h.postJSON(t, "/api/initialize/", map[string]any{"board_size": 13, "handicap": 2, "user_color": "B"}),
		http.StatusCreated)
	if g.BoardSize != 13 || g.Handicap != 2 {
		t.Fatalf("game = %+v", g)
	}
}

func TestInitializeRejectsMalformedBody(t *testing.T) {
	h := newTestServer(t)
	resp := h.postJSON(t, "/api/initialize/", map[string]any{"board_size": "nineteen"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
