package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dakling/katagollum/internal/board"
	"github.com/dakling/katagollum/internal/domain"
	"github.com/dakling/katagollum/internal/llm"
	svcgame "github.com/dakling/katagollum/internal/service/game"
	"github.com/dakling/katagollum/internal/tools"
	"github.com/dakling/katagollum/pkg/gamedto"
)

// Turn history sent to the model is capped at the most recent entries.
const chatHistoryLimit = 10

const engineInitTimeout = 30 * time.Second

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		BoardSize     int     `json:"board_size"`
		Komi          float64 `json:"komi"`
		Handicap      int     `json:"handicap"`
		UserColor     string  `json:"user_color"`
		Persona       string  `json:"persona"`
		KatagoCommand string  `json:"katago_command"`
	}{BoardSize: 19, Komi: 7.5, UserColor: "B", Persona: "arrogant"}
	if err := decodeBody(r, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.store.Create(r.Context(), domain.GameRecord{
		UUID:      uuid.NewString(),
		BoardSize: payload.BoardSize,
		Komi:      payload.Komi,
		Handicap:  payload.Handicap,
		UserColor: payload.UserColor,
		Persona:   payload.Persona,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	args := map[string]any{
		"board_size": payload.BoardSize,
		"komi":       payload.Komi,
		"handicap":   payload.Handicap,
	}
	if payload.KatagoCommand != "" {
		args["katago_command"] = payload.KatagoCommand
	}
	initCtx, cancel := context.WithTimeout(r.Context(), engineInitTimeout)
	defer cancel()
	if _, err := s.registry.Call(initCtx, tools.ToolInitializeGame, args); err != nil {
		// The game record still exists; the engine can be initialized later.
		s.logger.Warn("engine initialization failed", zap.Error(err))
	}

	s.writeJSON(w, http.StatusCreated, gameView(&sess.Game))
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	payload := gamedto.CreateGameRequest{BoardSize: 19, Komi: 7.5, UserColor: "B", Persona: "arrogant"}
	if err := decodeBody(r, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.store.Create(r.Context(), domain.GameRecord{
		UUID:      uuid.NewString(),
		BoardSize: payload.BoardSize,
		Komi:      payload.Komi,
		UserColor: payload.UserColor,
		Persona:   payload.Persona,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, gameView(&sess.Game))
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sort.Slice(sessions, func(i, j int) bool {
		gi, gj := sessions[i].Game, sessions[j].Game
		if !gi.CreatedAt.Equal(gj.CreatedAt) {
			return gi.CreatedAt.After(gj.CreatedAt)
		}
		return gi.ID > gj.ID
	})
	out := make([]gamedto.GameResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, gameView(&sess.Game))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, gamedto.BoardResponse{
		GameResponse: gameView(&sess.Game),
		Board:        buildGrid(sess.Game.BoardSize, sess.Moves),
		Moves:        moveViews(sess.Moves),
	})
}

func (s *Server) handleBoardPNG(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	size := sess.Game.BoardSize
	png, err := s.renderer.RenderPNG(r.Context(), buildGrid(size, sess.Moves), size, svcgame.RenderOptions{
		LastMove: lastPlacedCoord(sess.Moves, size),
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

func (s *Server) handleSGF(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	sgf := svcgame.BuildSGF(&sess.Game, sess.Moves)
	w.Header().Set("Content-Type", "application/x-go-sgf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=game-%s.sgf", sess.Game.UUID))
	_, _ = io.WriteString(w, sgf)
}

func (s *Server) handleSubmitMove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var payload gamedto.SubmitMoveRequest
	if err := decodeBody(r, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	coord := strings.TrimSpace(payload.Coordinate)
	if coord == "" {
		s.writeError(w, http.StatusBadRequest, "Coordinate required")
		return
	}

	g := sess.Game
	// The user's move is recorded before the model runs, so the transcript
	// keeps it even when the turn fails downstream.
	updated, err := s.store.AppendMove(r.Context(), g.ID, domain.MoveRecord{
		Color:      g.UserColor,
		Coordinate: coord,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.broadcastMove(g.ID, updated)

	runner := s.turns(gameContext(&g), g.Persona)
	result, err := runner.Run(r.Context(), coord, chatHistory(sess.Chats))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	updated, err = s.store.AppendChat(r.Context(), g.ID, domain.ChatRecord{
		Role:    "assistant",
		Content: result.Reply,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.broadcastChat(g.ID, updated)

	resp := gamedto.SubmitMoveResponse{
		UserMove:    coord,
		BotResponse: result.Reply,
		Committed:   result.Committed,
	}
	if result.Committed {
		updated, err = s.store.AppendMove(r.Context(), g.ID, domain.MoveRecord{
			Color:      g.AIColor(),
			Coordinate: result.EngineMove,
		})
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.broadcastMove(g.ID, updated)
		resp.AIMove = result.EngineMove
		resp.ScoreDelta = board.FormatScoreDelta(result.ScoreDelta)
	}
	view := gameView(&updated.Game)
	resp.Game = &view
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFirstMove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	g := sess.Game

	// The bot opens in even games where the user took White, and in handicap
	// games where the user placed the handicap stones.
	llmShouldMove := (g.Handicap == 0 && g.UserColor == "W") || (g.Handicap > 0 && g.UserColor == "B")
	if !llmShouldMove {
		bs := s.svc.BoardState(r.Context())
		s.writeJSON(w, http.StatusOK, gamedto.FirstMoveResponse{BoardState: &bs})
		return
	}

	raw, err := s.source.Call(r.Context(), tools.ToolMakeFirstMove, map[string]any{"user_color": g.UserColor})
	var first gamedto.FirstMove
	if err == nil {
		err = json.Unmarshal(raw, &first)
	}
	if err != nil {
		s.logger.Error("first move failed", zap.Int64("game_id", g.ID), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}{err.Error(), "Failed to generate first move"})
		return
	}

	if first.Move != "" {
		updated, err := s.store.AppendMove(r.Context(), g.ID, domain.MoveRecord{
			Color:      first.Color,
			Coordinate: first.Move,
			MoveNumber: 1,
		})
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.broadcastMove(g.ID, updated)
	}

	bs := s.svc.BoardState(r.Context())
	s.writeJSON(w, http.StatusOK, gamedto.FirstMoveResponse{
		Move:       first.Move,
		Color:      first.Color,
		Message:    first.Message,
		BoardState: &bs,
	})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var payload gamedto.FinishRequest
	if err := decodeBody(r, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var result string
	method := payload.Method
	switch method {
	case "resign":
		result = sess.Game.AIColor() + "+R"
	case "", "count":
		method = "count"
		fs, err := s.svc.FinalScore(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		result = fs.Score
	default:
		s.writeError(w, http.StatusBadRequest, "unknown finish method")
		return
	}

	updated, err := s.store.MarkOver(r.Context(), sess.Game.ID, result)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.archive != nil {
		if err := s.archive.SaveResult(r.Context(), updated, method); err != nil {
			s.logger.Warn("archive save failed",
				zap.Int64("game_id", sess.Game.ID),
				zap.Error(err))
		}
	}
	s.hub.Broadcast(Event{Type: "game_over", GameID: sess.Game.ID, Payload: result})
	s.writeJSON(w, http.StatusOK, gamedto.FinishResponse{Result: result})
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Query().Get("game_id")
	if idStr == "" {
		s.writeError(w, http.StatusBadRequest, "game_id required")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid game_id")
		return
	}
	sess, err := s.store.Load(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		s.writeError(w, http.StatusNotFound, "Game not found")
		return
	}
	s.writeJSON(w, http.StatusOK, chatViews(sess.Chats))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload gamedto.ChatMessageRequest
	if err := decodeBody(r, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content := strings.TrimSpace(payload.Content)
	if payload.GameID == 0 || content == "" {
		s.writeError(w, http.StatusBadRequest, "game_id and content required")
		return
	}
	sess, err := s.store.Load(r.Context(), payload.GameID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		s.writeError(w, http.StatusNotFound, "Game not found")
		return
	}

	role := payload.Role
	if role == "" {
		role = "user"
	}
	g := sess.Game

	if role != "user" {
		updated, err := s.store.AppendChat(r.Context(), g.ID, domain.ChatRecord{Role: role, Content: content})
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.broadcastChat(g.ID, updated)
		s.writeJSON(w, http.StatusCreated, chatView(updated.Chats[len(updated.Chats)-1]))
		return
	}

	runner := s.turns(gameContext(&g), g.Persona)
	result, err := runner.Run(r.Context(), content, chatHistory(sess.Chats))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	bot := result.Reply
	if strings.TrimSpace(bot) == "" {
		bot = "..."
	}

	updated, err := s.store.AppendChat(r.Context(), g.ID, domain.ChatRecord{Role: "user", Content: content})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	userMsg := updated.Chats[len(updated.Chats)-1]
	s.broadcastChat(g.ID, updated)

	updated, err = s.store.AppendChat(r.Context(), g.ID, domain.ChatRecord{Role: "assistant", Content: bot})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	botMsg := updated.Chats[len(updated.Chats)-1]
	s.broadcastChat(g.ID, updated)

	// Chat can carry a real move ("I play D4"); when the engine committed
	// one, the board records must follow.
	if result.Committed {
		if result.UserPlayed != "" {
			updated, err = s.store.AppendMove(r.Context(), g.ID, domain.MoveRecord{
				Color:      g.UserColor,
				Coordinate: result.UserPlayed,
			})
			if err != nil {
				s.writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			s.broadcastMove(g.ID, updated)
		}
		updated, err = s.store.AppendMove(r.Context(), g.ID, domain.MoveRecord{
			Color:      g.AIColor(),
			Coordinate: result.EngineMove,
		})
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.broadcastMove(g.ID, updated)
	}

	s.writeJSON(w, http.StatusCreated, gamedto.SendMessageResponse{
		UserMessage: chatView(userMsg),
		BotMessage:  chatView(botMsg),
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	defs, err := s.registry.Definitions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, gamedto.ToolListResponse{Tools: defs})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req gamedto.ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.registry.Call(r.Context(), req.Name, req.Arguments)
	if err != nil {
		var unknown *tools.UnknownToolError
		code := http.StatusInternalServerError
		if errors.As(err, &unknown) {
			code = http.StatusBadRequest
		}
		s.writeError(w, code, err.Error())
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, gamedto.ToolCallResponse{Result: raw})
}

func (s *Server) handleBoardState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Result gamedto.BoardState `json:"result"`
	}{s.svc.BoardState(r.Context())})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Status      string `json:"status"`
		Initialized bool   `json:"initialized"`
	}{"ok", s.svc.Initialized()})
}

func (s *Server) broadcastMove(gameID int64, sess *svcgame.Session) {
	if len(sess.Moves) == 0 {
		return
	}
	s.hub.Broadcast(Event{
		Type:    "move",
		GameID:  gameID,
		Payload: moveView(sess.Moves[len(sess.Moves)-1]),
	})
}

func (s *Server) broadcastChat(gameID int64, sess *svcgame.Session) {
	if len(sess.Chats) == 0 {
		return
	}
	s.hub.Broadcast(Event{
		Type:    "chat",
		GameID:  gameID,
		Payload: chatView(sess.Chats[len(sess.Chats)-1]),
	})
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*svcgame.Session, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid game id")
		return nil, false
	}
	sess, err := s.store.Load(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if sess == nil {
		s.writeError(w, http.StatusNotFound, "Game not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, gamedto.ErrorResponse{Error: msg})
}

func decodeBody(r *http.Request, into any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(into)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func gameContext(g *domain.GameRecord) llm.GameContext {
	return llm.GameContext{BoardSize: g.BoardSize, Komi: g.Komi, UserColor: g.UserColor}
}

func gameView(g *domain.GameRecord) gamedto.GameResponse {
	return gamedto.GameResponse{
		ID:        g.ID,
		UUID:      g.UUID,
		BoardSize: g.BoardSize,
		Komi:      g.Komi,
		Handicap:  g.Handicap,
		UserColor: g.UserColor,
		AIColor:   g.AIColor(),
		Persona:   g.Persona,
		GameOver:  g.GameOver,
		CreatedAt: g.CreatedAt,
	}
}

func moveView(mv domain.MoveRecord) gamedto.MoveResponse {
	return gamedto.MoveResponse{
		Color:      mv.Color,
		Coordinate: mv.Coordinate,
		MoveNumber: mv.MoveNumber,
		CreatedAt:  mv.CreatedAt,
	}
}

func moveViews(moves []domain.MoveRecord) []gamedto.MoveResponse {
	out := make([]gamedto.MoveResponse, 0, len(moves))
	for _, mv := range moves {
		out = append(out, moveView(mv))
	}
	return out
}

func chatView(c domain.ChatRecord) gamedto.ChatMessageResponse {
	return gamedto.ChatMessageResponse{Role: c.Role, Content: c.Content, CreatedAt: c.CreatedAt}
}

func chatViews(chats []domain.ChatRecord) []gamedto.ChatMessageResponse {
	out := make([]gamedto.ChatMessageResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatView(c))
	}
	return out
}

// chatHistory converts the stored transcript into model messages, most
// recent entries only.
func chatHistory(chats []domain.ChatRecord) []llm.Message {
	start := 0
	if len(chats) > chatHistoryLimit {
		start = len(chats) - chatHistoryLimit
	}
	out := make([]llm.Message, 0, len(chats)-start)
	for _, c := range chats[start:] {
		out = append(out, llm.Message{Role: c.Role, Content: c.Content})
	}
	return out
}

func buildGrid(size int, moves []domain.MoveRecord) [][]string {
	grid := board.EmptyGrid(size)
	for _, mv := range moves {
		if row, col, ok := board.GridPosition(mv.Coordinate, size); ok {
			grid[row][col] = mv.Color
		}
	}
	return grid
}

// lastPlacedCoord finds the most recent move that put a stone on the board,
// skipping passes and resignations.
func lastPlacedCoord(moves []domain.MoveRecord, size int) string {
	for i := len(moves) - 1; i >= 0; i-- {
		if _, _, ok := board.GridPosition(moves[i].Coordinate, size); ok {
			return moves[i].Coordinate
		}
	}
	return ""
}
