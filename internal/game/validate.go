// Package game runs one conversational turn: it sends the user's move to
// the language model, screens the tool calls the model proposes, executes
// the surviving calls against the game tools, and asks the model for the
// final table-talk reply.
package game

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/dakling/katagollum/internal/board"
	"github.com/dakling/katagollum/internal/tools"
)

var (
	ErrInvalidColor      = fmt.Errorf("invalid color")
	ErrInvalidCoordinate = fmt.Errorf("invalid coordinate")
)

// ValidationError carries the user-facing reason a tool call was rejected.
// It unwraps to ErrInvalidColor or ErrInvalidCoordinate.
type ValidationError struct {
	kind   error
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
func (e *ValidationError) Unwrap() error { return e.kind }

// NormalizeArgs folds model-written move arguments into engine form:
// color becomes "B" or "W", the move is uppercased with everything but
// letters and digits stripped. Other keys pass through untouched.
func NormalizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	if _, ok := args["color"]; ok {
		out["color"] = normalizeColor(stringArg(args, "color"))
	}
	if _, ok := args["move"]; ok {
		out["move"] = normalizeMove(stringArg(args, "move"))
	}
	return out
}

func normalizeColor(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "black", "b":
		return "B"
	case "white", "w":
		return "W"
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

func normalizeMove(raw string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Validator screens the arguments of move-committing tool calls before they
// reach the engine. Models routinely hallucinate colors like "Black stone"
// or coordinates off the board; rejecting them here keeps the engine state
// clean and gives the model a reason it can apologize with.
type Validator struct {
	BoardSize int
}

func NewValidator(boardSize int) *Validator {
	if boardSize <= 0 || boardSize > len(board.Alphabet) {
		boardSize = 19
	}
	return &Validator{BoardSize: boardSize}
}

// Validate checks the arguments of the given tool call. Only the move-commit
// tool is screened; every other tool passes unchecked.
func (v *Validator) Validate(toolName string, args map[string]any) error {
	if toolName != tools.ToolProcessUserMove {
		return nil
	}
	rawColor := stringArg(args, "color")
	if c := normalizeColor(rawColor); c != "B" && c != "W" {
		return &ValidationError{
			kind:   ErrInvalidColor,
			Reason: fmt.Sprintf("Invalid color '%s'. Must be 'B', 'W', 'black', or 'white'", rawColor),
		}
	}
	rawMove := stringArg(args, "move")
	if !v.moveFormatOK(normalizeMove(rawMove)) {
		return &ValidationError{
			kind:   ErrInvalidCoordinate,
			Reason: fmt.Sprintf("Invalid move format '%s'. Must be %s followed by number 1-%d", rawMove, v.columnRange(), v.BoardSize),
		}
	}
	return nil
}

func (v *Validator) moveFormatOK(move string) bool {
	if len(move) < 2 {
		return false
	}
	if strings.IndexByte(board.Alphabet[:v.BoardSize], move[0]) < 0 {
		return false
	}
	row, err := strconv.Atoi(move[1:])
	if err != nil {
		return false
	}
	return row >= 1 && row <= v.BoardSize
}

func (v *Validator) columnRange() string {
	last := board.Alphabet[v.BoardSize-1]
	if last > 'I' {
		return fmt.Sprintf("letter A-%c (excluding I)", last)
	}
	return fmt.Sprintf("letter A-%c", last)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
