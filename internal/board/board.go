// Package board holds Go board state and the coordinate translations between
// display form (A19 notation, column letters skip I) and the engine's GTP
// wire form (lowercase letter plus row).
package board

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Color string

const (
	Black Color = "B"
	White Color = "W"
)

// Alphabet is the display column sequence. I is skipped by convention.
const Alphabet = "ABCDEFGHJKLMNOPQRST"

func (c Color) Opponent() Color {
	if c == Black {
		return White
	}
	return Black
}

func (c Color) Word() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// ParseColor folds user spellings onto B/W. Unrecognized input is returned
// trimmed and uppercased so validation can report the raw value.
func ParseColor(s string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "b", "black":
		return Black, true
	case "w", "white":
		return White, true
	}
	return Color(strings.ToUpper(strings.TrimSpace(s))), false
}

type Move struct {
	Color      Color
	Coordinate string // engine form for plays, empty for pass/resign
	Number     int
	Pass       bool
	Resign     bool
}

type State struct {
	Size     int
	Komi     float64
	Handicap int
	Moves    []Move
}

func NewState(size int, komi float64, handicap int) *State {
	if size <= 0 {
		size = 19
	}
	return &State{Size: size, Komi: komi, Handicap: handicap}
}

func (s *State) LastMove() *Move {
	if len(s.Moves) == 0 {
		return nil
	}
	return &s.Moves[len(s.Moves)-1]
}

func (s *State) Append(m Move) {
	m.Number = len(s.Moves) + 1
	s.Moves = append(s.Moves, m)
}

// CurrentColor returns the side to move. Handicap games on 19x19 credit Black
// with the handicap placements plus one, so White moves first.
func (s *State) CurrentColor() Color {
	var blackMoves int
	if s.Size == 19 && s.Handicap > 0 {
		blackMoves = 1 + s.Handicap
	} else {
		for _, m := range s.Moves {
			if m.Color == Black {
				blackMoves++
			}
		}
	}
	var whiteMoves int
	for _, m := range s.Moves {
		if m.Color == White {
			whiteMoves++
		}
	}
	if blackMoves == whiteMoves {
		return Black
	}
	return White
}

func (s *State) AIColor() Color {
	return s.CurrentColor().Opponent()
}

func (s *State) UserColor() Color {
	return s.CurrentColor()
}

// History renders the move list in SGF-ish form for logs: B[d4] W[] Wresign.
func (s *State) History() string {
	parts := make([]string, 0, len(s.Moves))
	for _, m := range s.Moves {
		switch {
		case m.Pass:
			parts = append(parts, string(m.Color)+"[]")
		case m.Resign:
			parts = append(parts, string(m.Color)+"resign")
		default:
			parts = append(parts, fmt.Sprintf("%s[%s]", m.Color, m.Coordinate))
		}
	}
	return strings.Join(parts, " ")
}

var displayCoordRe = regexp.MustCompile(`^([A-HJ-Z])(\d+)`)

// ToEngine translates display notation to engine form ("D4" -> "d4").
// Anything unparseable, including the skipped I column, becomes "pass".
func ToEngine(coord string) string {
	if coord == "" || strings.EqualFold(coord, "pass") {
		return "pass"
	}
	coord = strings.ToUpper(strings.TrimSpace(coord))
	m := displayCoordRe.FindStringSubmatch(coord)
	if m == nil {
		return "pass"
	}
	return strings.ToLower(m[1]) + m[2]
}

// FromEngine translates engine form back to display notation ("d4" -> "D4").
// Out-of-range rows return the input untouched; an I column returns "".
func FromEngine(coord string, size int) string {
	if coord == "" || coord == "pass" {
		return "pass"
	}
	if len(coord) < 2 {
		return coord
	}
	col := strings.ToLower(coord[:1])
	if col == "i" {
		return ""
	}
	if col[0] < 'a' || col[0] > 'z' {
		return coord
	}
	row, err := strconv.Atoi(coord[1:])
	if err != nil {
		return coord
	}
	if row < 1 || row > size {
		return coord
	}
	return strings.ToUpper(col) + strconv.Itoa(row)
}

// FormatDisplay uppercases an engine coordinate for user-facing output.
func FormatDisplay(coord string, size int) string {
	return strings.ToUpper(FromEngine(coord, size))
}

// ColumnIndex maps a display column letter onto its 0-based grid column.
func ColumnIndex(letter byte) (int, bool) {
	idx := strings.IndexByte(Alphabet, letter)
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// GridPosition resolves a coordinate (display or engine case) to 0-based grid
// indices with row 0 at the top of the board.
func GridPosition(coord string, size int) (row, col int, ok bool) {
	coord = strings.ToUpper(strings.TrimSpace(coord))
	if len(coord) < 2 {
		return 0, 0, false
	}
	c, ok := ColumnIndex(coord[0])
	if !ok {
		return 0, 0, false
	}
	n, err := strconv.Atoi(coord[1:])
	if err != nil || n < 1 || n > size {
		return 0, 0, false
	}
	return size - n, c, true
}

type UserInput int

const (
	InputInvalid UserInput = iota
	InputMove
	InputPass
	InputResign
	InputQuit
)

// ParseUserMove interprets raw terminal input. For InputMove the returned
// coordinate is in engine form.
func ParseUserMove(raw string) (UserInput, string) {
	in := strings.ToLower(strings.TrimSpace(raw))
	switch in {
	case "pass", "p", "0":
		return InputPass, "pass"
	case "resign", "r":
		return InputResign, ""
	case "quit", "exit", "q":
		return InputQuit, ""
	}
	coord := ToEngine(in)
	if coord == "pass" {
		return InputInvalid, ""
	}
	return InputMove, coord
}

// ParseShowboard extracts a size x size grid from GTP showboard output.
// Board rows start with their row number; stones arrive as X/O (or already
// as B/W). Missing cells pad to ".".
func ParseShowboard(text string, size int) [][]string {
	grid := make([][]string, 0, size)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !isDigit(line[0]) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		row := make([]string, 0, size)
		for _, f := range fields[1:] {
			if len(row) >= size {
				break
			}
			switch f {
			case "X", "B":
				row = append(row, "B")
			case "O", "W":
				row = append(row, "W")
			case ".":
				row = append(row, ".")
			}
		}
		for len(row) < size {
			row = append(row, ".")
		}
		grid = append(grid, row)
		if len(grid) >= size {
			break
		}
	}
	for len(grid) < size {
		empty := make([]string, size)
		for i := range empty {
			empty[i] = "."
		}
		grid = append(grid, empty)
	}
	return grid
}

// EmptyGrid returns a size x size grid of "." cells.
func EmptyGrid(size int) [][]string {
	grid := make([][]string, size)
	for i := range grid {
		grid[i] = make([]string, size)
		for j := range grid[i] {
			grid[i][j] = "."
		}
	}
	return grid
}

// FormatScoreDelta renders a score swing with an explicit plus sign for gains.
func FormatScoreDelta(delta float64) string {
	if delta > 0 {
		return fmt.Sprintf("+%.1f", delta)
	}
	return fmt.Sprintf("%.1f", delta)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
