package board

import "testing"

func TestFromEngine(t *testing.T) {
	cases := []struct {
		in   string
		size int
		want string
	}{
		{"d4", 19, "D4"},
		{"q4", 19, "Q4"},
		{"t19", 19, "T19"},
		{"a19", 19, "A19"},
		{"t1", 19, "T1"},
		{"d10", 19, "D10"},
		{"d15", 19, "D15"},
		{"pass", 19, "pass"},
		{"", 19, "pass"},
		{"i5", 19, ""},
		{"d20", 19, "d20"},
		{"d10", 9, "d10"},
	}
	for _, tc := range cases {
		if got := FromEngine(tc.in, tc.size); got != tc.want {
			t.Errorf("FromEngine(%q, %d) = %q, want %q", tc.in, tc.size, got, tc.want)
		}
	}
}

func TestToEngine(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"D4", "d4"},
		{"Q4", "q4"},
		{"T19", "t19"},
		{"d4", "d4"},
		{"A19", "a19"},
		{"T1", "t1"},
		{"D10", "d10"},
		{"D15", "d15"},
		{"pass", "pass"},
		{"", "pass"},
		{"I5", "pass"},
		{"??", "pass"},
	}
	for _, tc := range cases {
		if got := ToEngine(tc.in); got != tc.want {
			t.Errorf("ToEngine(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, coord := range []string{"d4", "q4", "t19", "a19", "t1", "d10", "d15"} {
		display := FromEngine(coord, 19)
		if back := ToEngine(display); back != coord {
			t.Errorf("round trip %q -> %q -> %q", coord, display, back)
		}
	}
}

func TestParseUserMove(t *testing.T) {
	kind, coord := ParseUserMove("D4")
	if kind != InputMove || coord != "d4" {
		t.Fatalf("ParseUserMove(D4) = %v %q", kind, coord)
	}
	if kind, _ := ParseUserMove("pass"); kind != InputPass {
		t.Fatalf("pass not recognized")
	}
	if kind, _ := ParseUserMove("p"); kind != InputPass {
		t.Fatalf("p not recognized as pass")
	}
	if kind, _ := ParseUserMove("resign"); kind != InputResign {
		t.Fatalf("resign not recognized")
	}
	if kind, _ := ParseUserMove("quit"); kind != InputQuit {
		t.Fatalf("quit not recognized")
	}
	if kind, _ := ParseUserMove("not a move"); kind != InputInvalid {
		t.Fatalf("garbage accepted")
	}
}

func TestStateColors(t *testing.T) {
	st := NewState(19, 6.5, 0)
	if st.CurrentColor() != Black {
		t.Fatalf("empty board should be Black to move")
	}
	if st.AIColor() != White {
		t.Fatalf("ai color should be White on empty board")
	}
	st.Append(Move{Color: Black, Coordinate: "d4"})
	if st.CurrentColor() != White {
		t.Fatalf("after one black move, White to move")
	}
}

func TestStateColorsHandicap(t *testing.T) {
	st := NewState(19, 0.5, 2)
	// Handicap placements count as Black's moves, so White starts.
	if st.CurrentColor() != White {
		t.Fatalf("handicap game should open with White")
	}
}

func TestHistory(t *testing.T) {
	st := NewState(19, 6.5, 0)
	if st.History() != "" {
		t.Fatalf("empty history should be empty string")
	}
	st.Append(Move{Color: Black, Coordinate: "d4"})
	st.Append(Move{Color: White, Coordinate: "q4"})
	if got := st.History(); got != "B[d4] W[q4]" {
		t.Fatalf("history = %q", got)
	}
	st.Append(Move{Color: Black, Pass: true})
	if got := st.History(); got != "B[d4] W[q4] B[]" {
		t.Fatalf("history with pass = %q", got)
	}
}

func TestGridPosition(t *testing.T) {
	row, col, ok := GridPosition("A19", 19)
	if !ok || row != 0 || col != 0 {
		t.Fatalf("A19 = (%d,%d,%v), want top-left", row, col, ok)
	}
	row, col, ok = GridPosition("T1", 19)
	if !ok || row != 18 || col != 18 {
		t.Fatalf("T1 = (%d,%d,%v), want bottom-right", row, col, ok)
	}
	// J comes right after H because I is skipped.
	_, col, ok = GridPosition("J10", 19)
	if !ok || col != 8 {
		t.Fatalf("J10 col = %d, want 8", col)
	}
	if _, _, ok := GridPosition("I5", 19); ok {
		t.Fatalf("I column should not resolve")
	}
	if _, _, ok := GridPosition("D20", 19); ok {
		t.Fatalf("row 20 should not resolve on 19x19")
	}
}

func TestParseShowboard(t *testing.T) {
	out := `
   A B C D E F G H J
 9 . . . . . . . . .
 8 . . X . . . . . .
 7 . . . O . . . . .
 6 . . . . . . . . .
 5 . . . . . . . . .
 4 . . . . . . . . .
 3 . . . . . . . . .
 2 . . . . . . . . .
 1 . . . . . . . . .
`
	grid := ParseShowboard(out, 9)
	if len(grid) != 9 || len(grid[0]) != 9 {
		t.Fatalf("grid dims %dx%d", len(grid), len(grid[0]))
	}
	if grid[1][2] != "B" {
		t.Fatalf("expected B at row 1 col 2, got %q", grid[1][2])
	}
	if grid[2][3] != "W" {
		t.Fatalf("expected W at row 2 col 3, got %q", grid[2][3])
	}
	if grid[0][0] != "." {
		t.Fatalf("expected empty corner, got %q", grid[0][0])
	}
}

func TestFormatScoreDelta(t *testing.T) {
	if got := FormatScoreDelta(1.5); got != "+1.5" {
		t.Fatalf("positive delta = %q", got)
	}
	if got := FormatScoreDelta(-2.25); got != "-2.2" {
		t.Fatalf("negative delta = %q", got)
	}
	if got := FormatScoreDelta(0); got != "0.0" {
		t.Fatalf("zero delta = %q", got)
	}
}
