package game

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/dakling/katagollum/internal/board"
)

func TestRenderPNGEmptyBoard(t *testing.T) {
	r := NewGobanRenderer()
	data, err := r.RenderPNG(context.Background(), board.EmptyGrid(9), 9, RenderOptions{})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	// 8 cells of 36px plus a 48px margin on each side
	want := (9-1)*36 + 48*2
	b := img.Bounds()
	if b.Dx() != want || b.Dy() != want {
		t.Fatalf("unexpected dimensions %dx%d, want %d", b.Dx(), b.Dy(), want)
	}
}

func TestRenderPNGWithStones(t *testing.T) {
	grid := board.EmptyGrid(9)
	grid[5][2] = "B" // C4 on a 9x9 board
	grid[2][6] = "W"

	r := NewGobanRenderer()
	plain, err := r.RenderPNG(context.Background(), board.EmptyGrid(9), 9, RenderOptions{})
	if err != nil {
		t.Fatalf("RenderPNG empty: %v", err)
	}
	withStones, err := r.RenderPNG(context.Background(), grid, 9, RenderOptions{LastMove: "C4"})
	if err != nil {
		t.Fatalf("RenderPNG stones: %v", err)
	}
	if bytes.Equal(plain, withStones) {
		t.Fatalf("stones did not change the image")
	}
	if _, err := png.Decode(bytes.NewReader(withStones)); err != nil {
		t.Fatalf("decode png: %v", err)
	}
}

func TestRenderPNGPassDrawsNoMarker(t *testing.T) {
	grid := board.EmptyGrid(9)
	grid[4][4] = "B"

	r := NewGobanRenderer()
	noMarker, err := r.RenderPNG(context.Background(), grid, 9, RenderOptions{LastMove: "PASS"})
	if err != nil {
		t.Fatalf("RenderPNG pass: %v", err)
	}
	marked, err := r.RenderPNG(context.Background(), grid, 9, RenderOptions{LastMove: "E5"})
	if err != nil {
		t.Fatalf("RenderPNG marked: %v", err)
	}
	if bytes.Equal(noMarker, marked) {
		t.Fatalf("marker did not change the image")
	}
}

func TestRenderPNGInvalidSize(t *testing.T) {
	r := NewGobanRenderer()
	if _, err := r.RenderPNG(context.Background(), nil, 0, RenderOptions{}); err == nil {
		t.Fatalf("expected error for size 0")
	}
}

func TestRenderPNGCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewGobanRenderer()
	if _, err := r.RenderPNG(ctx, board.EmptyGrid(9), 9, RenderOptions{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestRenderStoneImageCached(t *testing.T) {
	a, err := renderStoneImage("B", 34)
	if err != nil {
		t.Fatalf("renderStoneImage: %v", err)
	}
	b, err := renderStoneImage("B", 34)
	if err != nil {
		t.Fatalf("renderStoneImage cached: %v", err)
	}
	if a != b {
		t.Fatalf("expected cached image to be reused")
	}
}
