package game

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dakling/katagollum/internal/board"
)

type RenderOptions struct {
	// LastMove is the display coordinate of the most recent move. A pass or
	// an empty value draws no marker.
	LastMove string
}

type BoardRenderer interface {
	RenderPNG(ctx context.Context, grid [][]string, size int, opts RenderOptions) ([]byte, error)
}

type gobanRenderer struct{}

func NewGobanRenderer() BoardRenderer { return &gobanRenderer{} }

var (
	woodColor     = color.RGBA{219, 178, 92, 255}
	lineColor     = color.RGBA{51, 36, 18, 255}
	labelColor    = color.NRGBA{R: 60, G: 42, B: 20, A: 255}
	markerOnBlack = color.NRGBA{R: 240, G: 240, B: 240, A: 230}
	markerOnWhite = color.NRGBA{R: 20, G: 20, B: 20, A: 230}
)

func (r *gobanRenderer) RenderPNG(ctx context.Context, grid [][]string, size int, opts RenderOptions) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid board size %d", size)
	}

	const (
		cellSize     = 36
		margin       = 48
		stoneSize    = 34
		hoshiRadius  = 4
		markerRadius = 5
	)

	span := (size - 1) * cellSize
	total := span + margin*2
	origin := image.Point{X: margin, Y: margin}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(woodColor), image.Point{}, imagedraw.Src)

	drawGridLines(img, size, cellSize, origin)
	drawHoshi(img, size, cellSize, hoshiRadius, origin)
	if err := drawStones(img, grid, size, cellSize, stoneSize, origin); err != nil {
		return nil, err
	}
	drawLastMoveMarker(img, grid, size, cellSize, markerRadius, origin, opts.LastMove)
	drawBoardLabels(img, size, cellSize, margin, origin)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return pngBuf.Bytes(), nil
}

func drawGridLines(img *image.RGBA, size, cellSize int, origin image.Point) {
	span := (size - 1) * cellSize
	fill := image.NewUniform(lineColor)
	for i := 0; i < size; i++ {
		x := origin.X + i*cellSize
		imagedraw.Draw(img, image.Rect(x, origin.Y, x+1, origin.Y+span+1), fill, image.Point{}, imagedraw.Src)
		y := origin.Y + i*cellSize
		imagedraw.Draw(img, image.Rect(origin.X, y, origin.X+span+1, y+1), fill, image.Point{}, imagedraw.Src)
	}
}

// hoshiPoints lists the star point indices for the common board sizes.
// Other sizes get no star points.
func hoshiPoints(size int) [][2]int {
	var axes []int
	switch size {
	case 19:
		axes = []int{3, 9, 15}
	case 13:
		return [][2]int{{3, 3}, {3, 9}, {9, 3}, {9, 9}, {6, 6}}
	case 9:
		return [][2]int{{2, 2}, {2, 6}, {6, 2}, {6, 6}, {4, 4}}
	default:
		return nil
	}
	var pts [][2]int
	for _, row := range axes {
		for _, col := range axes {
			pts = append(pts, [2]int{row, col})
		}
	}
	return pts
}

func drawHoshi(img *image.RGBA, size, cellSize, radius int, origin image.Point) {
	for _, pt := range hoshiPoints(size) {
		center := image.Point{
			X: origin.X + pt[1]*cellSize,
			Y: origin.Y + pt[0]*cellSize,
		}
		drawDisc(img, center, radius, lineColor)
	}
}

func drawStones(img *image.RGBA, grid [][]string, size, cellSize, stoneSize int, origin image.Point) error {
	for row := 0; row < size && row < len(grid); row++ {
		for col := 0; col < size && col < len(grid[row]); col++ {
			cell := grid[row][col]
			if cell != "B" && cell != "W" {
				continue
			}
			stone, err := renderStoneImage(cell, stoneSize)
			if err != nil {
				return err
			}
			x := origin.X + col*cellSize - stoneSize/2
			y := origin.Y + row*cellSize - stoneSize/2
			imagedraw.Draw(img, image.Rect(x, y, x+stoneSize, y+stoneSize), stone, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func drawLastMoveMarker(img *image.RGBA, grid [][]string, size, cellSize, radius int, origin image.Point, lastMove string) {
	row, col, ok := board.GridPosition(lastMove, size)
	if !ok {
		return
	}
	clr := markerOnWhite
	if row < len(grid) && col < len(grid[row]) && grid[row][col] == "B" {
		clr = markerOnBlack
	}
	center := image.Point{X: origin.X + col*cellSize, Y: origin.Y + row*cellSize}
	drawDisc(img, center, radius, clr)
}

func drawBoardLabels(img *image.RGBA, size, cellSize, margin int, origin image.Point) {
	drawer := &font.Drawer{
		Dst:  img,
		Face: basicfont.Face7x13,
		Src:  image.NewUniform(labelColor),
	}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	span := (size - 1) * cellSize

	for col := 0; col < size && col < len(board.Alphabet); col++ {
		letter := string(board.Alphabet[col])
		x := origin.X + col*cellSize
		drawCenteredText(drawer, letter, x, origin.Y-margin/2+ascent/2)
		drawCenteredText(drawer, letter, x, origin.Y+span+margin/2+ascent/2)
	}
	for row := 0; row < size; row++ {
		label := strconv.Itoa(size - row)
		y := origin.Y + row*cellSize + ascent/2
		drawCenteredText(drawer, label, origin.X-margin/2, y)
		drawCenteredText(drawer, label, origin.X+span+margin/2, y)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func drawDisc(img *image.RGBA, center image.Point, radius int, clr color.Color) {
	if radius <= 0 {
		blendPixel(img, center.X, center.Y, clr)
		return
	}
	rSquared := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > rSquared {
				continue
			}
			blendPixel(img, center.X+x, center.Y+y, clr)
		}
	}
}

func blendPixel(img *image.RGBA, x, y int, clr color.Color) {
	if img == nil {
		return
	}
	if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}

	sr, sg, sb, sa := clr.RGBA()
	srcA := float64(sa) / 65535.0
	if srcA <= 0 {
		return
	}
	srcR := float64(sr) / 65535.0
	srcG := float64(sg) / 65535.0
	srcB := float64(sb) / 65535.0

	dst := img.RGBAAt(x, y)
	dstA := float64(dst.A) / 255.0

	var dstR, dstG, dstB float64
	if dstA > 0 {
		inv := 1.0 / dstA
		dstR = float64(dst.R) / 255.0 * inv
		dstG = float64(dst.G) / 255.0 * inv
		dstB = float64(dst.B) / 255.0 * inv
	}

	outA := srcA + dstA*(1-srcA)
	if outA <= 0 {
		img.SetRGBA(x, y, color.RGBA{})
		return
	}

	outR := (srcR*srcA + dstR*dstA*(1-srcA)) / outA
	outG := (srcG*srcA + dstG*dstA*(1-srcA)) / outA
	outB := (srcB*srcA + dstB*dstA*(1-srcA)) / outA

	img.SetRGBA(x, y, color.RGBA{
		R: floatToUint8(outR * outA * 255.0),
		G: floatToUint8(outG * outA * 255.0),
		B: floatToUint8(outB * outA * 255.0),
		A: floatToUint8(outA * 255.0),
	})
}

func floatToUint8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
