package game

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed assets/stones/*.svg
var stoneFiles embed.FS

type stoneCacheKey struct {
	color string
	size  int
}

var (
	stoneCache   = map[stoneCacheKey]image.Image{}
	stoneCacheMu sync.RWMutex
)

func renderStoneImage(stoneColor string, size int) (image.Image, error) {
	key := stoneCacheKey{color: stoneColor, size: size}

	stoneCacheMu.RLock()
	if img, ok := stoneCache[key]; ok {
		stoneCacheMu.RUnlock()
		return img, nil
	}
	stoneCacheMu.RUnlock()

	name := stoneAssetName(stoneColor)
	data, err := stoneFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read stone asset %s: %w", name, err)
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse stone svg: %w", err)
	}

	w := int(icon.ViewBox.W)
	h := int(icon.ViewBox.H)
	if w <= 0 {
		w = size
		icon.ViewBox.W = float64(w)
	}
	if h <= 0 {
		h = size
		icon.ViewBox.H = float64(h)
	}

	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	stoneCacheMu.Lock()
	stoneCache[key] = img
	stoneCacheMu.Unlock()

	return img, nil
}

func stoneAssetName(stoneColor string) string {
	if stoneColor == "W" {
		return "assets/stones/white.svg"
	}
	return "assets/stones/black.svg"
}
