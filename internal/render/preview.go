// Package render produces a raster preview of a map spec. It is the visual
// fallback when no AI artwork exists for a map, and cheap enough to run
// inline during generation.
package render

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"image/color"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"github.com/carequest/questmap-backend/internal/mapspec"
	"github.com/carequest/questmap-backend/internal/platform/envutil"
	"github.com/carequest/questmap-backend/internal/platform/logger"
)

const (
	previewWidth  = 1024
	previewHeight = 1024
)

type Renderer struct {
	log      *logger.Logger
	fontFace font.Face
}

// NewRenderer loads an optional label font from MAP_FONT_PATH. Without a
// font, previews render with node markers but no labels.
func NewRenderer(log *logger.Logger) *Renderer {
	r := &Renderer{log: log.With("service", "MapRenderer")}

	fontPath := envutil.Str("MAP_FONT_PATH", "")
	if fontPath != "" {
		face, err := loadFontFace(fontPath, 22)
		if err != nil {
			log.Warn("Map label font unavailable; rendering without labels", "path", fontPath, "error", err.Error())
		} else {
			r.fontFace = face
		}
	}
	return r
}

// RenderPreview rasterizes spec into a PNG.
func (r *Renderer) RenderPreview(spec mapspec.Spec) ([]byte, error) {
	dc := gg.NewContext(previewWidth, previewHeight)

	sky := parseColor(spec.Palette.Sky, color.NRGBA{R: 0x1E, G: 0x29, B: 0x3B, A: 0xFF})
	ground := parseColor(spec.Palette.Ground, color.NRGBA{R: 0x47, G: 0x55, B: 0x69, A: 0xFF})
	primary := parseColor(spec.Palette.Primary, color.NRGBA{R: 0x8B, G: 0x5C, B: 0xF6, A: 0xFF})
	accent := parseColor(spec.Palette.Accent, color.NRGBA{R: 0xC4, G: 0xB5, B: 0xFD, A: 0xFF})

	// Vertical sky-to-ground gradient.
	for y := 0; y < previewHeight; y++ {
		t := float64(y) / float64(previewHeight-1)
		dc.SetColor(lerpColor(sky, ground, t))
		dc.DrawLine(0, float64(y), previewWidth, float64(y))
		dc.Stroke()
	}

	// Decor markers behind the path.
	for _, d := range spec.Decor {
		x, y := toCanvas(d.X, d.Y)
		radius := 14.0 * d.Scale
		alpha := uint8(90)
		if d.Layer == mapspec.LayerFront {
			alpha = 160
		}
		c := accent
		c.A = alpha
		dc.SetColor(c)
		dc.DrawCircle(x, y, radius)
		dc.Fill()
	}

	r.drawPath(dc, spec.Path, primary)

	for _, n := range spec.Nodes {
		x, y := toCanvas(n.X, n.Y)
		dc.SetColor(color.White)
		dc.DrawCircle(x, y, 16)
		dc.Fill()
		dc.SetColor(primary)
		dc.DrawCircle(x, y, 12)
		dc.Fill()

		if r.fontFace != nil {
			dc.SetFontFace(r.fontFace)
			dc.SetColor(color.White)
			tw, _ := dc.MeasureString(n.Label)
			dc.DrawString(n.Label, x-tw/2, y-24)
		}
	}

	// Character marker at spawn.
	cx, cy := toCanvas(spec.Character.X, spec.Character.Y)
	dc.SetColor(color.NRGBA{R: 0xFF, G: 0xD7, B: 0x00, A: 0xFF})
	dc.DrawCircle(cx, cy, 8)
	dc.Fill()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode preview PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) drawPath(dc *gg.Context, path []mapspec.Point, c color.NRGBA) {
	if len(path) < 2 {
		return
	}

	dc.SetColor(color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xB0})
	dc.SetLineWidth(10)

	x0, y0 := toCanvas(path[0].X, path[0].Y)
	dc.MoveTo(x0, y0)
	for i := 1; i < len(path); i++ {
		x, y := toCanvas(path[i].X, path[i].Y)
		if i+1 < len(path) {
			// Curve through the midpoint toward the next point.
			nx, ny := toCanvas(path[i+1].X, path[i+1].Y)
			dc.QuadraticTo(x, y, (x+nx)/2, (y+ny)/2)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.Stroke()
}

func toCanvas(x, y float64) (float64, float64) {
	return x * previewWidth, y * previewHeight
}

func parseColor(hexStr string, def color.NRGBA) color.NRGBA {
	s := strings.TrimPrefix(strings.TrimSpace(hexStr), "#")
	if len(s) != 6 {
		return def
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 3 {
		return def
	}
	return color.NRGBA{R: raw[0], G: raw[1], B: raw[2], A: 0xFF}
}

func lerpColor(a, b color.NRGBA, t float64) color.NRGBA {
	lerp := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t)
	}
	return color.NRGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: 0xFF}
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}
