// Package debugviz draws a top-down picture of world state for debugging.
package debugviz

import (
	"image"
	"image/color"
	"io"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"skirmish/internal/game"
	"skirmish/internal/game/world"
)

// Drawing constants, in pixels unless noted.
const (
	DefaultSize     = 512
	CharacterRadius = 6.0
	HazardRadius    = 10.0 // World units
	HealthBarWidth  = 16.0
	HealthBarHeight = 3.0
)

// Options controls a render.
type Options struct {
	Size      int            // Square image side, DefaultSize when zero
	ArenaSize float64        // World extent mapped onto the image
	Teams     map[int]string // Team id to color name, palette order otherwise
	Labels    bool           // Draw entity names
}

var (
	background = color.RGBA{12, 12, 28, 255}
	gridLine   = color.RGBA{30, 30, 45, 255}
	neutral    = color.RGBA{150, 150, 150, 255}
)

var named = map[string]color.RGBA{
	"red":    {230, 57, 70, 255},
	"blue":   {69, 123, 230, 255},
	"green":  {83, 200, 69, 255},
	"yellow": {250, 210, 40, 255},
	"purple": {150, 80, 200, 255},
	"orange": {255, 149, 0, 255},
	"pink":   {255, 120, 190, 255},
	"cyan":   {60, 220, 230, 255},
	"white":  {240, 240, 240, 255},
	"black":  {40, 40, 40, 255},
}

// TeamColor returns the color used for team.
func (o Options) TeamColor(team int) color.RGBA {
	if name, ok := o.Teams[team]; ok {
		if c, ok := named[name]; ok {
			return c
		}
	}
	if team <= 0 {
		return neutral
	}
	return named[game.TeamColors[(team-1)%len(game.TeamColors)]]
}

// Render draws states onto a new image.
func Render(states []world.StateData, opts Options) image.Image {
	return draw(states, opts).Image()
}

// WritePNG renders states and encodes them as PNG to w.
func WritePNG(w io.Writer, states []world.StateData, opts Options) error {
	return draw(states, opts).EncodePNG(w)
}

func draw(states []world.StateData, opts Options) *gg.Context {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	arena := opts.ArenaSize
	if arena <= 0 {
		arena = 400
	}
	px := float64(size)
	scale := px / arena

	// World x grows right, world z grows down.
	toScreen := func(s world.StateData) (float64, float64) {
		return (s.Position.X + arena/2) * scale, (s.Position.Z + arena/2) * scale
	}

	dc := gg.NewContext(size, size)
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(background)
	dc.DrawRectangle(0, 0, px, px)
	dc.Fill()

	dc.SetColor(gridLine)
	dc.SetLineWidth(1)
	for i := 1; i < 8; i++ {
		v := px * float64(i) / 8
		dc.DrawLine(v, 0, v, px)
		dc.Stroke()
		dc.DrawLine(0, v, px, v)
		dc.Stroke()
	}

	// Hazards underneath characters.
	for _, s := range states {
		if s.Kind != world.KindHazard.String() {
			continue
		}
		x, y := toScreen(s)
		c := opts.TeamColor(s.Team)
		c.A = 70
		dc.SetColor(c)
		dc.DrawCircle(x, y, HazardRadius*scale)
		dc.Fill()
	}

	for _, s := range states {
		if s.Kind == world.KindHazard.String() {
			continue
		}
		x, y := toScreen(s)
		if s.Dead {
			drawDead(dc, x, y)
			continue
		}
		drawCharacter(dc, s, x, y, opts.TeamColor(s.Team))
		if opts.Labels && s.Name != "" {
			dc.SetColor(color.White)
			dc.DrawStringAnchored(s.Name, x, y-CharacterRadius-10, 0.5, 0)
		}
	}
	return dc
}

func drawCharacter(dc *gg.Context, s world.StateData, x, y float64, c color.RGBA) {
	dc.SetColor(c)
	dc.DrawCircle(x, y, CharacterRadius)
	dc.Fill()

	// Facing
	dc.SetColor(color.White)
	dc.SetLineWidth(1.5)
	dc.DrawLine(x, y, x+s.Facing.X*CharacterRadius*1.6, y+s.Facing.Z*CharacterRadius*1.6)
	dc.Stroke()

	if s.Casting {
		dc.SetColor(color.RGBA{255, 255, 255, 160})
		dc.SetLineWidth(1)
		dc.DrawCircle(x, y, CharacterRadius+3)
		dc.Stroke()
	}

	// One dot per active buff
	for i := range s.Buffs {
		dc.SetColor(color.RGBA{255, 220, 120, 255})
		dc.DrawCircle(x-CharacterRadius+float64(i)*3, y+CharacterRadius+3, 1)
		dc.Fill()
	}

	if s.HealthMax <= 0 {
		return
	}
	pct := s.Health / s.HealthMax
	top := y - CharacterRadius - 6

	dc.SetColor(color.RGBA{51, 51, 51, 255})
	dc.DrawRectangle(x-HealthBarWidth/2, top, HealthBarWidth, HealthBarHeight)
	dc.Fill()

	switch {
	case pct > 0.5:
		dc.SetColor(color.RGBA{83, 255, 69, 255})
	case pct > 0.25:
		dc.SetColor(color.RGBA{255, 149, 0, 255})
	default:
		dc.SetColor(color.RGBA{255, 62, 62, 255})
	}
	dc.DrawRectangle(x-HealthBarWidth/2, top, HealthBarWidth*pct, HealthBarHeight)
	dc.Fill()
}

func drawDead(dc *gg.Context, x, y float64) {
	dc.SetColor(color.RGBA{255, 0, 0, 255})
	dc.SetLineWidth(2)
	dc.DrawLine(x-4, y-4, x+4, y+4)
	dc.Stroke()
	dc.DrawLine(x+4, y-4, x-4, y+4)
	dc.Stroke()
}
