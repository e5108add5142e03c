package actuator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/fatih/color"

	mood "workspace-mood-monitor/internal/mood/domain"
)

// DefaultRenderInterval is the 10Hz render tick.
const DefaultRenderInterval = 100 * time.Millisecond

// Pixel is an RGB output.
type Pixel interface {
	Set(c mood.Color) error
}

// Renderer pushes the lamp state to a pixel on every tick.
type Renderer struct {
	state    *State
	pixel    Pixel
	interval time.Duration
	logger   *log.Logger
}

// NewRenderer constructs a renderer.
func NewRenderer(state *State, pixel Pixel, interval time.Duration, logger *log.Logger) (*Renderer, error) {
	if state == nil {
		return nil, errors.New("actuator: nil state")
	}
	if pixel == nil {
		return nil, errors.New("actuator: nil pixel")
	}
	if interval <= 0 {
		interval = DefaultRenderInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Renderer{state: state, pixel: pixel, interval: interval, logger: logger}, nil
}

// Run renders until ctx is done.
func (r *Renderer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.RenderOnce()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RenderOnce snapshots the state and writes it to the pixel; off renders black.
func (r *Renderer) RenderOnce() {
	snap := r.state.Snapshot()
	c := snap.Color
	if !snap.On {
		c = mood.Color{}
	}
	if err := r.pixel.Set(c); err != nil {
		r.logger.Printf("actuator: render: %v", err)
	}
}

// TerminalPixel draws the lamp as a colored swatch, writing only on change.
type TerminalPixel struct {
	mu   sync.Mutex
	w    io.Writer
	last *mood.Color
}

// NewTerminalPixel constructs a terminal pixel writing to w.
func NewTerminalPixel(w io.Writer) *TerminalPixel {
	return &TerminalPixel{w: w}
}

// Set implements Pixel.
func (p *TerminalPixel) Set(c mood.Color) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil && *p.last == c {
		return nil
	}
	p.last = &c
	_, err := fmt.Fprintf(p.w, "lamp %s %s\n", swatch(c).Sprint("      "), c.Hex())
	return err
}

// swatch picks the nearest terminal background for c.
func swatch(c mood.Color) *color.Color {
	const on = 128
	r, g, b := c.Red >= on, c.Green >= on, c.Blue >= on
	switch {
	case r && g && b:
		return color.New(color.BgWhite)
	case r && g:
		return color.New(color.BgYellow)
	case r && b:
		return color.New(color.BgMagenta)
	case g && b:
		return color.New(color.BgCyan)
	case r:
		return color.New(color.BgRed)
	case g:
		return color.New(color.BgGreen)
	case b:
		return color.New(color.BgBlue)
	}
	return color.New(color.BgBlack)
}
