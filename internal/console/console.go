// Package console renders the live state to a terminal: the latest reading,
// its AQI category and a coloured bar graph of recent history.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"

	"github.com/VishwanathaRgitgit/DeepAir/internal/aqi"
	"github.com/VishwanathaRgitgit/DeepAir/internal/livestate"
	"github.com/VishwanathaRgitgit/DeepAir/internal/timeutil"
)

const (
	// GraphWidth is the length of the longest bar.
	GraphWidth = 50
	// GraphRows is how many recent values are drawn per series.
	GraphRows = 10
)

var colours = map[aqi.Colour]lipgloss.Color{
	aqi.Green:  lipgloss.Color("10"),
	aqi.Yellow: lipgloss.Color("11"),
	aqi.Orange: lipgloss.Color("208"),
	aqi.Red:    lipgloss.Color("9"),
	aqi.Purple: lipgloss.Color("5"),
}

type Renderer struct {
	r          *lipgloss.Renderer
	staleAfter time.Duration

	title lipgloss.Style
	label lipgloss.Style
	muted lipgloss.Style
}

// NewRenderer styles output for w. Colour is dropped automatically when w
// is not a terminal.
func NewRenderer(w io.Writer, staleAfter time.Duration) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		r:          r,
		staleAfter: staleAfter,
		title:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		label:      r.NewStyle().Bold(true),
		muted:      r.NewStyle().Faint(true),
	}
}

func (c *Renderer) colour(col aqi.Colour) lipgloss.Style {
	return c.r.NewStyle().Foreground(colours[col])
}

// Render formats one frame of output.
func (c *Renderer) Render(snap livestate.Snapshot, now time.Time) string {
	var b strings.Builder
	b.WriteString(c.title.Render("DeepAir live"))
	b.WriteString("\n")

	if snap.Latest == nil {
		b.WriteString(c.muted.Render("waiting for the first reading..."))
		b.WriteString("\n")
		return b.String()
	}

	l := snap.Latest
	idx := aqi.FromPM25(l.PM25)
	fmt.Fprintf(&b, "%s %s  %s %s\n",
		c.label.Render("PM2.5"), c.colour(aqi.PM25Colour(l.PM25)).Render(fmt.Sprintf("%.1f µg/m³", l.PM25)),
		c.label.Render("PM10"), c.colour(aqi.PM10Colour(l.PM10)).Render(fmt.Sprintf("%.1f µg/m³", l.PM10)),
	)
	fmt.Fprintf(&b, "%s %d (%s)\n", c.label.Render("AQI"), idx.Level, idx.Category)
	if l.PredictedPM25 != nil {
		fmt.Fprintf(&b, "%s %.2f µg/m³\n", c.label.Render("Predicted PM2.5"), *l.PredictedPM25)
	}
	last := l.ObservedAt.Local().Format("2006-01-02 15:04:05")
	if snap.Stale(now, c.staleAfter) {
		last += " " + c.colour(aqi.Red).Render("(stale)")
	}
	fmt.Fprintf(&b, "%s %s\n\n", c.label.Render("Last update"), last)

	pm25 := make([]float64, len(snap.History))
	pm10 := make([]float64, len(snap.History))
	for i, m := range snap.History {
		pm25[i] = m.PM25
		pm10[i] = m.PM10
	}
	b.WriteString(c.Graph("PM2.5", tail(pm25, GraphRows)))
	b.WriteString(c.Graph("PM10", tail(pm10, GraphRows)))
	return b.String()
}

// Graph draws one bar per value, scaled so the largest value spans
// GraphWidth cells.
func (c *Renderer) Graph(label string, values []float64) string {
	if len(values) == 0 {
		return ""
	}
	maxVal := 1.0
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	scale := GraphWidth / maxVal

	var b strings.Builder
	b.WriteString(c.label.Render(label + ":"))
	b.WriteString("\n")
	for _, v := range values {
		n := int(v * scale)
		if n < 0 {
			n = 0
		}
		b.WriteString(c.colour(aqi.BarColour(v)).Render(strings.Repeat("█", n)))
		b.WriteString(c.muted.Render(fmt.Sprintf(" %.1f", v)))
		b.WriteString("\n")
	}
	return b.String()
}

func tail(v []float64, n int) []float64 {
	if len(v) > n {
		return v[len(v)-n:]
	}
	return v
}

// clearScreen erases the terminal and homes the cursor.
const clearScreen = "\x1b[2J\x1b[H"

// isTerminal reports whether w is an interactive terminal. Frames written
// to one replace the previous frame instead of scrolling.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(f.Fd())
}

// Run redraws the console every interval until ctx is done. Frames are
// skipped while nothing new has been published.
func Run(ctx context.Context, w io.Writer, live *livestate.State, interval, staleAfter time.Duration, clock timeutil.Clock) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := NewRenderer(w, staleAfter)
	inPlace := isTerminal(w)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq uint64
	drawn := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := live.Snapshot()
			if drawn && snap.Seq == lastSeq && !snap.Stale(clock.Now(), staleAfter) {
				continue
			}
			lastSeq = snap.Seq
			drawn = true
			frame := r.Render(snap, clock.Now())
			if inPlace {
				frame = clearScreen + frame
			}
			if _, err := io.WriteString(w, frame); err != nil {
				return fmt.Errorf("console write: %w", err)
			}
		}
	}
}
