package waveform

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

var levels = []string{"▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

type Palette struct {
	PlayedFrom colorful.Color
	PlayedTo   colorful.Color
	MutedFrom  colorful.Color
	MutedTo    colorful.Color
	Glow       colorful.Color
	GlowPeak   colorful.Color
}

var DefaultPalette = Palette{
	PlayedFrom: colorful.Color{R: 1.0, G: 0.475, B: 0.776},
	PlayedTo:   colorful.Color{R: 0.741, G: 0.576, B: 0.976},
	MutedFrom:  colorful.Color{R: 0.267, G: 0.278, B: 0.353},
	MutedTo:    colorful.Color{R: 0.384, G: 0.447, B: 0.643},
	Glow:       colorful.Color{R: 1.0, G: 0.475, B: 0.776},
	GlowPeak:   colorful.Color{R: 0.973, G: 0.973, B: 0.949},
}

// Frame describes one paint: Progress is currentTime/duration, Pulse the glow intensity.
type Frame struct {
	Width    int
	Height   int
	Progress float64
	Pulse    float64
}

type Renderer struct {
	Geometry Geometry
	Palette  Palette
}

func NewRenderer(g Geometry) *Renderer {
	return &Renderer{Geometry: g, Palette: DefaultPalette}
}

// Render paints peaks as Height rows of Width columns.
func (r *Renderer) Render(peaks []float64, f Frame) string {
	if f.Width <= 0 || f.Height <= 0 {
		return ""
	}

	rows := make([]strings.Builder, f.Height)
	stride := r.Geometry.stride()
	barWidth := max(r.Geometry.BarWidth, 1)
	cursor := ProgressColumn(f.Progress, f.Width)

	for x := 0; x < f.Width; x++ {
		if x == cursor {
			glow := lipgloss.NewStyle().Foreground(lipgloss.Color(r.Palette.Glow.BlendLuv(r.Palette.GlowPeak, f.Pulse).Clamped().Hex()))
			for y := range rows {
				rows[y].WriteString(glow.Render("┃"))
			}
			continue
		}

		bar := x / stride
		if x%stride >= barWidth || bar >= len(peaks) {
			for y := range rows {
				rows[y].WriteByte(' ')
			}
			continue
		}

		t := float64(x) / float64(max(f.Width-1, 1))
		col := r.Palette.MutedFrom.BlendLuv(r.Palette.MutedTo, t)
		if float64(x) < f.Progress*float64(f.Width) {
			col = r.Palette.PlayedFrom.BlendLuv(r.Palette.PlayedTo, t)
		}
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(col.Clamped().Hex()))

		eighths := int(math.Round(clamp01(peaks[bar]) * float64(f.Height*8)))
		if peaks[bar] > 0 && eighths == 0 {
			eighths = 1
		}
		for y := range rows {
			fromBottom := f.Height - 1 - y
			fill := eighths - fromBottom*8
			switch {
			case fill <= 0:
				rows[y].WriteByte(' ')
			case fill >= 8:
				rows[y].WriteString(style.Render(levels[7]))
			default:
				rows[y].WriteString(style.Render(levels[fill-1]))
			}
		}
	}

	lines := make([]string, len(rows))
	for i := range rows {
		lines[i] = rows[i].String()
	}
	return strings.Join(lines, "\n")
}

// ProgressRatio is current/duration clamped to [0, 1]; 0 when duration is unknown.
func ProgressRatio(current, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return clamp01(current / duration)
}

// SeekTime maps a click at column x to a playback time.
func SeekTime(x, width int, duration float64) float64 {
	if width <= 0 || duration <= 0 {
		return 0
	}
	x = min(max(x, 0), width)
	return float64(x) / float64(width) * duration
}

// ProgressColumn is the column the progress line sits on; the inverse of SeekTime.
func ProgressColumn(ratio float64, width int) int {
	if width <= 0 {
		return 0
	}
	col := int(math.Floor(clamp01(ratio)*float64(width) + 1e-9))
	return min(col, width-1)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
