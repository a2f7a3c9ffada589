package tui

import "strings"

// ProgressBar is the compact bar used when the waveform is hidden and while generating.
type ProgressBar struct {
	str string

	Width int

	// ░░░░▓▓▓▓ : ░ is ASCIICompleted, ▓ is ASCIINotCompleted
	ASCIICompleted    string
	ASCIINotCompleted string
}

func NewProgressBar() *ProgressBar {
	return &ProgressBar{
		ASCIICompleted:    "░",
		ASCIINotCompleted: "▓",
	}
}

func (p *ProgressBar) View() string {
	return p.str
}

// Update redraws the bar for current/total over width columns. A zero total draws an empty bar.
func (p *ProgressBar) Update(width int, current, total float64) {
	p.Width = max(width, 0)

	ratio := 0.0
	if total > 0 {
		ratio = min(max(current/total, 0), 1)
	}

	var b strings.Builder
	for i := 0; i < p.Width; i++ {
		if float64(i)/float64(p.Width) < ratio {
			b.WriteString(p.ASCIICompleted)
		} else {
			b.WriteString(p.ASCIINotCompleted)
		}
	}
	p.str = b.String()
}
