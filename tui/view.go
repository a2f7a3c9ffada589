package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cryogon/music-genie/generation"
	"cryogon/music-genie/player"
	"cryogon/music-genie/waveform"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

const (
	headerHeight = 2 // tabs + banner line
	minWidth     = 40
	minHeight    = 16
)

// columns lays out the generation table for a content width. The prompt column takes the slack.
func columns(width int) []table.Column {
	cols := []table.Column{
		{Title: " ", Width: 2},
		{Title: "Prompt", Width: 10},
		{Title: "Dur", Width: 5},
		{Title: "Device", Width: 7},
		{Title: "RTF", Width: 6},
		{Title: "Plays", Width: 5},
		{Title: "♥", Width: 1},
		{Title: "Created", Width: 12},
	}
	fixed := 0
	for i, c := range cols {
		if i != 1 {
			fixed += c.Width
		}
	}
	// every cell carries one column of padding on each side
	cols[1].Width = max(width-fixed-2*len(cols), 10)
	return cols
}

func (m Model) rows(gens []generation.Generation) []table.Row {
	current := m.snap.Generation.GenerationID
	rows := make([]table.Row, 0, len(gens))
	for _, g := range gens {
		marker := "  "
		if current != "" && g.GenerationID == current {
			marker = "· "
			if m.snap.State == player.StatePlaying {
				marker = "▶ "
			}
		}

		prompt := g.Title()
		switch g.Status {
		case generation.StatusProcessing:
			prompt += " (processing)"
		case generation.StatusFailed:
			prompt += " (failed)"
		}

		fav := ""
		if g.IsFavorited {
			fav = "♥"
		}
		created := "-"
		if g.CreatedAt != nil {
			created = g.CreatedAt.Local().Format("Jan 02 15:04")
		}

		rows = append(rows, table.Row{
			marker,
			prompt,
			generation.FormatDuration(g.Duration),
			string(g.Device),
			generation.FormatRealtime(g.RealtimeFactor),
			fmt.Sprintf("%d", g.PlayCount),
			fav,
			created,
		})
	}
	return rows
}

func (m Model) seekRows() int {
	if m.cfg.Features.Waveform && m.snap.ShowWaveform {
		return max(m.cfg.UI.WaveformHeight, 1)
	}
	return 1
}

// footerHeight is the bordered player: title, seek rows, status.
func (m Model) footerHeight() int {
	return sectionStyle.GetVerticalFrameSize() + 2 + m.seekRows()
}

func (m Model) helpRows() int {
	if m.help.ShowAll {
		return max(lipgloss.Height(m.help.View(m.keys)), helpHeight)
	}
	return helpHeight
}

func (m Model) bodyHeight() int {
	return max(m.height-headerHeight-m.footerHeight()-m.helpRows(), 3)
}

// listChrome is every body row a list tab spends outside the table.
func (m Model) listChrome() int {
	rows := sectionStyle.GetVerticalFrameSize() + 1
	if m.cfg.Features.Search {
		rows++
	}
	return rows
}

func (m Model) waveWidth() int {
	return max(m.width-sectionStyle.GetHorizontalFrameSize(), 0)
}

func (m Model) seekWidth() int {
	return m.waveWidth()
}

// seekTop is the screen row of the first seek row, below the footer border and title.
func (m Model) seekTop() int {
	return m.height - m.helpRows() - m.footerHeight() + sectionStyle.GetBorderTopSize() + 1
}

func (m Model) View() string {
	if m.width < minWidth || m.height < minHeight {
		return "Initializing..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.tabsView(),
		m.bannerView(),
		m.bodyView(),
		m.footerView(),
		m.help.View(m.keys),
	)
}

func (m Model) tabsView() string {
	parts := []string{titleStyle.Render("♪ Music Genie")}
	for i, t := range m.tabs {
		if i == m.active {
			parts = append(parts, activeTabStyle.Render(t.String()))
		} else {
			parts = append(parts, tabStyle.Render(t.String()))
		}
	}
	line := lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	return lipgloss.NewStyle().MaxWidth(m.width).Render(line)
}

func (m Model) bannerView() string {
	if len(m.banners) == 0 {
		return ""
	}
	b := m.banners[len(m.banners)-1]
	text := b.text
	if b.retry != nil {
		text += "  (r retry, x dismiss)"
	} else {
		text += "  (x dismiss)"
	}
	if n := len(m.banners); n > 1 {
		text = fmt.Sprintf("[%d] %s", n, text)
	}
	style := infoBannerStyle
	if b.err {
		style = errorBannerStyle
	}
	return style.MaxWidth(m.width).Render(truncate(text, m.width-2))
}

func (m Model) bodyView() string {
	h := m.bodyHeight()
	inner := h - sectionStyle.GetVerticalFrameSize()
	w := m.width - sectionStyle.GetHorizontalFrameSize()

	t := m.activeTab()
	content := m.panel(t.String(), func() string {
		switch t {
		case tabGenerate:
			return m.generateView(w)
		case tabStats:
			return m.statsView()
		default:
			return m.listView(t)
		}
	})

	content = lipgloss.NewStyle().Height(inner).MaxHeight(inner).MaxWidth(w).Render(content)
	return sectionStyle.
		Width(w).
		BorderForeground(activeColor).
		Render(content)
}

// panel renders one tab, turning a render panic into a fallback so the rest of the screen survives.
func (m Model) panel(name string, render func() string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("panel", name).Msg("panel render failed")
			out = errorStyle.Render(fmt.Sprintf("%s could not be displayed. Press ctrl+r to retry.", name))
		}
	}()
	return render()
}

func (m Model) listView(t tab) string {
	panel := m.lists[t]
	var lines []string

	if t == tabHistory && m.cfg.Features.Search {
		lines = append(lines, m.search.View())
	} else if m.cfg.Features.Search {
		lines = append(lines, "")
	}

	switch {
	case panel.err != nil && len(panel.gens) == 0:
		lines = append(lines, errorStyle.Render("Failed to load: "+panel.err.Error()+" (ctrl+r to retry)"))
	case panel.loading && len(panel.gens) == 0:
		lines = append(lines, dimStyle.Render("Loading..."))
	case len(panel.gens) == 0:
		lines = append(lines, dimStyle.Render(emptyText(t, m.query)))
	default:
		status := fmt.Sprintf("%d generations", len(panel.gens))
		if t == tabHistory && m.query != "" {
			status = fmt.Sprintf("%d matches for %q", len(panel.gens), m.query)
		}
		if panel.loading {
			status += " · refreshing"
		}
		lines = append(lines, dimStyle.Render(status))
	}

	if len(panel.gens) > 0 {
		lines = append(lines, panel.table.View())
	}
	return strings.Join(lines, "\n")
}

func emptyText(t tab, query string) string {
	switch {
	case t == tabHistory && query != "":
		return fmt.Sprintf("Nothing matches %q", query)
	case t == tabFavorites:
		return "No favorites yet. Press f while a track is loaded."
	case t == tabPopular:
		return "Nothing has been played yet."
	default:
		return "No generations yet. Create one on the Generate tab."
	}
}

func (m Model) generateView(width int) string {
	var b strings.Builder

	b.WriteString(labelStyle.Render("Prompt") + "\n")
	b.WriteString(m.prompt.View() + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%d/%d", len([]rune(m.prompt.Value())), m.prompt.CharLimit)) + "\n\n")

	device := devices[m.device]
	if device == "" {
		device = "auto"
	}
	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		labelStyle.Render("Duration"), generation.FormatDuration(m.duration),
		labelStyle.Render("Device"), device,
		labelStyle.Render("Precision"), precisions[m.precision],
	)
	b.WriteString(dimStyle.Render("[ ] duration · e device · p precision · enter generate · esc leave input") + "\n\n")

	if m.generating {
		elapsed := m.now().Sub(m.genStarted)
		m.genBar.Update(min(width-2, 60), generationProgress(elapsed, m.genReq.Duration), 1)
		fmt.Fprintf(&b, "%s Generating %s of audio... %s\n", m.spinner.View(), generation.FormatDuration(m.genReq.Duration), elapsed.Truncate(time.Second))
		b.WriteString(m.genBar.View() + "\n")
	} else if g := m.lastGen; g != nil {
		b.WriteString(okStyle.Render("Last generation") + "\n")
		fmt.Fprintf(&b, "%s\n", truncate(g.Title(), width-2))
		fmt.Fprintf(&b, "%s · %s · generated in %.1fs (%s realtime) · %s\n",
			generation.FormatDuration(g.Duration),
			g.Device,
			g.GenerationTime,
			generation.FormatRealtime(g.RealtimeFactor),
			generation.FormatFileSize(g.FileSizeMB),
		)
	}
	return b.String()
}

// generationProgress estimates completion while the request is in flight. It never reaches 1.
func generationProgress(elapsed time.Duration, duration float64) float64 {
	expected := max(duration*0.6, 5)
	return min(elapsed.Seconds()/expected, 0.95)
}

func (m Model) statsView() string {
	var b strings.Builder

	b.WriteString(labelStyle.Render(fmt.Sprintf("Last %d days", m.cfg.UI.StatsDays)) + "\n")
	switch {
	case m.statsErr != nil:
		b.WriteString(errorStyle.Render("Stats unavailable: "+m.statsErr.Error()) + "\n")
	case m.stats == nil:
		b.WriteString(dimStyle.Render("Loading...") + "\n")
	default:
		s := m.stats
		fmt.Fprintf(&b, "Generations  %d (%d ok, %d failed, %.1f%% success)\n",
			s.TotalGenerations, s.SuccessfulGenerations, s.FailedGenerations, s.SuccessRate)
		fmt.Fprintf(&b, "Avg time     %.1fs (%s realtime)\n", s.AvgGenerationTime, generation.FormatRealtime(s.AvgRealtimeFactor))
		fmt.Fprintf(&b, "Plays        %d   Downloads %d   Favorites %d\n", s.TotalPlays, s.TotalDownloads, s.TotalFavorites)
		if s.Message != "" {
			b.WriteString(dimStyle.Render(s.Message) + "\n")
		}
	}

	b.WriteString("\n" + labelStyle.Render("Backend") + "\n")
	if h := m.health; h != nil {
		status := errorStyle.Render(h.Status)
		if h.Healthy() {
			status = okStyle.Render(h.Status)
		}
		fmt.Fprintf(&b, "Status       %s", status)
		if h.Version != "" {
			fmt.Fprintf(&b, "  v%s", h.Version)
		}
		b.WriteString("\n")
		names := make([]string, 0, len(h.Components))
		for name := range h.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %-10s %v\n", name, h.Components[name])
		}
	} else {
		b.WriteString(dimStyle.Render("Checking...") + "\n")
	}

	if m.cfg.Features.ModelControls {
		b.WriteString("\n" + labelStyle.Render("Model") + "\n")
		switch {
		case m.modelErr != nil && m.model == nil:
			b.WriteString(errorStyle.Render("Model status unavailable: "+m.modelErr.Error()) + "\n")
		case m.model == nil:
			b.WriteString(dimStyle.Render("Checking...") + "\n")
		default:
			s := m.model
			state := "not loaded"
			switch {
			case s.Loading:
				state = "loading"
			case s.Loaded:
				state = "loaded"
			}
			fmt.Fprintf(&b, "%s on %s (%s)\n", s.ModelType, s.Device, state)
			if s.SampleRate > 0 {
				fmt.Fprintf(&b, "Sample rate  %d Hz\n", s.SampleRate)
			}
		}
		b.WriteString(dimStyle.Render("R reload model") + "\n")
	}
	return b.String()
}

func (m Model) footerView() string {
	w := m.waveWidth()
	s := m.snap

	title := dimStyle.Render("Nothing loaded")
	if s.Generation.GenerationID != "" {
		fav := ""
		if s.Generation.IsFavorited {
			fav = " ♥"
		}
		title = titleStyle.Render(truncate(s.Generation.Title(), w-4)) + labelStyle.Render(fav)
	}

	progress := waveform.ProgressRatio(s.Position, s.Duration)
	var seek string
	if m.cfg.Features.Waveform && s.ShowWaveform {
		seek = m.renderer.Render(m.paddedPeaks(), waveform.Frame{
			Width:    w,
			Height:   m.seekRows(),
			Progress: progress,
			Pulse:    m.animator.Pulse(),
		})
		if seek == "" {
			seek = strings.Repeat("\n", m.seekRows()-1)
		}
	} else {
		m.bar.Update(w, s.Position, s.Duration)
		seek = m.bar.View()
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().MaxWidth(w).Render(title),
		lipgloss.NewStyle().Height(m.seekRows()).MaxHeight(m.seekRows()).Render(seek),
		lipgloss.NewStyle().MaxWidth(w).Render(m.statusLine()),
	)
	return sectionStyle.
		Width(w).
		BorderForeground(normalColor).
		Render(content)
}

// paddedPeaks returns the loaded peaks, or a flat line before the first load lands.
func (m Model) paddedPeaks() []float64 {
	if len(m.peaks) > 0 {
		return m.peaks
	}
	return make([]float64, waveform.SampleCount(m.waveWidth(), m.renderer.Geometry))
}

func (m Model) statusLine() string {
	s := m.snap
	parts := []string{
		fmt.Sprintf("%s / %s", generation.FormatDuration(s.Position), generation.FormatDuration(s.Duration)),
	}

	vol := fmt.Sprintf("vol %d%%", int(s.Volume*100+0.5))
	if s.Muted {
		vol = "muted"
	}
	parts = append(parts, vol, fmt.Sprintf("%.2fx", s.Rate))

	state := s.State.String()
	if s.Buffering {
		state = "buffering"
	}
	parts = append(parts, state)
	if m.synthetic && s.ShowWaveform {
		parts = append(parts, dimStyle.Render("~waveform"))
	}

	line := strings.Join(parts, "  ")
	if s.State == player.StateError {
		msg := "playback failed"
		if s.Err != nil {
			msg = s.Err.Error()
		}
		line += "  " + errorStyle.Render(msg+" (r to retry)")
	}
	return line
}

func truncate(s string, w int) string {
	if w <= 3 {
		return ""
	}
	r := []rune(s)
	if len(r) > w {
		return string(r[:w-3]) + "..."
	}
	return s
}
