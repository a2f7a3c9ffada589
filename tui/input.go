package tui

import (
	"context"

	"cryogon/music-genie/player"
	"cryogon/music-genie/waveform"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	if m.prompt.Focused() || m.search.Focused() {
		return m.handleInputKey(msg)
	}

	var cmds []tea.Cmd
	k := m.keys

	switch {
	case key.Matches(msg, k.Quit):
		return m, tea.Quit
	case key.Matches(msg, k.NextTab):
		m.switchTab(1)
	case key.Matches(msg, k.PrevTab):
		m.switchTab(-1)
	case key.Matches(msg, k.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, k.Dismiss):
		m.dismissBanner()
	case key.Matches(msg, k.Retry):
		cmds = append(cmds, m.retry())
	case key.Matches(msg, k.Refresh):
		cmds = append(cmds, m.reload(m.activeTab()))

	case key.Matches(msg, k.Toggle):
		cmds = append(cmds, m.playerCmd(m.player.TogglePlay))
	case key.Matches(msg, k.Stop):
		cmds = append(cmds, m.playerCmd(m.player.Stop))
	case key.Matches(msg, k.Back):
		m.skip(-seekStep)
	case key.Matches(msg, k.Forward):
		m.skip(seekStep)
	case key.Matches(msg, k.VolUp):
		m.player.SetVolume(m.snap.Volume + volumeStep)
	case key.Matches(msg, k.VolDown):
		m.player.SetVolume(m.snap.Volume - volumeStep)
	case key.Matches(msg, k.Mute):
		m.player.ToggleMute()
	case key.Matches(msg, k.Faster):
		m.player.SetRate(m.snap.Rate + rateStep)
	case key.Matches(msg, k.Slower):
		m.player.SetRate(m.snap.Rate - rateStep)
	case key.Matches(msg, k.Waveform):
		if m.cfg.Features.Waveform {
			m.player.ToggleWaveform()
		}
	case key.Matches(msg, k.Favorite):
		if m.cfg.Features.Favorites && m.snap.Generation.GenerationID != "" {
			id := m.snap.Generation.GenerationID
			_, done := m.player.ToggleFavorite(context.Background())
			cmds = append(cmds, awaitFavorite(id, done))
		}
	case key.Matches(msg, k.Download):
		if m.cfg.Features.Downloads && m.snap.Generation.GenerationID != "" {
			cmds = append(cmds, download(m.player))
		}

	default:
		cmds = append(cmds, m.handleTabKey(msg))
	}

	m.snap = m.player.Snapshot()
	if m.width > 0 {
		m.layout()
	}
	cmds = append(cmds, m.syncWaveform(), m.startFrames())
	return m, tea.Batch(cmds...)
}

// skip is a no-op until audio is loaded, so a failure is only worth a debug line.
func (m *Model) skip(delta float64) {
	if err := m.player.Skip(delta); err != nil {
		m.logger.Debug().Err(err).Float64("delta", delta).Msg("skip failed")
	}
}

func (m *Model) handleTabKey(msg tea.KeyMsg) tea.Cmd {
	k := m.keys

	switch m.activeTab() {
	case tabGenerate:
		switch {
		case key.Matches(msg, k.Select):
			m.prompt.Focus()
			return textinput.Blink
		case key.Matches(msg, k.Longer):
			m.duration = min(m.duration+5, m.maxDuration())
		case key.Matches(msg, k.Shorter):
			m.duration = max(m.duration-5, 5)
		case key.Matches(msg, k.Device):
			m.device = (m.device + 1) % len(devices)
		case key.Matches(msg, k.Precision):
			m.precision = (m.precision + 1) % len(precisions)
		}
		return nil

	case tabStats:
		if key.Matches(msg, k.Reload) && m.cfg.Features.ModelControls {
			return reloadModel(m.backend)
		}
		return nil
	}

	panel := m.lists[m.activeTab()]
	if panel == nil {
		return nil
	}
	switch {
	case key.Matches(msg, k.Select):
		if gen, ok := m.selected(); ok {
			if !gen.Playable() {
				m.pushBanner(true, "This generation has no playable audio yet", nil)
				return nil
			}
			return loadAndPlay(m.player, gen, true)
		}
		return nil
	case key.Matches(msg, k.Search) && m.activeTab() == tabHistory && m.cfg.Features.Search:
		m.search.Focus()
		return textinput.Blink
	}

	var cmd tea.Cmd
	panel.table, cmd = panel.table.Update(msg)
	return cmd
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := m.keys

	switch {
	case key.Matches(msg, k.Blur):
		m.prompt.Blur()
		m.search.Blur()
		return m, nil
	case key.Matches(msg, k.NextTab):
		m.switchTab(1)
		return m, nil
	case key.Matches(msg, k.PrevTab):
		m.switchTab(-1)
		return m, nil
	}

	if m.prompt.Focused() {
		if key.Matches(msg, k.Select) {
			return m, m.startGeneration()
		}
		var cmd tea.Cmd
		m.prompt, cmd = m.prompt.Update(msg)
		return m, cmd
	}

	if key.Matches(msg, k.Select) {
		m.search.Blur()
		m.searchSeq++
		m.query = m.search.Value()
		return m, m.reload(tabHistory)
	}

	before := m.search.Value()
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	if m.search.Value() == before {
		return m, cmd
	}
	m.searchSeq++
	return m, tea.Batch(cmd, debounceSearch(m.searchSeq, m.cfg.UI.SearchDebounce))
}

func (m *Model) switchTab(delta int) {
	m.prompt.Blur()
	m.search.Blur()
	m.active = (m.active + delta + len(m.tabs)) % len(m.tabs)
	if m.activeTab() == tabGenerate {
		m.prompt.Focus()
	}
}

// retry runs the newest banner's retry, or reloads a failed track.
func (m *Model) retry() tea.Cmd {
	if n := len(m.banners); n > 0 {
		b := m.banners[n-1]
		if b.retry != nil {
			m.banners = m.banners[:n-1]
			return b.retry
		}
	}
	if m.snap.State == player.StateError {
		return retryPlayer(m.player)
	}
	return nil
}

func (m Model) playerCmd(fn func() error) tea.Cmd {
	id := m.snap.Generation.GenerationID
	return func() tea.Msg {
		return playResultMsg{id: id, err: fn()}
	}
}

func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionPress || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}
	if !m.snap.CanSeek() {
		return m, nil
	}

	top := m.seekTop()
	if msg.Y < top || msg.Y >= top+m.seekRows() {
		return m, nil
	}
	x := msg.X - 1
	w := m.seekWidth()
	if x < 0 || x >= w {
		return m, nil
	}

	if err := m.player.Seek(waveform.SeekTime(x, w, m.snap.Duration)); err != nil {
		m.logger.Debug().Err(err).Msg("seek failed")
	}
	m.snap = m.player.Snapshot()
	return m, nil
}
