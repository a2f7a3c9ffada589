// Package tui : the bubbletea front end
package tui

import (
	"context"
	"fmt"
	"time"

	"cryogon/music-genie/api"
	"cryogon/music-genie/config"
	"cryogon/music-genie/generation"
	"cryogon/music-genie/player"
	"cryogon/music-genie/waveform"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

type tab int

const (
	tabGenerate tab = iota
	tabHistory
	tabPopular
	tabFavorites
	tabStats
)

func (t tab) String() string {
	switch t {
	case tabGenerate:
		return "Generate"
	case tabHistory:
		return "History"
	case tabPopular:
		return "Popular"
	case tabFavorites:
		return "Favorites"
	case tabStats:
		return "Stats"
	default:
		return "?"
	}
}

type Backend interface {
	Generate(ctx context.Context, req api.GenerateRequest) (generation.Generation, error)
	Recent(ctx context.Context, limit int) ([]generation.Generation, error)
	MostPlayed(ctx context.Context, limit int) ([]generation.Generation, error)
	Favorites(ctx context.Context, limit int) ([]generation.Generation, error)
	Search(ctx context.Context, q string, limit int) ([]generation.Generation, error)
	Stats(ctx context.Context, days int) (generation.Stats, error)
	Health(ctx context.Context) (api.Health, error)
	ModelStatus(ctx context.Context) (api.ModelStatus, error)
	ReloadModel(ctx context.Context) (api.ModelStatus, error)
}

type Library interface {
	Upsert(gens ...generation.Generation)
	Refresh(gens []generation.Generation) []generation.Generation
	List(ids []string) []generation.Generation
}

type Player interface {
	Snapshot() player.Snapshot
	Load(ctx context.Context, gen generation.Generation) error
	TogglePlay() error
	Stop() error
	Seek(seconds float64) error
	Skip(delta float64) error
	SetVolume(v float64)
	ToggleMute() bool
	SetRate(rate float64)
	ToggleWaveform() bool
	ToggleFavorite(ctx context.Context) (bool, <-chan error)
	Download(ctx context.Context) (string, error)
	Retry(ctx context.Context) error
}

type Deps struct {
	Backend Backend
	Library Library
	Player  Player
	Engine  *waveform.Engine
	Config  config.Config
	Logger  zerolog.Logger
}

var (
	devices    = []string{"", string(generation.DeviceCPU), string(generation.DeviceCUDA), string(generation.DeviceMPS)}
	precisions = []string{string(generation.PrecisionFloat32), string(generation.PrecisionFloat16), string(generation.PrecisionBFloat16)}
)

const (
	seekStep   = 5.0
	volumeStep = 0.1
	rateStep   = 0.25
	helpHeight = 1
)

type listPanel struct {
	table   table.Model
	gens    []generation.Generation
	loading bool
	err     error
	seq     int
}

type banner struct {
	id    int
	err   bool
	text  string
	retry tea.Cmd
}

type Model struct {
	backend Backend
	library Library
	player  Player
	engine  *waveform.Engine
	cfg     config.Config
	logger  zerolog.Logger
	now     func() time.Time

	tabs   []tab
	active int
	width  int
	height int

	keys keyMap
	help help.Model

	prompt     textinput.Model
	duration   float64
	device     int
	precision  int
	generating bool
	genStarted time.Time
	genReq     api.GenerateRequest
	lastGen    *generation.Generation
	spinner    spinner.Model
	genBar     *ProgressBar

	lists     map[tab]*listPanel
	search    textinput.Model
	searchSeq int
	query     string

	stats    *generation.Stats
	statsErr error
	health   *api.Health
	model    *api.ModelStatus
	modelErr error

	snap      player.Snapshot
	peaks     []float64
	synthetic bool
	tracker   *waveform.Tracker
	renderer  *waveform.Renderer
	animator  *waveform.Animator
	ticking   bool
	lastFrame time.Time
	bar       *ProgressBar

	banners    []banner
	nextBanner int
}

func New(d Deps) Model {
	prompt := textinput.New()
	prompt.Placeholder = "Describe the music you want..."
	prompt.CharLimit = api.MaxPromptLength
	prompt.Prompt = "♪ "
	prompt.Focus()

	search := textinput.New()
	search.Placeholder = "search prompts"
	search.Prompt = "/ "

	spin := spinner.New(spinner.WithSpinner(spinner.Dot))
	spin.Style = labelStyle

	duration := d.Config.Audio.DefaultDuration
	if duration <= 0 {
		duration = generation.DefaultDuration
	}

	tabs := []tab{tabGenerate, tabHistory, tabPopular}
	if d.Config.Features.Favorites {
		tabs = append(tabs, tabFavorites)
	}
	if d.Config.Features.Stats {
		tabs = append(tabs, tabStats)
	}

	m := Model{
		backend:  d.Backend,
		library:  d.Library,
		player:   d.Player,
		engine:   d.Engine,
		cfg:      d.Config,
		logger:   d.Logger,
		now:      time.Now,
		tabs:     tabs,
		keys:     defaultKeys(),
		help:     help.New(),
		prompt:   prompt,
		duration: duration,
		spinner:  spin,
		genBar:   NewProgressBar(),
		lists:    make(map[tab]*listPanel),
		search:   search,
		tracker:  &waveform.Tracker{},
		renderer: waveform.NewRenderer(d.Engine.Geometry()),
		animator: waveform.NewAnimator(),
		bar:      NewProgressBar(),
	}
	for _, t := range []tab{tabHistory, tabPopular, tabFavorites} {
		m.lists[t] = &listPanel{table: newTable()}
	}
	m.snap = d.Player.Snapshot()
	return m
}

func newTable() table.Model {
	km := table.DefaultKeyMap()
	km.PageDown = key.NewBinding(key.WithKeys("pgdown"))
	km.PageUp = key.NewBinding(key.WithKeys("pgup"))
	km.HalfPageDown = key.NewBinding(key.WithKeys("ctrl+d"))
	km.HalfPageUp = key.NewBinding(key.WithKeys("ctrl+u"))

	t := table.New(table.WithColumns(columns(80)), table.WithKeyMap(km), table.WithFocused(true))
	s := table.DefaultStyles()
	s.Header = s.Header.Foreground(activeColor).Bold(true)
	s.Selected = s.Selected.Foreground(textColor).Background(normalColor)
	t.SetStyles(s)
	return t
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	for _, t := range m.tabs {
		cmds = append(cmds, m.reload(t))
	}
	return tea.Batch(cmds...)
}

func (m Model) activeTab() tab {
	return m.tabs[m.active]
}

func (m Model) hasTab(t tab) bool {
	for _, x := range m.tabs {
		if x == t {
			return true
		}
	}
	return false
}

// reload refetches the data behind a tab.
func (m Model) reload(t tab) tea.Cmd {
	switch t {
	case tabHistory, tabPopular, tabFavorites:
		panel := m.lists[t]
		panel.seq++
		panel.loading = true
		limit := m.cfg.UI.PageSize
		if t == tabPopular {
			limit = m.cfg.UI.PopularLimit
		}
		query := ""
		if t == tabHistory {
			query = m.query
		}
		return fetchList(m.backend, t, panel.seq, limit, query)
	case tabStats:
		cmds := []tea.Cmd{fetchStats(m.backend, m.cfg.UI.StatsDays), fetchHealth(m.backend)}
		if m.cfg.Features.ModelControls {
			cmds = append(cmds, fetchModelStatus(m.backend))
		}
		return tea.Batch(cmds...)
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.prompt.Width = max(msg.Width-8, 10)
		m.search.Width = max(msg.Width-8, 10)
		m.layout()
		m.refreshRows()
		cmds = append(cmds, m.syncWaveform())

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case spinner.TickMsg:
		if m.generating {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case listLoadedMsg:
		panel := m.lists[msg.tab]
		if panel == nil || msg.seq != panel.seq {
			break
		}
		panel.loading = false
		panel.err = msg.err
		if msg.err != nil {
			m.logger.Warn().Err(msg.err).Str("tab", msg.tab.String()).Msg("list load failed")
			m.pushBanner(true, fmt.Sprintf("Could not load %s: %v", msg.tab, msg.err), m.reload(msg.tab))
			break
		}
		panel.gens = m.library.Refresh(msg.gens)
		panel.table.SetRows(m.rows(panel.gens))

	case retryGenerateMsg:
		if !m.generating {
			m.generating = true
			m.genStarted = m.now()
			m.genReq = msg.req
			cmds = append(cmds, submitGeneration(m.backend, msg.req), m.spinner.Tick)
		}

	case searchFireMsg:
		if msg.seq == m.searchSeq {
			m.query = m.search.Value()
			cmds = append(cmds, m.reload(tabHistory))
		}

	case generatedMsg:
		m.generating = false
		if msg.err != nil {
			m.logger.Warn().Err(msg.err).Msg("generation failed")
			req := msg.req
			m.pushBanner(true, "Generation failed: "+msg.err.Error(), func() tea.Msg { return retryGenerateMsg{req: req} })
			break
		}
		gen := msg.gen
		m.library.Upsert(gen)
		m.lastGen = &gen
		m.logger.Info().Str("generation_id", gen.GenerationID).Float64("generation_time", gen.GenerationTime).Msg("generation completed")
		cmds = append(cmds, m.reload(tabHistory))
		if gen.Playable() {
			cmds = append(cmds, loadAndPlay(m.player, gen, false))
		}

	case statsMsg:
		m.statsErr = msg.err
		if msg.err == nil {
			s := msg.stats
			m.stats = &s
		}

	case healthMsg:
		if msg.err == nil {
			h := msg.health
			m.health = &h
		} else {
			m.health = &api.Health{Status: "unreachable"}
		}

	case modelStatusMsg:
		m.modelErr = msg.err
		if msg.err == nil {
			if msg.reloaded {
				m.pushBanner(false, "Model reloaded: "+msg.status.Message, nil)
				cmds = append(cmds, fetchModelStatus(m.backend))
			} else {
				s := msg.status
				m.model = &s
			}
		} else if msg.reloaded {
			m.pushBanner(true, "Model reload failed: "+msg.err.Error(), reloadModel(m.backend))
		}

	case playResultMsg:
		m.snap = m.player.Snapshot()
		if msg.err != nil && m.snap.State != player.StateError {
			m.pushBanner(true, "Playback: "+msg.err.Error(), nil)
		}
		m.refreshRows()
		cmds = append(cmds, m.syncWaveform(), m.startFrames())

	case favoriteMsg:
		m.snap = m.player.Snapshot()
		m.refreshRows()
		if msg.err != nil {
			m.pushBanner(true, "Favorite not saved: "+msg.err.Error(), toggleFavorite(m.player))
		}
		if m.hasTab(tabFavorites) {
			cmds = append(cmds, m.reload(tabFavorites))
		}

	case downloadMsg:
		m.snap = m.player.Snapshot()
		m.refreshRows()
		if msg.err != nil {
			m.pushBanner(true, "Download failed: "+msg.err.Error(), download(m.player))
		} else {
			m.pushBanner(false, "Saved "+msg.path, nil)
		}

	case waveformMsg:
		if m.tracker.Accept(msg.token) {
			m.peaks = msg.result.Peaks
			m.synthetic = msg.result.Synthetic
		}

	case PlayerChangedMsg:
		m.snap = m.player.Snapshot()
		m.refreshRows()
		cmds = append(cmds, m.syncWaveform(), m.startFrames())

	case frameMsg:
		t := time.Time(msg)
		dt := t.Sub(m.lastFrame)
		if m.lastFrame.IsZero() {
			dt = 0
		}
		m.lastFrame = t
		m.snap = m.player.Snapshot()
		playing := m.snap.State == player.StatePlaying
		m.animator.Advance(dt, playing)
		if playing {
			cmds = append(cmds, frame(m.frameInterval()))
		} else {
			m.ticking = false
			m.lastFrame = time.Time{}
		}
	}

	return m, tea.Batch(cmds...)
}

// layout fits the tables to the body, which shrinks when the footer or help grows.
func (m *Model) layout() {
	for _, panel := range m.lists {
		panel.table.SetColumns(columns(m.waveWidth()))
		panel.table.SetHeight(max(m.bodyHeight()-m.listChrome(), 1))
	}
}

// startFrames begins the frame loop if playback is running and no loop is active.
func (m *Model) startFrames() tea.Cmd {
	if m.ticking || m.snap.State != player.StatePlaying {
		return nil
	}
	m.ticking = true
	return frame(m.frameInterval())
}

func (m Model) frameInterval() time.Duration {
	if m.cfg.UI.FrameInterval > 0 {
		return m.cfg.UI.FrameInterval
	}
	return 33 * time.Millisecond
}

// syncWaveform starts a peak load when the track or the available width changed.
func (m *Model) syncWaveform() tea.Cmd {
	if !m.cfg.Features.Waveform || !m.snap.ShowWaveform {
		return nil
	}
	url := m.snap.Generation.AudioURL
	w := m.waveWidth()
	if url == "" || w <= 0 || !m.tracker.NeedsLoad(url, w) {
		return nil
	}
	tok := m.tracker.Begin(url, w)
	return loadWaveform(m.engine, tok, m.snap.Generation.Duration)
}

func (m *Model) pushBanner(isErr bool, text string, retry tea.Cmd) {
	m.nextBanner++
	m.banners = append(m.banners, banner{id: m.nextBanner, err: isErr, text: text, retry: retry})
	if len(m.banners) > 5 {
		m.banners = m.banners[len(m.banners)-5:]
	}
}

func (m *Model) dismissBanner() {
	if len(m.banners) > 0 {
		m.banners = m.banners[:len(m.banners)-1]
	}
}

func (m Model) generateRequest() api.GenerateRequest {
	return api.GenerateRequest{
		Prompt:    m.prompt.Value(),
		Duration:  m.duration,
		Device:    devices[m.device],
		Precision: precisions[m.precision],
	}
}

func (m *Model) startGeneration() tea.Cmd {
	if m.generating {
		return nil
	}
	req := m.generateRequest()
	if err := req.Validate(); err != nil {
		m.pushBanner(true, err.Error(), nil)
		return nil
	}
	m.generating = true
	m.genStarted = m.now()
	m.genReq = req
	return tea.Batch(submitGeneration(m.backend, req), m.spinner.Tick)
}

// refreshRows rebuilds every table from the library so local edits show up.
func (m *Model) refreshRows() {
	for _, panel := range m.lists {
		ids := make([]string, 0, len(panel.gens))
		for _, g := range panel.gens {
			ids = append(ids, g.GenerationID)
		}
		panel.gens = m.library.List(ids)
		panel.table.SetRows(m.rows(panel.gens))
	}
}

func (m Model) selected() (generation.Generation, bool) {
	panel := m.lists[m.activeTab()]
	if panel == nil || len(panel.gens) == 0 {
		return generation.Generation{}, false
	}
	i := panel.table.Cursor()
	if i < 0 || i >= len(panel.gens) {
		return generation.Generation{}, false
	}
	return panel.gens[i], true
}

func (m Model) maxDuration() float64 {
	if m.cfg.Audio.MaxDuration > 0 {
		return m.cfg.Audio.MaxDuration
	}
	return api.MaxDuration
}
