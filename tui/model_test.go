package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cryogon/music-genie/api"
	"cryogon/music-genie/config"
	"cryogon/music-genie/generation"
	"cryogon/music-genie/library"
	"cryogon/music-genie/player"
	"cryogon/music-genie/waveform"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu          sync.Mutex
	recent      []generation.Generation
	generated   generation.Generation
	generateErr error
	generates   []api.GenerateRequest
	searches    []string
}

func (b *fakeBackend) Generate(ctx context.Context, req api.GenerateRequest) (generation.Generation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generates = append(b.generates, req)
	return b.generated, b.generateErr
}

func (b *fakeBackend) Recent(ctx context.Context, limit int) ([]generation.Generation, error) {
	return b.recent, nil
}

func (b *fakeBackend) MostPlayed(ctx context.Context, limit int) ([]generation.Generation, error) {
	return nil, nil
}

func (b *fakeBackend) Favorites(ctx context.Context, limit int) ([]generation.Generation, error) {
	return nil, nil
}

func (b *fakeBackend) Search(ctx context.Context, q string, limit int) ([]generation.Generation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.searches = append(b.searches, q)
	return nil, nil
}

func (b *fakeBackend) Stats(ctx context.Context, days int) (generation.Stats, error) {
	return generation.Stats{TotalGenerations: 3}, nil
}

func (b *fakeBackend) Health(ctx context.Context) (api.Health, error) {
	return api.Health{Status: "healthy"}, nil
}

func (b *fakeBackend) ModelStatus(ctx context.Context) (api.ModelStatus, error) {
	return api.ModelStatus{Loaded: true, Device: "cpu"}, nil
}

func (b *fakeBackend) ReloadModel(ctx context.Context) (api.ModelStatus, error) {
	return api.ModelStatus{Loaded: true, Message: "ok"}, nil
}

type fakePlayer struct {
	mu        sync.Mutex
	snap      player.Snapshot
	loaded    []string
	seeks     []float64
	skips     []float64
	skipErr   error
	favorites int
	favDone   chan error
}

func (p *fakePlayer) Snapshot() player.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *fakePlayer) Load(ctx context.Context, gen generation.Generation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = append(p.loaded, gen.GenerationID)
	p.snap.Generation = gen
	p.snap.State = player.StateReady
	return nil
}

func (p *fakePlayer) TogglePlay() error { return nil }
func (p *fakePlayer) Stop() error       { return nil }

func (p *fakePlayer) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, seconds)
	p.snap.Position = seconds
	return nil
}

func (p *fakePlayer) Skip(delta float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skips = append(p.skips, delta)
	return p.skipErr
}

func (p *fakePlayer) SetVolume(v float64)             {}
func (p *fakePlayer) ToggleMute() bool                { return false }
func (p *fakePlayer) SetRate(rate float64)            {}
func (p *fakePlayer) ToggleWaveform() bool            { return true }
func (p *fakePlayer) Retry(ctx context.Context) error { return nil }

func (p *fakePlayer) ToggleFavorite(ctx context.Context) (bool, <-chan error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.favorites++
	p.snap.Generation.IsFavorited = !p.snap.Generation.IsFavorited
	return p.snap.Generation.IsFavorited, p.favDone
}

func (p *fakePlayer) Download(ctx context.Context) (string, error) {
	return "", errors.New("not here")
}

func testConfig() config.Config {
	return config.Config{
		Audio: config.AudioConfig{DefaultDuration: 30, MaxDuration: 120},
		UI: config.UIConfig{
			PageSize:       50,
			PopularLimit:   10,
			StatsDays:      7,
			SearchDebounce: time.Millisecond,
			FrameInterval:  time.Millisecond,
			BarWidth:       1,
			WaveformHeight: 3,
		},
		Features: config.FeatureFlags{
			Waveform: true, Favorites: true, Downloads: true,
			Stats: true, Search: true, ModelControls: true,
		},
	}
}

type harness struct {
	backend *fakeBackend
	player  *fakePlayer
	library *library.Library
}

func newModel(t *testing.T, cfg config.Config, snap player.Snapshot) (Model, *harness) {
	t.Helper()
	h := &harness{
		backend: &fakeBackend{},
		player:  &fakePlayer{snap: snap, favDone: make(chan error, 1)},
		library: library.New(nil, zerolog.Nop()),
	}
	m := New(Deps{
		Backend: h.backend,
		Library: h.library,
		Player:  h.player,
		Engine:  waveform.NewEngine(nil),
		Config:  cfg,
		Logger:  zerolog.Nop(),
	})
	return m, h
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// run executes cmd and flattens batches. Only use it on commands that return promptly.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return m
}

func TestNew_TabsFollowFeatureFlags(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Favorites = false
	cfg.Features.Stats = false

	m, _ := newModel(t, cfg, player.Snapshot{})
	assert.Equal(t, []tab{tabGenerate, tabHistory, tabPopular}, m.tabs)

	m, _ = newModel(t, testConfig(), player.Snapshot{})
	assert.Equal(t, []tab{tabGenerate, tabHistory, tabPopular, tabFavorites, tabStats}, m.tabs)
}

func TestSwitchTab_Wraps(t *testing.T) {
	m, _ := newModel(t, testConfig(), player.Snapshot{})

	m, _ = update(t, m, keyPress("tab"))
	assert.Equal(t, tabHistory, m.activeTab())
	assert.False(t, m.prompt.Focused())

	m.switchTab(-2)
	assert.Equal(t, tabStats, m.activeTab())
	m.switchTab(1)
	assert.Equal(t, tabGenerate, m.activeTab())
	assert.True(t, m.prompt.Focused())
}

func TestListLoaded_IgnoresStaleResponses(t *testing.T) {
	m, _ := newModel(t, testConfig(), player.Snapshot{})
	panel := m.lists[tabHistory]

	m.reload(tabHistory)
	stale := panel.seq
	m.reload(tabHistory)

	old := []generation.Generation{{GenerationID: "old", Status: generation.StatusCompleted}}
	m, _ = update(t, m, listLoadedMsg{tab: tabHistory, seq: stale, gens: old})
	assert.Empty(t, panel.gens)
	assert.True(t, panel.loading)

	fresh := []generation.Generation{{GenerationID: "fresh", Status: generation.StatusCompleted}}
	m, _ = update(t, m, listLoadedMsg{tab: tabHistory, seq: panel.seq, gens: fresh})
	require.Len(t, panel.gens, 1)
	assert.Equal(t, "fresh", panel.gens[0].GenerationID)
	assert.False(t, panel.loading)
	assert.Len(t, panel.table.Rows(), 1)
}

func TestListLoaded_ErrorRaisesRetryBanner(t *testing.T) {
	m, _ := newModel(t, testConfig(), player.Snapshot{})
	panel := m.lists[tabPopular]
	m.reload(tabPopular)

	m, _ = update(t, m, listLoadedMsg{tab: tabPopular, seq: panel.seq, err: errors.New("boom")})
	require.Len(t, m.banners, 1)
	assert.True(t, m.banners[0].err)
	assert.NotNil(t, m.banners[0].retry)
}

func TestSearch_DebouncesBySequence(t *testing.T) {
	m, h := newModel(t, testConfig(), player.Snapshot{})
	m.switchTab(1)

	m, _ = update(t, m, keyPress("/"))
	require.True(t, m.search.Focused())

	m, _ = update(t, m, keyPress("j"))
	first := m.searchSeq
	m, _ = update(t, m, keyPress("a"))
	m, _ = update(t, m, keyPress("z"))
	assert.Equal(t, first+2, m.searchSeq)

	m, cmd := update(t, m, searchFireMsg{seq: first})
	assert.Nil(t, cmd)
	assert.Empty(t, m.query)

	m, cmd = update(t, m, searchFireMsg{seq: m.searchSeq})
	assert.Equal(t, "jaz", m.query)
	msgs := run(cmd)
	require.Len(t, msgs, 1)
	assert.IsType(t, listLoadedMsg{}, msgs[0])
	assert.Equal(t, []string{"jaz"}, h.backend.searches)
}

func TestWaveform_DiscardsStaleLoads(t *testing.T) {
	m, _ := newModel(t, testConfig(), player.Snapshot{})

	first := m.tracker.Begin("/audio/a.wav", 40)
	second := m.tracker.Begin("/audio/b.wav", 40)

	m, _ = update(t, m, waveformMsg{token: first, result: waveform.Result{Peaks: []float64{1, 1}}})
	assert.Nil(t, m.peaks)

	m, _ = update(t, m, waveformMsg{token: second, result: waveform.Result{Peaks: []float64{0.5}, Synthetic: true}})
	assert.Equal(t, []float64{0.5}, m.peaks)
	assert.True(t, m.synthetic)
}

func TestMouse_ClickSeeksProportionally(t *testing.T) {
	snap := player.Snapshot{
		Generation:   generation.Generation{GenerationID: "g1", Status: generation.StatusCompleted, AudioURL: "/audio/g1.wav"},
		State:        player.StateReady,
		Duration:     100,
		Volume:       1,
		Rate:         1,
		ShowWaveform: true,
	}
	m, h := newModel(t, testConfig(), snap)
	m = sized(t, m)

	w := m.seekWidth()
	require.Equal(t, 98, w)

	click := tea.MouseMsg{X: 1 + w/2, Y: m.seekTop(), Action: tea.MouseActionPress, Button: tea.MouseButtonLeft}
	m, _ = update(t, m, click)
	require.Len(t, h.player.seeks, 1)
	assert.InDelta(t, 50, h.player.seeks[0], 0.001)

	// above the waveform
	m, _ = update(t, m, tea.MouseMsg{X: 10, Y: m.seekTop() - 1, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	// on the border
	m, _ = update(t, m, tea.MouseMsg{X: 0, Y: m.seekTop(), Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	// release
	_, _ = update(t, m, tea.MouseMsg{X: 10, Y: m.seekTop(), Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft})
	assert.Len(t, h.player.seeks, 1)
}

func TestMouse_IgnoredWithoutAudio(t *testing.T) {
	m, h := newModel(t, testConfig(), player.Snapshot{State: player.StateLoading, Duration: 100})
	m = sized(t, m)

	_, _ = update(t, m, tea.MouseMsg{X: 10, Y: m.seekTop(), Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	assert.Empty(t, h.player.seeks)
}

func TestSkip_FailureIsLoggedNotRaised(t *testing.T) {
	m, h := newModel(t, testConfig(), player.Snapshot{State: player.StateIdle})
	var buf bytes.Buffer
	m.logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	h.player.skipErr = player.ErrNotReady
	m, _ = update(t, m, keyPress("esc"))

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRight})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyLeft})

	assert.Equal(t, []float64{seekStep, -seekStep}, h.player.skips)
	assert.Empty(t, m.banners)
	assert.Equal(t, 2, strings.Count(buf.String(), "skip failed"))
	assert.Contains(t, buf.String(), player.ErrNotReady.Error())
}

func TestGenerate_InvalidPromptNeverSent(t *testing.T) {
	m, h := newModel(t, testConfig(), player.Snapshot{})
	require.True(t, m.prompt.Focused())

	m, cmd := update(t, m, keyPress("enter"))
	assert.Nil(t, cmd)
	assert.False(t, m.generating)
	require.Len(t, m.banners, 1)
	assert.Contains(t, m.banners[0].text, "prompt")
	assert.Empty(t, h.backend.generates)
}

func TestGenerate_FailureCanBeRetried(t *testing.T) {
	m, h := newModel(t, testConfig(), player.Snapshot{})
	h.backend.generateErr = errors.New("model busy")
	m.prompt.SetValue("lofi beats")

	m, cmd := update(t, m, keyPress("enter"))
	require.True(t, m.generating)
	var gen generatedMsg
	for _, msg := range run(cmd) {
		if g, ok := msg.(generatedMsg); ok {
			gen = g
		}
	}
	require.Error(t, gen.err)
	assert.Equal(t, "lofi beats", gen.req.Prompt)
	assert.Equal(t, 30.0, gen.req.Duration)

	m, _ = update(t, m, gen)
	assert.False(t, m.generating)
	require.Len(t, m.banners, 1)

	m, _ = update(t, m, keyPress("esc"))
	m, cmd = update(t, m, keyPress("r"))
	assert.Empty(t, m.banners)
	msgs := run(cmd)
	require.Len(t, msgs, 1)
	require.IsType(t, retryGenerateMsg{}, msgs[0])

	h.backend.generateErr = nil
	h.backend.generated = generation.Generation{GenerationID: "g9", Prompt: "lofi beats", Status: generation.StatusCompleted, AudioURL: "/audio/g9.wav"}
	m, cmd = update(t, m, msgs[0])
	assert.True(t, m.generating)
	run(cmd)
	assert.Len(t, h.backend.generates, 2)
}

func TestGenerated_LoadsWithoutAutoplay(t *testing.T) {
	m, h := newModel(t, testConfig(), player.Snapshot{})
	gen := generation.Generation{GenerationID: "g1", Prompt: "piano", Status: generation.StatusCompleted, AudioURL: "/audio/g1.wav"}

	m, cmd := update(t, m, generatedMsg{gen: gen})
	require.NotNil(t, m.lastGen)
	assert.Equal(t, "g1", m.lastGen.GenerationID)

	stored, ok := h.library.Get("g1")
	require.True(t, ok)
	assert.Equal(t, "piano", stored.Prompt)

	var played *playResultMsg
	for _, msg := range run(cmd) {
		if p, ok := msg.(playResultMsg); ok {
			played = &p
		}
	}
	require.NotNil(t, played)
	assert.NoError(t, played.err)
	assert.Equal(t, []string{"g1"}, h.player.loaded)
}

func TestFavorite_OptimisticThenSettled(t *testing.T) {
	snap := player.Snapshot{
		Generation: generation.Generation{GenerationID: "g1", Status: generation.StatusCompleted, AudioURL: "/a.wav"},
		State:      player.StateReady,
	}
	m, h := newModel(t, testConfig(), snap)
	m, _ = update(t, m, keyPress("esc"))

	m, cmd := update(t, m, keyPress("f"))
	assert.Equal(t, 1, h.player.favorites)
	assert.True(t, m.snap.Generation.IsFavorited)

	h.player.favDone <- errors.New("offline")
	msgs := run(cmd)
	require.Len(t, msgs, 1)
	fav, ok := msgs[0].(favoriteMsg)
	require.True(t, ok)
	assert.Equal(t, "g1", fav.id)

	m, _ = update(t, m, fav)
	require.Len(t, m.banners, 1)
	assert.Contains(t, m.banners[0].text, "offline")
}

func TestBanners_DismissAndCap(t *testing.T) {
	m, _ := newModel(t, testConfig(), player.Snapshot{})
	for i := 0; i < 7; i++ {
		m.pushBanner(false, "note", nil)
	}
	assert.Len(t, m.banners, 5)
	assert.Equal(t, 7, m.banners[4].id)

	m, _ = update(t, m, keyPress("esc"))
	m, _ = update(t, m, keyPress("x"))
	assert.Len(t, m.banners, 4)
}

func TestView_FillsTheTerminal(t *testing.T) {
	m, _ := newModel(t, testConfig(), player.Snapshot{Volume: 0.8, Rate: 1, ShowWaveform: true})
	assert.Equal(t, "Initializing...", m.View())

	m = sized(t, m)
	view := m.View()
	for _, name := range []string{"Generate", "History", "Popular", "Favorites", "Stats", "Nothing loaded"} {
		assert.Contains(t, view, name)
	}
	assert.Equal(t, 30, lipgloss.Height(view))
}

func TestView_PanelFailureIsContained(t *testing.T) {
	m, _ := newModel(t, testConfig(), player.Snapshot{Rate: 1})
	m = sized(t, m)
	delete(m.lists, tabPopular)
	m.switchTab(2)
	require.Equal(t, tabPopular, m.activeTab())

	view := m.View()
	assert.Contains(t, view, "Popular could not be displayed")
	assert.Contains(t, view, "Nothing loaded")
}

func TestGenerationProgress(t *testing.T) {
	assert.InDelta(t, 0.5, generationProgress(9*time.Second, 30), 1e-9)
	assert.InDelta(t, 0.2, generationProgress(time.Second, 1), 1e-9)
	assert.Equal(t, 0.95, generationProgress(time.Hour, 30))
}

func TestColumns_PromptTakesSlack(t *testing.T) {
	cols := columns(100)
	total := 0
	for _, c := range cols {
		total += c.Width + 2
	}
	assert.Equal(t, 100, total)
	assert.Equal(t, 10, columns(20)[1].Width)
}
