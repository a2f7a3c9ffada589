package tui

import (
	"context"
	"time"

	"cryogon/music-genie/api"
	"cryogon/music-genie/generation"
	"cryogon/music-genie/waveform"

	tea "github.com/charmbracelet/bubbletea"
)

type listLoadedMsg struct {
	tab  tab
	seq  int
	gens []generation.Generation
	err  error
}

type generatedMsg struct {
	req api.GenerateRequest
	gen generation.Generation
	err error
}

type retryGenerateMsg struct {
	req api.GenerateRequest
}

type searchFireMsg struct {
	seq int
}

type statsMsg struct {
	stats generation.Stats
	err   error
}

type healthMsg struct {
	health api.Health
	err    error
}

type modelStatusMsg struct {
	status   api.ModelStatus
	reloaded bool
	err      error
}

type playResultMsg struct {
	id  string
	err error
}

type favoriteMsg struct {
	id  string
	err error
}

type downloadMsg struct {
	path string
	err  error
}

type waveformMsg struct {
	token  waveform.Token
	result waveform.Result
}

type frameMsg time.Time

// PlayerChangedMsg is sent by the player's change hook.
type PlayerChangedMsg struct{}

func fetchList(b Backend, t tab, seq, limit int, query string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		var (
			gens []generation.Generation
			err  error
		)
		switch {
		case t == tabHistory && query != "":
			gens, err = b.Search(ctx, query, limit)
		case t == tabHistory:
			gens, err = b.Recent(ctx, limit)
		case t == tabPopular:
			gens, err = b.MostPlayed(ctx, limit)
		case t == tabFavorites:
			gens, err = b.Favorites(ctx, limit)
		}
		return listLoadedMsg{tab: t, seq: seq, gens: gens, err: err}
	}
}

func submitGeneration(b Backend, req api.GenerateRequest) tea.Cmd {
	return func() tea.Msg {
		gen, err := b.Generate(context.Background(), req)
		return generatedMsg{req: req, gen: gen, err: err}
	}
}

func debounceSearch(seq int, d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return searchFireMsg{seq: seq}
	})
}

func fetchStats(b Backend, days int) tea.Cmd {
	return func() tea.Msg {
		s, err := b.Stats(context.Background(), days)
		return statsMsg{stats: s, err: err}
	}
}

func fetchHealth(b Backend) tea.Cmd {
	return func() tea.Msg {
		h, err := b.Health(context.Background())
		return healthMsg{health: h, err: err}
	}
}

func fetchModelStatus(b Backend) tea.Cmd {
	return func() tea.Msg {
		s, err := b.ModelStatus(context.Background())
		return modelStatusMsg{status: s, err: err}
	}
}

func reloadModel(b Backend) tea.Cmd {
	return func() tea.Msg {
		s, err := b.ReloadModel(context.Background())
		return modelStatusMsg{status: s, reloaded: true, err: err}
	}
}

func loadAndPlay(p Player, gen generation.Generation, autoplay bool) tea.Cmd {
	return func() tea.Msg {
		if err := p.Load(context.Background(), gen); err != nil {
			return playResultMsg{id: gen.GenerationID, err: err}
		}
		if !autoplay {
			return playResultMsg{id: gen.GenerationID}
		}
		return playResultMsg{id: gen.GenerationID, err: p.TogglePlay()}
	}
}

func retryPlayer(p Player) tea.Cmd {
	return func() tea.Msg {
		snap := p.Snapshot()
		return playResultMsg{id: snap.Generation.GenerationID, err: p.Retry(context.Background())}
	}
}

func toggleFavorite(p Player) tea.Cmd {
	return func() tea.Msg {
		id := p.Snapshot().Generation.GenerationID
		_, done := p.ToggleFavorite(context.Background())
		return favoriteMsg{id: id, err: <-done}
	}
}

func awaitFavorite(id string, done <-chan error) tea.Cmd {
	return func() tea.Msg {
		return favoriteMsg{id: id, err: <-done}
	}
}

func download(p Player) tea.Cmd {
	return func() tea.Msg {
		path, err := p.Download(context.Background())
		return downloadMsg{path: path, err: err}
	}
}

func loadWaveform(e *waveform.Engine, tok waveform.Token, fallback float64) tea.Cmd {
	return func() tea.Msg {
		res := e.Load(context.Background(), waveform.Request{URL: tok.URL, Width: tok.Width, FallbackDuration: fallback})
		return waveformMsg{token: tok, result: res}
	}
}

func frame(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}
