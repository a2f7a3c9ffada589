package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cryogon/music-genie/api"
	"cryogon/music-genie/config"
	"cryogon/music-genie/library"
	"cryogon/music-genie/logging"
	"cryogon/music-genie/player"
	"cryogon/music-genie/tracking"
	"cryogon/music-genie/tui"
	"cryogon/music-genie/waveform"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "music-genie: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts config.Options
	var noWaveform bool
	flag.StringVarP(&opts.Environment, "env", "e", "", "environment: development, staging, production, test")
	flag.StringVar(&opts.APIURL, "api-url", "", "backend base url (overrides GENIE_API_URL)")
	flag.StringVar(&opts.LogFile, "log-file", "", "log file path (the terminal is taken by the UI)")
	flag.StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load (default .env)")
	flag.BoolVar(&noWaveform, "no-waveform", false, "show a plain progress bar instead of the waveform")
	flag.Parse()

	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}
	if noWaveform {
		cfg.Features.Waveform = false
	}

	logger, closer, err := logging.NewFileLogger(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info().
		Str("env", string(cfg.Environment)).
		Str("api_url", cfg.APIURL).
		Msg("Starting Music Genie...")

	client := api.New(cfg.APIURL,
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetry(cfg.API.RetryAttempts, cfg.API.RetryDelay),
		api.WithMaxAudioSize(cfg.Audio.MaxFileSizeMB),
		api.WithLogger(logging.Component(logger, "api")),
	)

	queue := tracking.NewQueue(client, tracking.Options{
		QueueSize:  cfg.Tracking.QueueSize,
		MaxRetries: cfg.Tracking.MaxRetries,
		RetryDelay: cfg.Tracking.RetryDelay,
		Rate:       cfg.Tracking.Rate,
		Timeout:    cfg.API.Timeout,
		Logger:     logging.Component(logger, "tracking"),
	})

	lib := library.New(client, logging.Component(logger, "library"))

	p := player.New(player.Config{
		Media:       player.NewSpeakerMedia(client, logging.Component(logger, "audio")),
		Coordinator: player.NewCoordinator(),
		Tracking:    queue,
		Library:     lib,
		DownloadDir: cfg.DownloadDir,
		Volume:      cfg.Audio.Volume,
		Waveform:    cfg.Features.Waveform,
		Logger:      logging.Component(logger, "player"),
	})

	engine := waveform.NewEngine(client,
		waveform.WithGeometry(waveform.Geometry{BarWidth: cfg.UI.BarWidth, BarGap: cfg.UI.BarGap}),
		waveform.WithTimeout(cfg.Audio.DecodeTimeout),
		waveform.WithLogger(logging.Component(logger, "waveform")),
	)

	model := tui.New(tui.Deps{
		Backend: client,
		Library: lib,
		Player:  p,
		Engine:  engine,
		Config:  *cfg,
		Logger:  logging.Component(logger, "tui"),
	})

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	// Send blocks until the event loop reads it, and the hook also fires from inside Update.
	p.OnChange(func() { go program.Send(tui.PlayerChangedMsg{}) })

	_, runErr := program.Run()

	if err := p.Close(); err != nil {
		logger.Warn().Err(err).Msg("player close failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := queue.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("pending play events dropped on exit")
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("ui exited with error")
		return runErr
	}
	logger.Info().Msg("Bye")
	return nil
}
