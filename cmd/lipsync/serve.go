package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/normanking/lipsync/internal/audio"
	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/config"
	"github.com/normanking/lipsync/internal/logging"
	"github.com/normanking/lipsync/internal/server"
	"github.com/normanking/lipsync/internal/session"
	"github.com/normanking/lipsync/internal/template"
	"github.com/normanking/lipsync/internal/viseme"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Classify a remote RTP audio stream and serve visemes over websocket",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(&logging.Config{
		LogDir:  cfg.Log.Dir,
		Level:   logging.LogLevel(cfg.Log.Level),
		Console: cfg.Log.Console,
	})
	if err != nil {
		// fall back to defaults if the configured log dir is unusable
		logger, err = logging.New(nil)
		if err != nil {
			return err
		}
	}
	defer logger.Close()
	log := logger.Component("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := bus.NewEventBus()
	pipeLog := logger.Component("pipeline")
	eventBus.Subscribe(bus.EventTypeSourceLost, func(e bus.Event) {
		pipeLog.Warn().Msg("audio source lost")
	})
	eventBus.Subscribe(bus.EventTypeSourceReconnecting, func(e bus.Event) {
		pipeLog.Warn().Interface("attempt", e.Data["attempt"]).Msg("reacquiring audio source")
	})
	eventBus.Subscribe(bus.EventTypeFallbackEngaged, func(e bus.Event) {
		pipeLog.Info().Msg("formant fallback engaged")
	})
	eventBus.Subscribe(bus.EventTypeBankReloaded, func(e bus.Event) {
		pipeLog.Info().Interface("templates", e.Data["templates"]).Msg("calibration bank applied")
	})
	eventBus.Subscribe(bus.EventTypeSessionFailed, func(e bus.Event) {
		pipeLog.Error().Interface("error", e.Data["error"]).Msg("session failed")
	})

	bank := template.Default()
	if cfg.Calibration.Dir != "" {
		if calBank, err := template.LoadCalibrationDir(cfg.Calibration.Dir); err == nil {
			log.Info().Int("templates", calBank.Size()).Msg("loaded calibration bank")
			bank = calBank
		}
	}

	src, err := audio.NewRTPSource(cfg.Audio.RTPListen, cfg.Audio.SampleRate, logger.Zerolog())
	if err != nil {
		return fmt.Errorf("open rtp source: %w", err)
	}

	sess := session.New(session.Config{
		Sensitivity:          cfg.Pipeline.Sensitivity,
		IntensityMultiplier:  cfg.Pipeline.IntensityMultiplier,
		MinIntensity:         cfg.Pipeline.MinIntensity,
		Smoothing:            cfg.Pipeline.Smoothing,
		MaxReconnectAttempts: cfg.Pipeline.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Pipeline.ReconnectDelay,
		SettleDelay:          cfg.Pipeline.SettleDelay,
		SpectrumSize:         cfg.Audio.SpectrumSize,
	}, logger.Zerolog(),
		session.WithBank(bank),
		session.WithEventBus(eventBus),
		session.WithProvider(audio.ProviderFunc(func(ctx context.Context) (audio.Source, error) {
			return audio.NewRTPSource(cfg.Audio.RTPListen, cfg.Audio.SampleRate, logger.Zerolog())
		})),
	)

	srv := server.New(cfg.Server.Addr, cfg.Server.Path, logger.Zerolog())
	sess.OnVisemeUpdate(func(st viseme.State) {
		srv.Broadcast(st)
	})
	sess.OnError(func(err error) {
		// the failure itself is logged by the bus subscriber
		stop()
	})

	if cfg.Calibration.Watch && cfg.Calibration.Dir != "" {
		if watcher, err := template.NewWatcher(cfg.Calibration.Dir, sess.SetBank, logger.Zerolog()); err == nil {
			go watcher.Run(ctx)
		}
	}

	if err := sess.Start(ctx, src); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.Stop()

	return srv.Run(ctx)
}
