package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Walkie/internal/adapters/hubclient"
	"github.com/dkeye/Walkie/internal/adapters/p2p"
	"github.com/dkeye/Walkie/internal/adapters/rtc"
	"github.com/dkeye/Walkie/internal/app"
	"github.com/dkeye/Walkie/internal/app/orch"
	"github.com/dkeye/Walkie/internal/config"
	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/media"
)

var errHubLost = errors.New("hub connection lost")

// backend is a presence factory that also carries signals.
type backend interface {
	core.PresenceFactory
	rtc.Signaler
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := config.Flags("walkie")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	g, gctx := errgroup.WithContext(ctx)

	var be backend
	switch cfg.Client.Presence {
	case config.PresenceP2P:
		node, err := p2p.New(gctx, p2p.Config{
			ListenPort:       cfg.Client.P2PPort,
			PresenceInterval: cfg.Client.PresenceInterval,
			PresenceTTL:      cfg.Client.PresenceTTL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("libp2p node")
		}
		defer node.Close()
		be = node
	default:
		client, err := hubclient.Dial(gctx, cfg.Client.HubURL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.Client.HubURL).Msg("hub dial")
		}
		defer client.Close()
		g.Go(func() error {
			select {
			case <-client.Done():
				return errHubLost
			case <-gctx.Done():
				return nil
			}
		})
		be = client
	}

	transport, err := rtc.NewTransport(be, rtc.DefaultWebRTCConfig(cfg.Client.ICEServers))
	if err != nil {
		log.Fatal().Err(err).Msg("peer transport")
	}
	defer transport.Destroy()

	var capture core.CaptureSource = media.MicSource{}
	if cfg.Client.Capture == config.CaptureTone {
		capture = media.ToneSource{}
	}
	var renderer core.AudioRenderer = media.NullRenderer{}
	if cfg.Client.Playback == config.PlaybackSpeaker {
		renderer = media.NewSpeaker()
	}

	o := orch.New(orch.Deps{
		Presence:  be,
		Transport: transport,
		Capture:   capture,
		Renderer:  renderer,
		Notifier:  media.BellNotifier{Out: os.Stdout},
	})
	radio := app.NewRadio(o)

	loopCtx, stopLoop := context.WithCancel(gctx)
	defer stopLoop()
	g.Go(func() error {
		if err := o.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// quitting from the terminal ends everything else
		defer stopLoop()
		defer cancel()
		for _, d := range cfg.Client.Room {
			radio.Digit(d)
		}
		return runCommands(gctx, os.Stdin, os.Stdout, radio)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("walkie stopped")
		os.Exit(1)
	}
	log.Info().Msg("bye")
}
