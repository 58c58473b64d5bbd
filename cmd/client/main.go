package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/sfuclient/internal/adapters/http"
	"github.com/dkeye/sfuclient/internal/adapters/media"
	"github.com/dkeye/sfuclient/internal/adapters/rtc"
	sig "github.com/dkeye/sfuclient/internal/adapters/signal"
	"github.com/dkeye/sfuclient/internal/app"
	"github.com/dkeye/sfuclient/internal/app/orch"
	"github.com/dkeye/sfuclient/internal/app/relay"
	"github.com/dkeye/sfuclient/internal/config"
	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("client stopped")
		os.Exit(1)
	}
	log.Info().Msg("client exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	peer := domain.PeerID(uuid.NewString())
	policy, err := app.PolicyByName(cfg.ConsumeFailure)
	if err != nil {
		return err
	}

	conn, err := sig.Dial(ctx, sig.Options{
		URL:            cfg.ServerURL,
		RequestTimeout: cfg.RequestTimeout,
		PingPeriod:     cfg.PingPeriod,
		WriteWait:      cfg.WriteWait,
		ReadLimit:      cfg.ReadLimit,
		SendBuffer:     cfg.SendBuffer,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	engine := rtc.NewEngine(rtc.Options{
		ICEServers:   iceServers(cfg.ICEServers),
		PionLogLevel: zerolog.WarnLevel,
	})
	session := app.NewSession(conn, engine, app.Options{
		Peer: peer,
		Produce: core.ProduceOptions{
			Encodings: []domain.RtpEncodingParameters{{
				MaxBitrate:      cfg.MaxBitrate,
				ScalabilityMode: cfg.ScalabilityMode,
			}},
			CodecOptions: map[string]any{"videoGoogleStartBitrate": cfg.StartBitrate},
		},
		ConsumeConcurrency: cfg.ConsumeConcurrency,
		Policy:             policy,
	})
	o := &orch.Orchestrator{
		Session: session,
		Signal:  conn,
		Relays:  relay.NewManager(),
	}
	if cfg.RecordDir != "" {
		o.NewSink = func(s *app.Stream) (relay.Sink, error) {
			return media.NewRecorder(cfg.RecordDir, string(s.ProducerID), s.Track.Codec())
		}
	}
	o.BindSignalHandlers(ctx)

	var track *webrtc.TrackLocalStaticSample
	var player *media.Player
	if cfg.VideoFile != "" {
		if track, err = media.NewVP8Track(string(peer)); err != nil {
			return err
		}
		player = &media.Player{Path: cfg.VideoFile, Track: track, Loop: true}
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.StatusAddr != "" {
		srv = &http.Server{
			Addr:    cfg.StatusAddr,
			Handler: router.SetupRouter(cfg, peer, o),
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.StatusAddr).Msg("status server started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		// a nil interface track joins receive-only
		var local webrtc.TrackLocal
		if track != nil {
			local = track
		}
		if err := o.Join(gctx, domain.RoomID(cfg.Room), local); err != nil {
			return err
		}
		log.Info().Str("room", cfg.Room).Str("peer", string(peer)).Msg("joined")
		if player != nil {
			return player.Run(gctx)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-conn.Done():
			return core.ErrSignalClosed
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		o.Close(shutdownCtx)
		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("status server forced to shutdown")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func iceServers(in []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}
