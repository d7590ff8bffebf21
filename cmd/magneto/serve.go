package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taciclei/magneto-serge-sub000/pkg/ca"
	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
	"github.com/taciclei/magneto-serge-sub000/pkg/match"
	"github.com/taciclei/magneto-serge-sub000/pkg/mode"
	"github.com/taciclei/magneto-serge-sub000/pkg/player"
	"github.com/taciclei/magneto-serge-sub000/pkg/proxy"
	"github.com/taciclei/magneto-serge-sub000/pkg/recorder"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MITM proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(v)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "127.0.0.1:8080", "address to listen on")
	flags.String("ca-dir", defaultCADir(), "directory holding the root CA's cert/key pair")
	flags.String("cassette", "", "path to the cassette file to record into or replay from")
	flags.String("mode", "auto", "record|replay|replay-strict|auto|hybrid|once|passthrough")
	flags.String("latency", "none", "none|recorded|fixed|scaled")
	flags.Int64("latency-fixed-ms", 0, "delay applied to every replay when --latency=fixed")
	flags.Int64("latency-scale-percent", 100, "percentage of recorded latency applied when --latency=scaled")
	flags.Duration("connect-timeout", 10*time.Second, "upstream dial timeout")
	flags.Duration("read-timeout", 30*time.Second, "upstream read timeout")
	flags.Bool("debug", false, "enable debug logging")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("magneto")
	v.AutomaticEnv()

	return cmd
}

func defaultCADir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "magneto")
	}
	return ".magneto"
}

func runServe(v *viper.Viper) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	if v.GetBool("debug") {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	m, err := mode.Parse(v.GetString("mode"))
	if err != nil {
		return err
	}

	authority, err := ca.Load(v.GetString("ca-dir"))
	if err != nil {
		return fmt.Errorf("load certificate authority: %w", err)
	}

	store := cassette.NewStore(cassette.WithLogger(log))
	rec := recorder.New(store, recorder.WithLogger(log))

	cassettePath := v.GetString("cassette")
	var pl *player.Player
	preExisted := false
	if m.RequiresCassette() {
		if cassettePath == "" {
			return fmt.Errorf("serve: --cassette is required in %s mode", m)
		}

		preExisted = fileExists(cassettePath)
		format, err := cassette.FormatFromExtension(cassettePath)
		if err != nil {
			return err
		}

		name := strings.TrimSuffix(filepath.Base(cassettePath), filepath.Ext(cassettePath))
		if err := rec.StartRecording(name, cassettePath, format, preExisted); err != nil {
			return fmt.Errorf("start recording: %w", err)
		}

		if m.IsReplayCapable() && preExisted {
			strategy := match.DefaultStrategy()
			if m == mode.ReplayStrict {
				pl, err = player.LoadStrict(store, cassettePath, strategy)
			} else {
				pl, err = player.Load(store, cassettePath, strategy)
			}
			if err != nil {
				return fmt.Errorf("load cassette: %w", err)
			}
		}
	}

	latencyCfg, err := parseLatency(v)
	if err != nil {
		return err
	}

	srv := proxy.NewServer(proxy.Config{
		Authority:      authority,
		Recorder:       rec,
		Store:          store,
		ConnectTimeout: v.GetDuration("connect-timeout"),
		ReadTimeout:    v.GetDuration("read-timeout"),
		Logger:         log,
	})
	srv.SetMode(m)
	srv.SetPlayer(pl)
	srv.SetLatency(latencyCfg)

	addr := v.GetString("addr")
	log.Info().Str("addr", addr).Str("mode", m.String()).Str("cassette", cassettePath).Msg("magneto listening")

	errCh := make(chan error, 1)
	go func() { errCh <- proxy.ListenAndServe(addr, srv) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info().Msg("shutting down")
	}

	// Replay-only modes, and Once against a cassette that already existed,
	// never write the cassette file back.
	if m.IsRecordCapable() && !(m == mode.Once && preExisted) && rec.State() == recorder.StateRecording {
		if err := rec.StopRecording(); err != nil {
			return fmt.Errorf("flush cassette on shutdown: %w", err)
		}
	}
	store.Close()
	return nil
}

func parseLatency(v *viper.Viper) (player.LatencyConfig, error) {
	switch v.GetString("latency") {
	case "none", "":
		return player.LatencyConfig{Mode: player.LatencyNone}, nil
	case "recorded":
		return player.LatencyConfig{Mode: player.LatencyRecorded}, nil
	case "fixed":
		return player.LatencyConfig{Mode: player.LatencyFixed, FixedMs: v.GetInt64("latency-fixed-ms")}, nil
	case "scaled":
		return player.LatencyConfig{Mode: player.LatencyScaled, ScalePercent: v.GetInt64("latency-scale-percent")}, nil
	default:
		return player.LatencyConfig{}, fmt.Errorf("serve: unknown --latency value %q", v.GetString("latency"))
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
