package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/vulcan-relay/vulcan-relay/internal/config"
	"github.com/vulcan-relay/vulcan-relay/internal/control"
	"github.com/vulcan-relay/vulcan-relay/internal/engine"
	"github.com/vulcan-relay/vulcan-relay/internal/logging"
	"github.com/vulcan-relay/vulcan-relay/internal/signal"
	"github.com/vulcan-relay/vulcan-relay/internal/state"
)

// buildVersion is set via -ldflags "-X main.buildVersion=..." at release
// build time.
var buildVersion = "dev"

func main() {
	app := &cli.App{
		Name:  "vulcan-relay",
		Usage: "WebRTC SFU for one-to-many game-streaming sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "signal-addr", Value: "127.0.0.1:9000", Usage: "signal endpoint host:port"},
			&cli.StringFlag{Name: "control-addr", Value: "127.0.0.1:9001", Usage: "control endpoint host:port"},
			&cli.StringFlag{Name: "cert-path", Usage: "TLS certificate path, required unless --no-tls"},
			&cli.StringFlag{Name: "key-path", Usage: "TLS key path, required unless --no-tls"},
			&cli.BoolFlag{Name: "no-tls", Usage: "disable TLS on both endpoints"},
			&cli.StringFlag{Name: "rtc-ip", Value: "127.0.0.1", Usage: "interface the worker uses for ICE candidates"},
			&cli.StringFlag{Name: "rtc-announce-ip", Usage: "public address advertised when --rtc-ip is wildcard"},
			&cli.UintFlag{Name: "rtc-ports-range-min", Value: 10000, Usage: "minimum UDP port for RTP"},
			&cli.UintFlag{Name: "rtc-ports-range-max", Value: 59999, Usage: "maximum UDP port for RTP"},
		},
		Commands: []*cli.Command{
			{
				Name:  "dump-signal-schema",
				Usage: "print the Signal GraphQL schema and exit",
				Action: func(c *cli.Context) error {
					ss, err := freshSharedState()
					if err != nil {
						return err
					}
					svc, err := signal.New(ss, zerolog.Nop())
					if err != nil {
						return err
					}
					text, err := svc.PrintSchema()
					if err != nil {
						return err
					}
					fmt.Println(text)
					return nil
				},
			},
			{
				Name:  "dump-control-schema",
				Usage: "print the Control GraphQL schema and exit",
				Action: func(c *cli.Context) error {
					ss, err := freshSharedState()
					if err != nil {
						return err
					}
					svc, err := control.New(ss, zerolog.Nop())
					if err != nil {
						return err
					}
					text, err := svc.PrintSchema()
					if err != nil {
						return err
					}
					fmt.Println(text)
					return nil
				},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// freshSharedState builds a SharedState from default config, enough to
// derive a GraphQL schema for the dump-*-schema subcommands without
// binding any sockets.
func freshSharedState() (*state.SharedState, error) {
	cfg := config.New()
	webrtcCfg, err := config.NewWebRTCConfig(cfg)
	if err != nil {
		return nil, err
	}
	return state.New(engine.NewWorker(webrtcCfg, cfg.Peer)), nil
}

func run(c *cli.Context) error {
	filter := logging.FromEnv()
	logging.Init(filter)
	logger := log.Logger
	control.Version = buildVersion
	logger.Info().Str("version", buildVersion).Msg("starting vulcan-relay")

	cfg := config.New()
	cfg.SignalAddr = c.String("signal-addr")
	cfg.ControlAddr = c.String("control-addr")
	cfg.CertPath = c.String("cert-path")
	cfg.KeyPath = c.String("key-path")
	cfg.NoTLS = c.Bool("no-tls")
	cfg.RTC.RTCIP = c.String("rtc-ip")
	cfg.RTC.RTCAnnounceIP = c.String("rtc-announce-ip")
	cfg.RTC.PortRangeMin = uint16(c.Uint("rtc-ports-range-min"))
	cfg.RTC.PortRangeMax = uint16(c.Uint("rtc-ports-range-max"))

	if !cfg.NoTLS && (cfg.CertPath == "" || cfg.KeyPath == "") {
		return fmt.Errorf("--cert-path and --key-path are required unless --no-tls is set")
	}

	webrtcCfg, err := config.NewWebRTCConfig(cfg)
	if err != nil {
		return fmt.Errorf("build webrtc config: %w", err)
	}

	worker := engine.NewWorker(webrtcCfg, cfg.Peer)
	sharedState := state.New(worker)

	controlService, err := control.New(sharedState, logging.ForComponent("control", filter))
	if err != nil {
		return fmt.Errorf("build control service: %w", err)
	}
	signalService, err := signal.New(sharedState, logging.ForComponent("signal", filter))
	if err != nil {
		return fmt.Errorf("build signal service: %w", err)
	}

	controlServer := &http.Server{
		Addr:              cfg.ControlAddr,
		Handler:           controlService.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	signalServer := &http.Server{
		Addr:              cfg.SignalAddr,
		Handler:           signalService.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 2)
	go func() { errs <- serve(controlServer, cfg) }()
	go func() { errs <- serve(signalServer, cfg) }()

	quit := make(chan os.Signal, 1)
	osignal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			logger.Error().Err(err).Msg("server failed to start")
			return err
		}
	case <-quit:
		logger.Warn().Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	_ = controlServer.Shutdown(ctx)
	_ = signalServer.Shutdown(ctx)

	return nil
}

func serve(server *http.Server, cfg *config.Config) error {
	var err error
	if cfg.NoTLS {
		err = server.ListenAndServe()
	} else {
		err = server.ListenAndServeTLS(cfg.CertPath, cfg.KeyPath)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
