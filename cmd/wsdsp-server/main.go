// ABOUTME: Entry point for the wsdsp server
// ABOUTME: Loads configuration, starts the WebSocket server and the optional status TUI
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faintsignals/wsdsp/internal/config"
	"github.com/faintsignals/wsdsp/internal/logging"
	"github.com/faintsignals/wsdsp/internal/server"
	"github.com/faintsignals/wsdsp/internal/version"
	"github.com/faintsignals/wsdsp/pkg/wsdsp"
	"golang.org/x/time/rate"
)

var (
	configPath  = flag.String("config", "", "TOML config file")
	envFile     = flag.String("env", ".env", "Environment file loaded before WSDSP_* overrides")
	port        = flag.Int("port", 0, "WebSocket server port (default 8930)")
	name        = flag.String("name", "", "Server name advertised over mDNS")
	path        = flag.String("path", "", "WebSocket endpoint path (default /dsp)")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, stream logs to the console")
	logFile     = flag.String("log-file", "", "Log file path (default wsdsp-server.log)")
	logLevel    = flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	applyFlags(&cfg)

	useTUI := !*noTUI

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	// TUI mode logs only to the file
	var out io.Writer = f
	if !useTUI {
		out = io.MultiWriter(os.Stderr, f)
	}
	logger := logging.Configure(logging.ProfileRuntime, "wsdsp-server", out)
	if lvl, ok := logging.ParseLevel(*logLevel); ok {
		logger = logger.Level(lvl)
	}

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit == 0 {
		limit = rate.Inf
	}

	srv, err := wsdsp.NewServer(wsdsp.ServerConfig{
		Port:            cfg.Port,
		Name:            cfg.Name,
		Path:            cfg.Path,
		EnableMDNS:      cfg.MDNS,
		RateLimit:       limit,
		Burst:           cfg.Burst,
		MaxMessageBytes: cfg.MaxMessageBytes,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	logger.Info().
		Str("version", version.Version).
		Str("name", cfg.Name).
		Int("port", cfg.Port).
		Str("log_file", cfg.LogFile).
		Msg("starting wsdsp server")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
		srv.Stop()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	var tui *server.ServerTUI
	if useTUI {
		tui = runTUI(ctx, srv)
	}

	err = srv.Start()
	cancel()
	if tui != nil {
		tui.Stop()
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("server stopped")
}

func runTUI(ctx context.Context, srv *wsdsp.Server) *server.ServerTUI {
	tui := server.NewServerTUI()

	go func() {
		if err := tui.Start(server.Snapshot(srv, time.Now())); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
		// The TUI exiting for any reason stops the server.
		srv.Stop()
	}()
	go tui.Follow(ctx, srv, time.Second)
	go func() {
		select {
		case <-tui.QuitChan():
			srv.Stop()
		case <-ctx.Done():
		}
	}()
	return tui
}

// applyFlags lets explicitly set flags win over file and environment values.
func applyFlags(cfg *config.Server) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "name":
			cfg.Name = *name
		case "path":
			cfg.Path = *path
		case "no-mdns":
			cfg.MDNS = !*noMDNS
		case "log-file":
			cfg.LogFile = *logFile
		}
	})
}
