// ABOUTME: Entry point for dspctl, the wsdsp command-line client
// ABOUTME: Parses CLI flags, finds a server and runs one control request or pipeline
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faintsignals/wsdsp/internal/config"
	"github.com/faintsignals/wsdsp/internal/discovery"
	"github.com/faintsignals/wsdsp/internal/logging"
	"github.com/faintsignals/wsdsp/internal/samples"
	"github.com/faintsignals/wsdsp/internal/version"
	"github.com/faintsignals/wsdsp/pkg/protocol"
	"github.com/faintsignals/wsdsp/pkg/wsdsp"
	"github.com/rs/zerolog"
)

var (
	serverAddr   = flag.String("server", "", "Server host:port (skip mDNS)")
	configPath   = flag.String("config", "", "TOML config file")
	envFile      = flag.String("env", ".env", "Environment file loaded before WSDSP_* overrides")
	ops          = flag.String("op", "ping", "ping, operations, stats, or a comma-separated pipeline of echo, fft, fir, base64")
	file         = flag.String("file", "", "Sample file (.mp3, .flac, anything else is raw)")
	data         = flag.String("data", "", "Literal request data when no file is given")
	sampleSize   = flag.Uint("sample-size", 1, "Bytes per I/Q component of raw data (1, 2 or 4)")
	sampleRate   = flag.Uint("sample-rate", 0, "Sample rate of raw data in Hz")
	maxSamples   = flag.Int("max-samples", 65536, "Maximum number of samples read from -file (0 = all)")
	taps         = flag.Uint("taps", 0, "FIR tap count (default 57)")
	cutoff       = flag.Float64("cutoff", 0, "FIR cutoff as a fraction of the sample rate (default 0.10)")
	count        = flag.Int("count", 5, "Number of partial stats replies")
	interval     = flag.Duration("interval", time.Second, "Interval between stats replies")
	timeout      = flag.Duration("timeout", 10*time.Second, "Request timeout")
	discoverWait = flag.Duration("discover-timeout", 5*time.Second, "How long to browse mDNS for a server")
	compress     = flag.Bool("compress", false, "Compress requests with per-message deflate")
	show         = flag.Int("show", 8, "Number of I/Q samples printed from binary replies")
	logLevel     = flag.String("log-level", "warn", "Log level: trace, debug, info, warn, error")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dspctl: %v\n", err)
		var remote *protocol.RemoteError
		if errors.As(err, &remote) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Configure(logging.ProfileRuntime, "dspctl", os.Stderr)
	if lvl, ok := logging.ParseLevel(*logLevel); ok {
		logger = logger.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server == "" {
		info, err := discover(ctx, &logger)
		if err != nil {
			return err
		}
		cfg.Server = info.Addr()
		cfg.Path = info.Path
		fmt.Printf("Discovered %s at %s%s\n", info.Name, cfg.Server, cfg.Path)
	}

	c, err := wsdsp.Dial(ctx, wsdsp.ClientConfig{
		ServerAddr:       cfg.Server,
		Path:             cfg.Path,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Compress:         cfg.Compress,
		Logger:           &logger,
		OnError: func(err error) {
			logger.Debug().Err(err).Msg("dispatch")
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	switch *ops {
	case protocol.TypePing:
		reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		rtt, err := c.Ping(reqCtx)
		if err != nil {
			return err
		}
		fmt.Printf("pong from %s in %s\n", cfg.Server, rtt.Round(time.Microsecond))
		return nil

	case protocol.TypeOperations:
		reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		list, err := c.Operations(reqCtx)
		if err != nil {
			return err
		}
		for _, op := range list {
			fmt.Printf("%3d  %s\n", op.Code, op.Name)
		}
		return nil

	case protocol.TypeStats:
		// The stream lasts count intervals, so the timeout starts after it.
		reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout+time.Duration(*count)*(*interval))
		defer cancel()
		return c.Stats(reqCtx, *count, *interval, func(st protocol.StatsPayload, final bool) {
			fmt.Println(formatStats(st, final))
		})
	}

	payload, err := loadPayload()
	if err != nil {
		return err
	}
	commands, err := buildPipeline(*ops, payload, pipelineOptions{Taps: uint32(*taps), Cutoff: float32(*cutoff)})
	if err != nil {
		return err
	}
	msg, err := c.NewMessage(commands, payload.Data)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	start := time.Now()
	reply, err := c.Call(reqCtx, msg)
	if err != nil {
		return err
	}
	fmt.Print(formatReply(reply, binaryOutput(commands), *show, time.Since(start)))
	return nil
}

func discover(ctx context.Context, logger *zerolog.Logger) (*discovery.ServerInfo, error) {
	mgr := discovery.NewManager(discovery.Config{Logger: logger})
	defer mgr.Stop()

	lookupCtx, cancel := context.WithTimeout(ctx, *discoverWait)
	defer cancel()
	return mgr.Lookup(lookupCtx)
}

func loadPayload() (*samples.Payload, error) {
	opts := samples.Options{
		MaxSamples:    *maxSamples,
		RawSampleSize: uint32(*sampleSize),
		RawSampleRate: uint32(*sampleRate),
	}
	if *file != "" {
		return samples.Load(*file, opts)
	}
	return &samples.Payload{
		Data:       []byte(*data),
		SampleRate: opts.RawSampleRate,
		SampleSize: opts.RawSampleSize,
		Kind:       samples.KindRaw,
	}, nil
}

// applyFlags lets explicitly set flags win over file and environment values.
func applyFlags(cfg *config.Client) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.Server = *serverAddr
		case "timeout":
			cfg.Timeout = *timeout
		case "compress":
			cfg.Compress = *compress
		}
	})
}
