package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manash/maskopt/internal/canvas"
	"github.com/manash/maskopt/internal/config"
	"github.com/manash/maskopt/internal/display"
	"github.com/manash/maskopt/internal/keys"
	"github.com/manash/maskopt/internal/log"
	"github.com/manash/maskopt/internal/metrics"
	"github.com/manash/maskopt/internal/protocol"
	"github.com/manash/maskopt/internal/render"
	"github.com/manash/maskopt/internal/repl"
	"github.com/manash/maskopt/internal/security"
	"github.com/manash/maskopt/internal/session"
	"github.com/manash/maskopt/internal/transport"
	"github.com/manash/maskopt/internal/transport/ws"
	"github.com/manash/maskopt/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig      string
	flagServer      string
	flagToken       string
	flagInsecure    bool
	flagMetricsAddr string
	flagCanvasDB    string
	flagCanvasName  string
	flagLogLevel    string
)

var ErrDisconnected = errors.New("server closed the connection")

// Conn is a running connection to the generation server.
type Conn interface {
	transport.Transport
	Run(ctx context.Context) error
	Close() error
}

type App struct {
	In            io.Reader
	Out           io.Writer
	Err           io.Writer
	GetEnv        func(string) string
	Dial          func(ctx context.Context, cfg ws.Config) (Conn, error)
	OpenStore     func(path string) (*canvas.Store, error)
	NewTokenStore func() (*keys.Store, error)
}

func DefaultApp() *App {
	return &App{
		In:     os.Stdin,
		Out:    os.Stdout,
		Err:    os.Stderr,
		GetEnv: os.Getenv,
		Dial: func(ctx context.Context, cfg ws.Config) (Conn, error) {
			return ws.Dial(ctx, cfg)
		},
		OpenStore:     canvas.NewStoreWithPath,
		NewTokenStore: keys.NewStore,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maskopt",
		Short: "Drive a remote mask-guided image optimization session",
		Long: `maskopt connects to an image optimization server and runs an interactive
session: set a prompt and mask, start optimizing over the canvas, then pause,
resume, upscale, discard or accept the streamed result.

Examples:
  maskopt --server wss://gen.example.com/ws
  maskopt canvas import photo.png
  maskopt token set wss://gen.example.com/ws <token>`,
		Args:          cobra.NoArgs,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, app)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "config file (defaults to the platform config dir)")
	pf.StringVar(&flagCanvasDB, "canvas-db", "", "canvas database path")
	pf.StringVar(&flagCanvasName, "canvas", "", "canvas name")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.Flags().StringVarP(&flagServer, "server", "s", "", "server WebSocket URL")
	cmd.Flags().StringVarP(&flagToken, "token", "t", "", "auth token (defaults to stored token or MASKOPT_TOKEN)")
	cmd.Flags().BoolVar(&flagInsecure, "insecure", false, "allow unencrypted ws:// to non-local servers")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(newTokenCmd(app))
	cmd.AddCommand(newCanvasCmd(app))

	return cmd
}

// loadConfig layers the config file, MASKOPT_* env vars and flags.
func loadConfig(app *App) (config.Config, error) {
	path := flagConfig
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		path = p
	}

	cfg, err := config.Load(path, app.GetEnv)
	if err != nil {
		return config.Config{}, err
	}

	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if flagInsecure {
		cfg.Insecure = true
	}
	if flagMetricsAddr != "" {
		cfg.MetricsAddr = flagMetricsAddr
	}
	if flagCanvasDB != "" {
		cfg.CanvasDB = flagCanvasDB
	}
	if flagCanvasName != "" {
		cfg.CanvasName = security.SanitizeName(flagCanvasName)
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if cfg.CanvasName == "" {
		cfg.CanvasName = canvas.DefaultName
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func openCanvasStore(app *App, cfg config.Config) (*canvas.Store, error) {
	path := cfg.CanvasDB
	if path == "" {
		p, err := canvas.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	store, err := app.OpenStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open canvas store: %w", err)
	}
	return store, nil
}

func runSession(_ *cobra.Command, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(app)
	if err != nil {
		return err
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Output: app.Err})
	logger := log.WithComponent("cli")

	if err := security.ValidateServerURL(cfg.ServerURL, cfg.Insecure); err != nil {
		return err
	}

	tokens, err := app.NewTokenStore()
	if err != nil {
		logger.Warn().Err(err).Msg("token store unavailable")
		tokens = nil
	}
	token, source := keys.ResolveToken(tokens, flagToken, cfg.ServerURL, app.GetEnv("MASKOPT_TOKEN"))

	store, err := openCanvasStore(app, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	out := &lockedWriter{w: app.Out}
	codec := render.NewCodec()
	m := metrics.New()
	state := session.NewState()
	inputs := session.NewInputs(session.Defaults{
		StylePrompt:  cfg.StylePrompt,
		LearningRate: cfg.LearningRate,
		NumRecSteps:  cfg.NumRecSteps,
		ModelType:    cfg.ModelType,
	})

	conn, err := app.Dial(ctx, ws.Config{
		URL:          cfg.ServerURL,
		Token:        token,
		PingInterval: cfg.PingInterval,
		Logger:       log.WithComponent("transport"),
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if source != "" {
		fmt.Fprintf(out, "Connected to %s (token from %s)\n", cfg.ServerURL, source)
	} else {
		fmt.Fprintf(out, "Connected to %s\n", cfg.ServerURL)
	}

	ctrl, err := session.NewController(&session.Config{
		State:        state,
		Inputs:       inputs,
		Canvas:       canvas.New(store, cfg.CanvasName, codec),
		Encoder:      codec,
		Transport:    conn,
		Logger:       log.WithComponent("session"),
		Metrics:      m,
		PauseCommand: cfg.PauseCommand,
	})
	if err != nil {
		return err
	}

	loop := session.NewLoop(64)
	handler := protocol.NewHandler(&protocol.Config{
		State:   state,
		Decoder: codec,
		Logger:  log.WithComponent("protocol"),
		Metrics: m,
		OnResult: func(res *models.OptimizationResult) {
			if res.Complete() {
				fmt.Fprintf(out, "\nReached %d/%d iterations, paused. Accept, discard or upscale.\n", res.Step, res.NumIterations)
			}
		},
	})
	conn.OnMessage(func(raw []byte) {
		loop.Post(func() { _ = handler.Handle(raw) })
	})

	var displayer *display.Displayer
	if display.IsTerminalSupported(app.Out, app.GetEnv) {
		displayer = display.New(out)
		displayer.FitWidth(display.PreviewColumns(app.Out))
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error {
		err := conn.Run(gctx)
		if err == nil && gctx.Err() == nil {
			return ErrDisconnected
		}
		return err
	})
	if cfg.MetricsAddr != "" {
		serveMetrics(gctx, g, cfg.MetricsAddr, m, logger)
	}

	r := repl.New(&repl.Config{
		In:         app.In,
		Out:        out,
		Err:        app.Err,
		Controller: ctrl,
		Inputs:     inputs,
		Loop:       loop,
		Codec:      codec,
		Saver:      render.NewSaver(),
		Displayer:  displayer,
	})

	// The REPL blocks on input, so it runs outside the group and is
	// abandoned if the connection drops first.
	replDone := make(chan error, 1)
	go func() { replDone <- r.Run(gctx) }()

	var replErr error
	select {
	case replErr = <-replDone:
	case <-gctx.Done():
	}
	stop()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return replErr
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, m *metrics.Metrics, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// lockedWriter serializes writes from the REPL and the event loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
