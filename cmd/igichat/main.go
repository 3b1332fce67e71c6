package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ekisa-team/igichat/internal/app"
	"github.com/ekisa-team/igichat/internal/audio"
	"github.com/ekisa-team/igichat/internal/config"
	"github.com/ekisa-team/igichat/internal/env"
	"github.com/ekisa-team/igichat/internal/logger"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/runtime"
	grpcserver "github.com/ekisa-team/igichat/internal/server/grpc"
	httpserver "github.com/ekisa-team/igichat/internal/server/http"
	"github.com/ekisa-team/igichat/internal/session"
	"github.com/ekisa-team/igichat/internal/xfs"
)

func main() {
	var (
		flagHTTPPort   = flag.Int("http-port", config.DefaultHTTPPort(), "HTTP port to listen on, 0 disables the status server")
		flagGRPCPort   = flag.Int("grpc-port", config.DefaultGRPCPort(), "gRPC port to listen on, 0 disables the health server")
		flagConfigPath = flag.String("config", filepath.Join(config.DefaultConfigPath(), "config.yaml"), "Path to config file")
		flagSchemaPath = flag.String("schema", "", "Path to schema file, empty selects the embedded schema")
		flagModels     = flag.String("models", "", "Path to the models directory")
		flagLogFile    = flag.String("log-file", "logs/igichat.log", "Path to the JSON log file, empty disables it")
		flagNoSigCheck = flag.Bool("no-sig-check", false, "Skip the backend binary checksum verification")
		flagNoCIG      = flag.Bool("no-cig", false, "Disable the shared compute context")
	)
	flag.Parse()

	environment := env.FromEnv()

	slog.SetDefault(
		logger.New(environment,
			logger.WithLogToFile(*flagLogFile != ""),
			logger.WithLogFile(*flagLogFile),
		),
	)

	if err := run(environment, options{
		httpPort:   *flagHTTPPort,
		grpcPort:   *flagGRPCPort,
		configPath: xfs.ExpandTilde(*flagConfigPath),
		schemaPath: *flagSchemaPath,
		modelsPath: *flagModels,
		noSigCheck: *flagNoSigCheck,
		noCIG:      *flagNoCIG,
	}); err != nil {
		slog.Error("igichat exited with error", "error", err)
		os.Exit(1)
	}
}

type options struct {
	httpPort   int
	grpcPort   int
	configPath string
	schemaPath string
	modelsPath string
	noSigCheck bool
	noCIG      bool
}

func run(environment env.Environment, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var current atomic.Pointer[app.App]

	cfg, closeWatcher, err := loadConfig(opts.configPath, opts.schemaPath, func(cfg *config.Config) {
		if a := current.Load(); a != nil {
			a.ApplyConfig(cfg)
		}
	})
	if err != nil {
		return err
	}
	defer closeWatcher()

	if opts.noSigCheck {
		cfg.Runtime.CheckSignature = false
	}

	slog.Info("Config loaded successfully", "config", opts.configPath, "environment", environment)

	rt, err := runtime.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open plugin runtime: %w", err)
	}

	modelsPath := config.ResolveModelsPath(cfg, opts.modelsPath)
	appOpts := []app.Option{}
	if opts.noCIG {
		appOpts = append(appOpts, app.WithSharedContext(false))
	}

	a := app.New(rt, cfg, modelsPath, appOpts...)
	a.Initialize()
	current.Store(a)
	a.Start()

	stopServers := startServers(ctx, a, opts.httpPort, opts.grpcPort)

	go poll(ctx, a)
	repl(ctx, stop, a, os.Stdin, os.Stdout)

	stopServers()
	return a.Shutdown()
}

// loadConfig watches path when it exists and falls back to the defaults
// otherwise.
func loadConfig(path, schemaPath string, onReload func(*config.Config)) (*config.Config, func(), error) {
	if !xfs.Exists(path) {
		cfg, err := config.LoadOrDefault(path, schemaPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		slog.Warn("Config file not found, using defaults", "config", path)
		return cfg, func() {}, nil
	}

	watcher, err := config.NewWatcher(path, schemaPath, func(cfg *config.Config, err error) {
		if err != nil {
			slog.Error("Failed to reload config", "error", err)
			return
		}
		onReload(cfg)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create config watcher: %w", err)
	}

	return watcher.Snapshot(), func() {
		if err := watcher.Close(); err != nil {
			slog.Error("Failed to close config watcher", "error", err)
		}
	}, nil
}

func startServers(ctx context.Context, a *app.App, httpPort, grpcPort int) func() {
	var stops []func()

	if httpPort > 0 {
		srv := &http.Server{
			Addr:              httpserver.Addr(httpPort),
			Handler:           httpserver.NewMux(a),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("HTTP server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server failed", "error", err)
			}
		}()
		stops = append(stops, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown failed", "error", err)
			}
		})
	}

	if grpcPort > 0 {
		lis, err := net.Listen("tcp", httpserver.Addr(grpcPort))
		if err != nil {
			slog.Error("gRPC listen failed", "port", grpcPort, "error", err)
		} else {
			srv := grpcserver.NewServer(a)
			go srv.Watch(ctx, 500*time.Millisecond)
			go func() {
				if err := srv.Serve(lis); err != nil {
					slog.Error("gRPC server failed", "error", err)
				}
			}()
			stops = append(stops, srv.Stop)
		}
	}

	return func() {
		for _, s := range stops {
			s()
		}
	}
}

// poll submits transcribed prompts to text generation.
func poll(ctx context.Context, a *app.App) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			started, err := a.Tick()
			if err != nil {
				slog.Warn("Failed to submit transcribed prompt", "error", err)
			}
			if started {
				a.Flush()
				printAnswer(os.Stdout, a.Snapshot())
			}
		}
	}
}

const usage = `commands:
  /record <file.wav>      start recording from a WAV file
  /stop                   stop recording and transcribe
  /reset                  start a new conversation
  /models                 list the catalogs
  /swap <domain> <index>  load another model
  /status                 show readiness
  /quit                   exit
anything else is sent as a chat prompt`

func repl(ctx context.Context, stop context.CancelFunc, a *app.App, in io.Reader, out io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	printAnswer(out, a.Snapshot())
	fmt.Fprintln(out, usage)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !command(a, strings.TrimSpace(line), out) {
				stop()
				return
			}
		}
	}
}

// command runs one REPL line and reports whether to continue.
func command(a *app.App, line string, out io.Writer) bool {
	if line == "" {
		return true
	}

	fields := strings.Fields(line)
	var err error

	switch fields[0] {
	case "/quit", "/exit":
		return false
	case "/help":
		fmt.Fprintln(out, usage)
	case "/record":
		if len(fields) != 2 {
			err = errors.New("usage: /record <file.wav>")
			break
		}
		err = a.StartRecording(audio.NewFileRecorder(xfs.ExpandTilde(fields[1])))
	case "/stop":
		if err = a.StopRecordingAndRunASR(); err == nil {
			fmt.Fprintln(out, "transcribing...")
		}
	case "/reset":
		a.ResetConversation()
		printAnswer(out, a.Snapshot())
	case "/models":
		printCatalogs(out, a)
	case "/status":
		printStatus(out, a.Snapshot())
	case "/swap":
		err = swap(a, fields[1:])
	default:
		if err = a.SubmitChat(line); err == nil {
			a.Flush()
			printAnswer(out, a.Snapshot())
		}
	}

	if err != nil {
		fmt.Fprintln(out, "error:", err)
	}
	return true
}

func swap(a *app.App, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: /swap <domain> <index>")
	}
	d, ok := model.ParseDomain(args[0])
	if !ok {
		return fmt.Errorf("unknown domain %q", args[0])
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[1])
	}
	return a.SwapModel(d, index)
}

func printAnswer(out io.Writer, snap session.Snapshot) {
	if n := len(snap.Messages); n > 0 && snap.Messages[n-1].Role == session.RoleAnswer {
		fmt.Fprintln(out, ">", strings.TrimSpace(snap.Messages[n-1].Text))
	}
}

func printCatalogs(out io.Writer, a *app.App) {
	for _, d := range model.Domains {
		c, _ := a.Catalog(d)
		fmt.Fprintf(out, "%s:\n", d)
		for i, e := range c.List() {
			mark := " "
			if i == c.Selected() {
				mark = "*"
			}
			fmt.Fprintf(out, " %s %d %s\n", mark, i, e.Caption)
		}
	}
}

func printStatus(out io.Writer, snap session.Snapshot) {
	for _, d := range model.Domains {
		st := snap.Domains[d]
		line := fmt.Sprintf("%s: %s", d, st.Phase)
		if st.Error != "" {
			line += " (" + st.Error + ")"
		}
		fmt.Fprintln(out, line)
	}
	if snap.Recording {
		fmt.Fprintln(out, "recording")
	}
}
