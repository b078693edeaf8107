// sudo-prompt runs commands with administrator privileges, asking the desktop
// user for authorization through a graphical prompt when sudo needs it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nikicat/sudo-prompt/internal/api"
	"github.com/nikicat/sudo-prompt/internal/cli"
	"github.com/nikicat/sudo-prompt/internal/config"
	"github.com/nikicat/sudo-prompt/internal/elevate"
	"github.com/nikicat/sudo-prompt/internal/logging"
	"github.com/nikicat/sudo-prompt/internal/notification"
	"github.com/nikicat/sudo-prompt/internal/procutil"
	"github.com/nikicat/sudo-prompt/internal/service"
	"github.com/nikicat/sudo-prompt/internal/shell"
)

const (
	// unsetAttempts marks --max-attempts as not given.
	unsetAttempts = -1
	// clientLogLevel keeps exec and touch quiet on the caller's terminal.
	clientLogLevel = "warn"
)

var progName = filepath.Base(os.Args[0])

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "exec":
		runExec(os.Args[2:])
	case "touch":
		runTouch(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "status", "pending", "history", "watch":
		runCLI(os.Args[1], os.Args[2:])
	case "service":
		runService(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  exec          Run a command as root, prompting for authorization if needed
  touch         Refresh the sudo timestamp
  serve         Start the daemon that owns prompts for the session
  status        Show daemon status
  pending       List prompts waiting for the user
  history       Show finished prompts
  watch         Stream prompt events
  service       Manage the systemd user service

Run '%s <command> -h' for command-specific help.
`, progName, progName)
}

// commonFlags are accepted by every subcommand that reads the config.
type commonFlags struct {
	configPath *string
	stateDir   *string
	socket     *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/sudo-prompt/config.yaml)"),
		stateDir:   fs.String("state-dir", "", "State directory (default: $XDG_STATE_HOME/sudo-prompt)"),
		socket:     fs.String("socket", "", "API socket path (default: $XDG_RUNTIME_DIR/sudo-prompt/api.sock)"),
	}
}

// resolve loads the config and applies it to flags not explicitly set.
func (c commonFlags) resolve(fs *flag.FlagSet) *config.Config {
	loaded, err := loadConfig(*c.configPath)
	if err != nil {
		fatal(err)
	}
	cfg := loaded.WithDefaults()
	set := setFlags(fs)
	if !set["state-dir"] && cfg.StateDir != "" {
		*c.stateDir = cfg.StateDir
	}
	if !set["socket"] {
		*c.socket = cfg.Socket
	}
	if *c.stateDir == "" {
		stateDir, err := getStateDir()
		if err != nil {
			fatal(err)
		}
		*c.stateDir = stateDir
	}
	return cfg
}

func runExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	common := addCommonFlags(fs)
	name := fs.String("name", "", "Name shown in the prompt (default: config name, then process title)")
	icon := fs.String("icon", "", "Path to an .icns icon for the macOS prompt")
	maxAttempts := fs.Int("max-attempts", unsetAttempts, "Prompts allowed before giving up (0 never prompts)")
	direct := fs.Bool("direct", false, "Prompt from this process instead of the daemon")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s exec [options] [--] <command>\n\n", progName)
		fs.PrintDefaults()
	}
	fs.Parse(args)

	command := strings.Join(fs.Args(), " ")
	if command == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg := common.resolve(fs)
	dir, err := os.Getwd()
	if err != nil {
		fatal(fmt.Errorf("get working directory: %w", err))
	}
	opts := elevate.Options{Name: *name, Icon: *icon, Title: invokerTitle(), Dir: dir}
	if strings.TrimSpace(opts.Icon) != "" && !filepath.IsAbs(opts.Icon) {
		opts.Icon = filepath.Join(dir, opts.Icon)
	}
	if *maxAttempts != unsetAttempts {
		opts.MaxAttempts = elevate.Attempts(*maxAttempts)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if !*direct {
		if client := daemonClient(*common.stateDir, *common.socket); client != nil {
			os.Exit(execViaDaemon(ctx, client, command, opts))
		}
	}

	logging.Setup(clientLogLevel, cfg.Serve.LogFormat)
	elevator, err := newElevator(cfg)
	if err != nil {
		fatal(err)
	}
	res, err := elevator.Exec(ctx, command, opts)
	os.Stdout.WriteString(res.Stdout)
	os.Stderr.WriteString(res.Stderr)
	os.Exit(exitCode(err))
}

// execViaDaemon runs command through the daemon and returns the exit code.
func execViaDaemon(ctx context.Context, client *cli.Client, command string, opts elevate.Options) int {
	resp, err := client.Exec(ctx, cli.ExecRequest{
		Command:     command,
		Name:        opts.Name,
		Icon:        opts.Icon,
		MaxAttempts: opts.MaxAttempts,
		Title:       opts.Title,
		Dir:         opts.Dir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	os.Stdout.WriteString(resp.Stdout)
	os.Stderr.WriteString(resp.Stderr)
	if resp.Error == "" {
		return 0
	}
	if resp.Kind == api.KindCommandFailed && resp.ExitCode != nil {
		return *resp.ExitCode
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", resp.Error)
	return 1
}

// exitCode maps an Exec error to a process exit status, printing it unless
// it is the command's own failure.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var cmdErr *elevate.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}

// invokerTitle names the program that ran us, skipping shells.
func invokerTitle() string {
	comm, _ := procutil.ResolveInvoker(uint32(os.Getppid()))
	return comm
}

// daemonClient returns a client for a running daemon, or nil.
func daemonClient(stateDir, socket string) *cli.Client {
	if socket == "" {
		return nil
	}
	if _, err := os.Stat(socket); err != nil {
		return nil
	}
	auth, err := api.LoadAuth(stateDir)
	if err != nil {
		slog.Debug("daemon cookie unavailable", "error", err)
		return nil
	}
	client := cli.NewClient(socket, auth.Token())
	if !client.Reachable() {
		return nil
	}
	return client
}

func runTouch(args []string) {
	fs := flag.NewFlagSet("touch", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(args)

	cfg := common.resolve(fs)
	logging.Setup(clientLogLevel, cfg.Serve.LogFormat)

	ctx, cancel := signalContext()
	defer cancel()

	elevator, err := newElevator(cfg)
	if err != nil {
		fatal(err)
	}
	if err := elevator.Touch(ctx); err != nil {
		fatal(err)
	}
}

func runCLI(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	common := addCommonFlags(fs)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args)

	common.resolve(fs)
	if *common.socket == "" {
		fatal(errors.New("XDG_RUNTIME_DIR is not set; pass --socket"))
	}

	auth, err := api.LoadAuth(*common.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "error: %s is not running (no cookie file found)\n", progName)
			fmt.Fprintf(os.Stderr, "Start the service first with: %s serve\n", progName)
		} else {
			fmt.Fprintf(os.Stderr, "error loading auth: %v\n", err)
		}
		os.Exit(1)
	}

	client := cli.NewClient(*common.socket, auth.Token())
	formatter := cli.NewFormatter(os.Stdout, *jsonOutput)

	switch cmd {
	case "status":
		status, err := client.Status()
		if err != nil {
			fatal(err)
		}
		formatter.FormatStatus(status)

	case "pending":
		prompts, err := client.Pending()
		if err != nil {
			fatal(err)
		}
		formatter.FormatPrompts(prompts)

	case "history":
		entries, err := client.History()
		if err != nil {
			fatal(err)
		}
		formatter.FormatHistory(entries)

	case "watch":
		ctx, cancel := signalContext()
		defer cancel()
		err := client.Watch(ctx, func(ev cli.Event) { formatter.FormatEvent(ev) })
		if err != nil && !errors.Is(err, context.Canceled) {
			fatal(err)
		}
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	common := addCommonFlags(fs)
	logLevel := fs.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", config.DefaultLogFormat, "Log format: text (colored) or json")
	promptTimeout := fs.Duration("prompt-timeout", 0, "Give up on a prompt after this long (0 waits forever)")
	historyLimit := fs.Int("history-limit", config.DefaultHistoryLimit, "Maximum number of finished prompts to keep in history")
	notifications := fs.Bool("notifications", true, "Enable desktop notifications for prompts")
	fs.Parse(args)

	// Load config and apply values for flags not explicitly set
	cfg := common.resolve(fs)
	set := setFlags(fs)
	if !set["log-level"] && cfg.Serve.LogLevel != "" {
		*logLevel = cfg.Serve.LogLevel
	}
	if !set["log-format"] && cfg.Serve.LogFormat != "" {
		*logFormat = cfg.Serve.LogFormat
	}
	if !set["prompt-timeout"] && cfg.Serve.PromptTimeout != 0 {
		*promptTimeout = time.Duration(cfg.Serve.PromptTimeout)
	}
	if !set["history-limit"] && cfg.Serve.HistoryLimit != 0 {
		*historyLimit = cfg.Serve.HistoryLimit
	}
	if !set["notifications"] && cfg.Serve.Notifications != nil {
		*notifications = *cfg.Serve.Notifications
	}
	cfg.Serve.LogLevel = *logLevel
	cfg.Serve.LogFormat = *logFormat
	cfg.Serve.PromptTimeout = config.Duration(*promptTimeout)
	cfg.Serve.HistoryLimit = *historyLimit

	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if *common.socket == "" {
		fatal(errors.New("XDG_RUNTIME_DIR is not set; pass --socket"))
	}

	logging.Setup(*logLevel, *logFormat)

	elevator, err := newElevator(cfg)
	if err != nil {
		fatal(err)
	}
	if elevator.Platform() == elevate.PlatformUnsupported {
		slog.Warn("no prompt driver for this platform, requests will fail", "goos", runtime.GOOS)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Set up desktop notifications
	if *notifications {
		notifier, err := notification.NewDBusNotifier()
		if err != nil {
			slog.Warn("failed to create desktop notifier, notifications disabled", "error", err)
		} else {
			notifHandler := notification.NewHandler(notifier)
			elevator.Coordinator().Subscribe(notifHandler)
			go notifHandler.ListenActions(ctx, notifier.Actions())
			defer notifier.Stop()
			slog.Debug("desktop notifications enabled")
		}
	}

	// Create auth with cookie file
	auth, err := api.NewAuth(*common.stateDir)
	if err != nil {
		fatal(fmt.Errorf("creating auth: %w", err))
	}

	apiServer, err := api.NewServer(*common.socket, elevator, auth)
	if err != nil {
		fatal(fmt.Errorf("creating API server: %w", err))
	}
	if err := apiServer.Start(); err != nil {
		fatal(fmt.Errorf("starting API server: %w", err))
	}
	slog.Info("API server started",
		"socket", apiServer.SocketPath(),
		"cookie_file", apiServer.CookieFilePath(),
		"platform", elevator.Platform())

	// Graceful shutdown of API server
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("API server shutdown", "error", err)
		}
	}()
	service.SdNotify(service.NotifyReady)
	defer service.SdNotify(service.NotifyStopping)

	if path := configPathFor(*common.configPath); path != "" {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				if err := elevator.SetDefaults(defaultsFrom(next)); err != nil {
					slog.Warn("ignoring reloaded request defaults", "error", err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("config watch stopped", "path", path, "error", err)
			}
		}()
	}

	<-ctx.Done()
}

// runService handles the "service" subcommand group (install/uninstall/status).
func runService(args []string) {
	if len(args) == 0 {
		printServiceUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		runServiceInstall(args[1:])
	case "uninstall":
		if err := service.Uninstall(os.Stdout); err != nil {
			fatal(err)
		}
	case "status":
		service.Status()
	case "-h", "--help", "help":
		printServiceUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown service command: %s\n\n", args[0])
		printServiceUsage()
		os.Exit(1)
	}
}

func runServiceInstall(args []string) {
	fs := flag.NewFlagSet("service install", flag.ExitOnError)
	start := fs.Bool("start", false, "Start the service immediately after installing")
	configPath := fs.String("config", "", "Config file path to embed in the unit file")
	fs.Parse(args)

	if err := service.Install(service.Options{
		ConfigPath: *configPath,
		Start:      *start,
	}); err != nil {
		fatal(err)
	}
}

func printServiceUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s service <command> [options]

Commands:
  install       Install and enable the systemd user service
  uninstall     Stop, disable, and remove the systemd user service
  status        Show the service status

Install options:
  --start       Start the service immediately after installing
  --config      Config file path to embed in the unit file's ExecStart
`, progName)
}

// newElevator builds an Elevator from the config file settings.
func newElevator(cfg *config.Config) (*elevate.Elevator, error) {
	classifier, err := elevate.NewClassifier(cfg.ToolPattern, cfg.AuthPattern)
	if err != nil {
		return nil, err
	}
	runner := &elevate.Runner{
		Spawner:    shell.Exec{},
		SudoPath:   cfg.SudoPath,
		Classifier: classifier,
	}
	driver := elevate.NewPlatformDriver(runtime.GOOS, elevate.DriverOptions{
		Spawner:        runner.Spawner,
		Frontends:      cfg.Frontends,
		RefreshCommand: cfg.RefreshCommand,
	})
	return elevate.New(elevate.Config{
		Runner:        runner,
		Driver:        driver,
		Defaults:      defaultsFrom(cfg),
		PromptTimeout: time.Duration(cfg.Serve.PromptTimeout),
		HistoryLimit:  cfg.Serve.HistoryLimit,
	})
}

func defaultsFrom(cfg *config.Config) elevate.Defaults {
	return elevate.Defaults{
		Name:        cfg.Name,
		Icon:        cfg.Icon,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func getStateDir() (string, error) {
	// Use XDG_STATE_HOME if set, otherwise ~/.local/state
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, "sudo-prompt"), nil
}

// configPathFor returns the config file that loadConfig reads.
func configPathFor(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}
	return config.DefaultPath()
}

// loadConfig loads a config file. An explicit path that doesn't exist is an error.
// A missing default path is silently ignored (returns empty config).
func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		cfg, err := config.Load(explicitPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", explicitPath, err)
		}
		// If the explicit path didn't exist, Load returns empty config.
		// We need to distinguish: check if the file actually exists.
		if _, statErr := os.Stat(explicitPath); statErr != nil {
			return nil, fmt.Errorf("config file not found: %s", explicitPath)
		}
		return cfg, nil
	}

	defaultPath := config.DefaultPath()
	if defaultPath == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", defaultPath, err)
	}
	return cfg, nil
}

// setFlags returns the set of flag names that were explicitly provided on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	m := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { m[f.Name] = true })
	return m
}
