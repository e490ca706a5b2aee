package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/1broseidon/paintd/internal/config"
	"github.com/1broseidon/paintd/internal/daemon"
	"github.com/1broseidon/paintd/internal/ipc"
	"github.com/1broseidon/paintd/internal/platform"
	"github.com/1broseidon/paintd/internal/runtimepath"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "daemon":
		os.Exit(runDaemon(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "outputs":
		os.Exit(runOutputs(os.Args[2:]))
	case "damage":
		os.Exit(runDamage(os.Args[2:]))
	case "reload":
		os.Exit(runReload(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: paintd <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  daemon              Start the compositor (foreground)")
	fmt.Fprintln(w, "  status              Show compositor status")
	fmt.Fprintln(w, "  outputs             List outputs and paint targets")
	fmt.Fprintln(w, "  damage              Repaint the screen or a rectangle")
	fmt.Fprintln(w, "  reload              Reload configuration")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print configuration")
	fmt.Fprintln(w, "  config explain      Explain a config value")
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "", "Config file path (default: ~/.config/paintd/config.yaml)")
	display := fs.String("display", "", "X display (overrides config)")
	headless := fs.Bool("headless", false, "Composite an in-memory screen instead of a display")
	size := fs.String("size", "1280x720", "Screen size for --headless")
	noWatch := fs.Bool("no-watch", false, "Do not reload when config files change")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: paintd daemon [--path PATH] [--display DISPLAY] [--headless [--size WxH]] [--no-watch]")
		fmt.Fprintln(os.Stderr, "")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon takes no arguments")
		fs.Usage()
		return 2
	}

	configPath, err := resolveConfigPath(*path)
	if err != nil {
		log.Fatalf("Failed to resolve config path: %v", err)
	}
	res, err := config.LoadFromPath(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration loaded from %s (%d files)", configPath, len(res.Files))

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	socketPath, err := runtimepath.SocketPath()
	if err != nil {
		log.Fatalf("Failed to resolve control socket path: %v", err)
	}
	if ipc.NewClientForSocket(socketPath).Ping() == nil {
		log.Fatalf("paintd is already running (%s)", socketPath)
	}

	var (
		backend     platform.Backend
		backendName string
	)
	if *headless {
		dims, err := parseSize(*size)
		if err != nil {
			log.Fatalf("Invalid --size: %v", err)
		}
		backend = platform.NewHeadless(platform.HeadlessOptions{Size: dims})
		backendName = "headless"
	} else {
		name := res.Config.Display
		if *display != "" {
			name = *display
		}
		backend, err = platform.OpenDisplay(name, logger)
		if err != nil {
			log.Fatalf("Failed to take over display: %v", err)
		}
		backendName = "x11"
	}

	d, err := daemon.New(backend, res, daemon.Options{
		ConfigPath:  configPath,
		SocketPath:  socketPath,
		Watch:       !*noWatch,
		BackendName: backendName,
		Logger:      logger,
		Level:       level,
	})
	if err != nil {
		backend.Close()
		log.Fatalf("Failed to start compositor: %v", err)
	}

	removePID := writePIDFile()
	defer removePID()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Println("Received SIGHUP, reloading config...")
				if err := d.Reload(ctx); err != nil {
					log.Printf("Config reload failed: %v", err)
				}
			}
		}
	}()

	log.Printf("paintd daemon started (%s backend)", backendName)
	if err := d.Run(ctx); err != nil {
		if errors.Is(err, daemon.ErrBackendClosed) {
			log.Printf("Display connection closed")
			return 1
		}
		log.Printf("Compositor stopped: %v", err)
		return 1
	}
	log.Println("Shutting down paintd daemon...")
	return 0
}

func writePIDFile() func() {
	pidPath, err := runtimepath.PIDPath()
	if err != nil {
		log.Printf("Warning: no pid file: %v", err)
		return func() {}
	}
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600); err != nil {
		log.Printf("Warning: failed to write pid file: %v", err)
		return func() {}
	}
	return func() { os.Remove(pidPath) }
}

func parseSize(s string) (image.Point, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return image.Point{}, fmt.Errorf("want WIDTHxHEIGHT, got %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return image.Point{}, fmt.Errorf("bad width in %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return image.Point{}, fmt.Errorf("bad height in %q", s)
	}
	return image.Pt(width, height), nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return config.DefaultConfigPath()
}

func runReload(args []string) int {
	fs := flag.NewFlagSet("reload", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: paintd reload")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Ask the daemon to reload its configuration.")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "reload takes no arguments")
		fs.Usage()
		return 2
	}

	if err := ipc.NewClient().Reload(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("config reloaded")
	return 0
}

func runDamage(args []string) int {
	fs := flag.NewFlagSet("damage", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: paintd damage [X Y WIDTH HEIGHT]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Repaint the whole screen, or one rectangle.")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	client := ipc.NewClient()
	switch fs.NArg() {
	case 0:
		if err := client.DamageScreen(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	case 4:
		var v [4]int
		for i := range v {
			n, err := strconv.Atoi(fs.Arg(i))
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid number %q\n", fs.Arg(i))
				return 2
			}
			v[i] = n
		}
		if err := client.DamageRect(v[0], v[1], v[2], v[3]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	default:
		fs.Usage()
		return 2
	}
	return 0
}
