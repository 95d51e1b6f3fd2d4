package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/editorlink/host/internal/config"
	"github.com/editorlink/host/internal/diffsession"
	"github.com/editorlink/host/internal/editor"
	"github.com/editorlink/host/internal/lockfile"
	"github.com/editorlink/host/internal/mcp"
	"github.com/editorlink/host/internal/rpc"
	"github.com/editorlink/host/internal/server"
	"github.com/editorlink/host/internal/terminal"
	"github.com/editorlink/host/internal/tools"
)

// rpcHandler bridges server connection events into the JSON-RPC dispatcher.
// Each text frame is dispatched with a send function bound to the client the
// frame arrived on, so deferred responses (openDiff resolving minutes later)
// land on the right connection.
type rpcHandler struct {
	server.NopHandler
	dispatcher *rpc.Dispatcher
}

func (h *rpcHandler) OnMessage(c *server.Client, payload []byte) {
	h.dispatcher.Dispatch(payload, func(resp []byte) {
		if err := c.Send(resp); err != nil {
			log.Printf("serve: send response to %s: %v", c.ID(), err)
		}
	})
}

func (h *rpcHandler) OnError(c *server.Client, err error) {
	log.Printf("serve: client %s protocol error: %v", c.ID(), err)
}

// runServe starts the host and blocks until a signal arrives.
func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	defaultConfig, _ := config.DefaultConfigPath()
	configPath := fs.String("config", defaultConfig, "Path to config file")
	portMin := fs.Int("port-min", 0, "Lower bound of the port search range")
	portMax := fs.Int("port-max", 0, "Upper bound of the port search range")
	lockDir := fs.String("lock-dir", "", "Directory for the discovery lock file")
	workspace := fs.String("workspace", "", "Workspace folder to advertise")
	terminalCmd := fs.String("terminal", "", "Assistant CLI to launch in an embedded terminal")
	noAuth := fs.Bool("no-auth", false, "Disable session token authentication")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// CLI flags take precedence over file values.
	if *portMin > 0 {
		cfg.PortMin = *portMin
	}
	if *portMax > 0 {
		cfg.PortMax = *portMax
	}
	if *lockDir != "" {
		cfg.LockDir = *lockDir
	}
	if *workspace != "" {
		cfg.Workspace = *workspace
	}
	if *terminalCmd != "" {
		cfg.TerminalCmd = *terminalCmd
	}
	if *noAuth {
		cfg.AuthRequired = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	if cfg.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace = wd
		}
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
	}

	token := ""
	if cfg.AuthRequired {
		token = lockfile.GenerateToken()
	}

	// Wire the core: headless editor, dispatcher, tool registry, diff
	// session manager.
	ed := editor.NewMemory(cfg.Workspace)
	dispatcher := rpc.NewDispatcher()
	registry := mcp.NewRegistry("editorlink", Version)
	registry.Bind(dispatcher)
	diffs := diffsession.NewManager(ed)
	tools.RegisterAll(registry, ed, diffs)

	srv := server.New(server.Config{
		PortMin:      cfg.PortMin,
		PortMax:      cfg.PortMax,
		AuthToken:    token,
		PingInterval: time.Duration(cfg.PingIntervalSeconds) * time.Second,
	}, &rpcHandler{dispatcher: dispatcher})

	if err := srv.Start(); err != nil {
		fmt.Fprintf(stderr, "Failed to start server: %v\n", err)
		return 1
	}

	// Editor selection events become pushed notifications; deliver to every
	// connected client.
	ed.OnSelectionChanged(func(sel editor.Selection) {
		payload, err := rpc.EncodeNotification("selection_changed", sel)
		if err != nil {
			log.Printf("serve: encode selection_changed: %v", err)
			return
		}
		srv.Broadcast(payload)
	})
	ed.OnAtMention(func(m editor.AtMention) {
		payload, err := rpc.EncodeNotification("at_mentioned", m)
		if err != nil {
			log.Printf("serve: encode at_mentioned: %v", err)
			return
		}
		srv.Broadcast(payload)
	})

	lockPath, err := lockfile.Write(cfg.LockDir, srv.Port(), lockfile.LockFile{
		PID:              os.Getpid(),
		WorkspaceFolders: []string{cfg.Workspace},
		IDEName:          "editorlink",
		Transport:        "ws",
		AuthToken:        token,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to write lock file: %v\n", err)
		srv.Stop()
		return 1
	}

	fmt.Fprintf(stdout, "editorlink listening on 127.0.0.1:%d (lock file %s)\n", srv.Port(), lockPath)

	var term *terminal.Session
	if cfg.TerminalCmd != "" {
		term = terminal.New()
		term.OnOutput = func(chunk []byte) {
			stdout.Write(chunk)
		}
		if err := term.Start(cfg.TerminalCmd, srv.Port()); err != nil {
			log.Printf("serve: terminal: %v", err)
			term = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Fprintf(stdout, "Received %s, shutting down\n", sig)

	// Shutdown order matters: pending diff sessions resume their callers
	// first (while the sockets can still carry the responses), then the
	// server closes every client, then the lock file disappears.
	diffs.Shutdown()
	if term != nil {
		term.Close()
	}
	srv.Stop()
	if err := lockfile.Remove(cfg.LockDir, srv.Port()); err != nil {
		log.Printf("serve: %v", err)
	}
	return 0
}

// runInit writes a default config file.
func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)

	defaultConfig, _ := config.DefaultConfigPath()
	configPath := fs.String("config", defaultConfig, "Path to config file")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if err := config.WriteDefault(*configPath); err != nil {
		fmt.Fprintf(stderr, "Failed to write config: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Config ready at %s\n", *configPath)
	return 0
}
