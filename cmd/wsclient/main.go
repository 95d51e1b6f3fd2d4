// Command wsclient is an interactive test client for editorlink.
// It reads the lock file to find the session token, connects, performs the
// MCP initialize exchange, and then sends one tools/call per stdin line.
//
// Usage:
//
//	go run ./cmd/wsclient <lock-file>
//	> tools/list
//	> openFile {"filePath":"/tmp/x.go"}
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/editorlink/host/internal/lockfile"
	"github.com/editorlink/host/internal/wsproto"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: wsclient <lock-file>")
		os.Exit(1)
	}

	lf, err := lockfile.Read(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read lock file: %v\n", err)
		os.Exit(1)
	}

	// The port is the lock file's name.
	base := strings.TrimSuffix(os.Args[1], ".lock")
	port := base[strings.LastIndexByte(base, '/')+1:]
	url := "ws://127.0.0.1:" + port

	header := http.Header{}
	if lf.AuthToken != "" {
		header.Set(wsproto.AuthHeader, lf.AuthToken)
	}

	fmt.Printf("Connecting to %s...\n", url)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Print everything the server sends, responses and notifications alike.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fmt.Printf("Connection closed: %v\n", err)
				os.Exit(0)
			}
			fmt.Printf("<- %s\n", data)
		}
	}()

	nextID := 1
	send := func(method string, params any) {
		msg := map[string]any{
			"jsonrpc": "2.0",
			"id":      nextID,
			"method":  method,
		}
		if params != nil {
			msg["params"] = params
		}
		nextID++
		data, _ := json.Marshal(msg)
		fmt.Printf("-> %s\n", data)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			fmt.Fprintf(os.Stderr, "Write failed: %v\n", err)
			os.Exit(1)
		}
	}

	send("initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "wsclient", "version": "dev"},
		"capabilities":    map[string]any{},
	})

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Enter 'tools/list' or '<toolName> {json args}' per line:")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "tools/list" || line == "initialize" {
			send(line, map[string]any{})
			continue
		}

		name, rest, _ := strings.Cut(line, " ")
		args := map[string]any{}
		if rest != "" {
			if err := json.Unmarshal([]byte(rest), &args); err != nil {
				fmt.Fprintf(os.Stderr, "Bad arguments JSON: %v\n", err)
				continue
			}
		}
		send("tools/call", map[string]any{"name": name, "arguments": args})
	}
}
