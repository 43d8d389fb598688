// Command send_text fires one text turn at a running server and prints
// what comes back. Useful as a smoke test without audio devices.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxwire/voxwire/pkg/client"
	"github.com/voxwire/voxwire/pkg/protocol"
)

func main() {
	_ = godotenv.Load()

	url := flag.String("url", "ws://localhost:8080/ws", "server WebSocket URL")
	text := flag.String("text", "hello there", "message to send")
	timeout := flag.Duration("timeout", 30*time.Second, "how long to wait for the turn")
	flag.Parse()

	done := make(chan struct{})
	handlers := client.Handlers{
		OnState: func(n protocol.StateNotice) {
			fmt.Printf("state: %s\n", n.State)
		},
		OnTranscription: func(reply string) {
			fmt.Printf("reply: %s\n", reply)
		},
		OnError: func(message string) {
			fmt.Printf("error: %s\n", message)
			close(done)
		},
		OnTurnComplete: func(turn, maxTurns int) {
			fmt.Printf("turn %d/%d\n", turn, maxTurns)
			close(done)
		},
	}

	c, err := client.Dial(client.Config{URL: *url}, nil, nil, handlers, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.SendText(*text); err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		os.Exit(1)
	}

	select {
	case <-done:
	case <-c.Done():
	case <-time.After(*timeout):
		fmt.Fprintln(os.Stderr, "timed out waiting for the turn")
		os.Exit(1)
	}
}
