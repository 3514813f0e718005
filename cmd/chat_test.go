package cmd

import (
	"testing"

	"socketbot/pkg/config"
)

func TestResolveChatURLDefaultsToLocalServer(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	got, err := resolveChatURL(cfg, "")
	if err != nil {
		t.Fatalf("resolveChatURL error: %v", err)
	}
	if want := "ws://localhost:5005/socket.io"; got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}
}

func TestResolveChatURLOverride(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cases := map[string]string{
		"ws://bot.example:9000/ws":  "ws://bot.example:9000/ws",
		"https://bot.example":       "wss://bot.example/socket.io",
		"http://127.0.0.1:5005/":    "ws://127.0.0.1:5005/socket.io",
		" wss://bot.example/custom": "wss://bot.example/custom",
	}
	for input, want := range cases {
		got, err := resolveChatURL(cfg, input)
		if err != nil {
			t.Fatalf("resolveChatURL(%q) error: %v", input, err)
		}
		if got != want {
			t.Fatalf("resolveChatURL(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestResolveChatURLRejectsUnknownScheme(t *testing.T) {
	t.Parallel()

	if _, err := resolveChatURL(config.Default(), "ftp://bot.example"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestCommandsRegistered(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"serve", "chat"} {
		found := false
		for _, command := range rootCmd.Commands() {
			if command.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("command %q not registered", name)
		}
	}
}
