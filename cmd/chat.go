package cmd

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"socketbot/pkg/config"
	"socketbot/pkg/ui/chat"
)

var (
	chatURL       string
	chatNamespace string
	chatSession   string
)

// chatCmd connects a terminal to a running socket server.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running socket server from the terminal",
	Long:  "Dials the socket channel, negotiates a session, and renders bot replies including quick replies, links, and attachments.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		target, err := resolveChatURL(cfg, chatURL)
		if err != nil {
			fmt.Printf("invalid server url: %v\n", err)
			return
		}

		namespace := chatNamespace
		if strings.TrimSpace(namespace) == "" {
			namespace = cfg.Channels.SocketIO.Namespace
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = chat.Run(ctx, chat.Options{
			URL:       target,
			Namespace: namespace,
			SessionID: chatSession,
			Events: chat.Events{
				User: cfg.Channels.SocketIO.UserMessageEvent,
				Bot:  cfg.Channels.SocketIO.BotMessageEvent,
			},
		})
		if err != nil {
			fmt.Printf("chat failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatURL, "url", "u", "", "server WebSocket url (defaults to the configured local server)")
	chatCmd.Flags().StringVarP(&chatNamespace, "namespace", "n", "", "namespace to join (defaults to the configured namespace)")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session id to resume")
}

// resolveChatURL returns the WebSocket url to dial. Without an override it
// points at the configured server on localhost.
func resolveChatURL(cfg *config.Config, override string) (string, error) {
	if value := strings.TrimSpace(override); value != "" {
		parsed, err := url.Parse(value)
		if err != nil {
			return "", err
		}
		switch parsed.Scheme {
		case "ws", "wss":
		case "http":
			parsed.Scheme = "ws"
		case "https":
			parsed.Scheme = "wss"
		default:
			return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
		}
		if parsed.Path == "" || parsed.Path == "/" {
			parsed.Path = cfg.Channels.SocketIO.SocketIOPath
		}
		return parsed.String(), nil
	}

	host := strings.TrimSpace(cfg.Server.Host)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return (&url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)),
		Path:   cfg.Channels.SocketIO.SocketIOPath,
	}).String(), nil
}
