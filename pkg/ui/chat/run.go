package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"socketbot/pkg/config"
	"socketbot/pkg/transport"
)

const (
	sessionRequestEvent = "session_request"
	sessionConfirmEvent = "session_confirm"
)

// Conn is the client side of a hub connection.
type Conn interface {
	Emit(event string, data any) error
	Next() (transport.Frame, error)
	Close() error
}

// Events names the user and bot message events the server was configured
// with.
type Events struct {
	User string
	Bot  string
}

func (e Events) withDefaults() Events {
	if strings.TrimSpace(e.User) == "" {
		e.User = config.DefaultUserMessageEvent
	}
	if strings.TrimSpace(e.Bot) == "" {
		e.Bot = config.DefaultBotMessageEvent
	}
	return e
}

// Options configures a chat session.
type Options struct {
	URL       string
	Namespace string
	SessionID string
	Events    Events
}

// Run dials the server and runs the interactive chat until the user quits.
func Run(ctx context.Context, opts Options) error {
	conn, err := transport.Dial(ctx, opts.URL, opts.Namespace)
	if err != nil {
		return err
	}
	defer conn.Close()

	m := newModel(conn, opts.Events, opts.SessionID)
	program := tea.NewProgram(m, tea.WithContext(ctx), tea.WithMouseCellMotion())
	go pumpFrames(conn, program.Send)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

// pumpFrames forwards every inbound frame to send until the connection ends.
func pumpFrames(conn Conn, send func(tea.Msg)) {
	for {
		frame, err := conn.Next()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			send(connClosedMsg{err: err})
			return
		}
		send(frameMsg{frame: frame})
	}
}

type userUtterance struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type sessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

func (m *model) requestSessionCmd() tea.Cmd {
	conn, sessionID := m.conn, m.sessionID
	return func() tea.Msg {
		if err := conn.Emit(sessionRequestEvent, sessionRequest{SessionID: sessionID}); err != nil {
			return sendResultMsg{err: fmt.Errorf("request session: %w", err)}
		}
		return nil
	}
}

func (m *model) sendCmd(message string) tea.Cmd {
	conn, event, sessionID := m.conn, m.events.User, m.sessionID
	return func() tea.Msg {
		if err := conn.Emit(event, userUtterance{Message: message, SessionID: sessionID}); err != nil {
			return sendResultMsg{err: fmt.Errorf("send message: %w", err)}
		}
		return sendResultMsg{}
	}
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("📡 Thanks for chatting with Socketbot")
}
