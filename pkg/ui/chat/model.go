package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"socketbot/pkg/payload"
	"socketbot/pkg/transport"
)

const (
	roleUser   = "user"
	roleBot    = "bot"
	roleSystem = "system"
	roleError  = "error"
)

type chatMessage struct {
	role    string
	content string
}

type frameMsg struct {
	frame transport.Frame
}

type connClosedMsg struct {
	err error
}

type sendResultMsg struct {
	err error
}

type model struct {
	conn   Conn
	events Events

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	width     int
	height    int
	isReady   bool
	lastErr   string
	followLog bool

	sessionID    string
	confirmed    bool
	closed       bool
	quickReplies []payload.QuickReply
}

func newModel(conn Conn, events Events, sessionID string) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Say something..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		conn:      conn,
		events:    events.withDefaults(),
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
		sessionID: strings.TrimSpace(sessionID),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, m.requestSessionCmd())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			return m, m.submit()
		}
	case frameMsg:
		m.handleFrame(typed.frame)
		return m, nil
	case connClosedMsg:
		m.closed = true
		if typed.err != nil {
			m.appendMessage(roleError, "connection closed: "+typed.err.Error())
		} else {
			m.appendMessage(roleSystem, "connection closed")
		}
		return m, nil
	case sendResultMsg:
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.appendMessage(roleError, typed.err.Error())
		}
		return m, nil
	case spinner.TickMsg:
		if m.confirmed {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the typed text. /1 to /9 pick a quick reply from the latest
// bot message and send its payload.
func (m *model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	if isExitCommand(text) {
		return tea.Quit
	}
	if m.closed {
		m.appendMessage(roleError, "not connected")
		return nil
	}

	display, message := text, text
	if reply, ok := m.quickReply(text); ok {
		display, message = reply.Title, reply.Payload
	}

	m.lastErr = ""
	m.input.SetValue("")
	m.followLog = true
	m.appendMessage(roleUser, display)
	return m.sendCmd(message)
}

func (m *model) quickReply(text string) (payload.QuickReply, bool) {
	if len(text) != 2 || text[0] != '/' {
		return payload.QuickReply{}, false
	}
	n, err := strconv.Atoi(text[1:])
	if err != nil || n < 1 || n > len(m.quickReplies) {
		return payload.QuickReply{}, false
	}

	return m.quickReplies[n-1], true
}

func (m *model) handleFrame(frame transport.Frame) {
	switch frame.Event {
	case sessionConfirmEvent:
		var sessionID string
		if err := json.Unmarshal(frame.Data, &sessionID); err != nil {
			m.appendMessage(roleError, "unreadable session confirmation: "+err.Error())
			return
		}
		m.sessionID = sessionID
		m.confirmed = true
		m.appendMessage(roleSystem, "session "+sessionID)
	case m.events.Bot:
		var p payload.Payload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			m.appendMessage(roleError, "unreadable bot message: "+err.Error())
			return
		}
		m.quickReplies = p.QuickReplies
		m.appendMessage(roleBot, renderPayload(p))
	}
}

func (m *model) appendMessage(role string, content string) {
	m.messages = append(m.messages, chatMessage{role: role, content: content})
	m.refreshViewport(false)
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("📡 Socketbot Chat")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"session:%s · turns:%d",
		displayOrNA(m.sessionID),
		conversationTurns(m.messages),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  /1-/9 quick reply  ·  PgUp/PgDn scroll  ·  🛑 Ctrl+C/Esc quit")
	switch {
	case m.closed:
		status = m.theme.statusErr.Render("🚨 disconnected")
	case !m.confirmed:
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ negotiating session...", m.spinner.View()))
	case m.lastErr != "":
		status = m.theme.statusErr.Render("🚨 last message failed to send")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("👤 You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	var sections []string
	for _, item := range m.messages {
		switch item.role {
		case roleUser:
			sections = append(sections, m.renderCard(
				m.theme.userTitle.Render("▛▚ [ 👤 ] ▞▜"),
				m.theme.userBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		case roleBot:
			sections = append(sections, m.renderCard(
				m.theme.botTitle.Render("▛▚ [ 🤖 ] ▞▜"),
				m.theme.botBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		case roleSystem:
			sections = append(sections, m.theme.hint.Render("· "+strings.TrimSpace(item.content)))
		case roleError:
			sections = append(sections, m.renderCard(
				m.theme.errorTitle.Render("▛▚ [ERROR] ▞▜"),
				m.theme.errorBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

// renderPayload flattens a bot payload into the lines shown in its card.
func renderPayload(p payload.Payload) string {
	var lines []string
	if text := strings.TrimSpace(p.Text); text != "" {
		lines = append(lines, text)
	}
	if p.Img != "" {
		lines = append(lines, "🖼  "+p.Img)
	}
	if p.Video != "" {
		lines = append(lines, "🎞  "+p.Video)
	}
	for _, link := range p.Links {
		lines = append(lines, fmt.Sprintf("↗ %s (%s)", link.Title, link.Payload))
	}
	if p.Attachment != nil {
		lines = append(lines, describeAttachment(*p.Attachment))
	}
	for i, reply := range p.QuickReplies {
		lines = append(lines, fmt.Sprintf("[/%d] %s", i+1, reply.Title))
	}
	if len(lines) == 0 {
		lines = append(lines, fmt.Sprintf("(%s message)", displayOrNA(p.Type)))
	}

	return strings.Join(lines, "\n")
}

func describeAttachment(attachment payload.Attachment) string {
	body, _ := attachment.Payload.(map[string]any)
	switch attachment.Type {
	case "image":
		if src, ok := body["src"].(string); ok {
			return "🖼  " + src
		}
	case "template":
		if title := elementTitle(body["elements"]); title != "" {
			return "📇 " + title
		}
	}

	return fmt.Sprintf("📎 %s attachment", displayOrNA(attachment.Type))
}

func elementTitle(elements any) string {
	switch typed := elements.(type) {
	case map[string]any:
		title, _ := typed["title"].(string)
		return title
	case []any:
		if len(typed) > 0 {
			return elementTitle(typed[0])
		}
	}

	return ""
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == roleUser {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
