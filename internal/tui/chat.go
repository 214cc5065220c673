// Package tui is the interactive terminal chat for CanvasMate, built on
// Bubble Tea. One TUI drives one session; per-answer token and cost
// figures come straight from the loop's reply.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/canvasmate/canvasmate/internal/agent"
)

// AskFunc runs one query through the session's loop.
type AskFunc func(ctx context.Context, query string) (*agent.Reply, error)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	accentColor  = lipgloss.Color("#06B6D4")
	mutedColor   = lipgloss.Color("#6B7280")
	okColor      = lipgloss.Color("#10B981")
	errColor     = lipgloss.Color("#EF4444")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	chatBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor)

	userStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(okColor).
			Bold(true)

	textStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	metaStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errStyle = lipgloss.NewStyle().
			Foreground(errColor)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

type chatEntry struct {
	sender  string
	content string
	meta    string // token/cost line under assistant answers
	time    time.Time
	isUser  bool
	isError bool
}

type replyMsg struct {
	reply *agent.Reply
	err   error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ask      AskFunc
	logger   *slog.Logger
	input    textarea.Model
	chat     viewport.Model
	messages []chatEntry
	width    int
	height   int
	ready    bool
	busy     bool

	queries     int
	totalTokens int
	totalCost   float64
}

// New builds the chat model.
func New(ask AskFunc, logger *slog.Logger) Model {
	ti := textarea.New()
	ti.Placeholder = "Ask about your courses..."
	ti.Focus()
	ti.CharLimit = 4096
	ti.SetHeight(3)
	ti.ShowLineNumbers = false
	ti.KeyMap.InsertNewline.SetEnabled(false)

	return Model{
		ask:      ask,
		logger:   logger.With("component", "tui"),
		input:    ti,
		messages: []chatEntry{},
	}
}

// Run starts the TUI and blocks until the user quits.
func Run(ask AskFunc, logger *slog.Logger) error {
	program := tea.NewProgram(New(ask, logger), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.busy {
				return m, nil
			}

			m.messages = append(m.messages, chatEntry{
				sender:  "You",
				content: text,
				time:    time.Now(),
				isUser:  true,
			})
			m.busy = true
			m.input.Reset()
			m.refreshChat()

			ask := m.ask
			return m, func() tea.Msg {
				reply, err := ask(context.Background(), text)
				return replyMsg{reply: reply, err: err}
			}
		}

	case replyMsg:
		m.busy = false
		if msg.err != nil {
			m.messages = append(m.messages, chatEntry{
				sender:  "CanvasMate",
				content: msg.err.Error(),
				time:    time.Now(),
				isError: true,
			})
		} else {
			m.queries++
			m.totalTokens += msg.reply.Usage.Total()
			m.totalCost += msg.reply.CostUSD
			m.messages = append(m.messages, chatEntry{
				sender:  "CanvasMate",
				content: msg.reply.Text,
				meta: fmt.Sprintf("%d tokens · $%.4f · %d tool calls · %.1fs",
					msg.reply.Usage.Total(), msg.reply.CostUSD, msg.reply.ToolCalls, msg.reply.Elapsed.Seconds()),
				time: time.Now(),
			})
		}
		m.refreshChat()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		chatW := m.width - 4
		chatH := m.height - 9 // header + input + footer

		if !m.ready {
			m.chat = viewport.New(chatW, chatH)
			m.ready = true
		} else {
			m.chat.Width = chatW
			m.chat.Height = chatH
		}
		m.refreshChat()
		m.input.SetWidth(chatW)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.chat, cmd = m.chat.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) refreshChat() {
	if !m.ready {
		return
	}
	m.chat.SetContent(m.renderChat())
	m.chat.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Starting CanvasMate..."
	}

	status := ""
	if m.busy {
		status = metaStyle.Render(" thinking...")
	}
	header := headerStyle.Width(m.width).Render("  🎓 CanvasMate" + status)

	chatArea := chatBorder.Width(m.width - 2).Render(m.chat.View())
	inputArea := m.input.View()

	footer := footerStyle.Render(fmt.Sprintf(
		"  Enter: send │ Esc: quit │ queries: %d │ tokens: %d │ spent: $%.4f",
		m.queries, m.totalTokens, m.totalCost,
	))

	return lipgloss.JoinVertical(lipgloss.Left, header, chatArea, inputArea, footer)
}

func (m Model) renderChat() string {
	if len(m.messages) == 0 {
		return lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(1).
			Render("Ask about your courses, assignments, grades or upcoming deadlines.")
	}

	var sb strings.Builder
	for _, entry := range m.messages {
		ts := metaStyle.Render(entry.time.Format("15:04"))

		switch {
		case entry.isUser:
			sb.WriteString(fmt.Sprintf("%s %s %s\n", ts, userStyle.Render("[You]"), textStyle.Render(entry.content)))
		case entry.isError:
			sb.WriteString(fmt.Sprintf("%s %s\n%s\n", ts, assistantStyle.Render("[CanvasMate]"), errStyle.Render(entry.content)))
		default:
			sb.WriteString(fmt.Sprintf("%s %s\n%s\n", ts, assistantStyle.Render("[CanvasMate]"), textStyle.Render(entry.content)))
			if entry.meta != "" {
				sb.WriteString(metaStyle.Render(entry.meta))
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
