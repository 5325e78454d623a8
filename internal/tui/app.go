// Package tui provides the interactive terminal client for tether.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/fentz26/tether/internal/lifecycle"
	"github.com/fentz26/tether/internal/models"
	"github.com/fentz26/tether/internal/transport"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	userMsgStyle = lipgloss.NewStyle().
			Foreground(cyanColor).
			Bold(true)

	replyStyle = lipgloss.NewStyle().
			Foreground(fgColor)

	metaStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	connectedStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	reconnectingStyle = lipgloss.NewStyle().
				Foreground(warningColor)

	disconnectedStyle = lipgloss.NewStyle().
				Foreground(errorColor)
)

// App is the terminal chat client model.
type App struct {
	clientID    string
	coordinator *lifecycle.Coordinator
	channel     *transport.Transport

	appStates    <-chan lifecycle.AppState
	connStates   <-chan transport.State
	responses    <-chan models.Response
	cancelSubs   []func()
	pairingInput func(payload string) (*models.ConnectionDescriptor, error)

	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int

	appState  lifecycle.AppState
	connState transport.State
	lines     []string
	message   string
}

type (
	appStateMsg  lifecycle.AppState
	connStateMsg transport.State
	responseMsg  models.Response
	pairedMsg    struct{ state lifecycle.AppState }
	errMsg       struct{ err error }
)

// New creates the chat client. The coordinator and transport are wired by
// the caller; the app only observes and sends.
func New(coordinator *lifecycle.Coordinator, channel *transport.Transport, parsePayload func(string) (*models.ConnectionDescriptor, error)) *App {
	ti := textinput.New()
	ti.Placeholder = "Type a message, or paste a pairing payload"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 80

	vp := viewport.New(80, 20)

	appStates, cancelApp := coordinator.Subscribe()
	connStates, cancelConn := channel.SubscribeState()
	responses, cancelResp := channel.Subscribe()

	return &App{
		clientID:     uuid.New().String(),
		coordinator:  coordinator,
		channel:      channel,
		appStates:    appStates,
		connStates:   connStates,
		responses:    responses,
		cancelSubs:   []func(){cancelApp, cancelConn, cancelResp},
		pairingInput: parsePayload,
		input:        ti,
		viewport:     vp,
		appState:     coordinator.State(),
		connState:    channel.State(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	defer func() {
		for _, cancel := range a.cancelSubs {
			cancel()
		}
	}()
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.waitAppState(),
		a.waitConnState(),
		a.waitResponse(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.channel.Disconnect()
			return a, tea.Quit

		case "ctrl+r":
			if a.appState.Phase == lifecycle.PhaseError {
				return a, a.retry()
			}

		case "enter":
			text := strings.TrimSpace(a.input.Value())
			if text == "" {
				return a, nil
			}
			a.input.SetValue("")
			if a.appState.Phase == lifecycle.PhaseNeedsPairing {
				return a, a.pair(text)
			}
			return a, a.send(text)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.viewport.Width = msg.Width
		a.viewport.Height = msg.Height - 8
		a.refreshViewport()

	case appStateMsg:
		a.appState = lifecycle.AppState(msg)
		cmds = append(cmds, a.waitAppState())

	case connStateMsg:
		a.connState = transport.State(msg)
		cmds = append(cmds, a.waitConnState())

	case responseMsg:
		a.appendResponse(models.Response(msg))
		cmds = append(cmds, a.waitResponse())

	case pairedMsg:
		a.appState = msg.state
		a.message = "Paired."
		cmds = append(cmds, a.connect())

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	header := titleStyle.Render("TETHER")
	header += "  " + a.renderAppPhase()
	header += "  " + a.renderConnPhase()
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	switch a.appState.Phase {
	case lifecycle.PhaseNeedsPairing:
		b.WriteString("\n  Not paired. Paste the pairing payload from the daemon and press Enter.\n")
		b.WriteString("  " + helpStyle.Render("Run `tether daemon` on the host machine to get one.") + "\n")
	case lifecycle.PhaseNeedsPermissions:
		b.WriteString("\n  Waiting for device permissions to be granted.\n")
	case lifecycle.PhaseError:
		b.WriteString("\n  " + disconnectedStyle.Render("Error: "+a.appState.Message) + "\n")
		b.WriteString("  " + helpStyle.Render("Ctrl+R to retry") + "\n")
	default:
		b.WriteString(a.viewport.View())
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	b.WriteString("\n")

	status := fmt.Sprintf(" %s | Enter:send | Ctrl+R:retry | Ctrl+C:quit", shortID(a.clientID))
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderAppPhase() string {
	switch a.appState.Phase {
	case lifecycle.PhaseReady:
		return connectedStyle.Render("● " + string(a.appState.Phase))
	case lifecycle.PhaseError:
		return disconnectedStyle.Render("● " + string(a.appState.Phase))
	case lifecycle.PhaseBackground:
		return reconnectingStyle.Render("● " + string(a.appState.Phase))
	default:
		return metaStyle.Render("● " + string(a.appState.Phase))
	}
}

func (a *App) renderConnPhase() string {
	switch a.connState.Phase {
	case transport.PhaseConnected:
		return connectedStyle.Render("◆ connected")
	case transport.PhaseReconnecting:
		return reconnectingStyle.Render(fmt.Sprintf("◆ reconnecting (attempt %d, %s)", a.connState.Attempt, a.connState.Delay))
	case transport.PhaseConnecting:
		return reconnectingStyle.Render("◆ connecting")
	case transport.PhaseFailed:
		return disconnectedStyle.Render("◆ failed: " + a.connState.Reason)
	default:
		return disconnectedStyle.Render("◆ disconnected")
	}
}

func (a *App) appendResponse(resp models.Response) {
	line := replyStyle.Render("  ◂ " + resp.Message)
	if resp.Confidence != nil {
		meta := fmt.Sprintf("    [%s, confidence %.2f, %s]", resp.Model, *resp.Confidence, resp.Recommendation)
		line += "\n" + metaStyle.Render(meta)
	}
	a.lines = append(a.lines, line)
	a.refreshViewport()
}

func (a *App) refreshViewport() {
	a.viewport.SetContent(strings.Join(a.lines, "\n"))
	a.viewport.GotoBottom()
}

func (a *App) send(text string) tea.Cmd {
	a.lines = append(a.lines, userMsgStyle.Render("  ▸ "+text))
	a.refreshViewport()

	env := models.Envelope{
		Type:      "message",
		Content:   text,
		Timestamp: time.Now().UTC(),
		ClientID:  a.clientID,
		Priority:  models.PriorityNormal,
	}
	return func() tea.Msg {
		if err := a.channel.Send(env); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (a *App) pair(payload string) tea.Cmd {
	return func() tea.Msg {
		d, err := a.pairingInput(payload)
		if err != nil {
			return errMsg{err}
		}
		state, err := a.coordinator.Pair(context.Background(), d)
		if err != nil {
			return errMsg{err}
		}
		return pairedMsg{state: state}
	}
}

func (a *App) retry() tea.Cmd {
	return func() tea.Msg {
		state := a.coordinator.Retry(context.Background())
		return appStateMsg(state)
	}
}

// connect opens the channel after a successful pairing, racing the pairing
// timeout so a dead daemon surfaces quickly.
func (a *App) connect() tea.Cmd {
	return func() tea.Msg {
		d, err := a.coordinator.Descriptor()
		if err != nil {
			return errMsg{err}
		}
		if err := a.channel.ConnectPairing(context.Background(), d); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (a *App) waitAppState() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-a.appStates
		if !ok {
			return nil
		}
		return appStateMsg(s)
	}
}

func (a *App) waitConnState() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-a.connStates
		if !ok {
			return nil
		}
		return connStateMsg(s)
	}
}

func (a *App) waitResponse() tea.Cmd {
	return func() tea.Msg {
		r, ok := <-a.responses
		if !ok {
			return nil
		}
		return responseMsg(r)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
