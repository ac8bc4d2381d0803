package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"poputka/internal/content"
	"poputka/internal/engine"
	"poputka/internal/models"
)

const sidebarWidth = 28

var (
	accentColor  = lipgloss.Color("39")
	mutedColor   = lipgloss.Color("242")
	errorColor   = lipgloss.Color("203")
	pendingColor = lipgloss.Color("244")

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(mutedColor).
			PaddingRight(1)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	mutedStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	pendingStyle  = lipgloss.NewStyle().Foreground(pendingColor).Italic(true)
	bannerStyle   = lipgloss.NewStyle().Foreground(errorColor)
)

// Engine is the part of the sync engine the view drives.
type Engine interface {
	LoadPartners(ctx context.Context) ([]models.Partner, error)
	SelectThread(ctx context.Context, partnerID string) error
	Send(content string) (models.Message, error)
	Snapshot() []models.Message
	Partners() []models.Partner
	Selected() string
	UserID() string
}

type focus int

const (
	focusSidebar focus = iota
	focusInput
)

type (
	eventMsg    engine.Event
	selectedMsg struct {
		partnerID string
		err       error
	}
	loadedMsg struct{ err error }
)

type Options struct {
	Engine Engine
	Events EventQueue
	Role   models.Role
}

// Model is the chat screen: partners on the left, the selected thread on the
// right and an input line below it.
type Model struct {
	engine Engine
	events EventQueue
	role   models.Role

	partners []models.Partner
	messages []models.Message
	cursor   int
	focus    focus
	banner   string
	loading  bool

	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int
	quitting bool
}

func NewModel(opts Options) *Model {
	input := textinput.New()
	input.Placeholder = "Write a message"
	input.Prompt = "› "
	input.CharLimit = content.MaxLength

	return &Model{
		engine:   opts.Engine,
		events:   opts.Events,
		role:     opts.Role,
		focus:    focusSidebar,
		loading:  true,
		viewport: viewport.New(0, 0),
		input:    input,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadPartners(), m.waitForEvent())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case eventMsg:
		m.handleEvent(engine.Event(msg))
		return m, m.waitForEvent()

	case loadedMsg:
		m.loading = false
		m.refreshPartners()
		m.refreshMessages()
		if msg.err == nil && m.engine.Selected() != "" {
			m.setFocus(focusInput)
		}
		return m, nil

	case selectedMsg:
		m.refreshMessages()
		if msg.err == nil {
			m.setFocus(focusInput)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyTab:
		if m.focus == focusSidebar {
			m.setFocus(focusInput)
		} else {
			m.setFocus(focusSidebar)
		}
		return m, nil
	case tea.KeyCtrlR:
		m.banner = ""
		return m, m.loadPartners()
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.focus == focusSidebar {
		return m, m.handleSidebarKey(msg)
	}

	if msg.Type == tea.KeyEnter {
		m.submit()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleSidebarKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.partners)-1 {
			m.cursor++
		}
	case "enter":
		if m.cursor < len(m.partners) {
			return m.selectThread(m.partners[m.cursor].ID)
		}
	}
	return nil
}

func (m *Model) submit() {
	body := m.input.Value()
	_, err := m.engine.Send(body)
	if err != nil {
		// Nothing was sent; keep the text so it can be fixed.
		m.banner = err.Error()
		return
	}
	m.banner = ""
	m.input.Reset()
	m.refreshMessages()
}

func (m *Model) handleEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventPartnersUpdated:
		m.refreshPartners()
	case engine.EventPartnersFailed:
		m.banner = fmt.Sprintf("Could not load conversations: %v (ctrl+r to retry)", ev.Err)
	case engine.EventHistoryFailed:
		m.banner = fmt.Sprintf("Could not load messages: %v", ev.Err)
	case engine.EventSendFailed:
		m.banner = fmt.Sprintf("Message %q was not sent: %v. Please try again.", ev.Content, ev.Err)
	}
	m.refreshMessages()
}

func (m *Model) refreshPartners() {
	m.partners = m.engine.Partners()
	if m.cursor >= len(m.partners) {
		m.cursor = max(len(m.partners)-1, 0)
	}
	if selected := m.engine.Selected(); selected != "" {
		for i, p := range m.partners {
			if p.ID == selected {
				m.cursor = i
			}
		}
	}
}

func (m *Model) refreshMessages() {
	atBottom := m.viewport.AtBottom()
	m.messages = m.engine.Snapshot()
	m.viewport.SetContent(m.renderMessages())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) setFocus(f focus) {
	m.focus = f
	if f == focusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) resize() {
	mainWidth := max(m.width-sidebarWidth-2, 10)
	// header + input + banner
	m.viewport.Width = mainWidth
	m.viewport.Height = max(m.height-3, 1)
	m.input.Width = max(mainWidth-4, 1)
	m.viewport.SetContent(m.renderMessages())
}

func (m *Model) loadPartners() tea.Cmd {
	e := m.engine
	return func() tea.Msg {
		_, err := e.LoadPartners(context.Background())
		return loadedMsg{err: err}
	}
}

func (m *Model) selectThread(partnerID string) tea.Cmd {
	e := m.engine
	return func() tea.Msg {
		err := e.SelectThread(context.Background(), partnerID)
		return selectedMsg{partnerID: partnerID, err: err}
	}
}

func (m *Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	sidebar := sidebarStyle.
		Width(sidebarWidth).
		Height(max(m.height, 1)).
		Render(m.renderSidebar())

	main := lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render(m.title()),
		m.viewport.View(),
		m.input.View(),
		bannerStyle.Render(m.banner),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, main)
}

func (m *Model) title() string {
	selected := m.engine.Selected()
	if selected == "" {
		return "Select a conversation"
	}
	for _, p := range m.partners {
		if p.ID == selected {
			return p.DisplayName
		}
	}
	return fmt.Sprintf("%s %s", m.role.PartnerLabel(), selected)
}

func (m *Model) renderSidebar() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Conversations"))
	b.WriteString("\n\n")

	if m.loading && len(m.partners) == 0 {
		b.WriteString(mutedStyle.Render("Loading…"))
		return b.String()
	}
	if len(m.partners) == 0 {
		b.WriteString(mutedStyle.Render("No conversations yet"))
		return b.String()
	}

	selected := m.engine.Selected()
	for i, p := range m.partners {
		marker := "  "
		if i == m.cursor && m.focus == focusSidebar {
			marker = "› "
		}
		name := p.DisplayName
		if p.ID == selected {
			name = selectedStyle.Render(name)
		}
		b.WriteString(marker + name + "\n")
		if p.LatestMessagePreview != "" {
			b.WriteString("  " + mutedStyle.Render(truncate(p.LatestMessagePreview, sidebarWidth-4)) + "\n")
		}
	}
	return b.String()
}

func (m *Model) renderMessages() string {
	if len(m.messages) == 0 {
		if m.engine.Selected() == "" {
			return ""
		}
		return mutedStyle.Render("No messages yet. Say hello!")
	}

	self := m.engine.UserID()
	width := max(m.viewport.Width, 10)

	lines := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		stamp := msg.Timestamp.Local().Format("15:04")
		line := fmt.Sprintf("%s  %s", msg.Content, mutedStyle.Render(stamp))
		if msg.State == models.DeliveryPending {
			line = pendingStyle.Render(msg.Content+"  sending…")
		}

		if msg.IsOutgoing(self) {
			line = lipgloss.PlaceHorizontal(width, lipgloss.Right, line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
