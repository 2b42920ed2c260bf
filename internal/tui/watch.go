// Package tui implements the "censoratectl watch" dashboard: a live
// view of the daemon's plugin roster and workflow lifecycle stream,
// fetched from the introspection API (internal/api) rather than the
// Unix socket protocol the rest of censoratectl speaks.
package tui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Padding(0, 1)

	connectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	disconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	errStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	helpStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type sseEvent struct {
	Type string
	Data string
}

type pluginRow struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

type depthMsg struct {
	Depth int `json:"depth"`
}

type (
	pluginsMsg       []pluginRow
	eventMsg         sseEvent
	disconnectedMsg  struct{}
	reconnectMsg     struct{}
	pollTickMsg      time.Time
	errMsg           struct{ error }
)

// Model is the BubbleTea model backing "censoratectl watch".
type Model struct {
	apiURL string
	apiKey string

	width, height int

	connected bool
	lastError string
	depth     int
	plugins   table.Model
	events    viewport.Model
	eventLog  []string

	spin      spinner.Model
	hubEvents chan sseEvent
}

// New builds a watch dashboard pointed at the introspection API served
// at apiURL, authenticating with apiKey.
func New(apiURL, apiKey string) *Model {
	columns := []table.Column{
		{Title: "Plugin", Width: 24},
		{Title: "Roles", Width: 40},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(6))

	s := spinner.New()
	s.Spinner = spinner.Dot

	return &Model{
		apiURL:    strings.TrimRight(apiURL, "/"),
		apiKey:    apiKey,
		plugins:   t,
		events:    viewport.New(80, 12),
		spin:      s,
		hubEvents: make(chan sseEvent, 64),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchPlugins(m.apiURL, m.apiKey),
		fetchDepth(m.apiURL, m.apiKey),
		tea.Tick(5*time.Second, func(t time.Time) tea.Msg { return pollTickMsg(t) }),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.events.Width = msg.Width - 4
		m.events.Height = msg.Height - 14

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case pluginsMsg:
		rows := make([]table.Row, 0, len(msg))
		for _, p := range msg {
			rows = append(rows, table.Row{p.Name, strings.Join(p.Roles, ", ")})
		}
		m.plugins.SetRows(rows)
		m.connected = true
		m.lastError = ""

	case depthMsg:
		m.depth = msg.Depth

	case eventMsg:
		line := fmt.Sprintf("[%s] %s — %s", time.Now().Format("15:04:05"), msg.Type, msg.Data)
		m.eventLog = append([]string{line}, m.eventLog...)
		if len(m.eventLog) > 200 {
			m.eventLog = m.eventLog[:200]
		}
		m.events.SetContent(strings.Join(m.eventLog, "\n"))
		m.connected = true
		return m, receiveNextEvent(m.hubEvents)

	case pollTickMsg:
		return m, tea.Batch(
			fetchPlugins(m.apiURL, m.apiKey),
			fetchDepth(m.apiURL, m.apiKey),
			tea.Tick(5*time.Second, func(t time.Time) tea.Msg { return pollTickMsg(t) }),
		)

	case disconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
	}

	var cmd tea.Cmd
	m.events, cmd = m.events.Update(msg)
	return m, cmd
}

func (m *Model) View() string {
	if m.width == 0 {
		return "connecting to censorated...\n"
	}

	status := disconnectedStyle.Render("● disconnected")
	if m.connected {
		status = connectedStyle.Render("● connected")
	}
	header := titleStyle.Render("censorate watch") + "  " + status +
		fmt.Sprintf("  queue depth: %d  %s", m.depth, m.spin.View())

	var errLine string
	if m.lastError != "" {
		errLine = errStyle.Render(" ⚠ " + m.lastError)
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		header,
		borderStyle.Render(m.plugins.View()),
		borderStyle.Render(m.events.View()),
		errLine,
		helpStyle.Render("[q] quit"),
	)
	return docStyle.Render(body)
}

func subscribeToEvents(apiURL, apiKey string, out chan<- sseEvent) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg{err}
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return disconnectedMsg{}
		}
		defer resp.Body.Close()

		var typ, data string
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if data != "" {
					out <- sseEvent{Type: typ, Data: data}
					typ, data = "", ""
				}
			case strings.HasPrefix(line, "event: "):
				typ = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
		return disconnectedMsg{}
	}
}

func receiveNextEvent(ch <-chan sseEvent) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchPlugins(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var rows []pluginRow
		if err := getJSON(apiURL+"/plugins", apiKey, &rows); err != nil {
			return errMsg{err}
		}
		return pluginsMsg(rows)
	}
}

func fetchDepth(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var d depthMsg
		if err := getJSON(apiURL+"/workflows/depth", apiKey, &d); err != nil {
			return errMsg{err}
		}
		return d
	}
}

func getJSON(url, apiKey string, v any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
