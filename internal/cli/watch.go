package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/asteroid-belt/fieldsync/internal/connectivity"
	"github.com/asteroid-belt/fieldsync/internal/events"
	"github.com/asteroid-belt/fieldsync/internal/syncer"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch connectivity and sync activity live",
	Long: `Open a live view of the sync engine: connectivity, queue depth and the
most recent sync events. Press s to sync now and q to quit.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

// watchService is the part of the offline service the watch view uses.
type watchService interface {
	GetConnectivityStatus() (connectivity.Status, error)
	ForceSync(ctx context.Context) (syncer.Result, error)
}

const watchLogSize = 12

var watchKeys = struct {
	Sync key.Binding
	Quit key.Binding
}{
	Sync: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sync now")),
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
}

type (
	eventMsg  events.Event
	statusMsg connectivity.Status
	syncMsg   struct {
		res syncer.Result
		err error
	}
	closedMsg struct{}
)

type watchModel struct {
	ctx     context.Context
	svc     watchService
	ch      <-chan events.Event
	spinner spinner.Model

	status  connectivity.Status
	syncing bool
	lines   []string
	err     error
}

func newWatchModel(ctx context.Context, svc watchService, ch <-chan events.Event) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = onlineStyle
	return watchModel{ctx: ctx, svc: svc, ch: ch, spinner: sp}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent(), m.refreshStatus())
}

func (m watchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg(e)
	}
}

func (m watchModel) refreshStatus() tea.Cmd {
	return func() tea.Msg {
		st, err := m.svc.GetConnectivityStatus()
		if err != nil {
			return syncMsg{err: err}
		}
		return statusMsg(st)
	}
}

func (m watchModel) forceSync() tea.Cmd {
	return func() tea.Msg {
		res, err := m.svc.ForceSync(m.ctx)
		return syncMsg{res: res, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, watchKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, watchKeys.Sync):
			return m, m.forceSync()
		}

	case eventMsg:
		e := events.Event(msg)
		switch e.Type {
		case events.SyncStarted:
			m.syncing = true
		case events.SyncCompleted:
			m.syncing = false
		}
		m.appendLine(describeEvent(e))
		return m, tea.Batch(m.waitForEvent(), m.refreshStatus())

	case statusMsg:
		m.status = connectivity.Status(msg)
		m.err = nil
		return m, nil

	case syncMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if msg.res.Offline {
			m.appendLine("sync skipped: offline")
		}
		return m, m.refreshStatus()

	case closedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *watchModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > watchLogSize {
		m.lines = m.lines[len(m.lines)-watchLogSize:]
	}
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("FIELDSYNC") + "  " + connectivityLabel(m.status.IsOnline))
	if m.syncing {
		b.WriteString("  " + m.spinner.View() + " syncing")
	}
	b.WriteString("\n")

	lastSync := "never"
	if m.status.LastSyncTime != nil {
		lastSync = formatTimeSince(*m.status.LastSyncTime)
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d unsynced · last sync %s", m.status.UnsyncedItems, lastSync)))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("─", ruleWidth) + "\n")

	if len(m.lines) == 0 {
		b.WriteString(mutedStyle.Render("waiting for activity...") + "\n")
	}
	for _, line := range m.lines {
		b.WriteString(line + "\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	}

	b.WriteString("\n" + mutedStyle.Render(watchKeys.Sync.Help().Key+" "+watchKeys.Sync.Help().Desc+" · "+
		watchKeys.Quit.Help().Key+" "+watchKeys.Quit.Help().Desc))
	return b.String()
}

// describeEvent renders one event as a log line.
func describeEvent(e events.Event) string {
	ts := e.Time.Local().Format(time.TimeOnly)
	target := e.TargetType + "/" + e.TargetID

	var text string
	switch e.Type {
	case events.SyncStarted:
		text = "sync started"
	case events.ItemSucceeded:
		text = onlineStyle.Render("✓") + fmt.Sprintf(" %s %s", e.Action, target)
	case events.ItemFailed:
		if e.Retryable {
			text = offlineStyle.Render("↻") + fmt.Sprintf(" %s %s: %s (retry %d)", e.Action, target, e.Error, e.Retries)
		} else {
			text = errorStyle.Render("✗") + fmt.Sprintf(" %s %s: %s", e.Action, target, e.Error)
		}
	case events.SyncCompleted:
		text = fmt.Sprintf("sync completed: %d sent, %d failed, %d remaining", e.Succeeded, e.Failed, e.Remaining)
	case events.ConnectivityChanged:
		online := e.Online != nil && *e.Online
		text = "connectivity: " + connectivityLabel(online)
	default:
		text = string(e.Type)
	}
	return mutedStyle.Render(ts) + " " + text
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, _, closeFn, err := openService(ctx)
	if err != nil {
		return trackCLIError("watch", err)
	}
	defer closeFn()

	ch, unsub, err := svc.Subscribe(64)
	if err != nil {
		return trackCLIError("watch", err)
	}
	defer unsub()

	p := tea.NewProgram(newWatchModel(ctx, svc, ch), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return trackCLIError("watch", err)
	}
	return nil
}
