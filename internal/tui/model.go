package tui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/whisper/reveal/internal/reveal"
)

// cursorGlyph is drawn after the revealed text while the reveal is active.
const cursorGlyph = "▌"

// Controller is the slice of a reveal engine the view drives.
// *reveal.Engine implements it.
type Controller interface {
	Subscribe(fn func(reveal.Snapshot)) (unsubscribe func())
	Snapshot() reveal.Snapshot
	Skip()
	Done() <-chan struct{}
	Close()
}

// SoundSwitch is flipped by the sound key. *sfx.Toggle implements it.
type SoundSwitch interface {
	Enabled() bool
	Flip() bool
}

// Options configures a Model.
type Options struct {
	// Title is shown above the text.
	Title string

	// Sound is flipped by the sound key. Nil hides the sound status.
	Sound SoundSwitch

	// ExitOnComplete quits the program once the reveal completes.
	ExitOnComplete bool
}

type snapshotMsg reveal.Snapshot

type doneMsg struct{}

// Model is a Bubble Tea model showing one reveal.
type Model struct {
	ctrl    Controller
	opts    Options
	keys    KeyMap
	updates chan reveal.Snapshot
	quit    chan struct{}
	release func()

	snap     reveal.Snapshot
	done     bool
	width    int
	quitting bool
}

// NewModel subscribes to ctrl. Only the newest snapshot is kept between
// renders, so a slow terminal never stalls the engine.
func NewModel(ctrl Controller, opts Options) Model {
	updates := make(chan reveal.Snapshot, 1)
	unsub := ctrl.Subscribe(func(s reveal.Snapshot) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	quit := make(chan struct{})
	return Model{
		ctrl:    ctrl,
		opts:    opts,
		keys:    DefaultKeyMap(),
		updates: updates,
		quit:    quit,
		release: sync.OnceFunc(func() {
			if unsub != nil {
				unsub()
			}
			close(quit)
		}),
		snap: ctrl.Snapshot(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.wait()
}

// wait delivers the next snapshot, or doneMsg once the reveal completed and
// every snapshot was consumed. It returns nil once the model is released.
func (m Model) wait() tea.Cmd {
	updates, done, quit := m.updates, m.ctrl.Done(), m.quit
	return func() tea.Msg {
		select {
		case <-quit:
			return nil
		case s := <-updates:
			return snapshotMsg(s)
		case <-done:
			select {
			case s := <-updates:
				return snapshotMsg(s)
			default:
				return doneMsg{}
			}
		}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case snapshotMsg:
		m.snap = reveal.Snapshot(msg)
		return m, m.wait()

	case doneMsg:
		m.done = true
		m.snap = m.ctrl.Snapshot()
		if m.opts.ExitOnComplete {
			m.release()
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			m.release()
			m.ctrl.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Skip):
			m.ctrl.Skip()
			return m, nil
		case key.Matches(msg, m.keys.Sound):
			if m.opts.Sound != nil {
				m.opts.Sound.Flip()
			}
			return m, nil
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	if m.opts.Title != "" {
		b.WriteString(TitleStyle.Render(m.opts.Title))
		b.WriteString("\n")
	}

	body := TextStyle.Render(m.snap.DisplayedText)
	if m.snap.CursorVisible {
		body += CursorStyle.Render(cursorGlyph)
	}
	if m.snap.Truncated {
		body += TruncatedStyle.Render(" [truncated]")
	}
	if m.width > 0 {
		body = TextStyle.Width(m.width).Render(body)
	}
	b.WriteString(body)
	b.WriteString("\n")

	b.WriteString(StatusStyle.Render(m.status()))
	if !m.quitting && !(m.done && m.opts.ExitOnComplete) {
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render(m.help()))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) status() string {
	phase := m.snap.Phase.String()
	parts := []string{
		PhaseStyle(phase).Render(phase),
		fmt.Sprintf("%d/%d (%.0f%%)", m.snap.Revealed, m.snap.Total, m.snap.Progress()*100),
	}
	if m.snap.Skipped {
		parts = append(parts, "skipped")
	}
	if m.opts.Sound != nil {
		if m.opts.Sound.Enabled() {
			parts = append(parts, "sound on")
		} else {
			parts = append(parts, "sound off")
		}
	}
	return strings.Join(parts, " · ")
}

func (m Model) help() string {
	bindings := m.keys.ShortHelp()
	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

// Snapshot returns the last rendered state.
func (m Model) Snapshot() reveal.Snapshot {
	return m.snap
}

// Quitting reports whether the user quit before completion.
func (m Model) Quitting() bool {
	return m.quitting
}

// Run shows ctrl until the reveal completes (with ExitOnComplete) or the
// user quits, and returns the final model.
func Run(ctrl Controller, opts Options, progOpts ...tea.ProgramOption) (Model, error) {
	p := tea.NewProgram(NewModel(ctrl, opts), progOpts...)
	final, err := p.Run()
	if err != nil {
		return Model{}, fmt.Errorf("tui: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return Model{}, fmt.Errorf("tui: unexpected model %T", final)
	}
	return m, nil
}
