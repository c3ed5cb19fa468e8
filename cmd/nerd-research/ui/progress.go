package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"researchnerd/internal/research"
)

// ProgressMsg delivers one orchestrator progress event to the display.
type ProgressMsg research.ProgressEvent

// DoneMsg signals that the research goroutine has returned.
type DoneMsg struct {
	Err error
}

// Progress is the live status display for a research run. It consumes
// progress events sent from the orchestrator callback and quits once a
// DoneMsg arrives.
type Progress struct {
	query     string
	interrupt func()

	spinner   spinner.Model
	event     research.ProgressEvent
	started   time.Time
	done      bool
	err       error
	cancelled bool
}

// NewProgress builds the progress model. interrupt runs on Ctrl+C so
// the caller can cancel the research context; the display itself stays
// up until the orchestrator unwinds and the DoneMsg arrives.
func NewProgress(query string, interrupt func()) Progress {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Progress{
		query:     query,
		interrupt: interrupt,
		spinner:   sp,
		started:   time.Now(),
	}
}

func (p Progress) Init() tea.Cmd {
	return p.spinner.Tick
}

func (p Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		p.event = research.ProgressEvent(msg)
		return p, nil

	case DoneMsg:
		p.done = true
		p.err = msg.Err
		return p, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !p.cancelled && p.interrupt != nil {
				p.interrupt()
			}
			p.cancelled = true
		}
		return p, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd
	}
	return p, nil
}

func (p Progress) View() string {
	if p.done {
		if p.err != nil {
			return errorStyle.Render("✗ research failed: "+p.err.Error()) + "\n"
		}
		elapsed := time.Since(p.started).Round(time.Second)
		return doneStyle.Render("✓ research complete") +
			counterStyle.Render(fmt.Sprintf(" (%s)", elapsed)) + "\n"
	}

	var b strings.Builder
	b.WriteString(p.spinner.View())
	b.WriteString(" ")
	b.WriteString(queryStyle.Render(p.query))
	b.WriteString("\n")

	phase := describePhase(p.event)
	if p.cancelled {
		phase = "cancelling, waiting for the current step"
	}
	b.WriteString("  ")
	b.WriteString(phaseStyle.Render(phase))
	b.WriteString("\n")

	b.WriteString("  ")
	b.WriteString(counterStyle.Render(fmt.Sprintf("sources %d · findings %d · %s",
		p.event.TotalSources, p.event.TotalLearnings,
		time.Since(p.started).Round(time.Second))))
	b.WriteString("\n")
	return b.String()
}

func describePhase(ev research.ProgressEvent) string {
	iter := ""
	if ev.Iteration > 0 && ev.TotalDepth > 0 {
		iter = fmt.Sprintf("iteration %d/%d · ", ev.Iteration, ev.TotalDepth)
	}

	switch ev.Phase {
	case research.PhaseInitializing, "":
		return "starting research"
	case research.PhasePlanning:
		return iter + "planning search directions"
	case research.PhaseRetrieving:
		if ev.DirectionsPlanned > 0 {
			return iter + fmt.Sprintf("retrieving %d directions", ev.DirectionsPlanned)
		}
		return iter + "retrieving sources"
	case research.PhaseEvaluating:
		return iter + "scoring sources"
	case research.PhaseAccumulating:
		return iter + "extracting findings"
	case research.PhaseReflecting:
		return iter + "reflecting on coverage"
	case research.PhaseSynthesizing:
		return "synthesizing the report"
	case research.PhaseDone:
		return "wrapping up"
	}
	if ev.Message != "" {
		return ev.Message
	}
	return ev.Phase
}
