package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/grabber/internal/progress"
	"github.com/tanq16/grabber/internal/utils"
)

const (
	indent       = 2
	streamIndent = 2 + 4
	maxCompleted = 8
)

// Manager renders download progress from an aggregator. In live mode it redraws
// a snapshot every tick; in plain mode it prints one line per notable event.
type Manager struct {
	agg         *progress.Aggregator
	out         io.Writer
	plain       bool
	displayTick time.Duration
	numLines    int
	height      func() int

	doneCh    chan struct{}
	displayWg sync.WaitGroup
	cancelSub func()
}

func NewManager(agg *progress.Aggregator, plain bool) *Manager {
	return &Manager{
		agg:         agg,
		out:         os.Stdout,
		plain:       plain,
		displayTick: 300 * time.Millisecond,
		height:      getTerminalHeight,
		doneCh:      make(chan struct{}),
	}
}

// SetOutput redirects rendering, mainly for tests.
func (m *Manager) SetOutput(w io.Writer) {
	m.out = w
}

func (m *Manager) StartDisplay() {
	if m.plain {
		events, cancel := m.agg.Subscribe()
		m.cancelSub = cancel
		m.displayWg.Add(1)
		go func() {
			defer m.displayWg.Done()
			for ev := range events {
				if line := eventLine(ev); line != "" {
					fmt.Fprintln(m.out, line)
				}
			}
		}()
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay closes the aggregator and draws the final state. In plain mode it
// prints the events still queued before returning.
func (m *Manager) StopDisplay() {
	m.agg.Close()
	close(m.doneCh)
	m.displayWg.Wait()
	if m.cancelSub != nil {
		m.cancelSub()
	}
}

func (m *Manager) updateDisplay() {
	available := m.height() - 3
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	lines := renderLines(m.agg.Snapshot(), time.Now(), available)
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func stageLabel(stage utils.Stage) string {
	name := stage.String()
	return strings.ToUpper(name[:1]) + name[1:]
}

func statusIndicator(stage utils.Stage) string {
	switch stage {
	case utils.StageSucceeded:
		return successStyle.Render(StyleSymbols["pass"])
	case utils.StageFailed:
		return errorStyle.Render(StyleSymbols["fail"])
	case utils.StageQueued:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

// itemLines renders one item: a status line plus an indented progress line while streaming.
func itemLines(st progress.ItemState, now time.Time) []string {
	pad := strings.Repeat(" ", indent)
	if st.Stage == utils.StageQueued {
		return []string{fmt.Sprintf("%s%s %s", pad, statusIndicator(st.Stage), pendingStyle.Render("Waiting... "+st.URL))}
	}
	end := now
	if st.Stage.Terminal() {
		end = st.Updated
	}
	elapsed := end.Sub(st.StartTime).Round(time.Second)
	if st.StartTime.IsZero() {
		elapsed = 0
	}

	var message string
	switch st.Stage {
	case utils.StageSucceeded:
		message = successStyle.Render(fmt.Sprintf("Completed %s (%s)", st.Target, utils.FormatBytes(uint64(max(st.Bytes, 0)))))
	case utils.StageFailed:
		message = errorStyle.Render(fmt.Sprintf("Failed %s", st.URL))
	default:
		message = pendingStyle.Render(fmt.Sprintf("%s %s", stageLabel(st.Stage), st.URL))
		if st.Attempt > 1 {
			message += warningStyle.Render(fmt.Sprintf(" (attempt %d)", st.Attempt))
		}
	}
	lines := []string{fmt.Sprintf("%s%s %s %s", pad, statusIndicator(st.Stage), debugStyle.Render(elapsed.String()), message)}

	stream := strings.Repeat(" ", streamIndent)
	switch {
	case st.Stage == utils.StageStreaming:
		secs := now.Sub(st.StartTime).Seconds()
		var display string
		if st.Total > 0 {
			display = PrintProgressBar(st.Bytes, st.Total, 30) + debugStyle.Render(fmt.Sprintf("%s / %s", utils.FormatBytes(uint64(st.Bytes)), utils.FormatBytes(uint64(st.Total))))
		} else {
			display = debugStyle.Render(utils.FormatBytes(uint64(st.Bytes)))
		}
		display += fmt.Sprintf(" %s %s", StyleSymbols["bullet"], debugStyle.Render(FormatSpeed(st.Bytes, secs)))
		lines = append(lines, stream+display)
	case st.LastError != nil && !st.Stage.Terminal():
		lines = append(lines, stream+warningStyle.Render(fmt.Sprintf("retrying after: %v", st.LastError)))
	case st.Stage == utils.StageFailed && st.LastError != nil:
		for _, l := range wrapText(st.LastError.Error(), streamIndent) {
			lines = append(lines, stream+streamStyle.Render(l))
		}
	}
	return lines
}

// renderLines lays out active items first, then queued, then completed,
// dropping the oldest completed items when space runs out.
func renderLines(snap []progress.ItemState, now time.Time, available int) []string {
	if available <= 0 {
		available = 21
	}
	var active, pending, completed []progress.ItemState
	for _, st := range snap {
		switch {
		case st.Stage.Terminal():
			completed = append(completed, st)
		case st.Stage == utils.StageQueued:
			pending = append(pending, st)
		default:
			active = append(active, st)
		}
	}

	var lines []string
	for _, st := range active {
		lines = append(lines, itemLines(st, now)...)
	}
	pad := strings.Repeat(" ", indent)
	if len(pending) > 3 {
		lines = append(lines, fmt.Sprintf("%s%s %s", pad, statusIndicator(utils.StageQueued), pendingStyle.Render(fmt.Sprintf("%d downloads waiting...", len(pending)))))
	} else {
		for _, st := range pending {
			lines = append(lines, itemLines(st, now)...)
		}
	}
	if len(completed) > maxCompleted {
		lines = append(lines, infoStyle.Render(fmt.Sprintf("%s%d downloads completed with hidden status ...", pad, len(completed)-maxCompleted)))
		completed = completed[len(completed)-maxCompleted:]
	}
	for _, st := range completed {
		if len(lines) >= available {
			break
		}
		lines = append(lines, itemLines(st, now)...)
	}
	if len(lines) > available {
		lines = lines[:available]
	}
	return lines
}

// eventLine is the plain-mode rendering of an event, or "" for events not worth a line.
func eventLine(ev progress.Event) string {
	pad := strings.Repeat(" ", indent)
	switch ev.Type {
	case progress.EventStarted:
		return fmt.Sprintf("%s%s %s %s %s", pad, infoStyle.Render(StyleSymbols["arrow"]), ev.URL, StyleSymbols["arrow"], ev.Target)
	case progress.EventRetrying:
		return fmt.Sprintf("%s%s attempt %d in %s: %v", pad, warningStyle.Render(StyleSymbols["warning"]), ev.Attempt, ev.Delay.Round(time.Millisecond), ev.Err)
	case progress.EventFinished:
		if ev.Outcome == nil {
			return ""
		}
		if ev.Outcome.OK() {
			return fmt.Sprintf("%s%s %s (%s in %s)", pad, successStyle.Render(StyleSymbols["pass"]), ev.Outcome.Path,
				utils.FormatBytes(uint64(max(ev.Outcome.Bytes, 0))), ev.Outcome.Duration.Round(time.Millisecond))
		}
		return fmt.Sprintf("%s%s %s: %v", pad, errorStyle.Render(StyleSymbols["fail"]), ev.Outcome.URL, ev.Outcome.Err)
	}
	return ""
}

// ShowSummary prints totals and every failed item with its error kind.
func (m *Manager) ShowSummary(report utils.Report) {
	pad := strings.Repeat(" ", indent)
	total := len(report.Outcomes)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, pad+success2Style.Render(fmt.Sprintf("Completed %d of %d", report.Succeeded(), total)))
	failed := report.Failed()
	if len(failed) == 0 {
		fmt.Fprintln(m.out)
		return
	}
	fmt.Fprintln(m.out, pad+errorStyle.Render(fmt.Sprintf("Failed %d of %d", len(failed), total)))
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, pad+errorStyle.Bold(true).Render("Errors:"))
	for i, o := range failed {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", indent+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", o.Kind())),
			errorStyle.Render(o.URL))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", streamIndent), errorStyle.Render(fmt.Sprintf("Error: %v", o.Err)))
	}
	fmt.Fprintln(m.out)
}
