// Package ui is the optional terminal dashboard: live telemetry on the
// left, gate decisions and log lines on the right. The bridge runs
// exactly the same with or without it.
package ui

import (
	"fmt"
	"log"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/bike-bridge/internal/bridge"
	"github.com/lowaak/bike-bridge/internal/go_func_utils"
	"github.com/lowaak/bike-bridge/internal/security"
	"github.com/lowaak/bike-bridge/internal/telemetry"
)

// Dashboard owns the tview application and the listener channels it
// drains. Run blocks until the user quits with Escape.
type Dashboard struct {
	logger *log.Logger
	app    *tview.Application

	metricsView *tview.TextView
	logView     *tview.TextView

	snapshots chan telemetry.Snapshot
	decisions chan security.Decision

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewDashboard(logger *log.Logger) *Dashboard {
	if logger == nil {
		panic("Dashboard: logger cannot be nil")
	}
	return &Dashboard{
		logger:    logger,
		app:       tview.NewApplication(),
		snapshots: make(chan telemetry.Snapshot, 4),
		decisions: make(chan security.Decision, 16),
		stopChan:  make(chan struct{}),
	}
}

// Run wires the dashboard to the bridge and gate events and blocks in
// the tview event loop. Returns when the user presses Escape or the app
// stops for any other reason.
func (d *Dashboard) Run(b *bridge.Bridge, gate *security.Gate) error {
	d.metricsView = tview.NewTextView().SetDynamicColors(true)
	d.metricsView.SetBorder(true).SetTitle(" Telemetry ")

	d.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	d.logView.SetBorder(true).SetTitle(" Gate Decisions ")

	flex := tview.NewFlex().
		AddItem(d.metricsView, 0, 1, true).
		AddItem(d.logView, 0, 1, false)

	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyTab {
			if d.metricsView.HasFocus() {
				d.app.SetFocus(d.logView)
			} else {
				d.app.SetFocus(d.metricsView)
			}
			return nil
		}
		if event.Key() == tcell.KeyEscape {
			d.app.Stop()
			return nil
		}
		return event
	})

	unlistenSnaps := b.ListenToSnapshots(d.snapshots)
	defer unlistenSnaps()
	unlistenDecisions := gate.ListenToDecisions(d.decisions)
	defer unlistenDecisions()

	go_func_utils.SafeGo(d.logger, d.drainEvents)

	err := d.app.SetRoot(flex, true).SetFocus(d.metricsView).Run()
	d.signalStop()
	return err
}

func (d *Dashboard) drainEvents() {
	for {
		select {
		case <-d.stopChan:
			return
		case snap, ok := <-d.snapshots:
			if !ok {
				return
			}
			d.app.QueueUpdateDraw(func() {
				d.metricsView.SetText(formatSnapshot(snap))
			})
		case dec, ok := <-d.decisions:
			if !ok {
				return
			}
			line := formatDecision(dec)
			d.app.QueueUpdateDraw(func() {
				fmt.Fprint(d.logView, line)
			})
		}
	}
}

func formatSnapshot(snap telemetry.Snapshot) string {
	staleTag := ""
	if snap.Stale {
		staleTag = " [red](stale)[-]"
	}
	return fmt.Sprintf(
		"Power:      %d W%s\n"+
			"Cadence:    %d rpm\n"+
			"Speed:      %.1f km/h\n"+
			"Grade:      %.1f %%\n"+
			"Incline:    %.1f %%\n"+
			"Resistance: %d\n"+
			"Gears:      %d / %d\n",
		snap.PowerWatts, staleTag,
		snap.CadenceRpm,
		snap.SpeedKmh,
		snap.GradePercent,
		snap.InclinePercent,
		snap.ResistanceLevel,
		snap.FrontGear, snap.RearGear,
	)
}

func formatDecision(dec security.Decision) string {
	ts := dec.At.Format("15:04:05")
	if dec.Admitted {
		return fmt.Sprintf("[%s] [green]admit[-]  0x%02X from %s\n", ts, dec.Opcode, dec.SourceMAC)
	}
	return fmt.Sprintf("[%s] [red]reject[-] 0x%02X from %s (%s)\n", ts, dec.Opcode, dec.SourceMAC, dec.Reason)
}

// Stop closes the dashboard from outside the event loop, for shutdown on
// a signal rather than a keypress.
func (d *Dashboard) Stop() {
	d.app.Stop()
	d.signalStop()
}

func (d *Dashboard) signalStop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
}
