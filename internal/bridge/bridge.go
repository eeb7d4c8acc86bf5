// Package bridge wires the protocol chain together: ANT+ frames in, FTMS
// notifications out, Control Point writes through the security gate and
// translator down to the bike's serial link.
package bridge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lowaak/bike-bridge/internal/ant"
	"github.com/lowaak/bike-bridge/internal/bike"
	"github.com/lowaak/bike-bridge/internal/ble"
	"github.com/lowaak/bike-bridge/internal/events"
	"github.com/lowaak/bike-bridge/internal/ftms"
	"github.com/lowaak/bike-bridge/internal/go_func_utils"
	"github.com/lowaak/bike-bridge/internal/ridelog"
	"github.com/lowaak/bike-bridge/internal/security"
	"github.com/lowaak/bike-bridge/internal/serialport"
	"github.com/lowaak/bike-bridge/internal/telemetry"
)

// Options carries the collaborators the bridge runs with. RideLog may be
// nil to disable ride recording.
type Options struct {
	Gate       *security.Gate
	Translator *bike.Translator
	Aggregator *telemetry.Aggregator
	Source     ant.Source
	Transport  ble.Transport
	Port       serialport.Port
	RideLog    *ridelog.Writer

	CycleInterval time.Duration
}

// Bridge runs the three loops of the pipeline. All serial writes funnel
// through one goroutine, so the grade path and the command path can never
// interleave bytes on the wire.
type Bridge struct {
	logger *log.Logger
	opts   Options

	serialQueue chan bike.SerialCommand

	snapshotEvent  *events.ChannelEvent[telemetry.Snapshot]
	serialErrEvent *events.ChannelEvent[error]

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(logger *log.Logger, opts Options) *Bridge {
	if logger == nil {
		panic("Bridge: logger cannot be nil")
	}
	if opts.Gate == nil || opts.Translator == nil || opts.Aggregator == nil {
		panic("Bridge: gate, translator and aggregator are required")
	}
	if opts.Source == nil || opts.Transport == nil || opts.Port == nil {
		panic("Bridge: source, transport and port are required")
	}
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = time.Second
	}
	return &Bridge{
		logger:         logger,
		opts:           opts,
		serialQueue:    make(chan bike.SerialCommand, 16),
		snapshotEvent:  events.NewChannelEvent[telemetry.Snapshot](true),
		serialErrEvent: events.NewChannelEvent[error](false),
	}
}

// ListenToSnapshots registers a channel receiving every cycle's snapshot.
// New listeners get the most recent snapshot immediately.
func (b *Bridge) ListenToSnapshots(ch chan<- telemetry.Snapshot) func() {
	return b.snapshotEvent.Listen(ch)
}

// ListenToSerialErrors registers a channel receiving serial write
// failures. A failed write is surfaced, logged and skipped; the loops
// keep running.
func (b *Bridge) ListenToSerialErrors(ch chan<- error) func() {
	return b.serialErrEvent.Listen(ch)
}

// Start launches the pipeline. It returns once the telemetry source is
// running; the loops run until Stop.
func (b *Bridge) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	if err := b.opts.Source.Start(); err != nil {
		cancel()
		return err
	}

	b.wg.Add(4)
	go_func_utils.SafeGo(b.logger, func() {
		defer b.wg.Done()
		b.serialLoop(ctx)
	})
	go_func_utils.SafeGo(b.logger, func() {
		defer b.wg.Done()
		b.frameLoop(ctx)
	})
	go_func_utils.SafeGo(b.logger, func() {
		defer b.wg.Done()
		b.commandLoop(ctx)
	})
	go_func_utils.SafeGo(b.logger, func() {
		defer b.wg.Done()
		b.cycleLoop(ctx)
	})

	b.logger.Printf("Bridge: started (cycle %v)", b.opts.CycleInterval)
	return nil
}

// Stop tears the pipeline down in dependency order and waits for the
// loops to drain.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.opts.Source.Stop()
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()

		if err := b.opts.Transport.Stop(); err != nil {
			b.logger.Printf("Bridge: transport stop: %v", err)
		}
		if err := b.opts.Port.Close(); err != nil {
			b.logger.Printf("Bridge: serial close: %v", err)
		}
		if b.opts.RideLog != nil {
			if err := b.opts.RideLog.Close(); err != nil {
				b.logger.Printf("Bridge: ride log close: %v", err)
			}
		}
		b.logger.Printf("Bridge: stopped")
	})
}

// frameLoop consumes decoded ANT+ frames: every frame updates the
// aggregator, and its grade drives the incline path.
func (b *Bridge) frameLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-b.opts.Source.Frames():
			if !ok {
				return
			}
			b.opts.Aggregator.Push(frame)
			if cmd, send := b.opts.Translator.ApplyGrade(frame.GradePercent); send {
				b.enqueueSerial(ctx, cmd)
			}
		}
	}
}

// commandLoop consumes Control Point writes: decode, gate, translate,
// ship. Every write gets exactly one response indication, and no failure
// on this path is fatal to the loop.
func (b *Bridge) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-b.opts.Transport.Writes():
			if !ok {
				return
			}
			b.handleWrite(ctx, w)
		}
	}
}

func (b *Bridge) handleWrite(ctx context.Context, w ble.ControlWrite) {
	var requestOpcode byte
	if len(w.Raw) > 0 {
		requestOpcode = w.Raw[0]
	}

	cmd, err := ftms.DecodeControlPoint(w.Raw, w.Source, w.At)
	if err != nil {
		b.logger.Printf("Bridge: dropped malformed write from %s: %v", w.Source, err)
		b.respond(requestOpcode, ftms.ResultInvalidParameter)
		return
	}

	decision := b.opts.Gate.Evaluate(cmd)
	if !decision.Admitted {
		b.respond(cmd.Opcode, resultForRejection(decision.Reason))
		return
	}

	serialCmd, err := b.opts.Translator.Apply(cmd)
	if err != nil {
		b.logger.Printf("Bridge: admitted command failed translation: %v", err)
		b.respond(cmd.Opcode, ftms.ResultInvalidParameter)
		return
	}

	b.enqueueSerial(ctx, serialCmd)
	b.respond(cmd.Opcode, ftms.ResultSuccess)
}

func (b *Bridge) respond(opcode, result byte) {
	if err := b.opts.Transport.IndicateControlResponse(ftms.BuildControlResponse(opcode, result)); err != nil {
		b.logger.Printf("Bridge: control response failed: %v", err)
	}
}

func resultForRejection(reason security.RejectReason) byte {
	switch reason {
	case security.ReasonUnknownOpcode:
		return ftms.ResultOpCodeNotSupport
	default:
		return ftms.ResultNotPermitted
	}
}

// cycleLoop emits one snapshot per interval: FTMS notification, ride log
// row and the snapshot event for the dashboard, all from the same
// aggregate so they never disagree.
func (b *Bridge) cycleLoop(ctx context.Context) {
	ticker := time.NewTicker(b.opts.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := b.opts.Aggregator.Aggregate(b.opts.Translator.View())

			if err := b.opts.Transport.NotifyIndoorBikeData(ftms.EncodeIndoorBikeData(snap)); err != nil {
				b.logger.Printf("Bridge: notification failed: %v", err)
			}
			if b.opts.RideLog != nil {
				if err := b.opts.RideLog.Record(snap); err != nil {
					b.logger.Printf("Bridge: ride log write failed: %v", err)
				}
			}
			b.snapshotEvent.Notify(snap)
		}
	}
}

// serialLoop is the single serial writer. A failed write is surfaced and
// the command skipped; the bike just misses one update.
func (b *Bridge) serialLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-b.serialQueue:
			if err := b.opts.Port.Send(cmd); err != nil {
				b.logger.Printf("Bridge: serial send %s failed: %v", cmd, err)
				b.serialErrEvent.Notify(err)
			}
		}
	}
}

func (b *Bridge) enqueueSerial(ctx context.Context, cmd bike.SerialCommand) {
	select {
	case b.serialQueue <- cmd:
	case <-ctx.Done():
	}
}
