package security

import (
	"log"
	"sync"
	"time"

	"github.com/lowaak/bike-bridge/internal/events"
	"github.com/lowaak/bike-bridge/internal/ftms"
)

// RejectReason classifies why the gate refused a command. Rejection is a
// normal, expected outcome under adversarial or misconfigured input; it
// never propagates as a fault.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonUnauthorizedPeer
	ReasonUnknownOpcode
	ReasonRateLimited
)

func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUnauthorizedPeer:
		return "unauthorized peer"
	case ReasonUnknownOpcode:
		return "unknown opcode"
	case ReasonRateLimited:
		return "rate limited"
	default:
		return "unknown"
	}
}

// Decision is the outcome of evaluating one control command.
type Decision struct {
	Admitted bool
	Reason   RejectReason // ReasonNone when admitted

	// Echoed for observability.
	SourceMAC ftms.MAC
	Opcode    byte
	At        time.Time
}

// peerSession is the per-MAC state the rate limiter needs. One instance
// per distinct MAC seen, for the process lifetime; mutated only by the
// gate on admission.
type peerSession struct {
	mac            ftms.MAC
	lastAcceptedAt time.Time
	hasAccepted    bool
}

// Gate admits or rejects control commands before they can reach the
// translator. Checks run in a fixed order - whitelist, opcode, rate
// limit - and the first failure determines the reason, so an unknown
// peer never learns whether its opcode or timing would also have failed.
type Gate struct {
	whitelist      map[ftms.MAC]struct{}
	allowedOpcodes map[byte]struct{}
	rateLimit      time.Duration

	mu       sync.Mutex
	sessions map[ftms.MAC]*peerSession

	clock         Clock
	logger        *log.Logger
	decisionEvent *events.ChannelEvent[Decision]
}

// DefaultRateLimitInterval is the per-peer cooldown applied when the
// configuration does not override it.
const DefaultRateLimitInterval = 1500 * time.Millisecond

// NewGate builds a gate from the configured whitelist and opcode
// allow-list. rateLimit <= 0 selects the default interval.
func NewGate(logger *log.Logger, clock Clock, whitelist []ftms.MAC, opcodes []byte, rateLimit time.Duration) *Gate {
	if logger == nil {
		panic("Gate: logger cannot be nil")
	}
	if clock == nil {
		clock = SystemClock()
	}
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimitInterval
	}

	g := &Gate{
		whitelist:      make(map[ftms.MAC]struct{}, len(whitelist)),
		allowedOpcodes: make(map[byte]struct{}, len(opcodes)),
		rateLimit:      rateLimit,
		sessions:       make(map[ftms.MAC]*peerSession),
		clock:          clock,
		logger:         logger,
		decisionEvent:  events.NewChannelEvent[Decision](false),
	}
	for _, mac := range whitelist {
		g.whitelist[mac] = struct{}{}
	}
	for _, op := range opcodes {
		g.allowedOpcodes[op] = struct{}{}
	}
	return g
}

// Evaluate runs the three checks against a decoded command. The per-peer
// timestamp is read and written under one lock so two near-simultaneous
// writes cannot both pass the rate-limit check. On admission the
// timestamp advances; rejection never touches it, so rejected spam
// cannot reset a peer's window.
func (g *Gate) Evaluate(cmd ftms.ControlCommand) Decision {
	d := Decision{
		SourceMAC: cmd.SourceMAC,
		Opcode:    cmd.Opcode,
		At:        cmd.ReceivedAt,
	}

	// 1. Whitelist. Cheapest check first: unknown peers are the common
	// rejection and never touch per-peer state.
	if _, ok := g.whitelist[cmd.SourceMAC]; !ok {
		d.Reason = ReasonUnauthorizedPeer
		g.report(d)
		return d
	}

	// 2. Opcode allow-list.
	if _, ok := g.allowedOpcodes[cmd.Opcode]; !ok {
		d.Reason = ReasonUnknownOpcode
		g.report(d)
		return d
	}

	// 3. Per-peer rate limit, read-then-write atomically.
	g.mu.Lock()
	session, ok := g.sessions[cmd.SourceMAC]
	if !ok {
		session = &peerSession{mac: cmd.SourceMAC}
		g.sessions[cmd.SourceMAC] = session
	}

	now := g.clock.Now()
	if session.hasAccepted && now.Sub(session.lastAcceptedAt) < g.rateLimit {
		g.mu.Unlock()
		d.Reason = ReasonRateLimited
		g.report(d)
		return d
	}

	// lastAcceptedAt is monotonically non-decreasing: it only ever moves
	// forward to the admission instant.
	session.lastAcceptedAt = now
	session.hasAccepted = true
	g.mu.Unlock()

	d.Admitted = true
	g.report(d)
	return d
}

// SessionCount reports how many distinct peers have reached the rate
// limiter. Useful in tests and the dashboard.
func (g *Gate) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// ListenToDecisions registers a channel that receives every admit/reject
// decision. Returns a deregistration function.
func (g *Gate) ListenToDecisions(ch chan<- Decision) func() {
	return g.decisionEvent.Listen(ch)
}

func (g *Gate) report(d Decision) {
	if d.Admitted {
		g.logger.Printf("Gate: admitted opcode 0x%02X from %s", d.Opcode, d.SourceMAC)
	} else {
		g.logger.Printf("Gate: rejected opcode 0x%02X from %s (%s)", d.Opcode, d.SourceMAC, d.Reason)
	}
	g.decisionEvent.Notify(d)
}
