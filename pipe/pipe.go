// Package pipe implements StandardPipe: the router that binds a channel
// name on each of several Networks into one logical conversation,
// deduplicates inbound events to exactly one listening bot per Network,
// formats them, and relays the result into every peer Network's buffer.
package pipe

import (
	"time"

	"go.uber.org/zap"

	"github.com/puzzlet/uniko/formatter"
	"github.com/puzzlet/uniko/ircnet"
	"github.com/puzzlet/uniko/message"
	"github.com/puzzlet/uniko/network"
)

// DefaultActiveEvents is the event-type set a Pipe relays when its
// configuration names neither always nor never.
var DefaultActiveEvents = []string{"action", "privmsg", "privnotice", "pubmsg", "pubnotice", "kick", "mode", "topic"}

// WeightSyncInterval is the minimum time between two weight-sync ticks.
const WeightSyncInterval = 10 * time.Second

// Leg is one Network this Pipe binds, with its per-network channel name
// and join policy.
type Leg struct {
	Network  *network.Network
	Channel  string
	Password string
	Disabled bool
}

type attachment struct {
	tokens []ircnet.HandlerToken
	buf    *message.Buffer
}

// StandardPipe binds N Networks' corresponding channels into one
// relay. It owns one MessageBuffer per Network (holding traffic bound
// for that Network from its peers), a target weight (the bot count it
// tries to keep joined per Network), and the formatter used to render
// relayed lines.
type StandardPipe struct {
	Legs          []Leg
	Weight        int
	FormatterName string
	ActiveEvents  map[string]bool

	buffers map[*network.Network]*message.Buffer

	attachments    map[*network.Bot]*attachment
	lastWeightSync time.Time
	now            func() time.Time
	log            *zap.Logger
}

// New returns a StandardPipe over legs, with one peer buffer per leg
// using timeout as its staleness bound.
func New(legs []Leg, weight int, formatterName string, activeEvents []string, timeout time.Duration) *StandardPipe {
	if weight <= 0 {
		weight = 1
	}
	if formatterName == "" {
		formatterName = "standard"
	}
	if activeEvents == nil {
		activeEvents = DefaultActiveEvents
	}
	active := make(map[string]bool, len(activeEvents))
	for _, e := range activeEvents {
		active[e] = true
	}
	p := &StandardPipe{
		Legs:          legs,
		Weight:        weight,
		FormatterName: formatterName,
		ActiveEvents:  active,
		buffers:       make(map[*network.Network]*message.Buffer),
		attachments:   make(map[*network.Bot]*attachment),
		now:           time.Now,
		log:           zap.NewNop(),
	}
	for _, leg := range legs {
		p.buffers[leg.Network] = message.NewBuffer(timeout)
	}
	return p
}

// SetClock overrides this Pipe's notion of the current time, for tests
// of the weight-sync gate.
func (p *StandardPipe) SetClock(now func() time.Time) { p.now = now }

// SetLogger overrides this Pipe's logger, used to trace events that
// reach handle but match none of its branches. Supervisor wires in the
// process-wide logger at construction.
func (p *StandardPipe) SetLogger(l *zap.Logger) { p.log = l }

// BufferFor returns this Pipe's MessageBuffer for n, the queue holding
// traffic relayed to n from its peers.
func (p *StandardPipe) BufferFor(n *network.Network) (*message.Buffer, bool) {
	b, ok := p.buffers[n]
	return b, ok
}

func (p *StandardPipe) legFor(n *network.Network) (Leg, bool) {
	for _, leg := range p.Legs {
		if leg.Network == n {
			return leg, true
		}
	}
	return Leg{}, false
}

// Attach registers this Pipe's handlers on bot and adds this Pipe's
// buffer for bot's Network to bot's attached-buffer set. It is a no-op
// if this Pipe has no leg on bot's Network or that leg is disabled.
func (p *StandardPipe) Attach(bot *network.Bot) {
	net := bot.Network()
	leg, ok := p.legFor(net)
	if !ok || leg.Disabled || bot.Conn == nil {
		return
	}
	if _, already := p.attachments[bot]; already {
		return
	}
	a := &attachment{}
	kinds := []string{
		ircnet.KindJoin, ircnet.KindPart, ircnet.KindKick,
		ircnet.KindMode, ircnet.KindTopic,
		ircnet.KindPrivmsg, ircnet.KindNotice,
		ircnet.KindQuit, ircnet.KindNick,
	}
	for _, kind := range kinds {
		priority := 0
		if kind == ircnet.KindNick || kind == ircnet.KindQuit {
			priority = -11
		}
		k := kind
		token := bot.Conn.Attach(k, priority, func(e ircnet.Event) {
			p.handle(bot, net, e)
		})
		a.tokens = append(a.tokens, token)
	}
	if buf, ok := p.buffers[net]; ok {
		bot.Attach(buf)
		a.buf = buf
	}
	p.attachments[bot] = a
}

// Detach removes the single handler/attached-buffer entry this Pipe
// installed for bot, if any. Unlike DetachAll it does not touch
// bot.Conn directly, so it's safe to call after bot has already lost
// its old Conn (e.g. on disconnect, before a reconnect gets a new one
// and calls Attach again) — the stale handler tokens die with the old
// Conn regardless.
func (p *StandardPipe) Detach(bot *network.Bot) {
	a, ok := p.attachments[bot]
	if !ok {
		return
	}
	if a.buf != nil {
		bot.Detach(a.buf)
	}
	delete(p.attachments, bot)
}

// DetachAll removes every handler and attached-buffer entry this Pipe
// installed.
func (p *StandardPipe) DetachAll() {
	for bot, a := range p.attachments {
		if bot.Conn != nil {
			for _, token := range a.tokens {
				bot.Conn.Detach(token)
			}
		}
		if a.buf != nil {
			bot.Detach(a.buf)
		}
	}
	p.attachments = make(map[*network.Bot]*attachment)
}

// BootstrapJoin issues JOINs for bot to pick up every enabled leg on
// its Network it isn't a member of yet, up to this Pipe's target
// weight, the same eligibility rules OnTick's periodic sweep uses. It
// grounds the welcome-triggered auto-join of the original bridge: a Bot
// shouldn't have to wait for the next weight-sync tick to join its
// Pipe's channels the moment it (re)connects. Call it right after
// Attach, once a Bot's Conn has completed registration.
func (p *StandardPipe) BootstrapJoin(bot *network.Bot) {
	net := bot.Network()
	if bot.State() != network.Connected || bot.Conn == nil {
		return
	}
	for _, leg := range p.Legs {
		if leg.Network != net || leg.Disabled || leg.Channel == "" {
			continue
		}
		if len(net.BotsInChannel(leg.Channel)) >= p.Weight {
			continue
		}
		if bot.InChannel(leg.Channel) || bot.Conn.ChannelCount() >= bot.ChannelLimit {
			continue
		}
		if hasPendingJoin(bot, leg.Channel) {
			continue
		}
		args := []string{leg.Channel}
		if leg.Password != "" {
			args = append(args, leg.Password)
		}
		bot.Private.Push(message.New(message.Join, args...))
	}
}

func (p *StandardPipe) formatterFn() formatter.Formatter {
	fn, err := formatter.Get(p.FormatterName)
	if err != nil {
		fn, _ = formatter.Get("standard")
	}
	return fn
}
