package pipe

import (
	"go.uber.org/zap"

	"github.com/puzzlet/uniko/formatter"
	"github.com/puzzlet/uniko/ircnet"
	"github.com/puzzlet/uniko/message"
	"github.com/puzzlet/uniko/network"
)

// handle is the single entry point every kind this Pipe attaches to
// funnels through; it branches on whether the event carries a channel.
func (p *StandardPipe) handle(bot *network.Bot, net *network.Network, e ircnet.Event) {
	switch e.Kind {
	case ircnet.KindNick:
		// Attached at priority -11 purely to keep nick ahead of this
		// Conn's own membership bookkeeping; a nick change has no
		// channel-scoped relay in the standard formatter's template set.
		return
	case ircnet.KindQuit:
		p.handleQuit(bot, net, e)
		return
	}
	if e.Channel != "" {
		p.handleChannelEvent(bot, net, e)
		return
	}
	if e.Kind == ircnet.KindPrivmsg {
		p.handlePrivateEvent(bot, net, e)
		return
	}
	p.log.Debug("unhandled event", zap.String("kind", e.Kind), zap.String("network", net.Name))
}

// eventTypeName maps a raw ircnet Event kind to the lowercase event-type
// vocabulary the active-event set and the Formatter use.
func eventTypeName(kind string) string {
	switch kind {
	case ircnet.KindJoin:
		return "join"
	case ircnet.KindPart:
		return "part"
	case ircnet.KindKick:
		return "kick"
	case ircnet.KindMode:
		return "mode"
	case ircnet.KindTopic:
		return "topic"
	case ircnet.KindPrivmsg:
		return "pubmsg"
	case ircnet.KindNotice:
		return "pubnotice"
	default:
		return kind
	}
}

// handleQuit relays a QUIT as the bound channel's "quit" template, but
// only if the quitting nick was a member of this Pipe's channel on net
// at the time QUIT arrived — checked here, at priority -11, before this
// Conn's own bookkeeping (priority -10) removes the membership entry.
func (p *StandardPipe) handleQuit(bot *network.Bot, net *network.Network, e ircnet.Event) {
	if !p.ActiveEvents["quit"] {
		return
	}
	leg, ok := p.legFor(net)
	if !ok || leg.Disabled || bot.Conn == nil {
		return
	}
	if !net.IsListeningBot(bot, leg.Channel) {
		return
	}
	ch, ok := bot.Conn.Channel(leg.Channel)
	if !ok {
		return
	}
	if _, ok := ch.Member(e.Origin); !ok {
		return
	}
	for _, b := range net.Bots() {
		if b.Conn != nil && ircnet.IrcLower(b.Conn.Nick()) == ircnet.IrcLower(e.Origin) {
			return
		}
	}
	fEvent := formatter.Event{Type: "quit", Nick: e.Origin, Args: decodeArgs(net, e.Args)}
	line := p.formatterFn()(fEvent, ch)
	for _, peerLeg := range p.Legs {
		if peerLeg.Network == net || peerLeg.Disabled || peerLeg.Channel == "" {
			continue
		}
		if buf, ok := p.buffers[peerLeg.Network]; ok {
			buf.Push(message.New(message.Privmsg, peerLeg.Channel, line))
		}
	}
}

func (p *StandardPipe) handleChannelEvent(bot *network.Bot, net *network.Network, e ircnet.Event) {
	if !net.IsListeningBot(bot, e.Channel) {
		return
	}
	leg, ok := p.legFor(net)
	if !ok || leg.Disabled {
		return
	}
	if ircnet.IrcLower(leg.Channel) != ircnet.IrcLower(e.Channel) {
		return
	}
	for _, b := range net.Bots() {
		if b.Conn != nil && ircnet.IrcLower(b.Conn.Nick()) == ircnet.IrcLower(e.Origin) {
			return
		}
	}
	typeName := eventTypeName(e.Kind)
	args := e.Args[1:]
	if e.Kind == ircnet.KindPrivmsg && len(args) > 0 && isCTCPAction(args[0]) {
		typeName = "action"
		args = []string{stripCTCPAction(args[0])}
	}
	if !p.ActiveEvents[typeName] {
		return
	}
	if e.Kind == ircnet.KindMode {
		changes := ircnet.ParseChannelModes(e.Args[1:])
		if len(changes) > 0 && allGrants(changes) {
			return
		}
	}
	var channelState formatter.ChannelState
	if ch, ok := bot.Conn.Channel(e.Channel); ok {
		channelState = ch
	}
	fEvent := formatter.Event{Type: typeName, Nick: e.Origin, Args: decodeArgs(net, args)}
	line := p.formatterFn()(fEvent, channelState)

	for _, peerLeg := range p.Legs {
		if peerLeg.Network == net || peerLeg.Disabled || peerLeg.Channel == "" {
			continue
		}
		buf, ok := p.buffers[peerLeg.Network]
		if !ok {
			continue
		}
		buf.Push(message.New(message.Privmsg, peerLeg.Channel, line))
	}
}

// allGrants reports whether every parsed mode change is a grant of
// operator or voice status (+o/+v); such changes are relayed noise and
// dropped.
func allGrants(changes []ircnet.ModeChange) bool {
	for _, c := range changes {
		if !c.Add || (c.Mode != 'o' && c.Mode != 'v') {
			return false
		}
	}
	return true
}

func decodeArgs(net *network.Network, args []string) []string {
	if net.Codec == nil {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = net.Codec.Decode([]byte(a))
	}
	return out
}

func isCTCPAction(text string) bool {
	return len(text) > 8 && text[0] == '\x01' && text[1:7] == "ACTION"
}

func stripCTCPAction(text string) string {
	s := text
	if len(s) > 0 && s[0] == '\x01' {
		s = s[1:]
	}
	s = trimPrefixString(s, "ACTION ")
	if len(s) > 0 && s[len(s)-1] == '\x01' {
		s = s[:len(s)-1]
	}
	return s
}

func trimPrefixString(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
