// Package network implements the per-server fleet: a Network owns a set
// of Bot connections and the shared priority buffer they drain, a Bot
// paces its own sends under flood control and round-robins across the
// buffers attached to it, and a Network is the deduplication boundary
// that decides which single Bot handles an inbound channel event.
package network

import (
	"sort"
	"time"

	"github.com/puzzlet/uniko/encoding"
	"github.com/puzzlet/uniko/message"
)

// ServerAddr is one fallback entry of a Network's server list.
type ServerAddr struct {
	Host     string
	Port     int
	Password string
}

// Network is a named IRC endpoint: a server list sharing one encoding
// and TLS policy, the Bots connected to it, and the MessageBuffer those
// Bots share for shareable outbound traffic.
type Network struct {
	Name    string
	Servers []ServerAddr
	Codec   *encoding.Codec
	UseTLS  bool

	// DryRun mirrors the config `test` flag (spec.md §6): when set, a
	// Bot's flood control logs outbound messages instead of sending
	// them, and suppresses `join` entirely rather than logging it.
	DryRun bool

	bots   []*Bot
	Shared *message.Buffer
}

// New returns a Network with an empty Bot list and a shared buffer using
// timeout for its staleness bound.
func New(name string, servers []ServerAddr, codec *encoding.Codec, useTLS bool, timeout float64) *Network {
	return &Network{
		Name:    name,
		Servers: servers,
		Codec:   codec,
		UseTLS:  useTLS,
		Shared:  message.NewBuffer(time.Duration(timeout * float64(time.Second))),
	}
}

// AddBot registers bot as belonging to this Network, at the end of the
// Network's insertion-ordered Bot list. Insertion order is the
// tie-break this Network uses to pick its listening bot per channel.
func (n *Network) AddBot(bot *Bot) {
	bot.network = n
	bot.order = len(n.bots)
	n.bots = append(n.bots, bot)
}

// Bots returns this Network's Bots in insertion order.
func (n *Network) Bots() []*Bot {
	out := make([]*Bot, len(n.bots))
	copy(out, n.bots)
	return out
}

// Push deposits message m into this Network's shared buffer. If m is a
// PRIVMSG/PRIVNOTICE targeting a channel that no Bot of this Network is
// currently joined to, a synthetic JOIN for that channel is pushed
// first, timestamped to sort at the head, so a Bot joins before the
// relayed line can be sent.
func (n *Network) Push(m message.Message) {
	if (m.Command == message.Privmsg || m.Command == message.Privnotice) && len(m.Arguments) > 0 {
		target := m.Arguments[0]
		if message.IsChannelName(target) && len(n.BotsInChannel(target)) == 0 {
			n.Shared.Push(message.AtHead(message.Join, target))
		}
	}
	n.Shared.Push(m)
}

// BotsInChannel returns this Network's Bots currently joined to channel,
// in insertion order.
func (n *Network) BotsInChannel(channel string) []*Bot {
	var out []*Bot
	for _, b := range n.bots {
		if b.InChannel(channel) {
			out = append(out, b)
		}
	}
	return out
}

// IsListeningBot reports whether bot is the single Bot of this Network
// responsible for handling inbound events from channel: it belongs to
// this Network, channel is a channel name, and it sorts first by
// insertion order among this Network's Bots currently joined to
// channel.
func (n *Network) IsListeningBot(bot *Bot, channel string) bool {
	if bot.network != n || !message.IsChannelName(channel) {
		return false
	}
	joined := n.BotsInChannel(channel)
	if len(joined) == 0 {
		return false
	}
	sort.Slice(joined, func(i, j int) bool { return joined[i].order < joined[j].order })
	return joined[0] == bot
}

// GetOper returns a Bot of this Network that is joined to channel and
// holds operator mode there, if any.
func (n *Network) GetOper(channel string) (*Bot, bool) {
	for _, b := range n.BotsInChannel(channel) {
		if ch, ok := b.Conn.Channel(channel); ok {
			if m, ok := ch.Member(b.Conn.Nick()); ok && m.Oper {
				return b, true
			}
		}
	}
	return nil, false
}
