package network

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/puzzlet/uniko/ircnet"
	"github.com/puzzlet/uniko/message"
)

// State is a Bot's connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

// DefaultChannelLimit is the per-bot maximum channel count a weight
// sync will respect, absent a network-specific override.
const DefaultChannelLimit = 20

// Bot is one IRC connection belonging to a Network. It owns a private
// MessageBuffer for bot-specific traffic, round-robins across whatever
// external buffers pipes have attached to it, and paces its own sends
// under flood control.
type Bot struct {
	Nickname string
	Realname string
	Username string

	ReconnectInterval time.Duration
	ChannelLimit      int

	network *Network
	order   int

	Conn  *ircnet.Conn
	state State

	Private  *message.Buffer
	attached []*message.Buffer
	cursor   int

	lastSend time.Time
	now      func() time.Time

	logger *zap.Logger
}

// NewBot returns a Bot not yet attached to any Network.
func NewBot(nickname, realname, username string, timeout time.Duration) *Bot {
	return &Bot{
		Nickname:          nickname,
		Realname:          realname,
		Username:          username,
		ReconnectInterval: 60 * time.Second,
		ChannelLimit:      DefaultChannelLimit,
		Private:           message.NewBuffer(timeout),
		now:               time.Now,
		logger:            zap.NewNop(),
	}
}

// SetLogger overrides the Bot's logger, used for dry-run transmit
// tracing. Supervisor wires in the process-wide logger at construction.
func (b *Bot) SetLogger(l *zap.Logger) { b.logger = l }

// SetClock overrides the Bot's notion of the current time, for tests.
func (b *Bot) SetClock(now func() time.Time) { b.now = now }

// Network returns the Network this Bot belongs to.
func (b *Bot) Network() *Network { return b.network }

// State reports the Bot's connection lifecycle state.
func (b *Bot) State() State { return b.state }

// SetConnected marks the Bot connected over conn, or disconnected if
// conn is nil.
func (b *Bot) SetConnected(conn *ircnet.Conn) {
	b.Conn = conn
	if conn == nil {
		b.state = Disconnected
		return
	}
	b.state = Connected
}

// Attach adds buf to the set of external buffers this Bot round-robins
// across. Attaching or detaching a buffer re-seeds the round-robin
// cursor to 0, matching the source behaviour that a membership change
// in the attached set restarts the rotation.
func (b *Bot) Attach(buf *message.Buffer) {
	b.attached = append(b.attached, buf)
	b.cursor = 0
}

// Detach removes buf from this Bot's attached set.
func (b *Bot) Detach(buf *message.Buffer) {
	for i, a := range b.attached {
		if a == buf {
			b.attached = append(b.attached[:i], b.attached[i+1:]...)
			b.cursor = 0
			return
		}
	}
}

// DetachAll clears every attached buffer.
func (b *Bot) DetachAll() {
	b.attached = nil
	b.cursor = 0
}

// InChannel reports whether this Bot currently has joined channel.
func (b *Bot) InChannel(channel string) bool {
	if b.Conn == nil {
		return false
	}
	_, ok := b.Conn.Channel(channel)
	return ok
}

// selectSource picks the buffer flood control should look at next: the
// private buffer if non-empty, else the next non-empty attached buffer
// in round-robin order. Returns nil if nothing is pending.
func (b *Bot) selectSource() *message.Buffer {
	if b.Private.Len() > 0 {
		return b.Private
	}
	if len(b.attached) == 0 {
		return nil
	}
	for i := 0; i < len(b.attached); i++ {
		idx := (b.cursor + i) % len(b.attached)
		if b.attached[idx].Len() > 0 {
			b.cursor = (idx + 1) % len(b.attached)
			return b.attached[idx]
		}
	}
	return nil
}

// sendDelay computes the inter-message pacing delay for m, per the
// flood-control formula: a PRIVMSG's delay grows with its text length,
// capped at 4 seconds; every other command is a flat 2 seconds.
func sendDelay(m message.Message) time.Duration {
	if m.Command == message.Privmsg && len(m.Arguments) > 1 {
		d := 0.5 + float64(len(m.Arguments[1]))/35
		if d > 4 {
			d = 4
		}
		return time.Duration(d * float64(time.Second))
	}
	const d = 2 * time.Second
	return d
}

// FloodControl runs one tick of this Bot's outbound pacing. It reports
// "idle" when nothing was sent (buffer empty, message misrouted to this
// bot, or still within the pacing delay), or the command name of
// whatever was sent.
func (b *Bot) FloodControl() (string, error) {
	if b.state != Connected {
		return "idle", nil
	}
	buf := b.selectSource()
	if buf == nil {
		return "idle", nil
	}
	head, ok := buf.Peek()
	if !ok {
		return "idle", nil
	}
	dryRun := b.network != nil && b.network.DryRun
	if head.Command == message.Privmsg && len(head.Arguments) > 0 &&
		message.IsChannelName(head.Arguments[0]) && !b.InChannel(head.Arguments[0]) && !dryRun {
		// Misrouted: a channel-targeted privmsg sitting in a buffer this
		// Bot drains, but this Bot hasn't joined that channel. Leave it for
		// whichever Bot has. Skipped in dry run, where no JOIN is ever sent.
		return "idle", nil
	}
	now := b.now()
	if !b.lastSend.IsZero() {
		if now.Sub(b.lastSend) < sendDelay(head) {
			return "idle", nil
		}
	}
	if err := b.transmit(head); err != nil {
		buf.Push(head)
		return "idle", err
	}
	popped, ok := buf.Pop()
	if !ok || popped.Command != head.Command {
		return "idle", fmt.Errorf("network: flood control pop/peek mismatch on %s", b.Nickname)
	}
	b.lastSend = now
	return string(head.Command), nil
}

func (b *Bot) transmit(m message.Message) error {
	if b.Conn == nil {
		return fmt.Errorf("network: bot %s not connected", b.Nickname)
	}
	if b.network != nil && b.network.DryRun {
		return b.transmitDryRun(m)
	}
	args := m.Arguments
	switch m.Command {
	case message.Join:
		if len(args) > 1 {
			return b.Conn.Join(args[0]) // password form not supported by the underlying JOIN primitive
		}
		if len(args) == 1 {
			return b.Conn.Join(args[0])
		}
		return fmt.Errorf("network: join with no channel argument")
	case message.Mode:
		if len(args) == 0 {
			return fmt.Errorf("network: mode with no target argument")
		}
		return b.Conn.Mode(args[0], args[1:]...)
	case message.Privmsg:
		if len(args) < 2 {
			return fmt.Errorf("network: privmsg requires (target, text)")
		}
		return b.Conn.Privmsg(args[0], args[1])
	case message.Privnotice:
		if len(args) < 2 {
			return fmt.Errorf("network: privnotice requires (target, text)")
		}
		return b.Conn.Notice(args[0], args[1])
	case message.Topic:
		if len(args) == 0 {
			return fmt.Errorf("network: topic with no channel argument")
		}
		newTopic := ""
		if len(args) > 1 {
			newTopic = args[1]
		}
		return b.Conn.Topic(args[0], newTopic)
	case message.Who:
		if len(args) == 0 {
			return fmt.Errorf("network: who with no target argument")
		}
		return b.Conn.Who(args[0])
	case message.Whois:
		if len(args) == 0 {
			return fmt.Errorf("network: whois with no nick argument")
		}
		return b.Conn.Whois(args[0])
	case message.Part:
		if len(args) == 0 {
			return fmt.Errorf("network: part with no channel argument")
		}
		return b.Conn.Part(args[0])
	case message.Action:
		if len(args) < 2 {
			return fmt.Errorf("network: action requires (target, text)")
		}
		return b.Conn.Action(args[0], args[1])
	default:
		return fmt.Errorf("network: unknown command %q", m.Command)
	}
}

// transmitDryRun implements the `test` config flag's documented
// behaviour: outbound messages are logged instead of being sent over
// the wire, and `join` is suppressed entirely (not even logged as
// sent) rather than pretending to join a channel the Bot never
// actually entered.
func (b *Bot) transmitDryRun(m message.Message) error {
	if m.Command == message.Join {
		b.logger.Debug("dry run: suppressing join",
			zap.String("nick", b.Nickname), zap.Strings("args", m.Arguments))
		return nil
	}
	b.logger.Info("dry run: message not sent",
		zap.String("nick", b.Nickname), zap.String("command", string(m.Command)),
		zap.Strings("args", m.Arguments))
	return nil
}
