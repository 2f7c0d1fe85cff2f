// Package message defines the outbound unit of work that flows between a
// Pipe, a Network, and a Bot: a Message destined for one IRC server, plus
// the priority buffer that holds Messages until a Bot is ready to send
// them.
package message

import "time"

// Command is the closed set of outbound commands a Message may carry.
type Command string

// The commands a Bot's connection knows how to send.
const (
	Join       Command = "join"
	Mode       Command = "mode"
	Privmsg    Command = "privmsg"
	Privnotice Command = "privnotice"
	Topic      Command = "topic"
	Who        Command = "who"
	Whois      Command = "whois"
	Part       Command = "part"
	Quit       Command = "quit"
	Action     Command = "action"
)

// IsChannelName reports whether name looks like an IRC channel name.
// It is the same test a Network and Pipe use to decide whether a
// Message's first argument names a channel rather than a nickname.
func IsChannelName(name string) bool {
	return len(name) > 0 && (name[0] == '#' || name[0] == '&' || name[0] == '+' || name[0] == '!')
}

// A Message is a single outbound IRC command awaiting transmission.
//
// Timestamp orders Messages within a Buffer. It defaults to the time the
// Message was created, but may be explicitly set to zero to force the
// Message to the head of its Buffer — used by Network.Push to make a
// pre-emptive JOIN sort ahead of the PRIVMSG that required it.
type Message struct {
	Command   Command
	Arguments []string
	Timestamp float64 // unix seconds; see doc comment above re: the zero sentinel.
}

// New returns a Message timestamped now.
func New(command Command, arguments ...string) Message {
	return Message{Command: command, Arguments: arguments, Timestamp: nowSeconds()}
}

// AtHead returns a Message timestamped to sort at the head of any Buffer
// it is pushed into, regardless of what else is queued.
func AtHead(command Command, arguments ...string) Message {
	return Message{Command: command, Arguments: arguments, Timestamp: 0}
}

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// IsBotSpecific reports whether this Message must be issued by a
// particular Bot connection, as opposed to being shareable among any Bot
// of the target Network.
//
// JOIN and MODE are inherently bound to one session. A channel-targeted
// PRIVMSG or PRIVNOTICE must come from a Bot already present in that
// channel, so those are bot-specific too; anything else — including a
// PRIVMSG to a nickname rather than a channel — is shareable.
func (m Message) IsBotSpecific() bool {
	switch m.Command {
	case Join, Mode:
		return true
	case Privmsg, Privnotice:
		return len(m.Arguments) > 0 && IsChannelName(m.Arguments[0])
	default:
		return false
	}
}

// IsSystemNotice reports whether m is one of the buffer's own synthetic
// "lagging" notices, identified by the "--" text prefix convention
// inherited from the original implementation.
func (m Message) IsSystemNotice() bool {
	if m.Command != Privmsg && m.Command != Privnotice {
		return false
	}
	if len(m.Arguments) < 2 {
		return false
	}
	text := m.Arguments[1]
	return len(text) >= 2 && text[0] == '-' && text[1] == '-'
}
