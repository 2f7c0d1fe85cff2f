package ircnet

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config describes how to register a Conn with a server.
type Config struct {
	Nick     string
	User     string // ident / username, sent in USER
	RealName string
	Pass     string // server password, omitted if empty
	UseTLS   bool
	TLSConfig *tls.Config // optional; a default is used when UseTLS is set and this is nil
}

// Conn is a single registered connection to one IRC server. All of its
// methods except the unexported readLoop are meant to be called only
// from the single goroutine that owns this Conn (the network package's
// main loop, via Bot); Conn itself holds no internal lock.
//
// A background goroutine started by Dial only ever blocks on socket
// reads and pushes fully parsed lines onto an internal channel; every
// other piece of state (the channel table, registration status, event
// dispatch) is touched exclusively by ProcessOnce, so the bridge core
// can treat an entire Conn as single-threaded even though I/O runs on
// its own goroutine.
type Conn struct {
	server string
	nick   string
	conn   net.Conn
	reader *bufio.Reader

	channels map[string]*Channel
	handlers handlerList

	rawIn chan wireMessage
	errs  chan error

	pendingWho map[string]bool
}

// Dial connects to addr and completes IRC registration with cfg.
func Dial(addr string, cfg Config) (*Conn, error) {
	var raw net.Conn
	var err error
	if cfg.UseTLS {
		tlsConf := cfg.TLSConfig
		if tlsConf == nil {
			tlsConf = &tls.Config{}
		}
		raw, err = tls.Dial("tcp", addr, tlsConf)
	} else {
		raw, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("ircnet: dial %s: %w", addr, err)
	}
	return Connect(addr, raw, cfg)
}

// Connect completes IRC registration over an already-open net.Conn. It
// is split out from Dial so a caller that needs a nonstandard transport
// (a proxy dialer, a pre-established net.Pipe in tests) can supply its
// own net.Conn.
func Connect(addr string, raw net.Conn, cfg Config) (*Conn, error) {
	c := &Conn{
		server:     addr,
		nick:       cfg.Nick,
		conn:       raw,
		reader:     bufio.NewReader(raw),
		channels:   make(map[string]*Channel),
		rawIn:      make(chan wireMessage, 64),
		errs:       make(chan error, 1),
		pendingWho: make(map[string]bool),
	}
	if err := c.register(cfg); err != nil {
		raw.Close()
		return nil, err
	}
	c.installInternalHandlers()
	go c.readLoop()
	return c, nil
}

func (c *Conn) register(cfg Config) error {
	if cfg.Pass != "" {
		if err := c.writeWire(wireMessage{Command: cmdPASS, Args: []string{cfg.Pass}}); err != nil {
			return err
		}
	}
	if err := c.writeWire(wireMessage{Command: cmdNICK, Args: []string{cfg.Nick}}); err != nil {
		return err
	}
	user := cfg.User
	if user == "" {
		user = cfg.Nick
	}
	real := cfg.RealName
	if real == "" {
		real = cfg.Nick
	}
	if err := c.writeWire(wireMessage{Command: cmdUSER, Args: []string{user, "0", "*", real}}); err != nil {
		return err
	}
	for {
		msg, err := readWire(c.reader)
		if err != nil {
			return fmt.Errorf("ircnet: registering with %s: %w", c.server, err)
		}
		switch msg.Command {
		case rplWelcome:
			if len(msg.Args) > 0 {
				c.nick = msg.Args[0]
			}
			return nil
		case errNicknameInUse, errNickCollision, errUnavailResource:
			c.nick = c.nick + "_"
			if err := c.writeWire(wireMessage{Command: cmdNICK, Args: []string{c.nick}}); err != nil {
				return err
			}
		case errErroneousNick, errNoNicknameGiven, errRestricted:
			return fmt.Errorf("ircnet: registration rejected by %s: %s %v", c.server, msg.Command, msg.Args)
		case cmdPING:
			if err := c.writeWire(wireMessage{Command: cmdPONG, Args: msg.Args}); err != nil {
				return err
			}
		}
	}
}

// readLoop only blocks on socket reads and forwards parsed lines; it
// never touches Conn's channel table or handler list.
func (c *Conn) readLoop() {
	for {
		msg, err := readWire(c.reader)
		if err != nil {
			c.errs <- err
			return
		}
		c.rawIn <- msg
	}
}

// ProcessOnce waits up to timeout for the next inbound line and, if one
// arrives, applies it to the channel table and dispatches it to
// handlers, synchronously, before returning. It reports whether a line
// was processed.
func (c *Conn) ProcessOnce(timeout time.Duration) (bool, error) {
	select {
	case msg := <-c.rawIn:
		c.handle(msg)
		return true, nil
	case err := <-c.errs:
		return false, err
	case <-time.After(timeout):
		return false, nil
	}
}

// handle turns one parsed wire line into an Event and dispatches it.
// Membership bookkeeping (joins, parts, mode changes, nick renames, ...)
// is not done inline here: it runs as an ordinary handler installed at
// priority -10 by installInternalHandlers, so a collaborator attached at
// a lower priority (e.g. -11, for nick/quit) observes each Event before
// this Conn's own bookkeeping has mutated the Channel it describes.
func (c *Conn) handle(msg wireMessage) {
	if msg.Command == cmdPING {
		c.writeWire(wireMessage{Command: cmdPONG, Args: msg.Args})
		return
	}
	origin := nickFromPrefix(msg.Origin)
	switch msg.Command {
	case cmdJOIN, cmdPART, cmdMODE, cmdTOPIC:
		if len(msg.Args) == 0 {
			return
		}
		c.handlers.dispatch(Event{Conn: c, Kind: msg.Command, Origin: origin, Channel: msg.Args[0], Args: msg.Args})
	case cmdKICK:
		if len(msg.Args) < 2 {
			return
		}
		c.handlers.dispatch(Event{Conn: c, Kind: cmdKICK, Origin: origin, Channel: msg.Args[0], Args: msg.Args})
	case cmdQUIT:
		c.handlers.dispatch(Event{Conn: c, Kind: cmdQUIT, Origin: origin, Args: msg.Args})
	case cmdNICK:
		if len(msg.Args) == 0 {
			return
		}
		c.handlers.dispatch(Event{Conn: c, Kind: cmdNICK, Origin: origin, Args: msg.Args})
	case cmdPRIVMSG, cmdNOTICE:
		if len(msg.Args) < 1 {
			return
		}
		e := Event{Conn: c, Kind: msg.Command, Origin: origin, Args: msg.Args}
		if IsChannel(msg.Args[0]) {
			e.Channel = msg.Args[0]
		}
		c.handlers.dispatch(e)
	case rplWhoReply:
		if len(msg.Args) < 6 {
			return
		}
		c.handlers.dispatch(Event{Conn: c, Kind: rplWhoReply, Channel: msg.Args[1], Args: msg.Args})
	case rplEndOfWho:
		if len(msg.Args) < 2 {
			return
		}
		c.handlers.dispatch(Event{Conn: c, Kind: rplEndOfWho, Channel: msg.Args[1], Args: msg.Args})
	default:
		c.handlers.dispatch(Event{Conn: c, Kind: msg.Command, Origin: origin, Args: msg.Args})
	}
}

// membershipPriority is the priority this Conn's own bookkeeping
// handler runs at. Collaborators that must observe an Event before
// membership mutates (e.g. a pipe's nick/quit hook) attach below this;
// ordinary consumers attach at 0, above it.
const membershipPriority = -10

// installInternalHandlers registers this Conn's own channel-membership
// bookkeeping as ordinary priority -10 handlers, so external handlers
// can be ordered relative to it instead of racing a hardwired mutation.
func (c *Conn) installInternalHandlers() {
	c.handlers.Attach(cmdJOIN, membershipPriority, func(e Event) {
		ch := c.channelOrCreate(e.Channel)
		ch.addMember(e.Origin)
	})
	c.handlers.Attach(cmdPART, membershipPriority, func(e Event) {
		if ch, ok := c.channels[IrcLower(e.Channel)]; ok {
			ch.removeMember(e.Origin)
		}
	})
	c.handlers.Attach(cmdKICK, membershipPriority, func(e Event) {
		if ch, ok := c.channels[IrcLower(e.Channel)]; ok {
			ch.removeMember(e.Args[1])
		}
	})
	c.handlers.Attach(cmdQUIT, membershipPriority, func(e Event) {
		for _, ch := range c.channels {
			ch.removeMember(e.Origin)
		}
	})
	c.handlers.Attach(cmdNICK, membershipPriority, func(e Event) {
		for _, ch := range c.channels {
			ch.renameMember(e.Origin, e.Args[0])
		}
		if IrcLower(e.Origin) == IrcLower(c.nick) {
			c.nick = e.Args[0]
		}
	})
	c.handlers.Attach(cmdMODE, membershipPriority, func(e Event) {
		ch, ok := c.channels[IrcLower(e.Channel)]
		if !ok {
			return
		}
		for _, change := range parseChannelModes(e.Args[1:]) {
			ch.applyModeChange(change)
		}
	})
	c.handlers.Attach(cmdTOPIC, membershipPriority, func(e Event) {
		if ch, ok := c.channels[IrcLower(e.Channel)]; ok && len(e.Args) > 1 {
			ch.Topic = e.Args[1]
		}
	})
	c.handlers.Attach(rplWhoReply, membershipPriority, func(e Event) {
		if len(e.Args) < 6 {
			return
		}
		nick := e.Args[5]
		flags := ""
		if len(e.Args) > 6 {
			flags = e.Args[6]
		}
		ch, ok := c.channels[IrcLower(e.Channel)]
		if !ok {
			return
		}
		m, ok := ch.Member(nick)
		if !ok {
			m = ch.addMember(nick)
		}
		m.Oper = strings.Contains(flags, "@")
		m.Voiced = strings.Contains(flags, "+")
	})
	c.handlers.Attach(rplEndOfWho, membershipPriority, func(e Event) {
		if ch, ok := c.channels[IrcLower(e.Channel)]; ok {
			ch.WhoInFlight = false
		}
	})
}

func (c *Conn) channelOrCreate(name string) *Channel {
	key := IrcLower(name)
	ch, ok := c.channels[key]
	if !ok {
		ch = newChannel(name)
		c.channels[key] = ch
	}
	return ch
}

// Channel returns the named channel's tracked state, if this Conn has
// joined it.
func (c *Conn) Channel(name string) (*Channel, bool) {
	ch, ok := c.channels[IrcLower(name)]
	return ch, ok
}

// Nick returns the nickname this Conn is currently registered under.
func (c *Conn) Nick() string { return c.nick }

// ChannelCount returns the number of channels this Conn currently
// tracks membership for.
func (c *Conn) ChannelCount() int { return len(c.channels) }

// Attach registers fn to run on events of the given kind (or "" for
// every kind) at the given priority, and returns a token that detaches
// just this handler.
func (c *Conn) Attach(kind string, priority int, fn Handler) HandlerToken {
	return c.handlers.Attach(kind, priority, fn)
}

// Detach removes the single handler identified by token.
func (c *Conn) Detach(token HandlerToken) {
	c.handlers.Detach(token)
}

// DetachAll removes every handler attached to this Conn, including its
// own internal membership bookkeeping, and immediately reinstalls that
// bookkeeping so the channel table keeps working afterward.
func (c *Conn) DetachAll() {
	c.handlers.DetachAll()
	c.installInternalHandlers()
}

func (c *Conn) writeWire(msg wireMessage) error {
	_, err := c.conn.Write(msg.Bytes())
	if err != nil {
		return fmt.Errorf("ircnet: write to %s: %w", c.server, err)
	}
	return nil
}

// Join sends a JOIN followed by a WHO for name, and creates the
// channel's membership table immediately so that a caller can observe
// it before the server's own JOIN echo arrives.
func (c *Conn) Join(name string) error {
	ch := c.channelOrCreate(name)
	if err := c.writeWire(wireMessage{Command: cmdJOIN, Args: []string{name}}); err != nil {
		return err
	}
	ch.WhoInFlight = true
	return c.writeWire(wireMessage{Command: cmdWHO, Args: []string{name}})
}

// Part leaves a channel.
func (c *Conn) Part(name string) error {
	return c.writeWire(wireMessage{Command: cmdPART, Args: []string{name}})
}

// Privmsg sends a PRIVMSG to target (a channel or nick).
func (c *Conn) Privmsg(target, text string) error {
	return c.writeWire(wireMessage{Command: cmdPRIVMSG, Args: []string{target, text}})
}

// Notice sends a NOTICE to target.
func (c *Conn) Notice(target, text string) error {
	return c.writeWire(wireMessage{Command: cmdNOTICE, Args: []string{target, text}})
}

// Action sends a CTCP ACTION ("/me") to target.
func (c *Conn) Action(target, text string) error {
	return c.Privmsg(target, actionPrefix+" "+text+actionSuffix)
}

// Mode sends a MODE change.
func (c *Conn) Mode(target string, args ...string) error {
	return c.writeWire(wireMessage{Command: cmdMODE, Args: append([]string{target}, args...)})
}

// Topic requests (no newTopic) or sets (newTopic != "") a channel's
// topic.
func (c *Conn) Topic(channel, newTopic string) error {
	if newTopic == "" {
		return c.writeWire(wireMessage{Command: cmdTOPIC, Args: []string{channel}})
	}
	return c.writeWire(wireMessage{Command: cmdTOPIC, Args: []string{channel, newTopic}})
}

// Who requests a WHO listing for target.
func (c *Conn) Who(target string) error {
	return c.writeWire(wireMessage{Command: cmdWHO, Args: []string{target}})
}

// Whois requests WHOIS information for nick.
func (c *Conn) Whois(nick string) error {
	return c.writeWire(wireMessage{Command: cmdWHOIS, Args: []string{nick}})
}

// Quit disconnects gracefully with the given message.
func (c *Conn) Quit(message string) error {
	err := c.writeWire(wireMessage{Command: cmdQUIT, Args: []string{message}})
	c.conn.Close()
	return err
}

// Close closes the underlying connection without sending QUIT.
func (c *Conn) Close() error {
	return c.conn.Close()
}
