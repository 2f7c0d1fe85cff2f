package ircnet

import "sort"

// A Member is one user's state within a single Channel, as tracked from
// JOIN/MODE/WHO traffic.
type Member struct {
	Nick   string
	Oper   bool
	Voiced bool
}

// Channel tracks the membership of one joined channel. All mutation
// happens synchronously from Conn.ProcessOnce, so Channel itself holds
// no lock.
type Channel struct {
	Name    string
	Topic   string
	members map[string]*Member
	// WhoInFlight is set while a WHO response for this channel is being
	// collected, and cleared at RPL_ENDOFWHO.
	WhoInFlight bool
}

func newChannel(name string) *Channel {
	return &Channel{Name: name, members: make(map[string]*Member)}
}

// Members returns the channel's members, sorted by nick for stable
// output (the \who and \aop command replies depend on a stable order).
func (c *Channel) Members() []*Member {
	out := make([]*Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

// Member looks up a member by nick.
func (c *Channel) Member(nick string) (*Member, bool) {
	m, ok := c.members[IrcLower(nick)]
	return m, ok
}

// IsOper reports whether nick holds channel operator status. Satisfies
// the formatter package's ChannelState interface.
func (c *Channel) IsOper(nick string) bool {
	m, ok := c.Member(nick)
	return ok && m.Oper
}

// IsVoiced reports whether nick holds voice status. Satisfies the
// formatter package's ChannelState interface.
func (c *Channel) IsVoiced(nick string) bool {
	m, ok := c.Member(nick)
	return ok && m.Voiced
}

func (c *Channel) addMember(nick string) *Member {
	m := &Member{Nick: nick}
	c.members[IrcLower(nick)] = m
	return m
}

func (c *Channel) removeMember(nick string) {
	delete(c.members, IrcLower(nick))
}

func (c *Channel) renameMember(oldNick, newNick string) {
	key := IrcLower(oldNick)
	m, ok := c.members[key]
	if !ok {
		return
	}
	delete(c.members, key)
	m.Nick = newNick
	c.members[IrcLower(newNick)] = m
}

func (c *Channel) Len() int { return len(c.members) }

// applyModeChange applies one parsed +/-o or +/-v mode change to the
// named member, if present.
func (c *Channel) applyModeChange(change modeChange) {
	m, ok := c.Member(change.Nick)
	if !ok {
		return
	}
	switch change.Mode {
	case 'o':
		m.Oper = change.Add
	case 'v':
		m.Voiced = change.Add
	}
}

// A ModeChange is one letter of a parsed MODE command that targets a
// member (+o/-o/+v/-v); mode letters that don't take a nick argument
// (e.g. +m, +k) are not represented here.
type ModeChange struct {
	Add  bool
	Mode byte
	Nick string
}

type modeChange = ModeChange

// ParseChannelModes parses a MODE command's arguments (e.g.
// ["+o-v", "alice", "bob"]) into the list of member-targeted changes it
// describes, in order. Mode letters without a nick argument are
// skipped.
func ParseChannelModes(args []string) []ModeChange {
	return parseChannelModes(args)
}

func parseChannelModes(args []string) []modeChange {
	if len(args) == 0 {
		return nil
	}
	flags := args[0]
	params := args[1:]
	var out []modeChange
	add := true
	pi := 0
	for i := 0; i < len(flags); i++ {
		switch flags[i] {
		case '+':
			add = true
		case '-':
			add = false
		case 'o', 'v':
			if pi >= len(params) {
				continue
			}
			out = append(out, modeChange{Add: add, Mode: flags[i], Nick: params[pi]})
			pi++
		case 'b', 'k', 'l':
			// These take a parameter but never target a member directly.
			if flags[i] == 'l' && !add {
				continue
			}
			pi++
		default:
			// Mode letters with no parameter (m, n, t, s, i, p, ...).
		}
	}
	return out
}
