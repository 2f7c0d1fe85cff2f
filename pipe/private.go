package pipe

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/puzzlet/uniko/ircnet"
	"github.com/puzzlet/uniko/message"
	"github.com/puzzlet/uniko/network"
)

// handlePrivateEvent answers a bot-targeted query: a PRIVMSG whose
// first argument is not a channel, addressed to the bot itself, whose
// text begins with a backslash command.
func (p *StandardPipe) handlePrivateEvent(bot *network.Bot, net *network.Network, e ircnet.Event) {
	leg, ok := p.legFor(net)
	if !ok || leg.Disabled {
		return
	}
	if len(e.Args) < 2 {
		return
	}
	text := e.Args[1]
	if len(text) == 0 || text[0] != '\\' {
		return
	}
	rest := text[1:]
	cmd, arg := rest, ""
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		cmd, arg = rest[:i], strings.TrimSpace(rest[i+1:])
	}
	switch cmd {
	case "who":
		p.handleWho(bot, net, e.Origin, arg)
	case "aop":
		p.handleAop(bot, net, e.Origin, arg)
	case "whois", "topic", "op":
		// Recognised but not completed: these would require a round trip
		// to a peer server with no synchronous answer path. Left as
		// deliberate no-ops.
	default:
		// Unknown command: drop silently.
	}
}

// handleWho answers "\who <channel>": for each peer Network, render the
// member list of its mapped channel and reply to the requester once per
// peer. The requester must themself be in <channel> on the source
// Network.
func (p *StandardPipe) handleWho(bot *network.Bot, net *network.Network, requester, channel string) {
	ch, ok := bot.Conn.Channel(channel)
	if !ok {
		return
	}
	if _, ok := ch.Member(requester); !ok {
		return
	}

	type reply struct {
		peerName string
		peerChan string
		text     string
	}
	replies := make([]reply, len(p.Legs))
	var g errgroup.Group
	for i, peerLeg := range p.Legs {
		i, peerLeg := i, peerLeg
		if peerLeg.Network == net || peerLeg.Disabled || peerLeg.Channel == "" {
			continue
		}
		g.Go(func() error {
			bots := peerLeg.Network.BotsInChannel(peerLeg.Channel)
			if len(bots) == 0 {
				return nil
			}
			peerCh, ok := bots[0].Conn.Channel(peerLeg.Channel)
			if !ok {
				return nil
			}
			members := peerCh.Members()
			text := fmt.Sprintf("Total %d in %s's %s: %s", len(members), peerLeg.Network.Name, peerLeg.Channel, reprNicklist(members))
			replies[i] = reply{peerName: peerLeg.Network.Name, peerChan: peerLeg.Channel, text: text}
			return nil
		})
	}
	g.Wait()

	for _, r := range replies {
		if r.text == "" {
			continue
		}
		bot.Private.Push(message.New(message.Privmsg, requester, r.text))
	}
}

// handleAop answers "\aop <channel>": for every peer Network with an
// operator bot joined to its mapped channel, grant +o to every
// non-operator in groups of four, and reply to the requester with the
// affected nicknames.
func (p *StandardPipe) handleAop(bot *network.Bot, net *network.Network, requester, channel string) {
	var affected []string
	for _, peerLeg := range p.Legs {
		if peerLeg.Network == net || peerLeg.Disabled || peerLeg.Channel == "" {
			continue
		}
		operBot, ok := peerLeg.Network.GetOper(peerLeg.Channel)
		if !ok {
			continue
		}
		ch, ok := operBot.Conn.Channel(peerLeg.Channel)
		if !ok {
			continue
		}
		var nonOpers []string
		for _, m := range ch.Members() {
			if !m.Oper {
				nonOpers = append(nonOpers, m.Nick)
			}
		}
		for start := 0; start < len(nonOpers); start += 4 {
			end := start + 4
			if end > len(nonOpers) {
				end = len(nonOpers)
			}
			group := nonOpers[start:end]
			flags := "+" + strings.Repeat("o", len(group))
			args := append([]string{peerLeg.Channel, flags}, group...)
			operBot.Private.Push(message.New(message.Mode, args...))
			affected = append(affected, group...)
		}
	}
	bot.Private.Push(message.New(message.Privmsg, requester, fmt.Sprintf("Granted op: %s", strings.Join(affected, " "))))
}

// reprNicklist renders members as "(opers first, then voiced, then
// plain; alphabetical by casefolded nick within each bucket", prefixed
// per member by '@', '+', or a blank.
func reprNicklist(members []*ircnet.Member) string {
	var opers, voiced, plain []*ircnet.Member
	for _, m := range members {
		switch {
		case m.Oper:
			opers = append(opers, m)
		case m.Voiced:
			voiced = append(voiced, m)
		default:
			plain = append(plain, m)
		}
	}
	byNick := func(group []*ircnet.Member) {
		sort.Slice(group, func(i, j int) bool {
			return ircnet.IrcLower(group[i].Nick) < ircnet.IrcLower(group[j].Nick)
		})
	}
	byNick(opers)
	byNick(voiced)
	byNick(plain)

	var parts []string
	for _, m := range opers {
		parts = append(parts, "@"+m.Nick)
	}
	for _, m := range voiced {
		parts = append(parts, "+"+m.Nick)
	}
	for _, m := range plain {
		parts = append(parts, " "+m.Nick)
	}
	return strings.Join(parts, " ")
}
