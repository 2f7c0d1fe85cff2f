package pipe

import (
	"github.com/puzzlet/uniko/message"
	"github.com/puzzlet/uniko/network"
)

// OnTick runs weight sync if at least WeightSyncInterval has elapsed
// since the last run. For each enabled leg whose Network is short of
// this Pipe's target weight, it enqueues enough JOINs on available Bots
// to make up the deficit, without over-issuing against Bots that
// already have a pending JOIN for that channel.
func (p *StandardPipe) OnTick() {
	now := p.now()
	if !p.lastWeightSync.IsZero() && now.Sub(p.lastWeightSync) < WeightSyncInterval {
		return
	}
	p.lastWeightSync = now

	for _, leg := range p.Legs {
		if leg.Disabled || leg.Channel == "" {
			continue
		}
		joined := leg.Network.BotsInChannel(leg.Channel)
		deficit := p.Weight - len(joined)
		if deficit <= 0 {
			continue
		}
		for _, bot := range p.available(leg) {
			if deficit <= 0 {
				break
			}
			args := []string{leg.Channel}
			if leg.Password != "" {
				args = append(args, leg.Password)
			}
			bot.Private.Push(message.New(message.Join, args...))
			deficit--
		}
	}
}

// available returns leg.Network's Bots eligible to pick up a
// weight-sync JOIN: connected, not already in the channel, without a
// JOIN for it already pending in their private buffer, and under their
// configured channel limit.
func (p *StandardPipe) available(leg Leg) []*network.Bot {
	var out []*network.Bot
	for _, bot := range leg.Network.Bots() {
		if bot.State() != network.Connected || bot.Conn == nil {
			continue
		}
		if bot.InChannel(leg.Channel) {
			continue
		}
		if bot.Conn.ChannelCount() >= bot.ChannelLimit {
			continue
		}
		if hasPendingJoin(bot, leg.Channel) {
			continue
		}
		out = append(out, bot)
	}
	return out
}

func hasPendingJoin(bot *network.Bot, channel string) bool {
	return bot.Private.Any(func(m message.Message) bool {
		return m.Command == message.Join && len(m.Arguments) > 0 && m.Arguments[0] == channel
	})
}
