// Package supervisor owns the Network/Bot/Pipe graph built from
// configuration, drives the single-threaded main loop described in the
// core's concurrency model, and watches the configuration file. A
// version-guarded mtime change is loaded and logged; the running
// Network/Bot/Pipe graph is not rebuilt from it.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/puzzlet/uniko/config"
	"github.com/puzzlet/uniko/encoding"
	"github.com/puzzlet/uniko/formatter"
	"github.com/puzzlet/uniko/ircnet"
	"github.com/puzzlet/uniko/network"
	"github.com/puzzlet/uniko/pipe"
)

// TickInterval bounds how long the main loop blocks waiting for
// inbound IRC traffic on any one Bot per iteration.
const TickInterval = 200 * time.Millisecond

// managedBot pairs a network.Bot with the dial configuration and
// reconnection backoff state the supervisor needs to bring it (back)
// online; this state doesn't belong on network.Bot itself, which knows
// nothing about how to dial.
type managedBot struct {
	bot         *network.Bot
	addrs       []string
	addrIdx     int
	ircConfig   ircnet.Config
	useTLS      bool
	backoff     *backoff.ExponentialBackOff
	nextAttempt time.Time
}

// Supervisor is UnikoBot: it owns every Network, Bot, and Pipe, drives
// the cooperative main loop, and checks for configuration reloads. A
// reload updates only the attached Watcher's Config; existing Networks,
// Bots, and Pipes are left as they were built.
type Supervisor struct {
	Networks map[string]*network.Network
	Pipes    []*pipe.StandardPipe

	managed []*managedBot
	watcher *config.Watcher

	log *zap.Logger
}

// BuildFromConfig constructs every Network, Bot, and Pipe described by
// cfg, but does not connect anything yet (see ConnectAll).
func BuildFromConfig(cfg *config.Config, log *zap.Logger) (*Supervisor, error) {
	s := &Supervisor{
		Networks: make(map[string]*network.Network),
		log:      log,
	}

	for _, ne := range cfg.Network {
		codec, err := encoding.New(ne.Encoding)
		if err != nil {
			return nil, fmt.Errorf("supervisor: network %s: %w", ne.Name, err)
		}
		timeout := ne.BufferTimeout
		if timeout <= 0 {
			timeout = 10
		}
		n := network.New(ne.Name, nil, codec, ne.UseSSL, timeout)
		n.DryRun = cfg.Test
		s.Networks[ne.Name] = n
	}

	for _, be := range cfg.Bot {
		n, ok := s.Networks[be.Network]
		if !ok {
			return nil, fmt.Errorf("supervisor: bot %s references unknown network %s", be.Nickname, be.Network)
		}
		bot := network.NewBot(be.Nickname, realnameOrDefault(be), be.Username, defaultBotBufferTimeout)
		bot.SetLogger(log)
		n.AddBot(bot)

		var ne config.NetworkEntry
		for _, candidate := range cfg.Network {
			if candidate.Name == be.Network {
				ne = candidate
				break
			}
		}
		if ne.ChannelLimit > 0 {
			bot.ChannelLimit = ne.ChannelLimit
		}
		var addrs []string
		for _, srv := range ne.Servers {
			addrs = append(addrs, fmt.Sprintf("%s:%d", srv.Host, srv.Port))
		}
		pass := ""
		if len(ne.Servers) > 0 {
			pass = ne.Servers[0].Password
		}
		mb := &managedBot{
			bot:   bot,
			addrs: addrs,
			ircConfig: ircnet.Config{
				Nick:     be.Nickname,
				User:     be.Username,
				RealName: realnameOrDefault(be),
				Pass:     pass,
			},
			useTLS:  ne.UseSSL,
			backoff: newReconnectBackoff(bot.ReconnectInterval),
		}
		s.managed = append(s.managed, mb)
	}

	for _, pe := range cfg.Pipe {
		legs := make([]pipe.Leg, 0, len(pe.Networks))
		for i, netName := range pe.Networks {
			n, ok := s.Networks[netName]
			if !ok {
				return nil, fmt.Errorf("supervisor: pipe references unknown network %s", netName)
			}
			legs = append(legs, pipe.Leg{
				Network:  n,
				Channel:  pe.ChannelFor(i),
				Password: pe.PasswordFor(i),
				Disabled: pe.DisabledFor(i),
			})
		}
		active := mergeActiveEvents(pe.Always, pe.Never)
		timeout := time.Duration(pe.BufferTimeout * float64(time.Second))
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		if _, err := formatter.Get(nonEmpty(pe.Formatter, "standard")); err != nil {
			return nil, fmt.Errorf("supervisor: pipe formatter: %w", err)
		}
		p := pipe.New(legs, nonZero(pe.Weight, 1), nonEmpty(pe.Formatter, "standard"), active, timeout)
		p.SetLogger(log)
		s.Pipes = append(s.Pipes, p)
	}

	return s, nil
}

func realnameOrDefault(be config.BotEntry) string {
	if be.Realname != "" {
		return be.Realname
	}
	return be.Nickname
}

const defaultBotBufferTimeout = 10 * time.Second

func nonZero(n, def int) int {
	if n == 0 {
		return def
	}
	return n
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// mergeActiveEvents resolves a pipe's active event-type set: it starts
// from pipe.DefaultActiveEvents, adds always, and removes never.
func mergeActiveEvents(always, never []string) []string {
	set := make(map[string]bool)
	for _, e := range pipe.DefaultActiveEvents {
		set[e] = true
	}
	for _, e := range always {
		set[e] = true
	}
	for _, e := range never {
		delete(set, e)
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	return out
}

// ConnectAll attempts to connect every managed Bot concurrently. Errors
// are logged, not fatal: a Bot that fails its initial connection is
// picked up by the main loop's reconnection pass like any disconnected
// Bot.
func (s *Supervisor) ConnectAll(ctx context.Context) {
	var g errgroup.Group
	for _, mb := range s.managed {
		mb := mb
		g.Go(func() error {
			s.dial(mb)
			return nil
		})
	}
	g.Wait()

	for _, p := range s.Pipes {
		for _, leg := range p.Legs {
			for _, bot := range leg.Network.Bots() {
				p.Attach(bot)
				p.BootstrapJoin(bot)
			}
		}
	}
}

func (s *Supervisor) dial(mb *managedBot) {
	if len(mb.addrs) == 0 {
		s.log.Error("bot has no server addresses", zap.String("nick", mb.bot.Nickname))
		return
	}
	addr := mb.addrs[mb.addrIdx%len(mb.addrs)]
	mb.addrIdx++
	cfg := mb.ircConfig
	cfg.UseTLS = mb.useTLS
	conn, err := ircnet.Dial(addr, cfg)
	if err != nil {
		mb.nextAttempt = time.Now().Add(mb.backoff.NextBackOff())
		s.log.Warn("connect failed, will retry",
			zap.String("nick", mb.bot.Nickname), zap.String("addr", addr), zap.Error(err))
		return
	}
	mb.bot.SetConnected(conn)
	mb.backoff.Reset()
	s.log.Info("connected", zap.String("nick", mb.bot.Nickname), zap.String("addr", addr))
}

func newReconnectBackoff(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = 600 * time.Second
	b.MaxElapsedTime = 0 // retry forever
	return b
}

// reloadCorrelationID tags one hot-reload attempt's log lines so they
// can be grepped together.
func reloadCorrelationID() string { return uuid.NewString() }
