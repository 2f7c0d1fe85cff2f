package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/puzzlet/uniko/config"
	"github.com/puzzlet/uniko/network"
)

// Run drives the cooperative main loop until ctx is cancelled. Each
// iteration: every managed Bot gets one ProcessOnce (a bounded blocking
// read that dispatches whatever handlers fire synchronously), one
// FloodControl tick to drain its outbound pacing, a reconnect attempt
// if it's due, each Pipe gets one OnTick for weight sync, and the
// config file is checked for a hot-reloadable change. All of this
// happens on a single goroutine; the only other goroutines in the
// process are each Conn's blocking read loop.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for _, mb := range s.managed {
			s.tickBot(mb)
		}
		for _, p := range s.Pipes {
			p.OnTick()
		}
		if s.watcher != nil {
			s.checkReload()
		}
	}
}

func (s *Supervisor) tickBot(mb *managedBot) {
	if mb.bot.State() == network.Disconnected {
		if !mb.nextAttempt.IsZero() && time.Now().Before(mb.nextAttempt) {
			return
		}
		s.dial(mb)
		if mb.bot.State() != network.Disconnected {
			s.attachBotToPipes(mb.bot)
		}
		return
	}

	if mb.bot.Conn != nil {
		if _, err := mb.bot.Conn.ProcessOnce(TickInterval); err != nil {
			s.log.Warn("connection lost", zap.String("nick", mb.bot.Nickname), zap.Error(err))
			s.detachBotFromPipes(mb.bot)
			mb.bot.SetConnected(nil)
			mb.nextAttempt = time.Now().Add(mb.backoff.NextBackOff())
			return
		}
	}
	if _, err := mb.bot.FloodControl(); err != nil {
		s.log.Warn("flood control send failed", zap.String("nick", mb.bot.Nickname), zap.Error(err))
	}
}

// detachBotFromPipes clears every Pipe's handler/buffer attachment for
// bot. Called the moment a Bot's Conn is found dead, so a later
// reconnect's Attach isn't silently no-op'd by a stale attachment
// entry still pointing at the dead Conn's (now meaningless) handler
// tokens.
func (s *Supervisor) detachBotFromPipes(bot *network.Bot) {
	for _, p := range s.Pipes {
		p.Detach(bot)
	}
}

// attachBotToPipes re-registers every Pipe with a leg on bot's Network
// against bot's new Conn, and has each such Pipe issue any JOINs bot
// needs to rejoin its channels immediately rather than waiting for the
// next weight-sync tick. Called after a successful (re)dial.
func (s *Supervisor) attachBotToPipes(bot *network.Bot) {
	for _, p := range s.Pipes {
		p.Attach(bot)
		p.BootstrapJoin(bot)
	}
}

// AttachWatcher installs a configuration watcher, enabling hot-reload
// checks in Run.
func (s *Supervisor) AttachWatcher(w *config.Watcher) { s.watcher = w }

func (s *Supervisor) checkReload() {
	_, reloaded, err := s.watcher.CheckReload()
	if err != nil {
		s.log.Warn("config reload failed, keeping previous configuration", zap.Error(err))
		return
	}
	if !reloaded {
		return
	}
	id := reloadCorrelationID()
	s.log.Info("configuration reloaded; restart required to apply network/bot/pipe topology changes",
		zap.String("reload_id", id))
}
