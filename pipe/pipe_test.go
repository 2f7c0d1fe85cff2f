package pipe

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/puzzlet/uniko/encoding"
	"github.com/puzzlet/uniko/ircnet"
	"github.com/puzzlet/uniko/message"
	"github.com/puzzlet/uniko/network"
)

type testServer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (s *testServer) send(t *testing.T, line string) {
	t.Helper()
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		t.Fatal(err)
	}
}

func dialBot(t *testing.T, nick string) (*network.Bot, *testServer) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	srv := &testServer{conn: serverSide, reader: bufio.NewReader(serverSide)}
	done := make(chan struct{})
	var conn *ircnet.Conn
	var err error
	go func() {
		conn, err = ircnet.Connect("test", clientSide, ircnet.Config{Nick: nick})
		close(done)
	}()
	srv.reader.ReadString('\n')
	srv.reader.ReadString('\n')
	srv.send(t, ":srv 001 "+nick+" :welcome")
	<-done
	if err != nil {
		t.Fatalf("ircnet.Connect: %v", err)
	}
	bot := network.NewBot(nick, nick, nick, 10*time.Second)
	bot.SetConnected(conn)
	return bot, srv
}

func (s *testServer) join(t *testing.T, bot *network.Bot, channel string) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- bot.Conn.Join(channel) }()
	s.reader.ReadString('\n') // JOIN
	s.reader.ReadString('\n') // WHO
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	s.send(t, ":"+bot.Nickname+"!u@h JOIN "+channel)
	bot.Conn.ProcessOnce(time.Second)
}

func newTestNetwork(t *testing.T, name string) *network.Network {
	t.Helper()
	codec, err := encoding.New("utf-8")
	if err != nil {
		t.Fatal(err)
	}
	return network.New(name, nil, codec, false, 10)
}

func TestAttachDetachAllRestoresSets(t *testing.T) {
	netA := newTestNetwork(t, "A")
	netB := newTestNetwork(t, "B")
	botA, srvA := dialBot(t, "botA")
	botB, srvB := dialBot(t, "botB")
	netA.AddBot(botA)
	netB.AddBot(botB)
	srvA.join(t, botA, "#x")
	srvB.join(t, botB, "#x")

	p := New([]Leg{{Network: netA, Channel: "#x"}, {Network: netB, Channel: "#x"}}, 1, "standard", nil, 10*time.Second)
	p.Attach(botA)
	p.Attach(botB)

	bufA, _ := p.BufferFor(netA)
	bufB, _ := p.BufferFor(netB)

	srvA.send(t, ":alice!a@h PRIVMSG #x :hi")
	botA.Conn.ProcessOnce(time.Second)
	if bufB.Len() != 1 {
		t.Fatalf("expected the relay to land in B's buffer, Len()=%d", bufB.Len())
	}
	bufB.Pop()

	p.DetachAll()
	srvA.send(t, ":alice!a@h PRIVMSG #x :hi again")
	botA.Conn.ProcessOnce(time.Second)
	if bufB.Len() != 0 {
		t.Error("expected no relay after DetachAll")
	}
	_ = bufA
}

func TestBasicRelayAcrossNetworks(t *testing.T) {
	netA := newTestNetwork(t, "A")
	netB := newTestNetwork(t, "B")
	botA, srvA := dialBot(t, "botA")
	botB, srvB := dialBot(t, "botB")
	netA.AddBot(botA)
	netB.AddBot(botB)
	srvA.join(t, botA, "#x")
	srvB.join(t, botB, "#x")

	p := New([]Leg{{Network: netA, Channel: "#x"}, {Network: netB, Channel: "#x"}}, 1, "standard", nil, 10*time.Second)
	p.Attach(botA)
	p.Attach(botB)

	srvA.send(t, ":alice!a@h PRIVMSG #x :hi")
	botA.Conn.ProcessOnce(time.Second)

	bufB, _ := p.BufferFor(netB)
	m, ok := bufB.Pop()
	if !ok {
		t.Fatal("expected a relayed message in B's buffer")
	}
	if m.Command != message.Privmsg || m.Arguments[0] != "#x" || m.Arguments[1] != "< alice> hi" {
		t.Errorf("relayed message = %+v, want privmsg(#x, \"< alice> hi\")", m)
	}
}

// TestDetachThenReattachResumesRelay covers the reconnect path: a Bot
// loses its Conn (simulated by Detach, which a supervisor calls the
// moment it notices the read loop died) and is later handed a brand
// new Conn (simulated by dialing again and calling SetConnected). A
// second Attach must pick the relay back up rather than silently
// no-op because a stale attachment entry from the first Conn is still
// sitting in the Pipe's map.
func TestDetachThenReattachResumesRelay(t *testing.T) {
	netA := newTestNetwork(t, "A")
	netB := newTestNetwork(t, "B")
	botA, srvA := dialBot(t, "botA")
	botB, srvB := dialBot(t, "botB")
	netA.AddBot(botA)
	netB.AddBot(botB)
	srvA.join(t, botA, "#x")
	srvB.join(t, botB, "#x")

	p := New([]Leg{{Network: netA, Channel: "#x"}, {Network: netB, Channel: "#x"}}, 1, "standard", nil, 10*time.Second)
	p.Attach(botA)
	p.Attach(botB)

	bufB, _ := p.BufferFor(netB)

	// The Bot's Conn dies; the supervisor detaches it from every Pipe.
	p.Detach(botA)

	// Reconnect: a new Conn, rejoined to the same channel.
	newBotA, newSrvA := dialBot(t, "botA")
	botA.SetConnected(newBotA.Conn)
	newSrvA.join(t, botA, "#x")

	// Re-attach must not be a no-op even though botA already has a
	// (now stale) entry recorded from before Detach.
	p.Attach(botA)

	newSrvA.send(t, ":alice!a@h PRIVMSG #x :hi again")
	botA.Conn.ProcessOnce(time.Second)

	m, ok := bufB.Pop()
	if !ok {
		t.Fatal("expected a relayed message in B's buffer after reconnect")
	}
	if m.Arguments[1] != "< alice> hi again" {
		t.Errorf("relayed message after reconnect = %+v", m)
	}
}

func TestSelfLoopSuppression(t *testing.T) {
	netA := newTestNetwork(t, "A")
	netB := newTestNetwork(t, "B")
	botA, srvA := dialBot(t, "botA")
	botB, _ := dialBot(t, "botB")
	netA.AddBot(botA)
	netB.AddBot(botB)
	srvA.join(t, botA, "#x")

	p := New([]Leg{{Network: netA, Channel: "#x"}, {Network: netB, Channel: "#x"}}, 1, "standard", nil, 10*time.Second)
	p.Attach(botA)
	p.Attach(botB)

	srvA.send(t, ":botA!b@h PRIVMSG #x :hi")
	botA.Conn.ProcessOnce(time.Second)

	bufB, _ := p.BufferFor(netB)
	if bufB.Len() != 0 {
		t.Error("expected no relay when the source nick is our own bot")
	}
}

func TestJoinPreemptionViaNetworkPush(t *testing.T) {
	netB := newTestNetwork(t, "B")
	netB.AddBot(network.NewBot("botB", "botB", "botB", 10*time.Second))

	netB.Push(message.Message{Command: message.Privmsg, Arguments: []string{"#x", "hi"}, Timestamp: 5})

	first, ok := netB.Shared.Pop()
	if !ok || first.Command != message.Join || first.Timestamp != 0 {
		t.Fatalf("first = %+v, ok=%v, want a head-of-queue join", first, ok)
	}
}

func TestModeGrantOnlySuppressed(t *testing.T) {
	netA := newTestNetwork(t, "A")
	netB := newTestNetwork(t, "B")
	botA, srvA := dialBot(t, "botA")
	botB, _ := dialBot(t, "botB")
	netA.AddBot(botA)
	netB.AddBot(botB)
	srvA.join(t, botA, "#x")

	p := New([]Leg{{Network: netA, Channel: "#x"}, {Network: netB, Channel: "#x"}}, 1, "standard", []string{"mode"}, 10*time.Second)
	p.Attach(botA)
	p.Attach(botB)

	srvA.send(t, ":op!o@h MODE #x +o alice")
	botA.Conn.ProcessOnce(time.Second)

	bufB, _ := p.BufferFor(netB)
	if bufB.Len() != 0 {
		t.Error("a mode change that is only +o/+v grants must not be relayed")
	}

	srvA.send(t, ":op!o@h MODE #x +b alice!*@*")
	botA.Conn.ProcessOnce(time.Second)
	if bufB.Len() != 1 {
		t.Error("a non-grant mode change should relay")
	}
}

func TestWhoRepliesWithMemberList(t *testing.T) {
	netA := newTestNetwork(t, "A")
	netB := newTestNetwork(t, "B")
	botA, srvA := dialBot(t, "botA")
	botB, srvB := dialBot(t, "botB")
	netA.AddBot(botA)
	netB.AddBot(botB)
	srvA.join(t, botA, "#x")
	srvB.join(t, botB, "#x")

	srvB.send(t, ":alice!a@h JOIN #x")
	botB.Conn.ProcessOnce(time.Second)
	srvB.send(t, ":bob!b@h JOIN #x")
	botB.Conn.ProcessOnce(time.Second)
	srvB.send(t, ":op!o@h MODE #x +o alice")
	botB.Conn.ProcessOnce(time.Second)

	p := New([]Leg{{Network: netA, Channel: "#x"}, {Network: netB, Channel: "#x"}}, 1, "standard", nil, 10*time.Second)
	p.Attach(botA)
	p.Attach(botB)

	srvA.send(t, ":requester!r@h JOIN #x")
	botA.Conn.ProcessOnce(time.Second)
	srvA.send(t, ":requester!r@h PRIVMSG botA :\\who #x")
	botA.Conn.ProcessOnce(time.Second)

	m, ok := botA.Private.Pop()
	if !ok {
		t.Fatal("expected a private reply")
	}
	if m.Arguments[0] != "requester" {
		t.Errorf("reply target = %q, want requester", m.Arguments[0])
	}
	wantPrefix := "Total 3 in B's #x:"
	if len(m.Arguments[1]) < len(wantPrefix) || m.Arguments[1][:len(wantPrefix)] != wantPrefix {
		t.Errorf("reply text = %q, want prefix %q", m.Arguments[1], wantPrefix)
	}
}

func TestWeightSyncIssuesJoinsUpToDeficit(t *testing.T) {
	netA := newTestNetwork(t, "A")
	b1, s1 := dialBot(t, "bot1")
	b2, s2 := dialBot(t, "bot2")
	b3, s3 := dialBot(t, "bot3")
	netA.AddBot(b1)
	netA.AddBot(b2)
	netA.AddBot(b3)
	s1.join(t, b1, "#x")
	_, _ = s2, s3

	p := New([]Leg{{Network: netA, Channel: "#x"}}, 2, "standard", nil, 10*time.Second)
	clock := time.Unix(1000, 0)
	p.SetClock(func() time.Time { return clock })

	p.OnTick()

	joins := 0
	if b2.Private.HasCommand(message.Join) {
		joins++
	}
	if b3.Private.HasCommand(message.Join) {
		joins++
	}
	if joins != 1 {
		t.Errorf("expected exactly one non-joined bot to get a pending join, got %d", joins)
	}
}

func TestWeightSyncGatedByInterval(t *testing.T) {
	netA := newTestNetwork(t, "A")
	b1, s1 := dialBot(t, "bot1")
	netA.AddBot(b1)
	s1.join(t, b1, "#x")
	b2 := network.NewBot("bot2", "bot2", "bot2", 10*time.Second)
	netA.AddBot(b2)

	p := New([]Leg{{Network: netA, Channel: "#x"}}, 2, "standard", nil, 10*time.Second)
	clock := time.Unix(1000, 0)
	p.SetClock(func() time.Time { return clock })
	p.OnTick()

	clock = clock.Add(1 * time.Second)
	p.OnTick() // within WeightSyncInterval of the first run; should be a no-op

	// b2 is never connected, so it can never be "available"; this test
	// only asserts OnTick doesn't panic or double-run within the gate.
}

// TestBootstrapJoinJoinsImmediatelyWithoutWaitingForATick covers the
// welcome-triggered auto-join path: a Bot should pick up its Pipe's
// channel the moment it connects, not only on the next weight-sync tick.
func TestBootstrapJoinJoinsImmediatelyWithoutWaitingForATick(t *testing.T) {
	netA := newTestNetwork(t, "A")
	b1, _ := dialBot(t, "bot1")
	netA.AddBot(b1)

	p := New([]Leg{{Network: netA, Channel: "#x"}}, 1, "standard", nil, 10*time.Second)

	p.BootstrapJoin(b1)

	if !b1.Private.HasCommand(message.Join) {
		t.Fatal("expected BootstrapJoin to enqueue a join for an unjoined, connected bot")
	}
}

// TestBootstrapJoinRespectsWeight covers the deficit check: once a Pipe's
// target weight for a channel is already met, a newly connecting bot must
// not be handed a redundant join.
func TestBootstrapJoinRespectsWeight(t *testing.T) {
	netA := newTestNetwork(t, "A")
	b1, s1 := dialBot(t, "bot1")
	b2, _ := dialBot(t, "bot2")
	netA.AddBot(b1)
	netA.AddBot(b2)
	s1.join(t, b1, "#x")

	p := New([]Leg{{Network: netA, Channel: "#x"}}, 1, "standard", nil, 10*time.Second)

	p.BootstrapJoin(b2)

	if b2.Private.HasCommand(message.Join) {
		t.Error("expected no join for b2: the pipe's weight of 1 is already met by b1")
	}
}
