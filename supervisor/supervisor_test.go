package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/puzzlet/uniko/config"
	"github.com/puzzlet/uniko/network"
)

const testYAML = `
version: 1
network:
  - name: alpha
    server:
      - [irc.alpha.example, 6667]
    encoding: utf-8
  - name: beta
    server:
      - [irc.beta.example, 6667]
    encoding: utf-8
bot:
  - network: alpha
    nickname: unikobot
  - network: beta
    nickname: unikobot
pipe:
  - network: [alpha, beta]
    channel: "#shared"
    weight: 2
`

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zap.NewNop()
}

func TestBuildFromConfigWiresNetworksBotsAndPipes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s, err := BuildFromConfig(cfg, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Networks) != 2 {
		t.Fatalf("Networks = %d, want 2", len(s.Networks))
	}
	if len(s.managed) != 2 {
		t.Fatalf("managed bots = %d, want 2", len(s.managed))
	}
	if len(s.Pipes) != 1 {
		t.Fatalf("Pipes = %d, want 1", len(s.Pipes))
	}
	if s.Pipes[0].Weight != 2 {
		t.Errorf("Pipe weight = %d, want 2", s.Pipes[0].Weight)
	}
	if len(s.Pipes[0].Legs) != 2 {
		t.Fatalf("Pipe legs = %d, want 2", len(s.Pipes[0].Legs))
	}
	for _, leg := range s.Pipes[0].Legs {
		if leg.Channel != "#shared" {
			t.Errorf("leg channel = %q, want #shared", leg.Channel)
		}
	}
}

const testYAMLWithTestMode = `
version: 1
test: true
network:
  - name: alpha
    server:
      - [irc.alpha.example, 6667]
    encoding: utf-8
  - name: beta
    server:
      - [irc.beta.example, 6667]
    encoding: utf-8
bot:
  - network: alpha
    nickname: unikobot
  - network: beta
    nickname: unikobot
pipe:
  - network: [alpha, beta]
    channel: "#shared"
    weight: 2
`

func TestBuildFromConfigPropagatesTestModeToEveryNetwork(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testYAMLWithTestMode), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s, err := BuildFromConfig(cfg, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	for name, n := range s.Networks {
		if !n.DryRun {
			t.Errorf("Network %s DryRun = false, want true when config test: true", name)
		}
	}
}

func TestBuildFromConfigRejectsUnknownNetworkReference(t *testing.T) {
	cfg := &config.Config{
		Version: 1,
		Bot:     []config.BotEntry{{Network: "ghost", Nickname: "x"}},
	}
	if _, err := BuildFromConfig(cfg, testLogger(t)); err == nil {
		t.Error("expected an error for a bot referencing an unknown network")
	}
}

func TestMergeActiveEventsAppliesAlwaysAndNever(t *testing.T) {
	out := mergeActiveEvents([]string{"quit"}, []string{"mode"})
	has := func(name string) bool {
		for _, e := range out {
			if e == name {
				return true
			}
		}
		return false
	}
	if !has("quit") {
		t.Error("expected quit to be added by always")
	}
	if has("mode") {
		t.Error("expected mode to be removed by never")
	}
	if !has("privmsg") {
		t.Error("expected privmsg to survive from the default set")
	}
}

func TestDialFailsGracefullyOnUnreachableAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(testYAML), 0o644)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s, err := BuildFromConfig(cfg, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	// Port 1 is reserved and should refuse immediately rather than hang.
	s.managed[0].addrs = []string{"127.0.0.1:1"}
	s.dial(s.managed[0])
	if s.managed[0].bot.State() != network.Disconnected {
		t.Error("expected bot to remain disconnected after a failed dial")
	}
	if s.managed[0].nextAttempt.IsZero() {
		t.Error("expected a backoff-scheduled next attempt after a failed dial")
	}
}
