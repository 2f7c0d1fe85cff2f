// Package config loads the YAML configuration file that describes a
// uniko deployment's networks, bots, and pipes, and watches it for
// hot-reload: a reload is applied only when the file's mtime has
// increased and its declared version is strictly greater than the one
// currently running.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerEntry is one fallback server in a Network's server list: a
// [host, port, password?] triple as written in YAML.
type ServerEntry struct {
	Host     string
	Port     int
	Password string
}

// UnmarshalYAML accepts a YAML sequence of 2 or 3 scalars
// ([host, port] or [host, port, password]).
func (s *ServerEntry) UnmarshalYAML(value *yaml.Node) error {
	var raw []string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("config: server entry must be a [host, port, password?] list: %w", err)
	}
	if len(raw) < 2 {
		return fmt.Errorf("config: server entry needs at least host and port, got %v", raw)
	}
	s.Host = raw[0]
	if _, err := fmt.Sscanf(raw[1], "%d", &s.Port); err != nil {
		return fmt.Errorf("config: server port %q is not an integer: %w", raw[1], err)
	}
	if len(raw) > 2 {
		s.Password = raw[2]
	}
	return nil
}

// NetworkEntry describes one Network stanza.
type NetworkEntry struct {
	Name          string        `yaml:"name"`
	Servers       []ServerEntry `yaml:"server"`
	Encoding      string        `yaml:"encoding"`
	UseSSL        bool          `yaml:"use_ssl"`
	BufferTimeout float64       `yaml:"buffer_timeout"`
	ChannelLimit  int           `yaml:"channel_limit"`
}

// BotEntry describes one Bot stanza.
type BotEntry struct {
	Network  string `yaml:"network"`
	Nickname string `yaml:"nickname"`
	Realname string `yaml:"realname"`
	Username string `yaml:"username"`
}

// StringOrList accepts either a single YAML scalar or a sequence of
// scalars, normalizing both into a slice. Used for the pipe config's
// "channel" key, which may be one name applied to every network or one
// name per network.
type StringOrList []string

// UnmarshalYAML implements the single-scalar-or-list acceptance.
func (s *StringOrList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = StringOrList{single}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return fmt.Errorf("config: expected a scalar or list of strings: %w", err)
	}
	*s = StringOrList(list)
	return nil
}

// PipeEntry describes one Pipe stanza.
type PipeEntry struct {
	Networks      []string     `yaml:"network"`
	Channel       StringOrList `yaml:"channel"`
	Password      StringOrList `yaml:"password"`
	Disabled      []bool       `yaml:"disabled"`
	Always        []string     `yaml:"always"`
	Never         []string     `yaml:"never"`
	Formatter     string       `yaml:"formatter"`
	Weight        int          `yaml:"weight"`
	BufferTimeout float64      `yaml:"buffer_timeout"`
}

// ChannelFor resolves this pipe's channel name for the i'th listed
// Network: if Channel has one entry, every Network uses it; otherwise
// it's positional. An empty or missing entry means the pipe is
// inactive on that Network.
func (p PipeEntry) ChannelFor(i int) string {
	if len(p.Channel) == 1 {
		return p.Channel[0]
	}
	if i < len(p.Channel) {
		return p.Channel[i]
	}
	return ""
}

// PasswordFor resolves this pipe's join password for the i'th listed
// Network, by the same single-or-positional rule as ChannelFor.
func (p PipeEntry) PasswordFor(i int) string {
	if len(p.Password) == 1 {
		return p.Password[0]
	}
	if i < len(p.Password) {
		return p.Password[i]
	}
	return ""
}

// DisabledFor resolves this pipe's disabled flag for the i'th listed
// Network.
func (p PipeEntry) DisabledFor(i int) bool {
	if i < len(p.Disabled) {
		return p.Disabled[i]
	}
	return false
}

// Config is the top-level YAML document.
type Config struct {
	Version int            `yaml:"version"`
	Debug   bool           `yaml:"debug"`
	Test    bool           `yaml:"test"`
	Network []NetworkEntry `yaml:"network"`
	Bot     []BotEntry     `yaml:"bot"`
	Pipe    []PipeEntry    `yaml:"pipe"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &c, nil
}
