package ircnet

import (
	"bufio"
	"reflect"
	"strings"
	"testing"
)

func TestParseWire(t *testing.T) {
	tests := []struct {
		line string
		want wireMessage
	}{
		{
			":alice!a@host PRIVMSG #chan :hello there",
			wireMessage{Origin: "alice", User: "a", Host: "host", Command: "PRIVMSG", Args: []string{"#chan", "hello there"}},
		},
		{
			"PING :server.example",
			wireMessage{Command: "PING", Args: []string{"server.example"}},
		},
		{
			":server.example 001 bob :Welcome",
			wireMessage{Origin: "server.example", Command: "001", Args: []string{"bob", "Welcome"}},
		},
		{
			"JOIN #chan",
			wireMessage{Command: "JOIN", Args: []string{"#chan"}},
		},
	}
	for _, test := range tests {
		got, err := parseWire([]byte(test.line))
		if err != nil {
			t.Errorf("parseWire(%q): %v", test.line, err)
			continue
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("parseWire(%q) = %+v, want %+v", test.line, got, test.want)
		}
	}
}

func TestWireMessageBytesRoundTrip(t *testing.T) {
	m := wireMessage{Origin: "alice", User: "a", Host: "host", Command: "PRIVMSG", Args: []string{"#chan", "hello there"}}
	got, err := parseWire(m.Bytes()[:len(m.Bytes())-2])
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("round trip = %+v, want %+v", got, m)
	}
}

func TestParseWireTooLong(t *testing.T) {
	line := strings.Repeat("a", MaxBytes+10)
	_, err := parseWire([]byte(line))
	if _, ok := err.(TooLongError); !ok {
		t.Errorf("expected TooLongError, got %v", err)
	}
}

func TestReadWire(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("NOTICE * :hi\r\nPING :x\r\n"))
	m1, err := readWire(r)
	if err != nil {
		t.Fatal(err)
	}
	if m1.Command != "NOTICE" || m1.Args[1] != "hi" {
		t.Errorf("first message = %+v", m1)
	}
	m2, err := readWire(r)
	if err != nil {
		t.Fatal(err)
	}
	if m2.Command != "PING" {
		t.Errorf("second message = %+v", m2)
	}
}

func TestNickFromPrefix(t *testing.T) {
	if got := nickFromPrefix("alice!a@host"); got != "alice" {
		t.Errorf("nickFromPrefix = %q, want alice", got)
	}
	if got := nickFromPrefix("server.example"); got != "server.example" {
		t.Errorf("nickFromPrefix = %q, want server.example", got)
	}
}
