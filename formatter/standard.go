package formatter

import (
	"fmt"
	"strings"
)

func init() {
	Register("standard", Standard)
}

// Standard is the default Formatter, rendering each recognised event
// type with a fixed template. ARG0 below means e.Args[0]; ARGS means
// e.Args space-joined.
func Standard(e Event, channel ChannelState) string {
	args := strings.Join(e.Args, " ")
	arg0 := ""
	if len(e.Args) > 0 {
		arg0 = e.Args[0]
	}
	switch e.Type {
	case "privmsg", "pubmsg":
		return fmt.Sprintf("<%s> %s", AdornedNick(e.Nick, channel), arg0)
	case "privnotice", "pubnotice":
		return fmt.Sprintf(">%s< %s", AdornedNick(e.Nick, channel), arg0)
	case "action":
		return fmt.Sprintf("\x02* %s\x02 %s", e.Nick, args)
	case "join":
		return fmt.Sprintf("! %s join", e.Nick)
	case "topic":
		return fmt.Sprintf("! %s topic %q", e.Nick, arg0)
	case "kick":
		target := arg0
		reason := ""
		if len(e.Args) > 1 {
			reason = e.Args[1]
		}
		return fmt.Sprintf("! %s kick %s (%s)", e.Nick, target, reason)
	case "mode":
		return fmt.Sprintf("! %s mode %s", e.Nick, args)
	case "part", "quit":
		return fmt.Sprintf("! %s %s %q", e.Nick, e.Type, args)
	default:
		return fmt.Sprintf("! %s %s %s", e.Nick, e.Type, args)
	}
}
