package runtime

import (
	"fmt"
	"strings"
	"time"
)

const helpText = "Commands: /help, /echo <text>, /math <expression>, /time"

// Reply produces the assistant's answer to text. Messages starting with a
// slash are commands; anything else is echoed back.
func Reply(text string, now time.Time) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return fmt.Sprintf("Switchboard (bootstrap) heard: %q", text)
	}

	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/help":
		return helpText

	case "/echo":
		if arg == "" {
			return "Nothing to echo."
		}
		return arg

	case "/math":
		value, err := Evaluate(arg)
		if err != nil {
			return "Math error: " + err.Error()
		}
		return arg + " = " + FormatNumber(value)

	case "/time":
		return now.UTC().Format(time.RFC3339)

	default:
		return fmt.Sprintf("Unknown command %s. Try /help.", name)
	}
}
