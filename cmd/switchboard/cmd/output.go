package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/itchyny/gojq"
	"github.com/tsarna/switchboard/pkg/switchboard/envelope"
	"gopkg.in/yaml.v3"
)

// applyJQ runs query against input and returns every value it produces.
func applyJQ(query string, input any) ([]any, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parsing jq query: %w", err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compiling jq query: %w", err)
	}

	var out []any
	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return nil, fmt.Errorf("running jq query: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// writeValue prints v as indented JSON or as a YAML document.
func writeValue(w io.Writer, v any, format string) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

// normalize converts a result into the plain JSON types gojq expects.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// eventPrinter writes one line per event: time, topic and compact JSON data.
type eventPrinter struct {
	w     io.Writer
	topic func(a ...interface{}) string
	stamp func(a ...interface{}) string
}

func newEventPrinter(w io.Writer, noColor bool) *eventPrinter {
	topic := color.New(color.FgCyan, color.Bold)
	stamp := color.New(color.Faint)
	if noColor {
		topic.DisableColor()
		stamp.DisableColor()
	}
	return &eventPrinter{w: w, topic: topic.SprintFunc(), stamp: stamp.SprintFunc()}
}

func (p *eventPrinter) print(at time.Time, ev *envelope.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.w, "%s %s %s\n", p.stamp(at.Format("15:04:05.000")), p.topic(ev.Topic), data)
	return err
}
