package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tidwall/gjson"

	"github.com/luma/numlink/logqueue"
	"github.com/luma/numlink/protocol"
)

var (
	timeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	categoryStyles = map[logqueue.Category]lipgloss.Style{
		logqueue.Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		logqueue.Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		logqueue.Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		logqueue.Send:    lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		logqueue.Receive: lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
	}
)

// consoleSink prints entries to w, coloured by category.
func consoleSink(w io.Writer) logqueue.Sink {
	return func(e logqueue.Entry) {
		style, ok := categoryStyles[e.Category]
		if !ok {
			style = lipgloss.NewStyle()
		}

		fmt.Fprintf(w, "%s %s\n",
			timeStyle.Render("["+e.Time.Format("15:04:05")+"]"),
			style.Render(e.Category.Prefix()+" "+e.Text))
	}
}

// parseNumbers reads a comma separated list such as "1.5, 2.3, 3.7".
func parseNumbers(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	values := make([]float64, 0, len(parts))

	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	return values, nil
}

// parseFields turns key=value arguments into request fields. Values that
// are valid JSON are sent as JSON, anything else as a string.
func parseFields(args []string) ([]protocol.Field, error) {
	fields := make([]protocol.Field, 0, len(args))

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}

		if gjson.Valid(value) {
			fields = append(fields, protocol.F(key, protocol.RawJSON(value)))
		} else {
			fields = append(fields, protocol.F(key, value))
		}
	}

	return fields, nil
}
