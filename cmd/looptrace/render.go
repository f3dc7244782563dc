package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/looptrace/internal/trace"
)

type renderFunc func(io.Writer, trace.Report) error

func renderer(format string) (renderFunc, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return renderText, nil
	case "json":
		return renderJSON, nil
	case "yaml", "yml":
		return renderYAML, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func renderJSON(w io.Writer, report trace.Report) error {
	data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func renderYAML(w io.Writer, report trace.Report) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func renderText(w io.Writer, report trace.Report) error {
	var b strings.Builder

	b.WriteString("Console\n")
	if len(report.Console) == 0 {
		b.WriteString("  (no output)\n")
	}
	for _, line := range report.Console {
		marker := " "
		if line.Kind == trace.OutputError {
			marker = "!"
		}
		fmt.Fprintf(&b, "%s %s\n", marker, line.Text)
	}

	writeEvents(&b, "Sync", report.SyncTrace)
	writeEvents(&b, "Microtasks", report.MicroTrace)
	writeEvents(&b, "Macrotasks", report.MacroTrace)

	b.WriteString("\n")
	if report.Failure != nil {
		fmt.Fprintf(&b, "%s error: %s\n", report.Failure.Phase, report.Failure.Message)
	}
	fmt.Fprintf(&b, "%s in %dms\n", report.RunID, report.DurationMS)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeEvents(b *strings.Builder, title string, events []trace.Event) {
	fmt.Fprintf(b, "\n%s (%d)\n", title, len(events))
	for i, e := range events {
		fmt.Fprintf(b, "%3d. %s\n", i+1, e.Description)
	}
}
