package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{" _____              _      _ _ ", "#34d399"},
	{"|_   _|__ _ __   __| |_ __(_) |", "#2dd4bf"},
	{"  | |/ _ \\ '_ \\ / _` | '__| | |", "#22d3ee"},
	{"  | |  __/ | | | (_| | |  | | |", "#38bdf8"},
	{"  |_|\\___|_| |_|\\__,_|_|  |_|_|", "#60a5fa"},
}

// PrintBanner writes the Tendril banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.NewOutput(w).ColorProfile()
	fmt.Fprintln(w)
	for _, line := range bannerLines {
		fmt.Fprintln(w, p.String(line.text).Foreground(p.Color(line.color)))
	}
	fmt.Fprintln(w)
}

// Dim renders progress text in a muted color.
func Dim(w io.Writer, text string) string {
	p := termenv.NewOutput(w).ColorProfile()
	return p.String(text).Foreground(p.Color("#6b7280")).Italic().String()
}
