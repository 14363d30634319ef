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
	{` __     __   _ _                 `, "#34d399"},
	{` \ \   / /__| | | ___  _ __ __ _ `, "#2dd4bf"},
	{`  \ \ / / _ \ | |/ _ \| '__/ _' |`, "#22d3ee"},
	{`   \ V /  __/ | | (_) | | | (_| |`, "#38bdf8"},
	{`    \_/ \___|_|_|\___/|_|  \__,_|`, "#60a5fa"},
}

// PrintBanner writes the Vellora banner followed by the version line.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("   onboarding console v"+version).Faint())
	fmt.Fprintln(w)
}
