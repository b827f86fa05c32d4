package cli

import "github.com/fatih/color"

var statusColors = map[string]*color.Color{
	"outlier":   color.New(color.FgRed, color.Bold),
	"error":     color.New(color.FgRed),
	"duplicate": color.New(color.FgYellow),
	"clean":     color.New(color.FgGreen),
	"skipped":   color.New(color.Faint),
}

// Status colors a detector outcome for the terminal. Unknown values and
// non-TTY output are returned unchanged.
func Status(s string) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(s)
	}
	return s
}
