package render

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"

	"groupcal/internal/model"
)

// Print writes year groups as coloured terminal text.
func Print(w io.Writer, groups []model.YearGroup) {
	headerColor := color.New(color.FgCyan, color.Bold).SprintFunc()
	warnColor := color.New(color.FgRed, color.Bold).SprintFunc()
	summaryColor := color.New(color.FgYellow, color.Bold).SprintFunc()
	highlight := color.New(color.FgGreen).SprintFunc()
	subtle := color.New(color.FgHiBlack).SprintFunc()

	if len(groups) == 0 {
		fmt.Fprintln(w, warnColor("No upcoming events."))
		return
	}

	for _, g := range groups {
		fmt.Fprintf(w, "%s\n", headerColor("=== "+strconv.Itoa(g.Year)+" ==="))
		for _, ev := range g.Events {
			when := ev.Start
			if ev.End != "" {
				when += " to " + ev.End
			}
			fmt.Fprintf(w, " - %s %s %s [%s]",
				subtle(ev.StartMonth+" "+ev.StartDay),
				summaryColor(ev.Title),
				highlight(when),
				ev.URL,
			)
			if ev.Location != "" {
				fmt.Fprintf(w, " %s", subtle("@ "+ev.Location))
			}
			fmt.Fprintln(w)
		}
	}
}
