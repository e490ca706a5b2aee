package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/1broseidon/paintd/internal/ipc"
)

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	asJSON := fs.Bool("json", false, "Print raw JSON")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: paintd status [--json]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Show compositor status via the control socket.")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "status takes no arguments")
		fs.Usage()
		return 2
	}

	status, err := ipc.NewClient().GetStatus()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *asJSON {
		return printJSON(os.Stdout, status)
	}
	printStatus(os.Stdout, status, isTerminal(os.Stdout))
	return 0
}

func runOutputs(args []string) int {
	fs := flag.NewFlagSet("outputs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	asJSON := fs.Bool("json", false, "Print raw JSON")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	outputs, err := ipc.NewClient().GetOutputs()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *asJSON {
		return printJSON(os.Stdout, outputs)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tID\tNAME\tGEOMETRY")
	for _, o := range outputs.Outputs {
		fmt.Fprintf(tw, "output\t%d\t%s\t%dx%d+%d+%d\n", o.ID, o.Name, o.Width, o.Height, o.X, o.Y)
	}
	for _, o := range outputs.Targets {
		fmt.Fprintf(tw, "target\t%d\t%s\t%dx%d+%d+%d\n", o.ID, o.Name, o.Width, o.Height, o.X, o.Y)
	}
	tw.Flush()
	return 0
}

func printJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// printStatus writes an aligned table on a terminal and plain
// key: value lines otherwise, for scripts.
func printStatus(w io.Writer, st *ipc.StatusData, aligned bool) {
	rows := [][2]string{
		{"backend", st.Backend},
		{"screen", fmt.Sprintf("%dx%d", st.Width, st.Height)},
		{"uptime", (time.Duration(st.UptimeSeconds) * time.Second).String()},
		{"windows", fmt.Sprintf("%d (%d mapped, %d bound, %d failed)", st.Windows, st.Mapped, st.Bound, st.FailedBinds)},
		{"frames", fmt.Sprint(st.Frames)},
		{"refresh_rate", fmt.Sprintf("%.2f Hz", st.RefreshRate)},
		{"vsync", fmt.Sprint(st.VSync)},
		{"method", st.Method},
		{"last_path", st.LastPath},
		{"skipped_presents", fmt.Sprint(st.SkippedPresent)},
		{"output_fallbacks", fmt.Sprint(st.Fallbacks)},
		{"skipped_windows", fmt.Sprint(st.SkippedWindows)},
		{"fbo_frames", fmt.Sprint(st.FBOFrames)},
		{"protocol_errors", fmt.Sprint(st.ProtocolErrors)},
		{"texture_filter", st.TextureFilter},
	}
	if st.Unredirected != 0 {
		rows = append(rows, [2]string{"unredirected", fmt.Sprintf("0x%x", st.Unredirected)})
	}
	if len(st.Plugins) > 0 {
		rows = append(rows, [2]string{"plugins", fmt.Sprint(st.Plugins)})
	}
	methods := make([]string, 0, len(st.Presents))
	for m := range st.Presents {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		rows = append(rows, [2]string{"presents." + m, fmt.Sprint(st.Presents[m])})
	}

	if !aligned {
		for _, r := range rows {
			fmt.Fprintf(w, "%s: %s\n", r[0], r[1])
		}
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}
	tw.Flush()
}
