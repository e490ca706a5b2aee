package main

import (
	"bytes"
	"image"
	"strings"
	"testing"

	"github.com/1broseidon/paintd/internal/ipc"
)

func TestParseSize(t *testing.T) {
	got, err := parseSize("1920x1080")
	if err != nil {
		t.Fatalf("parseSize: %v", err)
	}
	if got != image.Pt(1920, 1080) {
		t.Fatalf("parseSize = %v", got)
	}
	for _, bad := range []string{"", "1920", "0x10", "ax10", "10x-1"} {
		if _, err := parseSize(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestPrintStatusPlain(t *testing.T) {
	st := &ipc.StatusData{
		Backend:  "headless",
		Width:    200,
		Height:   100,
		Frames:   3,
		Method:   "copy-sub-buffer",
		Presents: map[string]uint64{"full-swap": 1, "copy-sub-buffer": 2},

		ProtocolErrors: 4,
	}
	var buf bytes.Buffer
	printStatus(&buf, st, false)
	out := buf.String()
	for _, want := range []string{"backend: headless\n", "screen: 200x100\n", "frames: 3\n", "presents.copy-sub-buffer: 2\n", "protocol_errors: 4\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Index(out, "presents.copy-sub-buffer") > strings.Index(out, "presents.full-swap") {
		t.Fatalf("expected presents sorted by method:\n%s", out)
	}
	if strings.Contains(out, "unredirected") {
		t.Fatalf("unexpected unredirected row:\n%s", out)
	}
}
