package overlay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"screen-ocr-ai/src/screenshot"
)

// Command runs an external selector such as `slop -f "%x %y %w %h"` or
// `slurp` and parses the rectangle it prints. A non-zero exit status means
// the user cancelled.
type Command struct {
	Args []string
}

func NewCommand(command string) *Command {
	return &Command{Args: splitArgs(command)}
}

func (c *Command) Select(ctx context.Context) (screenshot.Region, bool, error) {
	if len(c.Args) == 0 {
		return screenshot.Region{}, false, errors.New("empty selector command")
	}
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return screenshot.Region{}, true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return screenshot.Region{}, true, nil
	}
	if err != nil {
		return screenshot.Region{}, false, fmt.Errorf("running %s: %w", c.Args[0], err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return screenshot.Region{}, true, nil
	}
	r, err := ParseRegion(out)
	if err != nil {
		return screenshot.Region{}, false, err
	}
	return r, false, nil
}

var (
	geometryRe = regexp.MustCompile(`^(\d+)x(\d+)\+(-?\d+)\+(-?\d+)$`)
	slurpRe    = regexp.MustCompile(`^(-?\d+),(-?\d+) (\d+)x(\d+)$`)
	fieldSep   = regexp.MustCompile(`[\s,]+`)
)

// ParseRegion accepts "x y w h", "x,y,w,h", X11 geometry "WxH+X+Y" and
// slurp's "X,Y WxH".
func ParseRegion(s string) (screenshot.Region, error) {
	s = strings.TrimSpace(s)
	if m := geometryRe.FindStringSubmatch(s); m != nil {
		return regionFrom(m[3], m[4], m[1], m[2])
	}
	if m := slurpRe.FindStringSubmatch(s); m != nil {
		return regionFrom(m[1], m[2], m[3], m[4])
	}
	f := fieldSep.Split(s, -1)
	if len(f) != 4 {
		return screenshot.Region{}, fmt.Errorf("unrecognized region %q", s)
	}
	return regionFrom(f[0], f[1], f[2], f[3])
}

func regionFrom(xs, ys, ws, hs string) (screenshot.Region, error) {
	var v [4]float64
	for i, s := range []string{xs, ys, ws, hs} {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return screenshot.Region{}, fmt.Errorf("invalid region value %q: %w", s, err)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return screenshot.Region{}, fmt.Errorf("invalid region value %q: not a finite number", s)
		}
		v[i] = n
	}
	if v[2] < 0 || v[3] < 0 {
		return screenshot.Region{}, fmt.Errorf("negative region size %vx%v", v[2], v[3])
	}
	return screenshot.Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// splitArgs splits a command line on spaces, honouring double quotes.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	inQuote, have := false, false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			have = true
		case (r == ' ' || r == '\t') && !inQuote:
			if have {
				args = append(args, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if have {
		args = append(args, cur.String())
	}
	return args
}
