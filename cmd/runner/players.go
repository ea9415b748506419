package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"turnforge.ai/internal/agent"
	"turnforge.ai/internal/engine"
	"turnforge.ai/internal/game/duel"
	"turnforge.ai/internal/runner"
)

const builtinPrefix = "builtin:"

// listFlag collects a repeated string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(s string) error {
	*l = append(*l, s)
	return nil
}

// refereeFactory resolves "builtin:<game>" to an in-process referee and any
// other value to a command line.
func refereeFactory(spec string) (agent.Factory, error) {
	if name, ok := strings.CutPrefix(spec, builtinPrefix); ok {
		switch name {
		case "duel":
			return runner.InProcessReferee(func() engine.Referee { return duel.New() }), nil
		case "solo":
			return runner.InProcessSoloReferee(func() engine.Referee { return duel.NewSolo() }), nil
		default:
			return nil, fmt.Errorf("unknown builtin referee %q", name)
		}
	}
	return commandFactory(spec)
}

func playerFactory(spec string) (agent.Factory, error) {
	if name, ok := strings.CutPrefix(spec, builtinPrefix); ok {
		switch name {
		case "bot":
			return agent.Func(func(stdin io.Reader, stdout, stderr io.Writer) error {
				return (&duel.Bot{}).Play(stdin, stdout)
			}), nil
		case "idle":
			return agent.Func(func(stdin io.Reader, stdout, stderr io.Writer) error {
				_, err := io.Copy(io.Discard, stdin)
				return err
			}), nil
		default:
			return nil, fmt.Errorf("unknown builtin player %q", name)
		}
	}
	return commandFactory(spec)
}

func commandFactory(spec string) (agent.Factory, error) {
	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return agent.Command(fields[0], fields[1:]...), nil
}

// buildPlayers pairs each -player with the -name at the same position.
func buildPlayers(specs, names []string) ([]runner.PlayerSpec, error) {
	if len(names) > len(specs) {
		return nil, fmt.Errorf("%d names for %d players", len(names), len(specs))
	}
	out := make([]runner.PlayerSpec, 0, len(specs))
	for i, s := range specs {
		f, err := playerFactory(s)
		if err != nil {
			return nil, fmt.Errorf("player %d: %w", i, err)
		}
		p := runner.PlayerSpec{Factory: f}
		if i < len(names) {
			p.Nickname = names[i]
		}
		out = append(out, p)
	}
	return out, nil
}

func parseParams(kvs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("bad -param %q (want key=value)", kv)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// readTestCase returns the lines of a solo test case file. Trailing blank
// lines are dropped; everything else is sent to the referee as is.
func readTestCase(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("test case: %w", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("test case %s: %w", path, err)
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("test case %s is empty", path)
	}
	return lines, nil
}
