package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"turnforge.ai/internal/protocol"
)

// dumpView writes the previous turn's view data. The first exchange of a turn
// carries a key frame; the very first one also carries the global data.
func (e *Engine) dumpView() error {
	cmd := protocol.Command{Key: protocol.View}
	if e.newTurn {
		var payload any = e.prevView
		if e.frame == 0 {
			payload = map[string]any{"global": e.globalView, "frame": e.prevView}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("view data: %w", err)
		}
		cmd.Add("KEY_FRAME "+strconv.Itoa(e.frame), string(raw))
	} else {
		cmd.Add("INTERMEDIATE_FRAME " + strconv.Itoa(e.frame))
	}
	text := protocol.Format(cmd)
	if err := e.viewQuota.Add(int64(len(text))); err != nil {
		return err
	}
	_, _ = e.out.WriteString(text)
	e.frame++
	return nil
}

// dumpInfos writes INFOS and, on the first exchange of a turn, the previous
// turn's summary and tooltips. Solo games carry the summary in INFOS itself.
func (e *Engine) dumpInfos() error {
	solo := e.solo || len(e.players) == 1
	infos := protocol.Command{Key: protocol.Infos}
	if e.newTurn {
		size := 0
		for _, l := range e.prevSummary {
			size += len(l) + 1
		}
		if size > SummaryPerTurnCap {
			return fmt.Errorf("%w: game summary of %d bytes exceeds %d for one turn", ErrQuotaExceeded, size, SummaryPerTurnCap)
		}
		if err := e.summaryQuota.Add(int64(size)); err != nil {
			return err
		}
		if solo {
			infos.Add(e.prevSummary...)
		}
	}
	e.write(infos)
	if !e.newTurn {
		return nil
	}
	if !solo {
		e.write(protocol.NewCommand(protocol.Summary, e.prevSummary...))
	}
	if len(e.prevTooltips) > 0 {
		tips := protocol.Command{Key: protocol.Tooltip}
		for _, t := range e.prevTooltips {
			tips.Lines = append(tips.Lines, oneLine(t.Text), strconv.Itoa(t.Player))
		}
		e.write(tips)
	}
	return nil
}

func (e *Engine) dumpParams() {
	e.write(protocol.Command{Key: protocol.UInput, Lines: sortedParams(e.params)})
}

func (e *Engine) dumpMetadata() error {
	raw, err := json.Marshal(e.metadata)
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	e.write(protocol.Command{Key: protocol.Metadata, Lines: []string{string(raw)}})
	return nil
}

func (e *Engine) dumpScores() {
	e.write(protocol.Command{Key: protocol.Scores, Lines: e.ScoreBoard()})
}

// oneLine keeps tooltip text on a single line so text and player stay paired.
func oneLine(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }), " ")
}
