// Package command extracts structured voice-service instructions embedded in
// assistant replies. The chat model wraps JSON directives in a <<< ... >>>
// sentinel pair; everything between one open and the next close marker is a
// candidate command payload.
package command

import (
	"encoding/json"
	"strings"

	"github.com/moshengai/dubbing-gateway/internal/observability"
)

// Kind identifies a recognized command action.
type Kind string

const (
	KindRecommendVoices Kind = "recommend_voice_styles"
	KindPreviewVoice    Kind = "tts_preview"
	KindConfirmVoice    Kind = "tts_final"
)

const (
	openMarker  = "<<<"
	closeMarker = ">>>"
)

// Command is one structured instruction parsed from assistant text.
// Immutable once parsed: execution failures never mutate the command.
type Command struct {
	Kind       Kind
	Text       string
	Gender     string
	VoiceLabel string
}

type payload struct {
	Action     string `json:"action"`
	Text       string `json:"text"`
	Gender     string `json:"gender"`
	VoiceLabel string `json:"voice_label"`
}

// Parse scans text for marker-delimited regions and returns the commands they
// contain, in source order. Malformed regions are skipped with a debug log;
// a bad region never aborts the scan.
func Parse(text string) []Command {
	var cmds []Command
	logger := observability.GetLogger()

	for _, region := range regions(text) {
		var p payload
		if err := json.Unmarshal([]byte(region), &p); err != nil {
			logger.Debug().Err(err).Str("region", truncate(region, 120)).
				Msg("skipping unparsable command region")
			continue
		}

		kind, ok := recognize(p.Action)
		if !ok {
			logger.Debug().Str("action", p.Action).
				Msg("skipping command region with unrecognized action")
			continue
		}

		cmds = append(cmds, Command{
			Kind:       kind,
			Text:       p.Text,
			Gender:     p.Gender,
			VoiceLabel: p.VoiceLabel,
		})
	}

	return cmds
}

// DisplayText returns text with every marker-delimited region removed,
// whether or not it parsed, then trimmed for rendering.
func DisplayText(text string) string {
	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, openMarker)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+len(openMarker):], closeMarker)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		rest = rest[start+len(openMarker)+end+len(closeMarker):]
	}
	return strings.TrimSpace(b.String())
}

// regions returns the content of each delimited region, in source order.
// An open marker without a matching close is prose, not a region.
func regions(text string) []string {
	var out []string
	rest := text
	for {
		start := strings.Index(rest, openMarker)
		if start < 0 {
			return out
		}
		rest = rest[start+len(openMarker):]
		end := strings.Index(rest, closeMarker)
		if end < 0 {
			return out
		}
		out = append(out, rest[:end])
		rest = rest[end+len(closeMarker):]
	}
}

func recognize(action string) (Kind, bool) {
	switch Kind(action) {
	case KindRecommendVoices, KindPreviewVoice, KindConfirmVoice:
		return Kind(action), true
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
