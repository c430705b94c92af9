package command

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestParse_SingleRecommend(t *testing.T) {
	text := `好的，我为您推荐几种音色。<<<{"action":"recommend_voice_styles","text":"Welcome to our store"}>>>`

	cmds := Parse(text)
	if len(cmds) != 1 {
		t.Fatalf("Expected 1 command, got %d", len(cmds))
	}

	if cmds[0].Kind != KindRecommendVoices {
		t.Errorf("Expected kind %s, got %s", KindRecommendVoices, cmds[0].Kind)
	}
	if cmds[0].Text != "Welcome to our store" {
		t.Errorf("Unexpected text: %q", cmds[0].Text)
	}
}

func TestParse_OrderPreserved(t *testing.T) {
	text := `先推荐<<<{"action":"recommend_voice_styles","text":"hello"}>>>` +
		`然后试听<<<{"action":"tts_preview","text":"hello","gender":"男声","voice_label":"磁性男声1"}>>>` +
		`最后确认<<<{"action":"tts_final","text":"hello","gender":"男声","voice_label":"磁性男声1"}>>>`

	cmds := Parse(text)
	if len(cmds) != 3 {
		t.Fatalf("Expected 3 commands, got %d", len(cmds))
	}

	wantKinds := []Kind{KindRecommendVoices, KindPreviewVoice, KindConfirmVoice}
	for i, k := range wantKinds {
		if cmds[i].Kind != k {
			t.Errorf("Command %d: expected kind %s, got %s", i, k, cmds[i].Kind)
		}
	}

	if cmds[1].Gender != "男声" || cmds[1].VoiceLabel != "磁性男声1" {
		t.Errorf("Preview command lost parameters: %+v", cmds[1])
	}
}

func TestParse_MalformedRegionsSkipped(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"invalid json", `<<<not json at all>>>`, 0},
		{"missing action", `<<<{"text":"hello"}>>>`, 0},
		{"unknown action", `<<<{"action":"make_coffee"}>>>`, 0},
		{"empty region", `<<<>>>`, 0},
		{"nested open marker", `<<<x<<<{"action":"tts_final"}>>>`, 0},
		{"valid after malformed", `<<<oops>>> and <<<{"action":"tts_final","text":"x","gender":"女声","voice_label":"温柔女声1"}>>>`, 1},
		{"malformed after valid", `<<<{"action":"recommend_voice_styles","text":"x"}>>> tail <<<{broken>>>`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.text); len(got) != tt.want {
				t.Errorf("Expected %d commands, got %d", tt.want, len(got))
			}
		})
	}
}

func TestParse_NoMarkers(t *testing.T) {
	if got := Parse("一段普通的回复文本，没有任何指令。"); len(got) != 0 {
		t.Errorf("Expected no commands, got %d", len(got))
	}
}

func TestParse_UnterminatedRegion(t *testing.T) {
	text := `前文 <<<{"action":"tts_final"`
	if got := Parse(text); len(got) != 0 {
		t.Errorf("Expected no commands for unterminated region, got %d", len(got))
	}
}

func TestParse_Idempotent(t *testing.T) {
	text := `<<<{"action":"recommend_voice_styles","text":"demo"}>>> 正文 <<<{"action":"tts_preview","text":"demo","gender":"女声","voice_label":"清新女声2"}>>>`

	first := Parse(text)
	second := Parse(text)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Parse not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestDisplayText_StripsAllRegions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			"well-formed stripped",
			`这是回复。<<<{"action":"recommend_voice_styles","text":"x"}>>>结尾。`,
			"这是回复。结尾。",
		},
		{
			"malformed also stripped",
			`开头<<<完全不是JSON>>>结尾`,
			"开头结尾",
		},
		{
			"multiple regions",
			`a <<<{"action":"tts_preview"}>>> b <<<junk>>> c`,
			"a  b  c",
		},
		{
			"no markers untouched",
			"纯文本回复",
			"纯文本回复",
		},
		{
			"unterminated region kept",
			"前文 <<<{half",
			"前文 <<<{half",
		},
		{
			"whitespace trimmed",
			`  <<<{"action":"tts_final"}>>>  `,
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayText(tt.text); got != tt.want {
				t.Errorf("DisplayText(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestParse_ManyRegions(t *testing.T) {
	// k well-formed and m malformed regions: exactly k commands come back and
	// the display text contains none of the raw region content.
	text := ""
	for i := 0; i < 4; i++ {
		text += fmt.Sprintf(`段落%d <<<{"action":"recommend_voice_styles","text":"t%d"}>>> `, i, i)
		text += fmt.Sprintf(`<<<broken%d>>> `, i)
	}

	cmds := Parse(text)
	if len(cmds) != 4 {
		t.Fatalf("Expected 4 commands, got %d", len(cmds))
	}
	for i, c := range cmds {
		want := fmt.Sprintf("t%d", i)
		if c.Text != want {
			t.Errorf("Command %d: expected text %q, got %q", i, want, c.Text)
		}
	}

	display := DisplayText(text)
	for _, fragment := range []string{"action", "broken", "<<<", ">>>"} {
		if strings.Contains(display, fragment) {
			t.Errorf("Display text still contains %q: %q", fragment, display)
		}
	}
}
