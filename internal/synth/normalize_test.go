package synth

import "testing"

func TestNormalizeResultURL(t *testing.T) {
	const base = "http://tts.example.com:9000"

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"relative with slash", "/audio/a.wav", base + "/audio/a.wav"},
		{"relative without slash", "audio/a.wav", base + "/audio/a.wav"},
		{"absolute passthrough", "https://cdn.example.net/a.mp3", "https://cdn.example.net/a.mp3"},
		{
			"cloudflare host rewritten",
			"https://abc.cloudflare.example.dev/audio/a.mp3",
			base + "/audio/a.mp3",
		},
		{
			"cloudflare host keeps query",
			"https://xyz.trycloudflare.com/audio/a.wav?sig=123",
			base + "/audio/a.wav?sig=123",
		},
		{"service own absolute untouched", base + "/audio/b.mp3", base + "/audio/b.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeResultURL(tt.raw, base); got != tt.want {
				t.Errorf("NormalizeResultURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeResultURL_TrailingSlashBase(t *testing.T) {
	got := NormalizeResultURL("/audio/a.mp3", "http://tts:9000/")
	if got != "http://tts:9000/audio/a.mp3" {
		t.Errorf("Expected single slash join, got %q", got)
	}
}

func TestNormalizeResult_BothVariants(t *testing.T) {
	r := &Result{WAVURL: "/a.wav", MP3URL: "https://q.cloudflare.net/a.mp3"}
	normalizeResult(r, "http://tts:9000")

	if r.WAVURL != "http://tts:9000/a.wav" {
		t.Errorf("WAV not rebased: %q", r.WAVURL)
	}
	if r.MP3URL != "http://tts:9000/a.mp3" {
		t.Errorf("MP3 not rewritten: %q", r.MP3URL)
	}
}
