package assistant

import "testing"

func TestExtractPrompt(t *testing.T) {
	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{text: "hello @ai summarize this room", want: "summarize this room", wantOK: true},
		{text: "@ai   explain main.go  ", want: "explain main.go", wantOK: true},
		{text: "@ai", want: "", wantOK: true},
		{text: "first @ai second @ai third", want: "second @ai third", wantOK: true},
		{text: "no marker here", wantOK: false},
		{text: "@AI is not the marker", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ExtractPrompt(tt.text, "")
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("ExtractPrompt(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
			}
			if HasMarker(tt.text, DefaultMarker) != tt.wantOK {
				t.Fatalf("HasMarker(%q) disagrees with ExtractPrompt", tt.text)
			}
		})
	}
}

func TestExtractPromptCustomMarker(t *testing.T) {
	got, ok := ExtractPrompt("hey /bot do it", "/bot")
	if !ok || got != "do it" {
		t.Fatalf("got %q, %v", got, ok)
	}
}
