package chat_test

import (
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/poloai/polochat/internal/chat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecoderFrames(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single frame",
			input: "data: hi\n",
			want:  []string{"hi"},
		},
		{
			name:  "two frames",
			input: "data: Hel\ndata: lo\n",
			want:  []string{"Hel", "lo"},
		},
		{
			name:  "unrecognized lines dropped",
			input: "event: message\n: keep-alive\n\ndata: ok\nretry: 3000\n",
			want:  []string{"ok"},
		},
		{
			name:  "empty payload kept",
			input: "data: \ndata: x\n",
			want:  []string{"", "x"},
		},
		{
			name:  "crlf terminated",
			input: "data: hi\r\ndata: there\r\n",
			want:  []string{"hi", "there"},
		},
		{
			name:  "prefix must match exactly",
			input: "data:no-space\nData: wrong-case\ndata: yes\n",
			want:  []string{"yes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := chat.NewDecoder(discardLogger())
			got := dec.Feed([]byte(tt.input))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Feed() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecoderChunkBoundaries(t *testing.T) {
	// The é and ✓ are multi-byte sequences, so small chunk sizes split them.
	input := []byte("data: Hél\ndata: lo ✓\nevent: x\ndata: end\n")
	want := []string{"Hél", "lo ✓", "end"}

	for size := 1; size <= len(input); size++ {
		dec := chat.NewDecoder(discardLogger())
		var got []string
		for start := 0; start < len(input); start += size {
			end := min(start+size, len(input))
			got = append(got, dec.Feed(input[start:end])...)
		}
		if !slices.Equal(got, want) {
			t.Errorf("chunk size %d: frames = %q, want %q", size, got, want)
		}
	}
}

func TestDecoderSplitInsidePrefix(t *testing.T) {
	dec := chat.NewDecoder(discardLogger())

	if got := dec.Feed([]byte("dat")); len(got) != 0 {
		t.Fatalf("Feed(partial prefix) = %q, want none", got)
	}
	got := dec.Feed([]byte("a: hi\n"))
	if !slices.Equal(got, []string{"hi"}) {
		t.Errorf("Feed() = %q, want [hi]", got)
	}
}

func TestDecoderHoldsUnterminatedLine(t *testing.T) {
	dec := chat.NewDecoder(discardLogger())

	if got := dec.Feed([]byte("data: par")); len(got) != 0 {
		t.Fatalf("Feed(unterminated) = %q, want none", got)
	}
	if got := dec.Feed([]byte("tial\n")); !slices.Equal(got, []string{"partial"}) {
		t.Fatalf("Feed() = %q, want [partial]", got)
	}

	dec.Feed([]byte("data: tail"))
	if got := dec.Remainder(); got != "data: tail" {
		t.Errorf("Remainder() = %q, want %q", got, "data: tail")
	}
}
