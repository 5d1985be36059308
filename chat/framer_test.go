package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func lines(bs [][]byte) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, string(b))
	}
	return out
}

func TestFramerFeed(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		prompts [][]byte
		chunks  []string
		want    []string
	}{
		{
			name:   "single line",
			size:   64,
			chunks: []string{"OK\r"},
			want:   []string{"OK"},
		},
		{
			name:   "line feed filtered",
			size:   64,
			chunks: []string{"\r\nOK\r\n"},
			want:   []string{"", "OK"},
		},
		{
			name:   "line split over chunks",
			size:   64,
			chunks: []string{"+CSQ: 2", "1,9", "9\r"},
			want:   []string{"+CSQ: 21,99"},
		},
		{
			name:   "several lines in one chunk",
			size:   64,
			chunks: []string{"+CGMM\rSIM800\rOK\r"},
			want:   []string{"+CGMM", "SIM800", "OK"},
		},
		{
			name:   "partial line kept",
			size:   64,
			chunks: []string{"OK\rERR"},
			want:   []string{"OK"},
		},
		{
			name:    "prompt without delimiter",
			size:    64,
			prompts: [][]byte{[]byte("> ")},
			chunks:  []string{"\r\n", ">", " "},
			want:    []string{"", "> "},
		},
		{
			name:   "overlong line dropped",
			size:   8,
			chunks: []string{"0123456789ABC\rHI\r"},
			want:   []string{"HI"},
		},
		{
			name:   "line filling buffer exactly",
			size:   8,
			chunks: []string{"0123456\r"},
			want:   []string{"0123456"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFramer(tt.size, []byte("\r"), []byte("\n"), tt.prompts)
			var got []string
			for _, chunk := range tt.chunks {
				got = append(got, lines(f.feed([]byte(chunk)))...)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFramerOverflow(t *testing.T) {
	f := newFramer(4, []byte("\r\n"), nil, nil)

	assert.Empty(t, f.feed([]byte("ABCDEFG\r")))
	assert.Equal(t, 1, f.overflows)
	assert.True(t, f.discarding)

	assert.Equal(t, []string{"OK"}, lines(f.feed([]byte("\nOK\r\n"))))
	assert.False(t, f.discarding)
}

func TestFramerReset(t *testing.T) {
	f := newFramer(16, []byte("\r"), nil, nil)

	assert.Empty(t, f.feed([]byte("stale")))
	f.reset()
	assert.Equal(t, []string{"OK"}, lines(f.feed([]byte("OK\r"))))
}
