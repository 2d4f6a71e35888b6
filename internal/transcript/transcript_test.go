package transcript

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "w" + strings.Repeat("x", i%3)
	}
	return strings.Join(w, " ")
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		n          int
		wantChunks int
		lastWords  int
	}{
		{"empty", "", 300, 0, 0},
		{"only whitespace", " \n\t ", 300, 0, 0},
		{"under one chunk", words(10), 300, 1, 10},
		{"exact multiple", words(900), 300, 3, 300},
		{"remainder", words(901), 300, 4, 1},
		{"chunk of one", words(3), 1, 3, 1},
		{"non-positive size uses default", words(301), 0, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split(tt.text, tt.n)
			require.Len(t, chunks, tt.wantChunks)
			if tt.wantChunks == 0 {
				return
			}
			size := tt.n
			if size < 1 {
				size = DefaultWordsPerChunk
			}
			for _, c := range chunks[:len(chunks)-1] {
				assert.Len(t, strings.Fields(c), size)
			}
			assert.Len(t, strings.Fields(chunks[len(chunks)-1]), tt.lastWords)
		})
	}
}

func TestSplit_RoundTrip(t *testing.T) {
	text := "  Olá,\tmundo!\n\nEste   é um teste   de divisão  em blocos.  "
	for _, n := range []int{1, 2, 3, 5, 100} {
		chunks := Split(text, n)
		assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")), "n=%d", n)
		for _, c := range chunks {
			assert.NotEmpty(t, c)
		}
	}
}

func TestCleanVTT(t *testing.T) {
	vtt := "WEBVTT\n" +
		"Kind: captions\n" +
		"Language: pt\n" +
		"\n" +
		"1\n" +
		"00:00:00.000 --> 00:00:02.500 align:start position:0%\n" +
		"Olá <c>pessoal</c>\n" +
		"\n" +
		"2\n" +
		"00:00:02,500 --> 00:00:05,000\n" +
		"{\\an8}bem-vindos ao canal\n" +
		"[Música]\n" +
		"<00:00:03.000>\n" +
		"\n"

	assert.Equal(t, "Olá pessoal bem-vindos ao canal", CleanVTT(vtt))
}

func TestCleanVTT_Empty(t *testing.T) {
	assert.Equal(t, "", CleanVTT("WEBVTT\nKind: captions\nLanguage: en\n\n"))
}

// fakeYTDLP writes the given subtitle files into the output directory taken
// from the -o argument and prints the id/title line.
func fakeYTDLP(id, title string, files map[string]string, runErr error) runFunc {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if runErr != nil {
			return nil, runErr
		}
		i := slices.Index(args, "-o")
		if i < 0 || i+1 >= len(args) {
			return nil, errors.New("missing -o")
		}
		dir := filepath.Dir(args[i+1])
		for suffix, content := range files {
			if err := os.WriteFile(filepath.Join(dir, id+suffix), []byte(content), 0644); err != nil {
				return nil, err
			}
		}
		return []byte(id + "\t" + title + "\n"), nil
	}
}

func newTestSource(t *testing.T, run runFunc) *YTDLPSource {
	t.Helper()
	s := NewYTDLPSource("yt-dlp", t.TempDir(), nil)
	s.run = run
	return s
}

func TestYTDLPSource_PrefersPortuguese(t *testing.T) {
	s := newTestSource(t, fakeYTDLP("vid1", "Aula de Go", map[string]string{
		".en.vtt":    "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\nhello\n",
		".pt-BR.vtt": "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\nolá\n",
	}, nil))

	tr, err := s.Fetch(t.Context(), "https://youtu.be/vid1")
	require.NoError(t, err)
	assert.Equal(t, "Aula de Go", tr.Title)
	assert.Equal(t, "olá", tr.Text)
}

func TestYTDLPSource_FallsBackToEnglishThenAny(t *testing.T) {
	s := newTestSource(t, fakeYTDLP("vid2", "Talk", map[string]string{
		".en.vtt": "WEBVTT\n\nhello world\n",
	}, nil))
	tr, err := s.Fetch(t.Context(), "u")
	require.NoError(t, err)
	assert.Equal(t, "hello world", tr.Text)

	s = newTestSource(t, fakeYTDLP("vid3", "Talk", map[string]string{
		".es.vtt": "WEBVTT\n\nhola\n",
	}, nil))
	tr, err = s.Fetch(t.Context(), "u")
	require.NoError(t, err)
	assert.Equal(t, "hola", tr.Text)
}

func TestYTDLPSource_NoSubtitlesKeepsTitle(t *testing.T) {
	s := newTestSource(t, fakeYTDLP("vid4", "Silent film", nil, nil))

	tr, err := s.Fetch(t.Context(), "u")
	require.NoError(t, err)
	assert.Empty(t, tr.Text)
	assert.Equal(t, "Silent film", tr.Title)
}

func TestYTDLPSource_CommandFailure(t *testing.T) {
	s := newTestSource(t, fakeYTDLP("", "", nil, errors.New("exit status 1: Video unavailable")))

	_, err := s.Fetch(t.Context(), "u")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestYTDLPSource_RemovesDownloads(t *testing.T) {
	s := newTestSource(t, fakeYTDLP("vid5", "T", map[string]string{".pt.vtt": "WEBVTT\n\noi\n"}, nil))

	_, err := s.Fetch(t.Context(), "u")
	require.NoError(t, err)

	entries, err := os.ReadDir(s.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "per-fetch directory is removed")
}

func TestStaticSource(t *testing.T) {
	src := StaticSource{"a": {Text: "t", Title: "T"}}

	tr, err := src.Fetch(t.Context(), "a")
	require.NoError(t, err)
	assert.Equal(t, "T", tr.Title)

	_, err = src.Fetch(t.Context(), "b")
	assert.ErrorIs(t, err, ErrUnavailable)
}
