// ABOUTME: Word-bounded splitting of long transcripts into summarization chunks
// ABOUTME: Chunks hold exactly N whitespace-separated words except the last

package transcript

import "strings"

// DefaultWordsPerChunk is used when a non-positive chunk size is requested.
const DefaultWordsPerChunk = 300

// Split breaks text into chunks of wordsPerChunk words. Words are maximal runs
// of non-whitespace; each chunk joins its words with single spaces. Every chunk
// but the last holds exactly wordsPerChunk words. Text without words yields no
// chunks.
func Split(text string, wordsPerChunk int) []string {
	if wordsPerChunk < 1 {
		wordsPerChunk = DefaultWordsPerChunk
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+wordsPerChunk-1)/wordsPerChunk)
	for start := 0; start < len(words); start += wordsPerChunk {
		end := min(start+wordsPerChunk, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
