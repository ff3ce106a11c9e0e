package ingest

import (
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultOverlap is the overlap between consecutive chunks in characters.
	DefaultOverlap = 200
)

// splitSentences splits text into sentences on punctuation and newlines.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(text)-1 || (i+1 < len(text) && unicode.IsSpace(rune(text[i+1]))) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// chunkText groups sentences into chunks of about chunkSize characters with
// overlap characters repeated between consecutive chunks. Short texts yield
// a single chunk.
func chunkText(docID, text string, chunkSize, overlap int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	idx := 0
	start := 0

	for start < len(sentences) {
		var buf strings.Builder
		end := start
		for end < len(sentences) {
			if buf.Len() > 0 && buf.Len()+1+len(sentences[end]) > chunkSize {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(sentences[end])
			end++
		}

		chunks = append(chunks, Chunk{Text: buf.String(), Index: idx, DocID: docID})
		idx++

		// Step back far enough to repeat about overlap characters.
		overlapChars := 0
		newStart := end
		for newStart > start && overlapChars < overlap {
			newStart--
			overlapChars += len(sentences[newStart])
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}
	return chunks
}
