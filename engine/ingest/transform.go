package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target number of runes per chunk.
	DefaultChunkSize = 512
	// DefaultOverlap is the number of overlapping runes between chunks.
	DefaultOverlap = 50
)

// chunkFragments groups sentence fragments into chunks of ~chunkSize runes
// with overlap. Japanese legal text has no word boundaries, so size is
// counted in runes. Fragments inside a chunk are joined with newlines.
func chunkFragments(lawNo string, fragments []string, chunkSize, overlap int) []Chunk {
	if len(fragments) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	var chunks []Chunk
	idx := 0
	start := 0

	for start < len(fragments) {
		var buf strings.Builder
		runes := 0
		end := start

		for end < len(fragments) {
			n := utf8.RuneCountInString(fragments[end])
			if runes+n > chunkSize && runes > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune('\n')
			}
			buf.WriteString(fragments[end])
			runes += n
			end++
		}

		chunks = append(chunks, Chunk{
			ID:    chunkID(lawNo, idx),
			Text:  buf.String(),
			Index: idx,
			LawNo: lawNo,
		})
		idx++

		// Move start back by the overlap amount.
		overlapRunes := 0
		newStart := end
		for newStart > start && overlapRunes < overlap {
			newStart--
			overlapRunes += utf8.RuneCountInString(fragments[newStart])
		}
		if newStart == start {
			// Ensure forward progress.
			start = end
		} else {
			start = newStart
		}
	}
	return chunks
}
