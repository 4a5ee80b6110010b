package telegram

import (
	"html"
	"strings"
	"unicode/utf8"
)

// Telegram caps messages at ~4096 characters; chunk with a safety margin.
const MessageChunkLimit = 3500

// SplitMessage splits text into chunks of at most limit characters,
// preferring paragraph boundaries. A single paragraph longer than the
// limit is hard-sliced.
func SplitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current string

	for _, paragraph := range strings.Split(text, "\n\n") {
		for _, piece := range sliceRunes(paragraph, limit) {
			switch {
			case current == "":
				current = piece
			case utf8.RuneCountInString(current)+2+utf8.RuneCountInString(piece) <= limit:
				current += "\n\n" + piece
			default:
				chunks = append(chunks, current)
				current = piece
			}
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// sliceRunes hard-slices s into rune-safe pieces of at most limit runes.
func sliceRunes(s string, limit int) []string {
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	var pieces []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		pieces = append(pieces, string(runes[:n]))
		runes = runes[n:]
	}
	return pieces
}

var allowedTags = []string{"b", "i", "code", "blockquote"}

// SanitizeHTML escapes model output for Telegram's HTML parse mode,
// keeping only the permitted tags. Unexpected markup from the generation
// backend must never break rendering.
func SanitizeHTML(s string) string {
	s = html.EscapeString(s)
	for _, tag := range allowedTags {
		s = strings.ReplaceAll(s, "&lt;"+tag+"&gt;", "<"+tag+">")
		s = strings.ReplaceAll(s, "&lt;/"+tag+"&gt;", "</"+tag+">")
	}
	return s
}
