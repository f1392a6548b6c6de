package decode

import "strings"

// ASCII reads wordCount words from start and unpacks each into two bytes,
// high byte first. With trim set, trailing NUL and space bytes are removed.
func ASCII(src WordSource, start, wordCount int, trim bool) (string, bool) {
	if src == nil || wordCount < 1 {
		return "", false
	}
	buf := make([]byte, 0, wordCount*2)
	for i := 0; i < wordCount; i++ {
		word, ok := src.Word(start + i)
		if !ok {
			return "", false
		}
		buf = append(buf, byte(word>>8), byte(word))
	}
	text := string(buf)
	if trim {
		text = strings.TrimRight(text, "\x00 ")
	}
	return text, true
}
