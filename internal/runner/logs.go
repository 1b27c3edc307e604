package runner

import (
	"os"
	"unicode/utf8"
)

const noLogs = "No Logs"

// asciiOnly decodes text as UTF-8 and drops every rune outside ASCII.
func asciiOnly(text []byte) []byte {
	out := make([]byte, 0, len(text))
	for len(text) > 0 {
		r, size := utf8.DecodeRune(text)
		if size == 1 && r < utf8.RuneSelf {
			out = append(out, byte(r))
		}
		text = text[size:]
	}
	return out
}

// writeLog replaces the log file with the ASCII subset of text.
func writeLog(path string, text []byte) error {
	return os.WriteFile(path, asciiOnly(text), 0o644)
}
