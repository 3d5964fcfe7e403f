package analyzer

import (
	"regexp"
	"strings"
)

// UnknownFile is reported for log entries that do not name a file.
const UnknownFile = "unknown"

// LogEntry is one error found in an application log.
type LogEntry struct {
	File string `json:"file"`
	Log  string `json:"log"`
}

var filePattern = regexp.MustCompile(`File: ([^,\n]+)`)

// ParseErrorLog splits a log into blank-line separated entries and returns
// the ones mentioning ERROR, each with the file named by its "File: " field.
func ParseErrorLog(content string) []LogEntry {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var entries []LogEntry
	for _, chunk := range strings.Split(content, "\n\n") {
		if !strings.Contains(chunk, "ERROR") {
			continue
		}
		file := UnknownFile
		if m := filePattern.FindStringSubmatch(chunk); m != nil {
			file = strings.TrimSpace(m[1])
		}
		entries = append(entries, LogEntry{File: file, Log: strings.Trim(chunk, "\n")})
	}
	return entries
}
