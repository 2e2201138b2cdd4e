package chunker

import (
	"errors"
	"strconv"
	"strings"

	"localrag/internal/domain"
)

const tagPrefix = "[source: "

var ErrNoTag = errors.New("chunker: text has no provenance tag")

// Tag renders a chunk as a single string with a provenance line on top.
// The file name is Go-quoted so the pair can always be recovered by ParseTag.
func Tag(sourceFile, text string) string {
	return tagPrefix + strconv.Quote(sourceFile) + "]\n" + text
}

// Tagged is Tag applied to a chunk.
func Tagged(c domain.Chunk) string { return Tag(c.SourceFile, c.Text) }

// ParseTag splits a string produced by Tag back into (sourceFile, text).
func ParseTag(s string) (string, string, error) {
	if !strings.HasPrefix(s, tagPrefix) {
		return "", "", ErrNoTag
	}
	rest := s[len(tagPrefix):]
	quoted, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return "", "", ErrNoTag
	}
	rest = rest[len(quoted):]
	if !strings.HasPrefix(rest, "]\n") {
		return "", "", ErrNoTag
	}
	source, err := strconv.Unquote(quoted)
	if err != nil {
		return "", "", ErrNoTag
	}
	return source, rest[2:], nil
}
