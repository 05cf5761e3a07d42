package store

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	quoted       = regexp.MustCompile(`'(?:[^']|'')*'`)
	writeKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|attach|detach|pragma|vacuum|grant|revoke|merge|copy|call|reindex|into)\b`)
)

// CheckReadOnly accepts a single SELECT or WITH statement that contains no
// data- or schema-modifying keywords outside string literals. It returns
// the statement without a trailing semicolon.
func CheckReadOnly(query string) (string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimRight(q, "; \t\r\n")
	if q == "" {
		return "", eris.New("store: empty query")
	}

	bare := quoted.ReplaceAllString(q, "''")
	bare = blockComment.ReplaceAllString(bare, " ")
	bare = lineComment.ReplaceAllString(bare, " ")
	bare = strings.TrimSpace(bare)

	if strings.Contains(bare, ";") {
		return "", eris.New("store: only a single statement is allowed")
	}
	first := strings.ToLower(strings.Fields(bare + " x")[0])
	if first != "select" && first != "with" {
		return "", eris.Errorf("store: only SELECT queries are allowed, got %s", strings.ToUpper(first))
	}
	if kw := writeKeyword.FindString(bare); kw != "" {
		return "", eris.Errorf("store: keyword %s is not allowed in a read-only query", strings.ToUpper(kw))
	}
	return q, nil
}
