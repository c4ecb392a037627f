package sql

import "strings"

// statement is one SQL statement and the 1-based line it starts on.
type statement struct {
	text string
	line int
}

// split breaks a script on top-level semicolons. Semicolons inside quotes,
// comments and CREATE TRIGGER bodies do not end a statement. Empty
// statements are dropped.
func split(script string) []statement {
	var (
		out   []statement
		buf   strings.Builder
		line  = 1
		start = 0
		depth int
	)

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text != "" && !onlyComments(text) {
			out = append(out, statement{text: text, line: start})
		}
		buf.Reset()
		start = 0
	}

	rs := []rune(script)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		if start == 0 && !isSpace(c) {
			start = line
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			j := i + 1
			for j < len(rs) {
				if rs[j] == c {
					if j+1 < len(rs) && rs[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j >= len(rs) {
				j = len(rs) - 1
			}
			for _, q := range rs[i : j+1] {
				if q == '\n' {
					line++
				}
			}
			buf.WriteString(string(rs[i : j+1]))
			i = j
			continue

		case c == '-' && i+1 < len(rs) && rs[i+1] == '-':
			j := i
			for j < len(rs) && rs[j] != '\n' {
				j++
			}
			buf.WriteString(string(rs[i:j]))
			i = j - 1
			continue

		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			j := i + 2
			for j < len(rs) && !(rs[j-1] == '*' && rs[j] == '/' && j > i+2) {
				j++
			}
			if j >= len(rs) {
				j = len(rs) - 1
			}
			for _, q := range rs[i : j+1] {
				if q == '\n' {
					line++
				}
			}
			buf.WriteString(string(rs[i : j+1]))
			i = j
			continue

		case c == ';' && depth == 0:
			flush()
			continue
		}

		if c == '\n' {
			line++
		}
		buf.WriteRune(c)

		if isWordStart(rs, i) {
			word := readWord(rs, i)
			switch strings.ToUpper(word) {
			case "BEGIN":
				if isTrigger(buf.String()) {
					depth++
				}
			case "CASE":
				if depth > 0 {
					depth++
				}
			case "END":
				if depth > 0 {
					depth--
				}
			}
		}
	}
	flush()
	return out
}

func isSpace(c rune) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdent(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isWordStart(rs []rune, i int) bool {
	return isIdent(rs[i]) && (i == 0 || !isIdent(rs[i-1]))
}

func readWord(rs []rune, i int) string {
	j := i
	for j < len(rs) && isIdent(rs[j]) {
		j++
	}
	return string(rs[i:j])
}

func isTrigger(prefix string) bool {
	fields := strings.Fields(strings.ToUpper(prefix))
	for i, f := range fields {
		if f == "TRIGGER" && i > 0 {
			return true
		}
	}
	return false
}

func onlyComments(text string) bool {
	return stripLeadingComments(text) == ""
}

// returnsRows reports whether a statement produces a result set.
func returnsRows(stmt string) bool {
	upper := strings.ToUpper(stripLeadingComments(stmt))
	for _, kw := range []string{"SELECT", "WITH", "PRAGMA", "VALUES", "EXPLAIN"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return strings.Contains(upper, " RETURNING ")
}

// modifiesRows reports whether a statement has a meaningful change count.
func modifiesRows(stmt string) bool {
	upper := strings.ToUpper(stripLeadingComments(stmt))
	for _, kw := range []string{"INSERT", "UPDATE", "DELETE", "REPLACE"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

func stripLeadingComments(stmt string) string {
	s := strings.TrimSpace(stmt)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = strings.TrimSpace(s[i+1:])
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = strings.TrimSpace(s[i+2:])
		default:
			return s
		}
	}
}
