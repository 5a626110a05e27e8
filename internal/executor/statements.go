package executor

import "strings"

// MultipleStatements reports whether query holds more than one statement. Semicolons
// inside string literals, quoted identifiers and comments do not count, nor does a
// single trailing terminator.
func MultipleStatements(query string) bool {
	body := strings.TrimRight(strings.TrimSpace(query), "; \t\r\n")

	var quote byte

	for i := 0; i < len(body); i++ {
		c := body[i]

		switch {
		case quote != 0:
			if c == quote {
				// A doubled quote is an escaped quote
				if i+1 < len(body) && body[i+1] == quote {
					i++
					continue
				}

				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '-' && i+1 < len(body) && body[i+1] == '-':
			end := strings.IndexByte(body[i:], '\n')
			if end < 0 {
				return false
			}

			i += end
		case c == '/' && i+1 < len(body) && body[i+1] == '*':
			end := strings.Index(body[i+2:], "*/")
			if end < 0 {
				return false
			}

			i += end + 3
		case c == ';':
			return true
		}
	}

	return false
}
