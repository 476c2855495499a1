package generate

import (
	"fmt"
	"regexp"
	"strings"
)

var topLevelItemRe = regexp.MustCompile(`(?m)^\s*(pub\s+)?(fn|struct|enum|union|impl|trait|mod|use|static|const|type|extern|unsafe|macro_rules!|#\[|#!\[)`)

// checkSyntax is a lightweight gate for model output: balanced delimiters
// outside strings and comments, and at least one top-level item. It is not a
// parser; the compiler is the real judge. Its job is to drop output that is
// obviously truncated or not rust at all.
func checkSyntax(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("empty program")
	}
	if !topLevelItemRe.MatchString(code) {
		return fmt.Errorf("no top-level item")
	}

	var stack []byte
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}

	i := 0
	n := len(code)
	for i < n {
		c := code[i]
		switch {
		case c == '/' && i+1 < n && code[i+1] == '/':
			for i < n && code[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < n && code[i+1] == '*':
			depth := 1
			i += 2
			for i < n && depth > 0 {
				if i+1 < n && code[i] == '/' && code[i+1] == '*' {
					depth++
					i += 2
				} else if i+1 < n && code[i] == '*' && code[i+1] == '/' {
					depth--
					i += 2
				} else {
					i++
				}
			}
			continue
		case c == 'r' && i+1 < n && (code[i+1] == '"' || code[i+1] == '#'):
			if skip, ok := skipRawString(code[i:]); ok {
				i += skip
				continue
			}
			i++
			continue
		case c == '"':
			i++
			for i < n {
				if code[i] == '\\' {
					i += 2
					continue
				}
				if code[i] == '"' {
					i++
					break
				}
				i++
			}
			continue
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, c)
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return fmt.Errorf("unbalanced %q at offset %d", c, i)
			}
			stack = stack[:len(stack)-1]
		}
		i++
	}
	if len(stack) != 0 {
		return fmt.Errorf("%d unclosed delimiters", len(stack))
	}
	return nil
}

// skipRawString measures a rust raw string literal r"..." / r#"..."# at the
// start of s. Returns (length, true) on a well-formed literal.
func skipRawString(s string) (int, bool) {
	if len(s) < 2 || s[0] != 'r' {
		return 0, false
	}
	hashes := 0
	i := 1
	for i < len(s) && s[i] == '#' {
		hashes++
		i++
	}
	if i >= len(s) || s[i] != '"' {
		return 0, false
	}
	i++
	closer := `"` + strings.Repeat("#", hashes)
	end := strings.Index(s[i:], closer)
	if end < 0 {
		return 0, false
	}
	return i + end + len(closer), true
}
