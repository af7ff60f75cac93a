package transform

import (
	"fmt"
	"strings"
)

type segmentKind int

const (
	segCode segmentKind = iota
	segString
	segBlockComment
	segLineComment
)

type segment struct {
	kind segmentKind
	text string
}

func (s segment) isComment() bool {
	return s.kind == segBlockComment || s.kind == segLineComment
}

// body returns the comment text without its delimiters.
func (s segment) body() string {
	switch s.kind {
	case segBlockComment:
		return strings.TrimSuffix(strings.TrimPrefix(s.text, "/*"), "*/")
	case segLineComment:
		return strings.TrimPrefix(s.text, "//")
	}
	return s.text
}

// syntax selects the lexical rules of the scanner.
type syntax struct {
	lineComments bool
	templates    bool // backtick template literals with ${} nesting
	regex        bool // regular expression literals
	cssURL       bool // unquoted url(...) is opaque
}

var (
	scriptSyntax = syntax{lineComments: true, templates: true, regex: true}
	lessSyntax   = syntax{lineComments: true, cssURL: true}
	cssSyntax    = syntax{cssURL: true}
)

// ScanError reports a lexical error with a 1-based line number.
type ScanError struct {
	Line int
	Msg  string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func scanErr(src string, pos int, msg string) error {
	return &ScanError{Line: strings.Count(src[:pos], "\n") + 1, Msg: msg}
}

// regexKeywords may directly precede a regular expression literal.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "instanceof": true, "new": true, "delete": true, "void": true,
	"throw": true, "yield": true, "await": true,
}

func isIdent(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// scan splits src into code, string and comment segments. Concatenating
// the texts of all segments reproduces src exactly.
func scan(src string, syn syntax) ([]segment, error) {
	var (
		segs    []segment
		code    strings.Builder
		stack   []int  // -1: inside a template literal; n >= 0: brace depth of a ${} expression
		braces  []bool // open braces outside templates; true for statement blocks
		lastSig byte
		prevSig byte
		word    string
		inWord  bool
	)

	sig := func(b byte) {
		prevSig, lastSig = lastSig, b
	}

	flush := func() {
		if code.Len() > 0 {
			segs = append(segs, segment{kind: segCode, text: code.String()})
			code.Reset()
		}
	}
	emit := func(kind segmentKind, text string) {
		flush()
		segs = append(segs, segment{kind: kind, text: text})
	}

	n := len(src)
	for i := 0; i < n; {
		c := src[i]

		if len(stack) > 0 && stack[len(stack)-1] == -1 {
			switch {
			case c == '\\' && i+1 < n:
				code.WriteString(src[i : i+2])
				i += 2
			case c == '`':
				code.WriteByte(c)
				stack = stack[:len(stack)-1]
				sig('`')
				inWord = false
				i++
			case c == '$' && i+1 < n && src[i+1] == '{':
				code.WriteString("${")
				stack = append(stack, 0)
				sig('{')
				inWord = false
				i += 2
			default:
				code.WriteByte(c)
				i++
			}
			continue
		}

		switch {
		case c == '/' && i+1 < n && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, scanErr(src, i, "unterminated comment")
			}
			emit(segBlockComment, src[i:i+2+end+2])
			i += end + 4

		case syn.lineComments && c == '/' && i+1 < n && src[i+1] == '/':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = n - i
			}
			emit(segLineComment, src[i:i+end])
			i += end

		case c == '"' || c == '\'':
			j, err := skipString(src, i)
			if err != nil {
				return nil, err
			}
			emit(segString, src[i:j])
			sig(c)
			inWord = false
			i = j

		case syn.templates && c == '`':
			code.WriteByte(c)
			stack = append(stack, -1)
			i++

		case syn.regex && c == '/' && regexAllowed(lastSig, word):
			j, err := skipRegex(src, i)
			if err != nil {
				return nil, err
			}
			emit(segString, src[i:j])
			sig('/')
			inWord = false
			i = j

		case syn.cssURL && (c == 'u' || c == 'U') && hasURLPrefix(src[i:]) && !inWord:
			j := strings.IndexByte(src[i:], ')')
			if j < 0 {
				return nil, scanErr(src, i, "unterminated url()")
			}
			code.WriteString(src[i : i+j+1])
			sig(')')
			inWord = false
			i += j + 1

		default:
			if len(stack) > 0 {
				top := &stack[len(stack)-1]
				if c == '{' {
					*top++
				} else if c == '}' {
					if *top == 0 {
						// Closing brace of ${...}: back inside the template.
						stack = stack[:len(stack)-1]
						code.WriteByte(c)
						i++
						continue
					}
					*top--
				}
			}

			code.WriteByte(c)
			switch {
			case isIdent(c):
				if !inWord {
					word = ""
				}
				word += string(c)
				inWord = true
				sig(c)
			case c == ' ' || c == '\t' || c == '\n' || c == '\r':
				inWord = false
			case c == '{':
				braces = append(braces, opensBlock(lastSig, prevSig, word))
				inWord = false
				word = ""
				sig(c)
			case c == '}':
				block := true
				if len(braces) > 0 {
					block = braces[len(braces)-1]
					braces = braces[:len(braces)-1]
				}
				inWord = false
				word = ""
				// A statement block ends like ';'; an object literal ends an operand.
				if block {
					sig(';')
				} else {
					sig('}')
				}
			case (c == '+' || c == '-') && lastSig == c && src[i-1] == c:
				// ++ and -- never precede a regular expression.
				inWord = false
				word = ""
				sig(')')
			default:
				inWord = false
				word = ""
				sig(c)
			}
			i++
		}
	}

	if len(stack) > 0 {
		return nil, scanErr(src, n, "unterminated template literal")
	}
	flush()
	return segs, nil
}

// hasURLPrefix reports an unquoted url( token.
func hasURLPrefix(s string) bool {
	if len(s) < 5 || !strings.EqualFold(s[:4], "url(") {
		return false
	}
	rest := strings.TrimLeft(s[4:], " \t")
	return rest != "" && rest[0] != '"' && rest[0] != '\''
}

// opensBlock reports whether a '{' preceded by lastSig starts a statement
// block rather than an object literal.
func opensBlock(lastSig, prevSig byte, word string) bool {
	switch {
	case lastSig == 0, lastSig == ')', lastSig == ';', lastSig == '{', lastSig == '}':
		return true
	case lastSig == '>' && prevSig == '=':
		return true
	case isIdent(lastSig):
		return !regexKeywords[word]
	}
	return false
}

func regexAllowed(lastSig byte, word string) bool {
	if lastSig == 0 {
		return true
	}
	if isIdent(lastSig) || lastSig == ')' || lastSig == ']' || lastSig == '}' || lastSig == '"' || lastSig == '\'' || lastSig == '`' {
		return isIdent(lastSig) && regexKeywords[word]
	}
	return true
}

func skipString(src string, start int) (int, error) {
	quote := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '\n':
			return 0, scanErr(src, start, "unterminated string")
		case quote:
			return i + 1, nil
		}
	}
	return 0, scanErr(src, start, "unterminated string")
}

func skipRegex(src string, start int) (int, error) {
	inClass := false
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '\n':
			return 0, scanErr(src, start, "unterminated regular expression")
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if !inClass {
				j := i + 1
				for j < len(src) && isIdent(src[j]) {
					j++
				}
				return j, nil
			}
		}
	}
	return 0, scanErr(src, start, "unterminated regular expression")
}

// join concatenates segment texts, replacing dropped comments by a
// separator that keeps adjacent tokens apart.
func join(segs []segment, keep func(segment) bool) string {
	var b strings.Builder
	for _, s := range segs {
		if !s.isComment() || keep(s) {
			b.WriteString(s.text)
			continue
		}
		if s.kind == segBlockComment {
			if strings.Contains(s.text, "\n") {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}
