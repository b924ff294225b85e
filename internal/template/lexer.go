package template

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// twoCharOps are matched before single characters.
var twoCharOps = []string{"==", "!=", "<=", ">=", "&&", "||"}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '"' || c == '\'':
			s, n, err := lexString(src[i:])
			if err != nil {
				return nil, fmt.Errorf("at %d: %w", i, err)
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
				j++
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				for j < len(src) && src[j] >= '0' && src[j] <= '9' {
					j++
				}
			}
			f, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("at %d: invalid number %q", i, src[i:j])
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], num: f, pos: i})
			i = j
		case c == '_' || c == '$' || unicode.IsLetter(c):
			j := i
			for j < len(src) {
				r := rune(src[j])
				if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		default:
			matched := false
			for _, op := range twoCharOps {
				if strings.HasPrefix(src[i:], op) {
					toks = append(toks, token{kind: tokPunct, text: op, pos: i})
					i += 2
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if !strings.ContainsRune(".[](),:{}+-*/%<>!", c) {
				return nil, fmt.Errorf("at %d: unexpected character %q", i, c)
			}
			toks = append(toks, token{kind: tokPunct, text: string(c), pos: i})
			i++
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

// lexString reads a quoted string literal and returns its value and the
// number of bytes consumed. Supports \\, \n, \t and escaped quotes.
func lexString(src string) (string, int, error) {
	quote := src[0]
	var sb strings.Builder
	for i := 1; i < len(src); i++ {
		c := src[i]
		if c == quote {
			return sb.String(), i + 1, nil
		}
		if c == '\\' && i+1 < len(src) {
			i++
			switch src[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(src[i])
			}
			continue
		}
		sb.WriteByte(c)
	}
	return "", 0, fmt.Errorf("unterminated string")
}
