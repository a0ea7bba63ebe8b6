// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package esmscan

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type kind uint8

const (
	kindIdent kind = iota + 1
	kindPrivate
	kindString
	kindTemplate
	kindNumber
	kindRegexp
	kindPunct
)

// scope is the kind of an open bracket.
type scope uint8

const (
	scopeParen scope = iota + 1
	scopeHeader
	scopeParams
	scopeBracket
	scopeBlock
	scopeObject
	scopeFunction // function or class body
	scopeArrow
)

// token is a lexical token, carrying just enough context to locate
// top-level declarations. The depth is the bracket nesting level the token
// sits at, with closing brackets reported at the level of their opener.
type token struct {
	text   string
	pos    int
	end    int
	depth  int
	kind   kind
	in     scope // innermost open bracket
	closes scope // set on closing brackets
	nl     bool  // preceded by a line terminator
	fn     bool  // within a function or class, excluding arrow functions
	arrow  bool  // within an arrow function body
}

// punctuators, longest first within each length class
var punctuators = [...]string{
	">>>=",
	"...", "===", "!==", "**=", "<<=", ">>=", ">>>", "&&=", "||=", "??=",
	"=>", "==", "!=", "<=", ">=", "&&", "||", "??", "?.", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "**", "<<", ">>",
}

// keywords after which a slash starts a regular expression literal
var regexpKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true, "extends": true,
}

// keywords whose parenthesised header is followed by a statement
var headerKeywords = map[string]bool{
	"if": true, "while": true, "for": true, "with": true, "switch": true, "catch": true,
}

// keywords directly followed by a block
var blockKeywords = map[string]bool{
	"else": true, "do": true, "try": true, "finally": true,
}

type lexer struct {
	src     string
	tokens  []token
	stack   []scope
	classes []int // depths of class keywords awaiting their body
	pos     int
	depth   int
	fns     int
	arrows  int
	nl      bool
}

func tokenize(src string) ([]token, error) {
	l := lexer{src: src}
	if strings.HasPrefix(src, "#!") {
		l.skipLine()
	}
	for {
		if err := l.skipSpace(); err != nil {
			return nil, err
		}
		if l.pos >= len(l.src) {
			return l.tokens, nil
		}
		if err := l.next(); err != nil {
			return nil, err
		}
	}
}

func (l *lexer) skipLine() {
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.pos++
	}
}

func (l *lexer) skipSpace() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.nl = true
			l.pos++
		case c == ' ' || c == '\t' || c == '\r' || c == '\v' || c == '\f':
			l.pos++
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/':
			l.skipLine()
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '*':
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				return l.errorf(l.pos, "unterminated comment")
			}
			comment := l.src[l.pos : l.pos+2+end]
			if strings.ContainsAny(comment, "\n\u2028\u2029") {
				l.nl = true
			}
			l.pos += end + 4
		case c >= utf8.RuneSelf:
			r, size := utf8.DecodeRuneInString(l.src[l.pos:])
			switch {
			case r == '\u2028' || r == '\u2029':
				l.nl = true
			case r == '\uFEFF' || unicode.IsSpace(r):
			default:
				return nil
			}
			l.pos += size
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) next() error {
	start := l.pos
	c := l.src[start]
	var (
		k   kind
		end int
		err error
	)
	switch {
	case c == '"' || c == '\'':
		k = kindString
		end, err = scanString(l.src, start)
	case c == '`':
		k = kindTemplate
		end, err = scanTemplate(l.src, start)
	case isDigit(c) || (c == '.' && start+1 < len(l.src) && isDigit(l.src[start+1])):
		k = kindNumber
		end = scanNumber(l.src, start)
	case c == '#':
		k = kindPrivate
		end = scanIdent(l.src, start+1)
	case isIdentStart(l.src, start):
		k = kindIdent
		end = scanIdent(l.src, start)
	case c == '/' && l.regexpAllowed():
		k = kindRegexp
		end, err = scanRegexp(l.src, start)
	default:
		k = kindPunct
		end = start + 1
		for _, p := range punctuators {
			if strings.HasPrefix(l.src[start:], p) {
				end = start + len(p)
				break
			}
		}
		if l.src[start:end] == "?." && end < len(l.src) && isDigit(l.src[end]) {
			end = start + 1
		}
	}
	if err != nil {
		return err
	}
	if end <= start {
		return l.errorf(start, "unexpected character %q", c)
	}

	tok := token{
		text:  l.src[start:end],
		pos:   start,
		end:   end,
		depth: l.depth,
		kind:  k,
		nl:    l.nl,
	}
	switch {
	case k == kindIdent && tok.text == "class" && !l.afterDot(0) && !(l.top() == scopeObject && (l.prevIs(0, "{") || l.prevIs(0, ","))):
		l.classes = append(l.classes, l.depth)
	case k != kindPunct:
	case tok.text == "(" || tok.text == "[" || tok.text == "{":
		l.push(l.open(&tok))
	case tok.text == ")" || tok.text == "]" || tok.text == "}":
		// unbalanced input is left for the compiler to report
		if l.depth > 0 {
			l.depth--
		}
		tok.depth = l.depth
		tok.closes = l.pop()
		for n := len(l.classes); n != 0 && l.classes[n-1] > l.depth; n-- {
			l.classes = l.classes[:n-1]
		}
	}
	tok.in = l.top()
	tok.fn = l.fns != 0
	tok.arrow = l.arrows != 0
	l.tokens = append(l.tokens, tok)
	l.pos = end
	l.nl = false
	return nil
}

// open classifies the bracket tok opens, from the tokens before it.
func (l *lexer) open(tok *token) scope {
	switch tok.text {
	case "[":
		return scopeBracket
	case "(":
		switch {
		case l.prevIs(0, "function"),
			l.prevIs(0, "*") && l.prevIs(1, "function"),
			l.prevKind(0, kindIdent) && (l.prevIs(1, "function") || l.prevIs(1, "*") && l.prevIs(2, "function")):
			return scopeParams
		case l.prevKind(0, kindIdent) && headerKeywords[l.prev(0).text] && !l.afterDot(1),
			l.prevIs(0, "await") && l.prevIs(1, "for"):
			return scopeHeader
		}
		return scopeParen
	}

	if n := len(l.classes); n != 0 && l.classes[n-1] == l.depth {
		l.classes = l.classes[:n-1]
		return scopeFunction
	}
	prev := l.prev(0)
	switch {
	case prev == nil:
		return scopeBlock
	case prev.kind == kindIdent:
		if blockKeywords[prev.text] {
			return scopeBlock
		}
	case prev.kind != kindPunct:
	case prev.text == ")":
		switch {
		case prev.closes == scopeHeader:
			return scopeBlock
		case prev.closes == scopeParams:
			return scopeFunction
		case tok.nl:
			return scopeBlock
		default:
			// method, getter or setter
			return scopeFunction
		}
	case prev.text == "=>":
		return scopeArrow
	case prev.text == ";" || prev.text == "{" || prev.text == "}":
		return scopeBlock
	case prev.text == ":":
		if in := l.top(); in != scopeObject && in != scopeParen && in != scopeBracket && l.labelOrCase() {
			return scopeBlock
		}
	}
	return scopeObject
}

// labelOrCase reports whether the trailing colon ends a case clause or a
// label, rather than the consequent of a conditional expression.
func (l *lexer) labelOrCase() bool {
	for n := 1; ; n++ {
		t := l.prev(n)
		switch {
		case t == nil || t.depth < l.depth:
			return n == 2
		case t.depth > l.depth:
		case t.kind == kindIdent && (t.text == "case" || t.text == "default") && !l.afterDot(n+1):
			return true
		case t.kind == kindPunct && (t.text == ";" || t.text == "}"):
			return n == 2
		case t.kind == kindPunct && t.text == "?":
			return false
		}
	}
}

func (l *lexer) push(s scope) {
	l.depth++
	l.stack = append(l.stack, s)
	switch s {
	case scopeParams, scopeFunction:
		l.fns++
	case scopeArrow:
		l.arrows++
	}
}

func (l *lexer) pop() scope {
	if len(l.stack) == 0 {
		return 0
	}
	s := l.stack[len(l.stack)-1]
	l.stack = l.stack[:len(l.stack)-1]
	switch s {
	case scopeParams, scopeFunction:
		l.fns--
	case scopeArrow:
		l.arrows--
	}
	return s
}

func (l *lexer) top() scope {
	if len(l.stack) == 0 {
		return 0
	}
	return l.stack[len(l.stack)-1]
}

// prev returns the nth token back from the end, or nil.
func (l *lexer) prev(n int) *token {
	if i := len(l.tokens) - 1 - n; i >= 0 {
		return &l.tokens[i]
	}
	return nil
}

func (l *lexer) prevIs(n int, text string) bool {
	t := l.prev(n)
	return t != nil && t.kind != kindString && t.text == text
}

func (l *lexer) prevKind(n int, k kind) bool {
	t := l.prev(n)
	return t != nil && t.kind == k
}

// afterDot reports whether the nth token back is a property name.
func (l *lexer) afterDot(n int) bool {
	return l.prevIs(n, ".") || l.prevIs(n, "?.")
}

// regexpAllowed resolves the division / regular expression ambiguity using
// the previous token, and the bracket it closes.
func (l *lexer) regexpAllowed() bool {
	prev := l.prev(0)
	if prev == nil {
		return true
	}
	switch prev.kind {
	case kindIdent:
		return regexpKeywords[prev.text] && !l.afterDot(1)
	case kindPunct:
		switch prev.text {
		case ")":
			return prev.closes == scopeHeader
		case "}":
			return prev.closes != scopeObject
		case "]", "++", "--":
			return false
		}
		return true
	default:
		return false
	}
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return newSyntaxError(l.src, pos, format, args...)
}

func scanString(src string, start int) (int, error) {
	quote := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case quote:
			return i + 1, nil
		case '\n', '\r':
			return 0, newSyntaxError(src, start, "unterminated string literal")
		}
	}
	return 0, newSyntaxError(src, start, "unterminated string literal")
}

func scanTemplate(src string, start int) (int, error) {
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '`':
			return i + 1, nil
		case '$':
			if i+1 < len(src) && src[i+1] == '{' {
				end, err := skipSubstitution(src, i+2)
				if err != nil {
					return 0, err
				}
				i = end - 1
			}
		}
	}
	return 0, newSyntaxError(src, start, "unterminated template literal")
}

// skipSubstitution returns the offset just past the brace closing a template
// substitution that starts at i.
func skipSubstitution(src string, i int) (int, error) {
	start := i
	depth := 0
	for i < len(src) {
		switch c := src[i]; {
		case c == '"' || c == '\'':
			end, err := scanString(src, i)
			if err != nil {
				return 0, err
			}
			i = end
		case c == '`':
			end, err := scanTemplate(src, i)
			if err != nil {
				return 0, err
			}
			i = end
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return 0, newSyntaxError(src, i, "unterminated comment")
			}
			i += end + 4
		case c == '{':
			depth++
			i++
		case c == '}':
			if depth == 0 {
				return i + 1, nil
			}
			depth--
			i++
		default:
			i++
		}
	}
	return 0, newSyntaxError(src, start, "unterminated template substitution")
}

func scanNumber(src string, start int) int {
	hex := len(src) > start+1 && src[start] == '0' && (src[start+1] == 'x' || src[start+1] == 'X')
	i := start
	for i < len(src) {
		c := src[i]
		switch {
		case isIdentByte(c) || c == '.':
		case (c == '+' || c == '-') && !hex && i > start && (src[i-1] == 'e' || src[i-1] == 'E'):
		default:
			return i
		}
		i++
	}
	return i
}

func scanRegexp(src string, start int) (int, error) {
	inClass := false
	i := start + 1
	for ; ; i++ {
		if i >= len(src) || src[i] == '\n' || src[i] == '\r' {
			return 0, newSyntaxError(src, start, "unterminated regular expression literal")
		}
		c := src[i]
		if c == '\\' {
			i++
			continue
		}
		if c == '[' {
			inClass = true
		} else if c == ']' {
			inClass = false
		} else if c == '/' && !inClass {
			i++
			break
		}
	}
	for i < len(src) && isIdentByte(src[i]) {
		i++
	}
	return i, nil
}

func scanIdent(src string, start int) int {
	i := start
	for i < len(src) {
		c := src[i]
		switch {
		case isIdentByte(c):
			i++
		case c == '\\':
			i = skipUnicodeEscape(src, i)
		case c >= utf8.RuneSelf:
			r, size := utf8.DecodeRuneInString(src[i:])
			if !isIdentRune(r) {
				return i
			}
			i += size
		default:
			return i
		}
	}
	return i
}

func skipUnicodeEscape(src string, i int) int {
	// \uXXXX or \u{X...}
	i += 2
	if i < len(src) && src[i] == '{' {
		if end := strings.IndexByte(src[i:], '}'); end >= 0 {
			return i + end + 1
		}
		return len(src)
	}
	return min(i+4, len(src))
}

func isIdentStart(src string, i int) bool {
	c := src[i]
	switch {
	case c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		return true
	case c == '\\':
		return i+1 < len(src) && src[i+1] == 'u'
	case c >= utf8.RuneSelf:
		r, _ := utf8.DecodeRuneInString(src[i:])
		return unicode.IsLetter(r) || unicode.Is(unicode.Nl, r) || unicode.Is(unicode.Other_ID_Start, r)
	}
	return false
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) ||
		unicode.In(r, unicode.Mn, unicode.Mc, unicode.Nl, unicode.Pc, unicode.Other_ID_Start, unicode.Other_ID_Continue) ||
		r == '\u200C' || r == '\u200D'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
