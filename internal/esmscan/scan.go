// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package esmscan

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	// NamespaceName is the import name used for `* as ns` bindings and
	// `export * as ns from` re-exports.
	NamespaceName = "*"

	// DefaultName is the export name of a module's default export.
	DefaultName = "default"

	// DefaultLocal is the local binding that holds an anonymous default
	// export (`export default <expression>`).
	DefaultLocal = "__modrun_default"
)

type (
	// Module is the static structure of an ECMAScript module body.
	Module struct {
		// Body is the source with every import and export declaration
		// rewritten into plain script. Line numbers are preserved.
		Body string

		// Requests are the distinct module specifiers, in source order.
		Requests []string

		Imports         []Import
		LocalExports    []Export
		IndirectExports []IndirectExport

		// StarExports are indices into Requests for `export * from`.
		StarExports []int
	}

	// Import binds Local to the Imported export of Requests[Request].
	Import struct {
		Imported string
		Local    string
		Request  int
	}

	// Export exposes the binding Local under the name Exported.
	Export struct {
		Exported string
		Local    string
	}

	// IndirectExport re-exports the Imported export of Requests[Request]
	// under the name Exported.
	IndirectExport struct {
		Imported string
		Exported string
		Request  int
	}

	// SyntaxError reports a malformed module declaration.
	SyntaxError struct {
		Message string
		Line    int
		Column  int
	}
)

func newSyntaxError(src string, pos int, format string, args ...any) *SyntaxError {
	line := 1 + strings.Count(src[:pos], "\n")
	column := pos - strings.LastIndexByte(src[:pos], '\n')
	return &SyntaxError{
		Message: fmt.Sprintf(format, args...),
		Line:    line,
		Column:  column,
	}
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("SyntaxError: %s (%d:%d)", e.Message, e.Line, e.Column)
}

// ExportNames returns the names the module exports directly, excluding
// names reached through star exports.
func (m *Module) ExportNames() []string {
	names := make([]string, 0, len(m.LocalExports)+len(m.IndirectExports))
	for _, e := range m.LocalExports {
		names = append(names, e.Exported)
	}
	for _, e := range m.IndirectExports {
		names = append(names, e.Exported)
	}
	return names
}

type edit struct {
	text  string
	start int
	end   int
}

type parser struct {
	src      string
	toks     []token
	edits    []edit
	mod      Module
	requests map[string]int
	exported map[string]bool
	i        int
}

// Scan locates the static import and export declarations of src, which
// must be an ECMAScript module body. Dynamic import() and import.meta are
// left untouched.
func Scan(src string) (*Module, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := parser{
		src:      src,
		toks:     toks,
		requests: make(map[string]int),
		exported: make(map[string]bool),
	}
	if err := p.moduleScope(); err != nil {
		return nil, err
	}
	for p.i < len(p.toks) {
		t := p.toks[p.i]
		if t.depth != 0 || t.kind != kindIdent || p.afterDot() {
			p.i++
			continue
		}
		switch t.text {
		case "import":
			if n := p.peek(1); n != nil && (n.text == "(" || n.text == ".") {
				p.i++
				continue
			}
			err = p.parseImport()
		case "export":
			err = p.parseExport()
		default:
			p.i++
		}
		if err != nil {
			return nil, err
		}
	}
	p.mod.Body = p.apply()
	return &p.mod, nil
}

// moduleScope rejects return statements outside of functions, and rewrites
// the module-level this to undefined.
func (p *parser) moduleScope() error {
	for i, t := range p.toks {
		if t.kind != kindIdent || t.fn || p.propertyName(i) {
			continue
		}
		switch t.text {
		case "return":
			if !t.arrow {
				return newSyntaxError(p.src, t.pos, "illegal return statement")
			}
		case "this":
			p.edits = append(p.edits, edit{start: t.pos, end: t.end, text: "undefined"})
		}
	}
	return nil
}

// propertyName reports whether the ith token names a property rather than
// referencing a binding.
func (p *parser) propertyName(i int) bool {
	if i > 0 && (p.toks[i-1].text == "." || p.toks[i-1].text == "?.") {
		return true
	}
	if p.toks[i].in != scopeObject || i == 0 || i+1 == len(p.toks) {
		return false
	}
	switch p.toks[i-1].text {
	case "{", ",", "get", "set", "async", "*":
		next := p.toks[i+1].text
		return next == ":" || next == "("
	}
	return false
}

func (p *parser) afterDot() bool {
	if p.i == 0 {
		return false
	}
	prev := p.toks[p.i-1].text
	return prev == "." || prev == "?."
}

func (p *parser) peek(n int) *token {
	if p.i+n < len(p.toks) {
		return &p.toks[p.i+n]
	}
	return nil
}

func (p *parser) cur() *token { return p.peek(0) }

func (p *parser) is(text string) bool {
	t := p.cur()
	return t != nil && t.kind != kindString && t.text == text
}

func (p *parser) errorf(format string, args ...any) error {
	pos := len(p.src)
	if t := p.cur(); t != nil {
		pos = t.pos
	}
	return newSyntaxError(p.src, pos, format, args...)
}

func (p *parser) expect(text string) error {
	if !p.is(text) {
		return p.unexpected(text)
	}
	p.i++
	return nil
}

func (p *parser) unexpected(want string) error {
	t := p.cur()
	if t == nil {
		return p.errorf("unexpected end of input, expected %s", want)
	}
	return p.errorf("unexpected token %s, expected %s", t.text, want)
}

func (p *parser) ident() (string, error) {
	t := p.cur()
	if t == nil || t.kind != kindIdent {
		return "", p.unexpected("identifier")
	}
	p.i++
	return t.text, nil
}

// moduleExportName accepts an identifier or a string literal.
func (p *parser) moduleExportName() (string, bool, error) {
	t := p.cur()
	if t != nil && t.kind == kindString {
		p.i++
		s, err := unquote(t.text)
		if err != nil {
			return "", false, p.errorf("invalid string literal %s", t.text)
		}
		return s, true, nil
	}
	name, err := p.ident()
	return name, false, err
}

func (p *parser) request(specifier string) int {
	if idx, ok := p.requests[specifier]; ok {
		return idx
	}
	idx := len(p.mod.Requests)
	p.requests[specifier] = idx
	p.mod.Requests = append(p.mod.Requests, specifier)
	return idx
}

// fromClause parses `from "specifier"` plus any import attributes.
func (p *parser) fromClause() (int, error) {
	if err := p.expect("from"); err != nil {
		return 0, err
	}
	return p.specifier()
}

func (p *parser) specifier() (int, error) {
	t := p.cur()
	if t == nil || t.kind != kindString {
		return 0, p.unexpected("module specifier")
	}
	p.i++
	s, err := unquote(t.text)
	if err != nil {
		return 0, p.errorf("invalid module specifier %s", t.text)
	}
	idx := p.request(s)
	if (p.is("with") || p.is("assert")) && !p.cur().nl {
		if n := p.peek(1); n != nil && n.text == "{" {
			p.i++
			p.skipBalanced()
		}
	}
	return idx, nil
}

// skipBalanced skips from an opening bracket to just past its closer.
func (p *parser) skipBalanced() {
	depth := p.cur().depth
	for p.i++; p.i < len(p.toks); p.i++ {
		t := p.toks[p.i]
		if t.depth == depth && (t.text == "}" || t.text == "]" || t.text == ")") && t.kind == kindPunct {
			p.i++
			return
		}
	}
}

// finish consumes an optional semicolon and blanks the declaration.
func (p *parser) finish(start int) {
	if p.is(";") {
		p.i++
	}
	end := p.toks[p.i-1].end
	p.edits = append(p.edits, edit{start: start, end: end, text: lineBreaks(p.src[start:end])})
}

func (p *parser) parseImport() error {
	start := p.cur().pos
	p.i++

	if t := p.cur(); t != nil && t.kind == kindString {
		if _, err := p.specifier(); err != nil {
			return err
		}
		p.finish(start)
		return nil
	}

	var bindings []Import
	clause := true
	if t := p.cur(); t != nil && t.kind == kindIdent && !(t.text == "from" && p.peek(1) != nil && p.peek(1).kind == kindString) {
		bindings = append(bindings, Import{Imported: DefaultName, Local: t.text})
		p.i++
		if clause = p.is(","); clause {
			p.i++
		}
	}

	if clause {
		switch {
		case p.is("*"):
			p.i++
			if err := p.expect("as"); err != nil {
				return err
			}
			local, err := p.ident()
			if err != nil {
				return err
			}
			bindings = append(bindings, Import{Imported: NamespaceName, Local: local})
		case p.is("{"):
			err := p.namedList(func(name string, _ bool, alias string) error {
				bindings = append(bindings, Import{Imported: name, Local: alias})
				return nil
			})
			if err != nil {
				return err
			}
		default:
			return p.unexpected("import clause")
		}
	}

	idx, err := p.fromClause()
	if err != nil {
		return err
	}
	for _, b := range bindings {
		b.Request = idx
		p.mod.Imports = append(p.mod.Imports, b)
	}
	p.finish(start)
	return nil
}

// namedList parses `{ a, b as c, "d" as e }`, calling fn with the name,
// whether the name was a string literal, and its alias.
func (p *parser) namedList(fn func(name string, quoted bool, alias string) error) error {
	if err := p.expect("{"); err != nil {
		return err
	}
	for !p.is("}") {
		name, quoted, err := p.moduleExportName()
		if err != nil {
			return err
		}
		alias := name
		if p.is("as") {
			p.i++
			if alias, _, err = p.moduleExportName(); err != nil {
				return err
			}
		}
		if err := fn(name, quoted, alias); err != nil {
			return err
		}
		if !p.is(",") {
			break
		}
		p.i++
	}
	return p.expect("}")
}

func (p *parser) addExport(exported, local string) error {
	if p.exported[exported] {
		return p.errorf("duplicate export %q", exported)
	}
	p.exported[exported] = true
	p.mod.LocalExports = append(p.mod.LocalExports, Export{Exported: exported, Local: local})
	return nil
}

func (p *parser) addIndirect(e IndirectExport) error {
	if p.exported[e.Exported] {
		return p.errorf("duplicate export %q", e.Exported)
	}
	p.exported[e.Exported] = true
	p.mod.IndirectExports = append(p.mod.IndirectExports, e)
	return nil
}

func (p *parser) parseExport() error {
	start := p.cur().pos
	p.i++
	t := p.cur()
	if t == nil {
		return p.unexpected("export declaration")
	}

	switch {
	case p.is("*"):
		p.i++
		if p.is("as") {
			p.i++
			name, _, err := p.moduleExportName()
			if err != nil {
				return err
			}
			idx, err := p.fromClause()
			if err != nil {
				return err
			}
			if err := p.addIndirect(IndirectExport{Imported: NamespaceName, Exported: name, Request: idx}); err != nil {
				return err
			}
		} else {
			idx, err := p.fromClause()
			if err != nil {
				return err
			}
			p.mod.StarExports = append(p.mod.StarExports, idx)
		}
		p.finish(start)
		return nil

	case p.is("{"):
		type entry struct {
			name, alias string
			quoted      bool
		}
		var entries []entry
		err := p.namedList(func(name string, quoted bool, alias string) error {
			entries = append(entries, entry{name: name, alias: alias, quoted: quoted})
			return nil
		})
		if err != nil {
			return err
		}
		if p.is("from") {
			idx, err := p.fromClause()
			if err != nil {
				return err
			}
			for _, e := range entries {
				if err := p.addIndirect(IndirectExport{Imported: e.name, Exported: e.alias, Request: idx}); err != nil {
					return err
				}
			}
		} else {
			for _, e := range entries {
				if e.quoted {
					return p.errorf("string literal %q cannot be used as a local export", e.name)
				}
				if err := p.addExport(e.alias, e.name); err != nil {
					return err
				}
			}
		}
		p.finish(start)
		return nil

	case p.is("default"):
		p.i++
		return p.parseExportDefault(start)

	case p.is("var"), p.is("let"), p.is("const"):
		p.blank(start, t.pos)
		p.i++
		return p.declarators(t.depth)

	case p.is("function"), p.is("async"), p.is("class"):
		name, ok := p.declarationName()
		if !ok {
			return p.unexpected("declaration name")
		}
		p.blank(start, t.pos)
		return p.addExport(name, name)
	}

	return p.unexpected("export declaration")
}

func (p *parser) parseExportDefault(start int) error {
	t := p.cur()
	if t == nil {
		return p.unexpected("expression")
	}
	if p.is("function") || p.is("async") || p.is("class") {
		if name, ok := p.declarationName(); ok {
			p.blank(start, t.pos)
			return p.addExport(DefaultName, name)
		}
	}
	p.edits = append(p.edits, edit{
		start: start,
		end:   t.pos,
		text:  "const " + DefaultLocal + " = " + lineBreaks(p.src[start:t.pos]),
	})
	if p.is("function") || p.is("async") || p.is("class") {
		// the expression ends with its body, which must not continue into
		// the next line
		if end, ok := p.bodyEnd(t.depth); ok {
			p.edits = append(p.edits, edit{start: end, end: end, text: ";"})
		}
	}
	return p.addExport(DefaultName, DefaultLocal)
}

// bodyEnd skips past the body of the function or class expression at the
// current token, returning the offset just past its closing brace.
func (p *parser) bodyEnd(depth int) (int, bool) {
	if p.is("async") {
		if n := p.peek(1); n == nil || n.text != "function" || n.nl {
			return 0, false
		}
	}
	for ; p.i < len(p.toks); p.i++ {
		if t := p.cur(); t.depth == depth && t.kind == kindPunct && t.text == "{" {
			p.skipBalanced()
			return p.toks[p.i-1].end, true
		}
	}
	return 0, false
}

// declarationName peeks the bound name of a function or class declaration
// starting at the current token, without consuming anything.
func (p *parser) declarationName() (string, bool) {
	j := p.i
	at := func(n int) *token {
		if j+n < len(p.toks) {
			return &p.toks[j+n]
		}
		return nil
	}
	if t := at(0); t != nil && t.text == "async" && t.kind == kindIdent {
		if n := at(1); n == nil || n.text != "function" || n.nl {
			return "", false
		}
		j++
	}
	switch t := at(0); {
	case t == nil:
		return "", false
	case t.text == "function":
		j++
		if n := at(0); n != nil && n.text == "*" {
			j++
		}
	case t.text == "class":
		j++
	default:
		return "", false
	}
	if n := at(0); n != nil && n.kind == kindIdent && n.text != "extends" {
		return n.text, true
	}
	return "", false
}

func (p *parser) blank(start, end int) {
	p.edits = append(p.edits, edit{start: start, end: end, text: lineBreaks(p.src[start:end])})
}

// declarators collects the names bound by a variable declaration list,
// leaving the parser on the first token past the declaration.
func (p *parser) declarators(depth int) error {
	for {
		names, err := p.bindingPattern()
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := p.addExport(name, name); err != nil {
				return err
			}
		}
		if p.is("=") {
			p.i++
			p.skipInitializer(depth)
		}
		if !p.is(",") || p.cur().depth != depth {
			return nil
		}
		p.i++
	}
}

// skipInitializer advances past an initializer expression, stopping at a
// declarator comma, a semicolon, or a line break where automatic semicolon
// insertion would end the statement.
func (p *parser) skipInitializer(depth int) {
	for ; p.i < len(p.toks); p.i++ {
		t := p.toks[p.i]
		if t.depth < depth {
			return
		}
		if t.depth != depth {
			continue
		}
		if t.kind == kindPunct && (t.text == "," || t.text == ";") {
			return
		}
		if t.nl && p.i > 0 && endsExpression(p.toks[p.i-1]) && startsStatement(t) {
			return
		}
	}
}

func endsExpression(t token) bool {
	switch t.kind {
	case kindIdent, kindPrivate, kindString, kindTemplate, kindNumber, kindRegexp:
		return true
	}
	return t.text == ")" || t.text == "]" || t.text == "}" || t.text == "++" || t.text == "--"
}

func startsStatement(t token) bool {
	if t.kind == kindIdent {
		switch t.text {
		case "in", "instanceof", "of":
			return false
		}
		return true
	}
	return t.kind == kindString || t.kind == kindNumber || t.text == "{" || t.text == "++" || t.text == "--" || t.text == "!" || t.text == "~"
}

// bindingPattern returns the identifiers bound by an identifier, object or
// array binding pattern.
func (p *parser) bindingPattern() ([]string, error) {
	t := p.cur()
	switch {
	case t == nil:
		return nil, p.unexpected("binding")
	case t.kind == kindIdent:
		p.i++
		return []string{t.text}, nil
	case p.is("{"):
		return p.objectPattern()
	case p.is("["):
		return p.arrayPattern()
	}
	return nil, p.unexpected("binding")
}

func (p *parser) objectPattern() ([]string, error) {
	inner := p.cur().depth + 1
	p.i++
	var names []string
	for !p.is("}") {
		if p.is("...") {
			p.i++
			rest, err := p.bindingPattern()
			if err != nil {
				return nil, err
			}
			names = append(names, rest...)
		} else {
			key := p.cur()
			if key == nil {
				return nil, p.unexpected("}")
			}
			shorthand := key.kind == kindIdent
			if p.is("[") {
				shorthand = false
				p.skipBalanced()
			} else {
				p.i++
			}
			if p.is(":") {
				p.i++
				bound, err := p.bindingPattern()
				if err != nil {
					return nil, err
				}
				names = append(names, bound...)
			} else if shorthand {
				names = append(names, key.text)
			} else {
				return nil, p.unexpected(":")
			}
		}
		if p.is("=") {
			p.i++
			p.skipInitializer(inner)
		}
		if !p.is(",") {
			break
		}
		p.i++
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	return names, nil
}

func (p *parser) arrayPattern() ([]string, error) {
	inner := p.cur().depth + 1
	p.i++
	var names []string
	for !p.is("]") {
		if p.is(",") {
			p.i++
			continue
		}
		if p.is("...") {
			p.i++
		}
		bound, err := p.bindingPattern()
		if err != nil {
			return nil, err
		}
		names = append(names, bound...)
		if p.is("=") {
			p.i++
			p.skipInitializer(inner)
		}
		if !p.is(",") {
			break
		}
		p.i++
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	return names, nil
}

func (p *parser) apply() string {
	if len(p.edits) == 0 {
		return p.src
	}
	slices.SortStableFunc(p.edits, func(a, b edit) int {
		return cmp.Or(cmp.Compare(a.start, b.start), cmp.Compare(a.end, b.end))
	})
	var b strings.Builder
	b.Grow(len(p.src))
	last := 0
	for _, e := range p.edits {
		b.WriteString(p.src[last:e.start])
		b.WriteString(e.text)
		last = e.end
	}
	b.WriteString(p.src[last:])
	return b.String()
}

// lineBreaks keeps only the line feeds of s, so rewritten declarations do
// not shift the lines that follow them.
func lineBreaks(s string) string {
	return strings.Repeat("\n", strings.Count(s, "\n"))
}

func unquote(lit string) (string, error) {
	if len(lit) >= 2 && lit[0] == '\'' {
		body := lit[1 : len(lit)-1]
		body = strings.ReplaceAll(body, `\'`, `'`)
		body = strings.ReplaceAll(body, `"`, `\"`)
		lit = `"` + body + `"`
	}
	return strconv.Unquote(lit)
}
