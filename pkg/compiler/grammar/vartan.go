package grammar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	vspec "github.com/nihei9/vartan/spec"
)

// Vartan numbers symbols and productions from 1; index 0 is the nil entry
// of every symbol and production array and 0 means "no action" in the flat
// action and goto arrays. A shift is stored as the negated target state, a
// reduce as the production number, and accepting as a reduce by the start
// production on the end-of-input terminal.
const (
	vartanNil             = ""
	vartanEOF             = 1
	vartanStartProduction = 1
)

// ErrVartanTable is returned for a vartan parsing table that does not fit
// the rules it is paired with.
var ErrVartanTable = errors.New("vartan parsing table")

// ToVartan converts t into a vartan compiled grammar carrying only the
// parsing table. Default reductions are expanded over every terminal, and
// the shift of the end symbol into the accepting state becomes a reduce by
// the start production.
func ToVartan(t *Table, name string) (*vspec.CompiledGrammar, error) {
	if len(t.Rules) == 0 {
		return nil, fmt.Errorf("%w: no rules", ErrVartanTable)
	}
	if r := t.Rules[0]; r.LHS != AcceptSymbol || r.RHSLen != 2 || r.RHS[1] != EndSymbol {
		return nil, fmt.Errorf("%w: rule 0 is %q, want %s: <start> %s", ErrVartanTable, r.Signature(), AcceptSymbol, EndSymbol)
	}

	terms, nonterms := t.symbols()
	ntID := indexOf(nonterms)

	states := 0
	for s := range t.Action {
		states = max(states, s+1)
	}
	for s := range t.Goto {
		states = max(states, s+1)
	}

	accepting := make(map[int]bool)
	for s, row := range t.Action {
		for _, act := range row {
			if act.Type == Accept {
				accepting[s] = true
			}
		}
	}

	pt := &vspec.ParsingTable{
		Action:                  make([]int, states*len(terms)),
		GoTo:                    make([]int, states*len(nonterms)),
		StateCount:              states,
		InitialState:            0,
		StartProduction:         vartanStartProduction,
		LHSSymbols:              make([]int, len(t.Rules)+1),
		AlternativeSymbolCounts: make([]int, len(t.Rules)+1),
		Terminals:               terms,
		TerminalCount:           len(terms),
		NonTerminals:            nonterms,
		NonTerminalCount:        len(nonterms),
		EOFSymbol:               vartanEOF,
	}
	for i, r := range t.Rules {
		pt.LHSSymbols[i+1] = ntID[r.LHS]
		pt.AlternativeSymbolCounts[i+1] = r.RHSLen
	}
	// The end symbol is implicit in vartan's start production.
	pt.AlternativeSymbolCounts[vartanStartProduction] = 1

	for s := 0; s < states; s++ {
		for ti := vartanEOF; ti < len(terms); ti++ {
			act, ok := t.Lookup(s, terms[ti])
			if !ok {
				continue
			}
			var code int
			switch act.Type {
			case Shift:
				if act.To <= 0 {
					return nil, fmt.Errorf("%w: state %d shifts %s into state %d", ErrVartanTable, s, terms[ti], act.To)
				}
				code = -act.To
				if ti == vartanEOF && accepting[act.To] {
					code = vartanStartProduction
				}
			case Reduce:
				code = act.Rule + 1
			case Accept:
				if ti == vartanEOF {
					code = vartanStartProduction
				}
			}
			pt.Action[s*len(terms)+ti] = code
		}
		for ni := 1; ni < len(nonterms); ni++ {
			if next, ok := t.GotoState(s, nonterms[ni]); ok {
				pt.GoTo[s*len(nonterms)+ni] = next
			}
		}
	}

	return &vspec.CompiledGrammar{Name: name, ParsingTable: pt}, nil
}

// symbols lists the terminals and nonterminals of t in vartan order: the nil
// entry, then the end symbol or the accept symbol, then the rest sorted.
func (t *Table) symbols() (terms, nonterms []string) {
	isNonterm := make(map[string]bool)
	for _, r := range t.Rules {
		isNonterm[r.LHS] = true
	}
	termSet := make(map[string]bool)
	for _, r := range t.Rules {
		for _, s := range r.RHS {
			if !isNonterm[s] {
				termSet[s] = true
			}
		}
	}
	for _, row := range t.Action {
		for name := range row {
			if name != DefaultKey {
				termSet[name] = true
			}
		}
	}

	terms = []string{vartanNil, EndSymbol}
	terms = append(terms, sortedExcept(termSet, EndSymbol)...)
	nonterms = []string{vartanNil, AcceptSymbol}
	nonterms = append(nonterms, sortedExcept(isNonterm, AcceptSymbol)...)
	return terms, nonterms
}

func sortedExcept(set map[string]bool, skip string) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		if name != skip {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func indexOf(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}

// FromVartan pairs a vartan parsing table with rules, whose rule i is
// vartan production i+1 and whose rule 0 is "$accept: <start> EOF". The
// table's end-of-input terminal is renamed EOF, and a row whose reductions
// all use one rule gets a $default entry, as Build produces.
func FromVartan(cg *vspec.CompiledGrammar, rules []Rule) (*Table, error) {
	if cg == nil || cg.ParsingTable == nil {
		return nil, fmt.Errorf("%w: parsing_table", ErrMissingField)
	}
	pt := cg.ParsingTable
	if err := checkVartan(pt, rules); err != nil {
		return nil, err
	}

	t := &Table{
		Rules:  rules,
		Action: make(map[int]map[string]Action, pt.StateCount),
		Goto:   make(map[int]map[string]int, pt.StateCount),
	}
	for s := 0; s < pt.StateCount; s++ {
		row := make(map[string]Action)
		for ti := 1; ti < pt.TerminalCount; ti++ {
			code := pt.Action[s*pt.TerminalCount+ti]
			name := pt.Terminals[ti]
			if ti == pt.EOFSymbol {
				name = EndSymbol
			}
			switch {
			case code < 0:
				row[name] = Action{Type: Shift, To: -code}
			case code == pt.StartProduction:
				row[name] = Action{Type: Accept}
			case code > 0:
				row[name] = Action{Type: Reduce, Rule: code - 1}
			}
		}
		collapseDefault(row)
		t.Action[s] = row

		gotoRow := make(map[string]int)
		for ni := 1; ni < pt.NonTerminalCount; ni++ {
			if next := pt.GoTo[s*pt.NonTerminalCount+ni]; next != 0 {
				gotoRow[pt.NonTerminals[ni]] = next
			}
		}
		t.Goto[s] = gotoRow
	}
	return t, nil
}

func checkVartan(pt *vspec.ParsingTable, rules []Rule) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrVartanTable, fmt.Sprintf(format, args...))
	}

	switch {
	case pt.InitialState != 0:
		return bad("initial state %d, want 0", pt.InitialState)
	case pt.StartProduction != vartanStartProduction:
		return bad("start production %d, want %d", pt.StartProduction, vartanStartProduction)
	case len(pt.Terminals) != pt.TerminalCount || len(pt.NonTerminals) != pt.NonTerminalCount:
		return bad("symbol counts do not match the symbol names")
	case pt.EOFSymbol <= 0 || pt.EOFSymbol >= pt.TerminalCount:
		return bad("end-of-input terminal %d out of range", pt.EOFSymbol)
	case len(pt.Action) != pt.StateCount*pt.TerminalCount:
		return bad("action has %d entries, want %d", len(pt.Action), pt.StateCount*pt.TerminalCount)
	case len(pt.GoTo) != pt.StateCount*pt.NonTerminalCount:
		return bad("goto has %d entries, want %d", len(pt.GoTo), pt.StateCount*pt.NonTerminalCount)
	case len(pt.LHSSymbols) != len(rules)+1 || len(pt.AlternativeSymbolCounts) != len(rules)+1:
		return bad("%d productions for %d rules", len(pt.LHSSymbols)-1, len(rules))
	case len(rules) == 0 || rules[0].LHS != AcceptSymbol || rules[0].RHSLen != 2:
		return bad("rule 0 must be %s: <start> %s", AcceptSymbol, EndSymbol)
	}

	for p := 1; p < len(pt.LHSSymbols); p++ {
		r := rules[p-1]
		lhs, n := pt.LHSSymbols[p], pt.AlternativeSymbolCounts[p]
		if lhs <= 0 || lhs >= pt.NonTerminalCount {
			return bad("production %d has left-hand side %d", p, lhs)
		}
		if p == pt.StartProduction {
			if n != r.RHSLen-1 {
				return bad("start production has %d symbols, want %d", n, r.RHSLen-1)
			}
			continue
		}
		if pt.NonTerminals[lhs] != r.LHS || n != r.RHSLen {
			return bad("production %d is %s/%d, rule %d is %q", p, pt.NonTerminals[lhs], n, p-1, r.Signature())
		}
	}

	for i, code := range pt.Action {
		if code >= len(pt.LHSSymbols) || -code >= pt.StateCount {
			return bad("action %d at state %d is out of range", code, i/pt.TerminalCount)
		}
	}
	for i, next := range pt.GoTo {
		if next < 0 || next >= pt.StateCount {
			return bad("goto %d at state %d is out of range", next, i/pt.NonTerminalCount)
		}
	}
	return nil
}

// DecodeVartan reads a vartan compiled grammar as JSON and pairs its parsing
// table with rules.
func DecodeVartan(r io.Reader, rules []Rule) (*Table, error) {
	var cg vspec.CompiledGrammar
	if err := json.NewDecoder(r).Decode(&cg); err != nil {
		return nil, fmt.Errorf("vartan grammar: %w", err)
	}
	return FromVartan(&cg, rules)
}

// WriteVartan writes t as a vartan compiled grammar named name.
func (t *Table) WriteVartan(w io.Writer, name string) error {
	cg, err := ToVartan(t, name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cg)
}
