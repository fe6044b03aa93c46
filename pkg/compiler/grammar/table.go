// Package grammar holds the action/goto tables that drive the parse engine,
// together with the tools that produce them: an LALR(1) builder working from
// a yacc-like rule file, an importer for Bison reports and a converter to
// and from vartan parsing tables.
package grammar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// DefaultKey is the action-row key used when no terminal-specific entry
// exists for the lookahead.
const DefaultKey = "$default"

// AcceptSymbol is the left-hand side of the augmented rule 0.
const AcceptSymbol = "$accept"

// EndSymbol is the terminal name of the synthetic end-of-input token.
const EndSymbol = "EOF"

// ErrMissingField is returned when a serialized table lacks rules, action or goto.
var ErrMissingField = errors.New("grammar table: missing field")

// ActionType is the kind of a parse action.
type ActionType string

const (
	Shift  ActionType = "shift"
	Reduce ActionType = "reduce"
	Accept ActionType = "accept"
)

// Action is one entry of the action table. To is the destination state of a
// shift, Rule the rule id of a reduce.
type Action struct {
	Type ActionType `json:"type"`
	To   int        `json:"to,omitempty"`
	Rule int        `json:"rule,omitempty"`
}

func (a Action) String() string {
	switch a.Type {
	case Shift:
		return fmt.Sprintf("shift %d", a.To)
	case Reduce:
		return fmt.Sprintf("reduce %d", a.Rule)
	default:
		return string(a.Type)
	}
}

// Rule is a grammar production as stored in the table.
type Rule struct {
	LHS    string   `json:"lhs"`
	RHS    []string `json:"rhs"`
	RHSLen int      `json:"rhsLen"`
}

// Signature returns "lhs: a b c", the key reduction hooks dispatch on.
func (r Rule) Signature() string {
	sig := r.LHS + ":"
	for _, s := range r.RHS {
		sig += " " + s
	}
	return sig
}

// Table is a complete LR parse table.
type Table struct {
	Rules  []Rule                    `json:"rules"`
	Action map[int]map[string]Action `json:"action"`
	Goto   map[int]map[string]int    `json:"goto"`
}

// Lookup returns the action for (state, terminal), falling back to the
// state's default action.
func (t *Table) Lookup(state int, terminal string) (Action, bool) {
	row, ok := t.Action[state]
	if !ok {
		return Action{}, false
	}
	if act, ok := row[terminal]; ok {
		return act, true
	}
	act, ok := row[DefaultKey]
	return act, ok
}

// Expected lists the terminals that have an explicit action in state, sorted.
func (t *Table) Expected(state int) []string {
	row := t.Action[state]
	names := make([]string, 0, len(row))
	for name := range row {
		if name == DefaultKey {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GotoState returns the goto target for (state, nonterminal).
func (t *Table) GotoState(state int, nonterminal string) (int, bool) {
	row, ok := t.Goto[state]
	if !ok {
		return 0, false
	}
	next, ok := row[nonterminal]
	return next, ok
}

// RuleAt returns rule id, or false if it is out of range.
func (t *Table) RuleAt(id int) (Rule, bool) {
	if id < 0 || id >= len(t.Rules) {
		return Rule{}, false
	}
	return t.Rules[id], true
}

// StateCount returns the number of states with an action row.
func (t *Table) StateCount() int {
	return len(t.Action)
}

// Decode reads a JSON table. All three top-level fields must be present.
func Decode(r io.Reader) (*Table, error) {
	var raw struct {
		Rules  []Rule                    `json:"rules"`
		Action map[int]map[string]Action `json:"action"`
		Goto   map[int]map[string]int    `json:"goto"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("grammar table: %w", err)
	}

	switch {
	case raw.Rules == nil:
		return nil, fmt.Errorf("%w: rules", ErrMissingField)
	case raw.Action == nil:
		return nil, fmt.Errorf("%w: action", ErrMissingField)
	case raw.Goto == nil:
		return nil, fmt.Errorf("%w: goto", ErrMissingField)
	}

	for i := range raw.Rules {
		if raw.Rules[i].RHS == nil {
			raw.Rules[i].RHS = []string{}
		}
	}

	return &Table{Rules: raw.Rules, Action: raw.Action, Goto: raw.Goto}, nil
}

// LoadFile reads a JSON table from path.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open grammar table %s: %w", path, err)
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load grammar table %s: %w", path, err)
	}
	return t, nil
}

// WriteJSON writes the table in the same shape Decode reads.
func (t *Table) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}
