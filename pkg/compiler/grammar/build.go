package grammar

import (
	"fmt"
	"sort"
	"strings"
)

// ConflictKind distinguishes the two LR conflict classes.
type ConflictKind string

const (
	ShiftReduce  ConflictKind = "shift/reduce"
	ReduceReduce ConflictKind = "reduce/reduce"
)

// Conflict records a table cell that had two candidate actions. Resolution
// follows Bison: shift beats reduce, the lower rule beats the higher one.
type Conflict struct {
	Kind    ConflictKind
	State   int
	Symbol  string
	Chosen  Action
	Dropped Action
}

func (c Conflict) String() string {
	return fmt.Sprintf("state %d: %s conflict on %s (%s chosen over %s)", c.State, c.Kind, c.Symbol, c.Chosen, c.Dropped)
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	defaultReductions bool
}

// WithoutDefaultReductions keeps every reduction keyed by its lookahead
// instead of collapsing single-rule states into a $default entry.
func WithoutDefaultReductions() BuildOption {
	return func(c *buildConfig) {
		c.defaultReductions = false
	}
}

type prod struct {
	lhs int
	rhs []int
}

type item struct {
	prod int
	dot  int
}

type lrState struct {
	kernel []item
	index  map[item]int
	la     []symset
	trans  map[int]int
	order  []int
}

type builder struct {
	names    []string
	ids      map[string]int
	terminal []bool
	prods    []prod
	byLHS    map[int][]int
	nullable []bool
	first    []symset
	states   []*lrState
}

// Build constructs an LALR(1) table for g: an LR(0) automaton whose kernel
// items receive lookaheads by propagation until a fixed point.
func Build(g *Grammar, opts ...BuildOption) (*Table, []Conflict, error) {
	cfg := buildConfig{defaultReductions: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	b, err := newBuilder(g)
	if err != nil {
		return nil, nil, err
	}
	b.computeFirst()
	b.buildLR0()
	b.propagate()
	table, conflicts := b.emit(cfg)
	return table, conflicts, nil
}

func newBuilder(g *Grammar) (*builder, error) {
	if len(g.Productions) == 0 {
		return nil, fmt.Errorf("grammar has no productions")
	}

	b := &builder{ids: make(map[string]int), byLHS: make(map[int][]int)}
	intern := func(name string) int {
		if id, ok := b.ids[name]; ok {
			return id
		}
		b.ids[name] = len(b.names)
		b.names = append(b.names, name)
		return b.ids[name]
	}

	isLHS := map[string]bool{}
	for _, p := range g.Productions {
		switch p.LHS {
		case AcceptSymbol, EndSymbol:
			return nil, fmt.Errorf("reserved symbol %s used as rule name", p.LHS)
		}
		isLHS[p.LHS] = true
	}
	start := g.Start
	if start == "" {
		start = g.Productions[0].LHS
	}
	if !isLHS[start] {
		return nil, fmt.Errorf("start symbol %s has no rules", start)
	}

	acc := intern(AcceptSymbol)
	b.prods = append(b.prods, prod{lhs: acc, rhs: []int{intern(start), intern(EndSymbol)}})
	for _, p := range g.Productions {
		pr := prod{lhs: intern(p.LHS), rhs: make([]int, len(p.RHS))}
		for i, s := range p.RHS {
			pr.rhs[i] = intern(s)
		}
		b.prods = append(b.prods, pr)
	}

	b.terminal = make([]bool, len(b.names))
	for id, name := range b.names {
		b.terminal[id] = name != AcceptSymbol && !isLHS[name]
	}
	for i, p := range b.prods {
		b.byLHS[p.lhs] = append(b.byLHS[p.lhs], i)
	}
	return b, nil
}

func (b *builder) computeFirst() {
	n := len(b.names)
	b.nullable = make([]bool, n)
	b.first = make([]symset, n)
	for i := range b.first {
		b.first[i] = newSymset(n)
		if b.terminal[i] {
			b.first[i].add(i)
		}
	}

	for changed := true; changed; {
		changed = false
		for _, p := range b.prods {
			all := true
			for _, s := range p.rhs {
				if b.first[p.lhs].union(b.first[s]) {
					changed = true
				}
				if !b.nullable[s] {
					all = false
					break
				}
			}
			if all && !b.nullable[p.lhs] {
				b.nullable[p.lhs] = true
				changed = true
			}
		}
	}
}

// firstOf returns FIRST(seq · la).
func (b *builder) firstOf(seq []int, la symset) symset {
	out := newSymset(len(b.names))
	for _, s := range seq {
		out.union(b.first[s])
		if !b.nullable[s] {
			return out
		}
	}
	out.union(la)
	return out
}

func (b *builder) next(it item) (int, bool) {
	p := b.prods[it.prod]
	if it.dot >= len(p.rhs) {
		return 0, false
	}
	return p.rhs[it.dot], true
}

func (b *builder) closure0(kernel []item) []item {
	items := append([]item(nil), kernel...)
	seen := make(map[item]bool, len(kernel))
	for _, it := range kernel {
		seen[it] = true
	}
	for i := 0; i < len(items); i++ {
		s, ok := b.next(items[i])
		if !ok || b.terminal[s] {
			continue
		}
		for _, pi := range b.byLHS[s] {
			ni := item{prod: pi}
			if !seen[ni] {
				seen[ni] = true
				items = append(items, ni)
			}
		}
	}
	return items
}

func kernelKey(kernel []item) string {
	var sb strings.Builder
	for _, it := range kernel {
		fmt.Fprintf(&sb, "%d.%d,", it.prod, it.dot)
	}
	return sb.String()
}

func (b *builder) addState(kernel []item, byKey map[string]int) int {
	sort.Slice(kernel, func(i, j int) bool {
		if kernel[i].prod != kernel[j].prod {
			return kernel[i].prod < kernel[j].prod
		}
		return kernel[i].dot < kernel[j].dot
	})
	key := kernelKey(kernel)
	if id, ok := byKey[key]; ok {
		return id
	}

	st := &lrState{
		kernel: kernel,
		index:  make(map[item]int, len(kernel)),
		la:     make([]symset, len(kernel)),
		trans:  make(map[int]int),
	}
	for i, it := range kernel {
		st.index[it] = i
		st.la[i] = newSymset(len(b.names))
	}
	byKey[key] = len(b.states)
	b.states = append(b.states, st)
	return byKey[key]
}

func (b *builder) buildLR0() {
	byKey := make(map[string]int)
	b.addState([]item{{prod: 0, dot: 0}}, byKey)
	b.states[0].la[0].add(b.ids[EndSymbol])

	for si := 0; si < len(b.states); si++ {
		groups := make(map[int][]item)
		var order []int
		for _, it := range b.closure0(b.states[si].kernel) {
			s, ok := b.next(it)
			if !ok {
				continue
			}
			if _, seen := groups[s]; !seen {
				order = append(order, s)
			}
			groups[s] = append(groups[s], item{prod: it.prod, dot: it.dot + 1})
		}
		for _, s := range order {
			target := b.addState(groups[s], byKey)
			b.states[si].trans[s] = target
			b.states[si].order = append(b.states[si].order, s)
		}
	}
}

// closure1 expands a state's kernel with lookaheads. The returned slice keeps
// insertion order so table emission is deterministic.
func (b *builder) closure1(st *lrState) ([]item, map[item]symset) {
	items := append([]item(nil), st.kernel...)
	las := make(map[item]symset, len(items))
	for i, it := range st.kernel {
		las[it] = st.la[i].clone()
	}

	work := append([]item(nil), items...)
	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]

		s, ok := b.next(it)
		if !ok || b.terminal[s] {
			continue
		}
		f := b.firstOf(b.prods[it.prod].rhs[it.dot+1:], las[it])
		for _, pi := range b.byLHS[s] {
			ni := item{prod: pi}
			cur, exists := las[ni]
			if !exists {
				las[ni] = f.clone()
				items = append(items, ni)
				work = append(work, ni)
				continue
			}
			if cur.union(f) {
				work = append(work, ni)
			}
		}
	}
	return items, las
}

func (b *builder) propagate() {
	for changed := true; changed; {
		changed = false
		for _, st := range b.states {
			items, las := b.closure1(st)
			for _, it := range items {
				s, ok := b.next(it)
				if !ok {
					continue
				}
				target := b.states[st.trans[s]]
				idx := target.index[item{prod: it.prod, dot: it.dot + 1}]
				if target.la[idx].union(las[it]) {
					changed = true
				}
			}
		}
	}
}

func (b *builder) emit(cfg buildConfig) (*Table, []Conflict) {
	t := &Table{
		Rules:  make([]Rule, len(b.prods)),
		Action: make(map[int]map[string]Action, len(b.states)),
		Goto:   make(map[int]map[string]int, len(b.states)),
	}
	for i, p := range b.prods {
		rhs := make([]string, len(p.rhs))
		for j, s := range p.rhs {
			rhs[j] = b.names[s]
		}
		t.Rules[i] = Rule{LHS: b.names[p.lhs], RHS: rhs, RHSLen: len(rhs)}
	}

	var conflicts []Conflict
	for si, st := range b.states {
		row := make(map[string]Action)
		gotoRow := make(map[string]int)
		t.Action[si] = row
		t.Goto[si] = gotoRow

		for _, s := range st.order {
			if b.terminal[s] {
				row[b.names[s]] = Action{Type: Shift, To: st.trans[s]}
			} else {
				gotoRow[b.names[s]] = st.trans[s]
			}
		}

		items, las := b.closure1(st)
		for _, it := range items {
			if it.dot != len(b.prods[it.prod].rhs) {
				continue
			}
			if it.prod == 0 {
				row[DefaultKey] = Action{Type: Accept}
				continue
			}
			red := Action{Type: Reduce, Rule: it.prod}
			for _, la := range las[it].members() {
				name := b.names[la]
				existing, ok := row[name]
				switch {
				case !ok:
					row[name] = red
				case existing.Type == Shift:
					conflicts = append(conflicts, Conflict{Kind: ShiftReduce, State: si, Symbol: name, Chosen: existing, Dropped: red})
				case existing.Type == Reduce && existing.Rule != red.Rule:
					chosen, dropped := existing, red
					if red.Rule < existing.Rule {
						chosen, dropped = red, existing
						row[name] = red
					}
					conflicts = append(conflicts, Conflict{Kind: ReduceReduce, State: si, Symbol: name, Chosen: chosen, Dropped: dropped})
				}
			}
		}

		if cfg.defaultReductions {
			collapseDefault(row)
		}
	}
	return t, conflicts
}

// collapseDefault replaces the reduce entries of a row with a single $default
// entry when they all name the same rule.
func collapseDefault(row map[string]Action) {
	if _, ok := row[DefaultKey]; ok {
		return
	}
	rule := -1
	for _, act := range row {
		if act.Type != Reduce {
			continue
		}
		if rule >= 0 && act.Rule != rule {
			return
		}
		rule = act.Rule
	}
	if rule < 0 {
		return
	}
	for name, act := range row {
		if act.Type == Reduce {
			delete(row, name)
		}
	}
	row[DefaultKey] = Action{Type: Reduce, Rule: rule}
}

// symset is a fixed-size bit set over symbol ids.
type symset []uint64

func newSymset(n int) symset {
	return make(symset, (n+63)/64)
}

func (s symset) add(i int) bool {
	w, bit := i/64, uint64(1)<<(uint(i)%64)
	if s[w]&bit != 0 {
		return false
	}
	s[w] |= bit
	return true
}

func (s symset) union(o symset) bool {
	changed := false
	for i := range s {
		merged := s[i] | o[i]
		if merged != s[i] {
			s[i] = merged
			changed = true
		}
	}
	return changed
}

func (s symset) clone() symset {
	return append(symset(nil), s...)
}

func (s symset) members() []int {
	var out []int
	for w, word := range s {
		for bit := 0; bit < 64; bit++ {
			if word&(uint64(1)<<uint(bit)) != 0 {
				out = append(out, w*64+bit)
			}
		}
	}
	return out
}
