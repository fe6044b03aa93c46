package grammar

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	bisonRuleHead  = regexp.MustCompile(`^(\d+)\s+([$\w][\w$]*)\s*:\s*(.*)$`)
	bisonRuleAlt   = regexp.MustCompile(`^(\d+)\s+\|\s*(.*)$`)
	bisonState     = regexp.MustCompile(`^State\s+(\d+)`)
	bisonAccept    = regexp.MustCompile(`^\s*\$end\s+accept\b`)
	bisonDefRed    = regexp.MustCompile(`^\s*\$default\s+reduce\s+using\s+rule\s+(\d+)\b`)
	bisonDefAccept = regexp.MustCompile(`^\s*\$default\s+accept\b`)
	bisonShift     = regexp.MustCompile(`^\s*([A-Z_][A-Z0-9_]*|\$end)\s+shift,\s+and\s+go\s+to\s+state\s+(\d+)\b`)
	bisonReduce    = regexp.MustCompile(`^\s*([A-Z_][A-Z0-9_]*|\$end)\s+reduce\s+using\s+rule\s+(\d+)\b`)
	bisonGoto      = regexp.MustCompile(`^\s*([$\w][\w$]*)\s+go\s+to\s+state\s+(\d+)\b`)
	terminalName   = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

// bisonName maps Bison's end marker to the name the lexer emits.
func bisonName(name string) string {
	if name == "$end" {
		return EndSymbol
	}
	return name
}

func splitRHS(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "ε" || raw == "%empty" {
		return []string{}
	}
	fields := strings.Fields(raw)
	for i, f := range fields {
		fields[i] = bisonName(f)
	}
	return fields
}

// ParseBisonReport reads the report Bison writes with --report=state
// (grammar.output) and rebuilds its action and goto tables. Terminals are
// the upper-case names; everything else is a nonterminal.
func ParseBisonReport(r io.Reader) (*Table, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.ReplaceAll(sc.Text(), "\t", " "))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bison report: %w", err)
	}

	rules, err := parseBisonRules(lines)
	if err != nil {
		return nil, err
	}

	t := &Table{
		Rules:  rules,
		Action: make(map[int]map[string]Action),
		Goto:   make(map[int]map[string]int),
	}

	state := -1
	for _, line := range lines {
		if m := bisonState.FindStringSubmatch(line); m != nil {
			state, _ = strconv.Atoi(m[1])
			t.Action[state] = make(map[string]Action)
			t.Goto[state] = make(map[string]int)
			continue
		}
		if state < 0 {
			continue
		}

		switch {
		case bisonAccept.MatchString(line):
			t.Action[state][EndSymbol] = Action{Type: Accept}
		case bisonDefRed.MatchString(line):
			m := bisonDefRed.FindStringSubmatch(line)
			rule, _ := strconv.Atoi(m[1])
			t.Action[state][DefaultKey] = Action{Type: Reduce, Rule: rule}
		case bisonDefAccept.MatchString(line):
			t.Action[state][DefaultKey] = Action{Type: Accept}
		case bisonShift.MatchString(line):
			m := bisonShift.FindStringSubmatch(line)
			to, _ := strconv.Atoi(m[2])
			t.Action[state][bisonName(m[1])] = Action{Type: Shift, To: to}
		case bisonReduce.MatchString(line):
			m := bisonReduce.FindStringSubmatch(line)
			rule, _ := strconv.Atoi(m[2])
			t.Action[state][bisonName(m[1])] = Action{Type: Reduce, Rule: rule}
		case bisonGoto.MatchString(line):
			m := bisonGoto.FindStringSubmatch(line)
			if terminalName.MatchString(m[1]) || m[1] == "$end" {
				continue
			}
			to, _ := strconv.Atoi(m[2])
			t.Goto[state][m[1]] = to
		}
	}

	if len(t.Action) == 0 {
		return nil, fmt.Errorf("bison report has no State sections")
	}
	return t, nil
}

func parseBisonRules(lines []string) ([]Rule, error) {
	begin, end := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if begin < 0 && trimmed == "Grammar" {
			begin = i + 1
			continue
		}
		if begin >= 0 && strings.HasPrefix(trimmed, "Terminals,") {
			end = i
			break
		}
	}
	if begin < 0 || end < 0 {
		return nil, fmt.Errorf("bison report: no Grammar block before 'Terminals,'")
	}

	byID := make(map[int]Rule)
	maxID := -1
	lhs := ""
	for _, line := range lines[begin:end] {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if m := bisonRuleHead.FindStringSubmatch(t); m != nil {
			id, _ := strconv.Atoi(m[1])
			lhs = m[2]
			rhs := splitRHS(m[3])
			byID[id] = Rule{LHS: lhs, RHS: rhs, RHSLen: len(rhs)}
			maxID = max(maxID, id)
			continue
		}
		if m := bisonRuleAlt.FindStringSubmatch(t); m != nil && lhs != "" {
			id, _ := strconv.Atoi(m[1])
			rhs := splitRHS(m[2])
			byID[id] = Rule{LHS: lhs, RHS: rhs, RHSLen: len(rhs)}
			maxID = max(maxID, id)
		}
	}

	if maxID < 0 {
		return nil, fmt.Errorf("bison report: no rules in Grammar block")
	}
	rules := make([]Rule, maxID+1)
	for i := range rules {
		r, ok := byID[i]
		if !ok {
			return nil, fmt.Errorf("bison report: rule %d missing from Grammar block", i)
		}
		rules[i] = r
	}
	return rules, nil
}
