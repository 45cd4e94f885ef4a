// Package rules loads rule sets and the routing table that selects them.
package rules

import (
	"fmt"
	"path/filepath"

	"github.com/agentic-research/stacgen/api"
	"github.com/agentic-research/stacgen/internal/expr"
)

// Rule is a validated MappingRule with its compiled expression.
type Rule struct {
	api.MappingRule
	// Expr is nil for static rows, whose Mappings is the literal value.
	Expr *expr.Expr
	// Source is the rule-set file and line the row was read from.
	Source string
}

// RuleSet is an ordered, immutable sequence of rules.
type RuleSet struct {
	Rules []Rule
	// Paths lists the rule-set files the rules came from, in merge order.
	Paths []string
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.Rules) }

// Load parses and validates one rule-set file. Every problem is a
// *api.ConfigError located at path:line.
func Load(path string) (*RuleSet, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &api.ConfigError{Source: path, Err: err}
	}
	records, err := readTable(abs, api.RuleColumns)
	if err != nil {
		return nil, err
	}

	rs := &RuleSet{Paths: []string{abs}, Rules: make([]Rule, 0, len(records))}
	seen := make(map[string]int, len(records))
	for _, rec := range records {
		where := fmt.Sprintf("%s:%d", abs, rec.line)
		r, err := compile(rec.values, where)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[r.Metadata]; dup {
			return nil, api.Configf(where, "duplicate output key %q (first defined at line %d)", r.Metadata, prev)
		}
		seen[r.Metadata] = rec.line
		rs.Rules = append(rs.Rules, r)
	}
	return rs, nil
}

func compile(values map[string]string, where string) (Rule, error) {
	for _, col := range api.RuleColumns {
		if values[col] == "" {
			return Rule{}, api.Configf(where, "empty %s column", col)
		}
	}
	mr := api.MappingRule{
		Metadata: values["metadata"],
		File:     values["file"],
		Mappings: values["mappings"],
	}
	dt, ok := api.ParseDatatype(values["datatype"])
	if !ok {
		return Rule{}, api.Configf(where, "unknown datatype %q", values["datatype"])
	}
	mr.Datatype = dt
	if err := api.ValidateKey(mr.Metadata); err != nil {
		return Rule{}, &api.ConfigError{Source: where, Err: err}
	}

	r := Rule{MappingRule: mr, Source: where}
	if mr.Static() {
		return r, nil
	}
	e, err := expr.Parse(mr.Mappings)
	if err != nil {
		return Rule{}, &api.ConfigError{Source: where, Msg: fmt.Sprintf("key %s", mr.Metadata), Err: err}
	}
	if err := checkQueries(e, mr.File); err != nil {
		return Rule{}, &api.ConfigError{Source: where, Msg: fmt.Sprintf("key %s", mr.Metadata), Err: err}
	}
	r.Expr = e
	return r, nil
}

// Merge concatenates rule sets in order. Duplicate keys across sets are
// kept; resolution applies them last-write-wins.
func Merge(sets ...*RuleSet) *RuleSet {
	out := &RuleSet{}
	for _, rs := range sets {
		out.Rules = append(out.Rules, rs.Rules...)
		out.Paths = append(out.Paths, rs.Paths...)
	}
	return out
}
