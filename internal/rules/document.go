// Package rules implements the translation rule engine: a small
// tree-rewriting interpreter driven by JSON-encoded rule documents.
// A rule document is compiled once into a Translator
// (pkg/types.Translator); compilation resolves the "when" guard into a
// predicate AST, pre-compiles staged sub-parser regexes, and validates
// every rewrite operator up front so a bad document fails at load time
// rather than mid-stream.
package rules

import "encoding/json"

// Document is the on-disk JSON shape of one rule. Unknown top-level
// keys are ignored by encoding/json; unknown rewrite operators inside
// a Rule are a load-time error.
type Document struct {
	Desc    string        `json:"desc"`
	When    string        `json:"when"`
	Parser  *StageParser  `json:"parser"`
	Parsers []StageParser `json:"parsers"`
	Rules   []RuleEntry   `json:"rules"`
}

// StageParser is one entry of a "parser"/"parsers" staged sub-parse step:
// re-parse the string value at Name using either Pattern (the tokenizing
// grammar of the parser service) or Regex (a named-capture regular
// expression), and merge the result at Output.
type StageParser struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Regex   string `json:"regex"`
	Output  string `json:"output"`
}

// RuleEntry is a single-key mapping {source-path: {op: arg, ...}}. It is
// decoded permissively (raw JSON per source path) so Compile can apply
// each operator's own argument shape and reject unknown operators
// explicitly rather than silently ignoring them.
type RuleEntry map[string]json.RawMessage

// rawOp is the generic {op: arg, desc: "..."} shape every rewrite rule's
// single value decodes into before per-operator argument parsing.
type rawOp map[string]json.RawMessage

// ParseDocument decodes a JSON rule document. It does not validate
// operators or compile the guard/staged parsers; call Compile for that.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
