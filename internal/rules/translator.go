package rules

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

// compiledTranslator is one compiled rule document: an immutable
// function tree -> (tree, matched). It implements types.Translator.
type compiledTranslator struct {
	desc    string
	guard   Predicate // nil means always matches
	stages  []*subParser
	ops     []compiledRule
	logger  *logrus.Logger
}

type compiledRule struct {
	sourcePath string
	op         op
}

// Compile parses and compiles a single JSON rule document into a
// Translator: the guard is resolved into a predicate AST, staged
// parser patterns/regexes are pre-compiled, and every rewrite rule's
// operator is validated so an unknown operator fails here rather than
// during translation.
func Compile(data []byte, logger *logrus.Logger) (types.Translator, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("rule document: %w", err)
	}
	return compileDocument(doc, logger)
}

func compileDocument(doc *Document, logger *logrus.Logger) (*compiledTranslator, error) {
	guard, err := CompilePredicate(doc.When)
	if err != nil {
		return nil, fmt.Errorf("when-expression: %w", err)
	}

	var stageSpecs []StageParser
	if doc.Parser != nil {
		stageSpecs = append(stageSpecs, *doc.Parser)
	}
	stageSpecs = append(stageSpecs, doc.Parsers...)

	stages := make([]*subParser, 0, len(stageSpecs))
	for _, spec := range stageSpecs {
		sp, err := compileStageParser(spec)
		if err != nil {
			return nil, err
		}
		stages = append(stages, sp)
	}

	ops := make([]compiledRule, 0, len(doc.Rules))
	for _, entry := range doc.Rules {
		sourcePath, compiledOp, err := compileRuleEntry(entry)
		if err != nil {
			return nil, err
		}
		ops = append(ops, compiledRule{sourcePath: sourcePath, op: compiledOp})
	}

	return &compiledTranslator{
		desc:   doc.Desc,
		guard:  guard,
		stages: stages,
		ops:    ops,
		logger: logger,
	}, nil
}

// Translate evaluates the compiled translator against in: guard,
// staged sub-parsing (later stages see earlier merges), then field
// rewrites written into a fresh output tree. It returns (nil, false)
// if the guard did not match.
func (c *compiledTranslator) Translate(in types.Tree) (types.Tree, bool) {
	if c.guard != nil && !c.guard.Eval(in) {
		return nil, false
	}

	working := in
	for _, stage := range c.stages {
		raw, ok := working.GetString(stage.name)
		if !ok {
			continue // missing or non-string input: skip this stage, not a failure
		}
		parsed, ok := stage.parse(raw)
		if !ok {
			continue
		}
		working.Merge(stage.output, parsed)
	}

	out := types.Tree{}
	for _, r := range c.ops {
		r.op.apply(r.sourcePath, working, out, c.logger)
	}
	return out, true
}

// ClaimedTopLevelKeys returns the distinct top-level attribute names this
// translator's rewrite rules read from, used by EventProcessor to
// decide which leftover attributes of the parsed tree are "unmapped".
func (c *compiledTranslator) ClaimedTopLevelKeys() []string {
	seen := make(map[string]struct{}, len(c.ops))
	for _, r := range c.ops {
		seg := r.sourcePath
		if idx := strings.Index(seg, "."); idx >= 0 {
			seg = seg[:idx]
		}
		seen[seg] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys
}
