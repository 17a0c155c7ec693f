package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/internal/pipeline"
	"github.com/mdzesseis/eventnorm/internal/rules"
	"github.com/mdzesseis/eventnorm/pkg/errors"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

// jsonTreeParser is the built-in top-level Parser registered for every
// source type: it decodes rawEvent as a JSON object into a Tree.
// Concrete vendor wire formats (syslog framing, proprietary encodings)
// are parsed upstream of this module; this is the one format the rule
// engine's staged sub-parsers (the pattern/regex grammars in
// internal/rules) assume as their entry point.
var jsonTreeParser = types.ParserFunc(func(text string) (types.Tree, error) {
	var tree types.Tree
	if err := json.Unmarshal([]byte(text), &tree); err != nil {
		return nil, fmt.Errorf("json parser: %w", err)
	}
	if tree == nil {
		tree = types.Tree{}
	}
	return tree, nil
})

// loadRegistry compiles every rule document under dir into a
// pipeline.Registry. Layout: dir contains one subdirectory per source
// type, each holding one or more *.json rule documents compiled (in
// lexical filename order) into that source type's TranslatorsManager;
// a bare *.json file directly under dir is also accepted, using its
// filename (without extension) as the source type, for a single-rule
// source.
func loadRegistry(dir, separator string, logger *logrus.Logger) (*pipeline.Registry, error) {
	registry := pipeline.NewRegistry(separator)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.RuleLoadError(dir, err.Error())
	}

	for _, entry := range entries {
		if entry.IsDir() {
			sourceType := entry.Name()
			manager, err := loadTranslatorsFromDir(filepath.Join(dir, sourceType), logger)
			if err != nil {
				return nil, err
			}
			registry.Translators.Register(sourceType, manager)
			registry.Parsers.Register(sourceType, jsonTreeParser)
			continue
		}

		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sourceType := strings.TrimSuffix(entry.Name(), ".json")
		translator, err := compileRuleFile(filepath.Join(dir, entry.Name()), logger)
		if err != nil {
			return nil, err
		}
		registry.Translators.Register(sourceType, rules.NewTranslatorsManager(translator))
		registry.Parsers.Register(sourceType, jsonTreeParser)
	}

	return registry, nil
}

func loadTranslatorsFromDir(dir string, logger *logrus.Logger) (*rules.TranslatorsManager, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.RuleLoadError(dir, err.Error())
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	translators := make([]types.Translator, 0, len(names))
	for _, name := range names {
		translator, err := compileRuleFile(filepath.Join(dir, name), logger)
		if err != nil {
			return nil, err
		}
		translators = append(translators, translator)
	}
	if len(translators) == 0 {
		return nil, errors.RuleLoadError(dir, "no rule documents found")
	}
	return rules.NewTranslatorsManager(translators...), nil
}

func compileRuleFile(path string, logger *logrus.Logger) (types.Translator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.RuleLoadError(path, err.Error())
	}
	translator, err := rules.Compile(data, logger)
	if err != nil {
		return nil, errors.RuleLoadError(path, err.Error())
	}
	return translator, nil
}
