package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

// subParser is a compiled staged sub-parse step: re-parse the string
// value at Name using either a pattern grammar or a named-capture
// regex, then merge the resulting tree at Output.
type subParser struct {
	name    string
	output  string
	compile *regexp.Regexp
}

// compileStageParser compiles one StageParser entry. Exactly one of
// Pattern/Regex must be set; Pattern is turned into an equivalent
// anchored regex (see compilePattern), Regex is compiled as given.
func compileStageParser(sp StageParser) (*subParser, error) {
	if sp.Name == "" || sp.Output == "" {
		return nil, fmt.Errorf("staged parser requires both 'name' and 'output'")
	}
	var re *regexp.Regexp
	var err error
	switch {
	case sp.Pattern != "":
		re, err = compilePattern(sp.Pattern)
	case sp.Regex != "":
		re, err = regexp.Compile(sp.Regex)
	default:
		return nil, fmt.Errorf("staged parser for %q requires 'pattern' or 'regex'", sp.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("staged parser for %q: %w", sp.Name, err)
	}
	return &subParser{name: sp.Name, output: sp.Output, compile: re}, nil
}

// placeholderRe matches the parser service's "#{fieldName}" tokenizing
// grammar token. The full vendor pattern-parser micro-language lives
// outside this module; this is the minimal subset needed to drive
// staged re-parsing end to end without a real vendor parser.
var placeholderRe = regexp.MustCompile(`#\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// compilePattern turns a "#{name}" pattern into an anchored regex with
// one named capture group per placeholder. All but the last placeholder
// capture lazily up to the next literal delimiter; the final placeholder
// captures the remainder greedily. Literal runs between placeholders are
// regex-escaped.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(pattern, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("pattern %q has no #{...} placeholders", pattern)
	}

	var b strings.Builder
	b.WriteString("^")
	last := 0
	for i, m := range matches {
		litStart, litEnd := last, m[0]
		b.WriteString(regexp.QuoteMeta(pattern[litStart:litEnd]))

		name := pattern[m[2]:m[3]]
		if i == len(matches)-1 {
			fmt.Fprintf(&b, "(?P<%s>.+)", name)
		} else {
			fmt.Fprintf(&b, "(?P<%s>.+?)", name)
		}
		last = m[1]
	}
	b.WriteString(regexp.QuoteMeta(pattern[last:]))
	b.WriteString("$")

	return regexp.Compile(b.String())
}

// parse re-parses text into a tree keyed by each named capture group.
func (s *subParser) parse(text string) (types.Tree, bool) {
	names := s.compile.SubexpNames()
	match := s.compile.FindStringSubmatch(text)
	if match == nil {
		return nil, false
	}
	out := types.Tree{}
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		out[name] = match[i]
	}
	return out, true
}
