package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

// op is a compiled field-rewrite rule: given the source path it was
// registered under, read from in and write into out. @remove instead
// writes back into in (it deletes a source path rather than producing an
// output attribute).
type op interface {
	apply(sourcePath string, in, out types.Tree, logger *logrus.Logger)
}

// compileRuleEntry compiles one `{source-path: {op: arg, ...}}`
// mapping into (sourcePath, op). An unknown operator is an error.
func compileRuleEntry(entry RuleEntry) (string, op, error) {
	if len(entry) != 1 {
		return "", nil, fmt.Errorf("rule entry must have exactly one source path, got %d", len(entry))
	}
	var sourcePath string
	var raw json.RawMessage
	for k, v := range entry {
		sourcePath = k
		raw = v
	}

	var fields rawOp
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", nil, fmt.Errorf("rule for %q: %w", sourcePath, err)
	}

	for key, argRaw := range fields {
		if key == "desc" {
			continue
		}
		switch key {
		case "@move":
			a, err := parseMoveArg(argRaw)
			if err != nil {
				return "", nil, fmt.Errorf("rule for %q: @move: %w", sourcePath, err)
			}
			return sourcePath, moveOp{arg: a, keepSource: false}, nil
		case "@copy":
			a, err := parseMoveArg(argRaw)
			if err != nil {
				return "", nil, fmt.Errorf("rule for %q: @copy: %w", sourcePath, err)
			}
			return sourcePath, moveOp{arg: a, keepSource: true}, nil
		case "@value":
			var literal interface{}
			if err := json.Unmarshal(argRaw, &literal); err != nil {
				return "", nil, fmt.Errorf("rule for %q: @value: %w", sourcePath, err)
			}
			return sourcePath, valueOp{target: sourcePath, literal: literal}, nil
		case "@enum":
			a, err := parseEnumArg(argRaw)
			if err != nil {
				return "", nil, fmt.Errorf("rule for %q: @enum: %w", sourcePath, err)
			}
			return sourcePath, enumOp{arg: a}, nil
		case "@remove":
			return sourcePath, removeOp{}, nil
		default:
			return "", nil, fmt.Errorf("rule for %q: unknown operator %q", sourcePath, key)
		}
	}
	return "", nil, fmt.Errorf("rule for %q: no recognized operator", sourcePath)
}

// moveArg is the resolved {name, type, default} shape accepted by
// @move/@copy; a bare string target decodes to {Name: target}.
type moveArg struct {
	Name    string
	Type    string
	Default interface{}
	HasDef  bool
}

func parseMoveArg(raw json.RawMessage) (moveArg, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return moveArg{Name: asString}, nil
	}

	var obj struct {
		Name    string      `json:"name"`
		Type    string      `json:"type"`
		Default interface{} `json:"default"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return moveArg{}, fmt.Errorf("expected string or {name,type,default} object: %w", err)
	}
	if obj.Name == "" {
		return moveArg{}, fmt.Errorf("object form requires non-empty 'name'")
	}
	switch obj.Type {
	case "", "integer", "long", "string", "timestamp", "downcase", "upcase":
	default:
		return moveArg{}, fmt.Errorf("unsupported coercion type %q", obj.Type)
	}

	var hasDefault bool
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) == nil {
		_, hasDefault = m["default"]
	}
	return moveArg{Name: obj.Name, Type: obj.Type, Default: obj.Default, HasDef: hasDefault}, nil
}

type enumArg struct {
	Name    string
	Default interface{}
	HasDef  bool
	Values  map[string]interface{}
}

func parseEnumArg(raw json.RawMessage) (enumArg, error) {
	var obj struct {
		Name    string                 `json:"name"`
		Default interface{}            `json:"default"`
		Values  map[string]interface{} `json:"values"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return enumArg{}, fmt.Errorf("expected {name,default,values} object: %w", err)
	}
	if obj.Name == "" {
		return enumArg{}, fmt.Errorf("@enum requires non-empty 'name'")
	}
	var hasDefault bool
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) == nil {
		_, hasDefault = m["default"]
	}
	return enumArg{Name: obj.Name, Default: obj.Default, HasDef: hasDefault, Values: obj.Values}, nil
}

// moveOp implements @move (keepSource == false) and @copy (true).
// A missing source with no default is a no-op; later rules targeting
// the same attribute still overwrite earlier ones when they do fire.
type moveOp struct {
	arg        moveArg
	keepSource bool
}

func (o moveOp) apply(sourcePath string, in, out types.Tree, logger *logrus.Logger) {
	v, ok := in.Get(sourcePath)
	if !ok {
		if !o.arg.HasDef {
			return
		}
		v = o.arg.Default
	} else if !o.keepSource {
		in.Delete(sourcePath)
	}

	coerced, ok := coerce(v, o.arg.Type, logger)
	if !ok {
		if o.arg.HasDef {
			coerced = o.arg.Default
		} else {
			return
		}
	}
	out.Set(o.arg.Name, coerced)
}

// valueOp implements @value: sets target to a literal constant,
// unconditionally overwriting anything already written there by an
// earlier rule in this translator.
type valueOp struct {
	target  string
	literal interface{}
}

func (o valueOp) apply(_ string, _, out types.Tree, _ *logrus.Logger) {
	out.Set(o.target, o.literal)
}

// enumOp implements @enum: look up the source value (stringified) in
// Values, falling back to Default if unmapped.
type enumOp struct {
	arg enumArg
}

func (o enumOp) apply(sourcePath string, in, out types.Tree, _ *logrus.Logger) {
	v, ok := in.Get(sourcePath)
	if !ok {
		if o.arg.HasDef {
			out.Set(o.arg.Name, o.arg.Default)
		}
		return
	}
	key := fmt.Sprintf("%v", v)
	if mapped, found := o.arg.Values[key]; found {
		out.Set(o.arg.Name, mapped)
		return
	}
	if o.arg.HasDef {
		out.Set(o.arg.Name, o.arg.Default)
	}
}

// removeOp implements @remove: delete sourcePath from the input tree.
// Unlike the other operators it mutates in, not out.
type removeOp struct{}

func (o removeOp) apply(sourcePath string, in, _ types.Tree, _ *logrus.Logger) {
	in.Delete(sourcePath)
}

// coerce applies the named coercion. An empty typ is the identity
// coercion. ok is false when the value could not be coerced; callers
// treat a rejected coercion the same as a missing source value.
func coerce(v interface{}, typ string, logger *logrus.Logger) (interface{}, bool) {
	switch typ {
	case "", "string":
		if typ == "string" {
			return fmt.Sprintf("%v", v), true
		}
		return v, true
	case "integer", "long":
		return coerceInt(v)
	case "timestamp":
		return coerceTimestamp(v, logger)
	case "downcase":
		return strings.ToLower(fmt.Sprintf("%v", v)), true
	case "upcase":
		return strings.ToUpper(fmt.Sprintf("%v", v)), true
	default:
		return nil, false
	}
}

// coerceInt accepts decimal, hex ("0x..."), or a string form of
// either; anything else is rejected.
func coerceInt(v interface{}) (interface{}, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, false
		}
		return i, true
	case string:
		s := strings.TrimSpace(n)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			i, err := strconv.ParseInt(s[2:], 16, 64)
			if err != nil {
				return nil, false
			}
			return i, true
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false
		}
		return i, true
	default:
		return nil, false
	}
}

// Canonical timestamp coercion form: int64 Unix milliseconds UTC.
// Values with 13 or more digits are treated as already-millisecond
// epoch values; shorter all-digit values are epoch seconds.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"Jan 2 15:04:05",
	"Jan 02 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
}

func coerceTimestamp(v interface{}, logger *logrus.Logger) (interface{}, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli(), true
	case int:
		return epochToMillis(int64(t)), true
	case int64:
		return epochToMillis(t), true
	case float64:
		return epochToMillis(int64(t)), true
	case string:
		s := strings.TrimSpace(t)
		if isAllDigits(s) {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return epochToMillis(n), true
			}
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UnixMilli(), true
			}
		}
		if logger != nil {
			logger.WithField("value", s).Warn("rules: unrecognized timestamp layout, treating coercion as missing")
		}
		return nil, false
	default:
		return nil, false
	}
}

func epochToMillis(n int64) int64 {
	if n >= 1_000_000_000_000 {
		return n
	}
	return n * 1000
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
