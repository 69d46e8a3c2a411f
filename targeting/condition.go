package targeting

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/alextanhongpin/flagcore/attr"
)

// regexCache compiles patterns at most once per evaluation call; the
// evaluator constructs one per Evaluate invocation so entries never
// outlive the call that needed them, matching §4.2's "implementations may
// cache" note without introducing cross-call shared mutable state.
type regexCache struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{cache: make(map[string]*regexp.Regexp)}
}

func (c *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.cache[pattern] = re
	return re, nil
}

// ruleMatches reports whether every condition in the rule matches,
// reporting each condition's resolved attribute value and outcome to
// observer as it goes (§4.4).
func ruleMatches(rule Rule, attrs attr.Map, re *regexCache, observer Observer) bool {
	matched := true
	for _, c := range rule.Conditions {
		val := attrs[c.Attribute]
		ok := conditionMatches(c, attrs, re)
		observer.OnCondition(c, val, ok)
		if !ok {
			matched = false
		}
	}
	return matched
}

func conditionMatches(c Condition, attrs attr.Map, re *regexCache) bool {
	val, present := attrs[c.Attribute]

	switch c.Operator {
	case OpIsNull:
		want, _ := c.Operand.(bool)
		isNull := !present || val.IsNull()
		if want {
			return isNull
		}
		return !isNull

	case OpMatches, OpNotMatches:
		pattern, ok := c.Operand.(string)
		if !ok {
			return false
		}
		compiled, err := re.compile(pattern)
		matches := false
		if present && !val.IsNull() && err == nil {
			matches = compiled.MatchString(val.String())
		}
		if c.Operator == OpMatches {
			return matches
		}
		// NOT_MATCHES succeeds on a missing attribute.
		if !present || val.IsNull() {
			return true
		}
		return !matches

	case OpOneOf, OpNotOneOf:
		if !present || val.IsNull() {
			return c.Operator == OpNotOneOf
		}
		set, ok := toStringSlice(c.Operand)
		if !ok {
			return false
		}
		member := containsFold(set, val.String())
		if c.Operator == OpOneOf {
			return member
		}
		return !member

	case OpGTE, OpGT, OpLTE, OpLT:
		if !present || val.IsNull() {
			return false
		}
		return compareMatches(c.Operator, val, c.Operand)

	default:
		return false
	}
}

func toStringSlice(operand any) ([]string, bool) {
	switch v := operand.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func containsFold(set []string, s string) bool {
	for _, item := range set {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// compareMatches implements §4.2's numeric-or-semver comparison: numeric
// coercion is attempted first; if the operand parses as a dotted
// X.Y.Z semver, both sides are compared as semver instead.
func compareMatches(op Operator, val attr.Value, operand any) bool {
	operandStr, isStr := operand.(string)
	if isStr {
		if sv, ok := parseSemver(operandStr); ok {
			if subjectSV, ok := parseSemver(val.String()); ok {
				return compareOrdered(op, compareSemver(subjectSV, sv))
			}
			return false
		}
	}

	subjectNum, subjectOK := coerceFloat(val)
	operandNum, operandOK := coerceNumber(operand)
	if subjectOK && operandOK {
		return compareOrdered(op, compareFloat(subjectNum, operandNum))
	}

	return false
}

func coerceFloat(val attr.Value) (float64, bool) {
	switch val.Kind() {
	case attr.KindNumeric:
		return val.Numeric(), true
	case attr.KindCategorical:
		f, err := strconv.ParseFloat(val.Categorical(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceNumber(operand any) (float64, bool) {
	switch v := operand.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareOrdered(op Operator, cmp int) bool {
	switch op {
	case OpGTE:
		return cmp >= 0
	case OpGT:
		return cmp > 0
	case OpLTE:
		return cmp <= 0
	case OpLT:
		return cmp < 0
	default:
		return false
	}
}

type semver struct {
	major, minor, patch int
}

// parseSemver accepts the X.Y.Z dotted-integer form named in §4.2. It
// deliberately does not accept pre-release/build metadata suffixes —
// the original condition evaluator only needs ordinal comparison of
// dotted release numbers.
func parseSemver(s string) (semver, bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return semver{}, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return semver{}, false
		}
		nums[i] = n
	}
	return semver{major: nums[0], minor: nums[1], patch: nums[2]}, true
}

func compareSemver(a, b semver) int {
	if a.major != b.major {
		return compareFloat(float64(a.major), float64(b.major))
	}
	if a.minor != b.minor {
		return compareFloat(float64(a.minor), float64(b.minor))
	}
	return compareFloat(float64(a.patch), float64(b.patch))
}
