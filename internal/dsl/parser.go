package dsl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// TagName: имя struct-тега с метаданными сущности.
const TagName = "orm"

var (
	listRe  = regexp.MustCompile(`^\[(.*)\]$`)
	rangeRe = regexp.MustCompile(`^\[\s*([^,\s]+)\s*,\s*([^,\s]+)\s*\]$`)
)

// известные опции: флаги и ключи со значением
var (
	flagOptions  = map[string]struct{}{"pk": {}, "auto": {}, "unique": {}, "notnull": {}, "required": {}, "ordered": {}}
	valueOptions = map[string]struct{}{"domain": {}, "range": {}, "sentinel": {}, "default": {}, "on_delete": {}, "on_update": {}}
)

// tagSpec: разобранный тег `orm:"column,opt,k=v"`.
type tagSpec struct {
	Column  string
	Skip    bool
	Options map[string]string // флаги → "true"
}

func (t tagSpec) has(k string) bool { _, ok := t.Options[k]; return ok }

// splitOptionTokens делит "a, b=1, domain=[x,y], default='v, 2'" на токены:
// разделитель: запятая, но не внутри кавычек и [...].
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0

	flush := func() {
		out = append(out, strings.TrimSpace(string(buf)))
		buf = buf[:0]
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		case ',':
			if !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		default:
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// parseTag разбирает значение тега. Первый токен: имя колонки.
func parseTag(raw string) (tagSpec, error) {
	spec := tagSpec{Options: map[string]string{}}
	if strings.TrimSpace(raw) == "-" {
		spec.Skip = true
		return spec, nil
	}
	tokens := splitOptionTokens(raw)
	if len(tokens) == 0 {
		return spec, nil
	}
	spec.Column = strings.ToLower(strings.TrimSpace(tokens[0]))
	if strings.ContainsAny(spec.Column, "= \t") {
		return spec, fmt.Errorf("column name %q is not an identifier", spec.Column)
	}

	for _, tok := range tokens[1:] {
		if tok == "" {
			continue
		}
		if !strings.Contains(tok, "=") {
			k := strings.ToLower(tok)
			if _, ok := flagOptions[k]; !ok {
				return spec, fmt.Errorf("unknown option %q", tok)
			}
			spec.Options[k] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		if _, ok := valueOptions[k]; !ok {
			return spec, fmt.Errorf("unknown option %q", k)
		}
		spec.Options[k] = unquote(strings.TrimSpace(kv[1]))
	}
	if spec.has("required") {
		spec.Options["notnull"] = "true"
	}
	return spec, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// parseList: "[a, 'b', c]" → [a b c]
func parseList(raw string) ([]string, error) {
	m := listRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return nil, fmt.Errorf("expected [v1,v2,...], got %q", raw)
	}
	var out []string
	for _, p := range splitOptionTokens(m[1]) {
		s := unquote(strings.TrimSpace(p))
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list %q", raw)
	}
	return out, nil
}

func parseRange(raw string) (*Range, error) {
	m := rangeRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return nil, fmt.Errorf("expected [low,high], got %q", raw)
	}
	lo, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, fmt.Errorf("range low: %w", err)
	}
	hi, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, fmt.Errorf("range high: %w", err)
	}
	if lo > hi {
		return nil, fmt.Errorf("range low %v > high %v", lo, hi)
	}
	return &Range{Low: lo, High: hi}, nil
}

// ParseLiteral приводит текст к нормализованному значению для типа поля.
func ParseLiteral(k Kind, raw string) (any, error) {
	switch k {
	case KindString, KindEnum:
		return raw, nil
	case KindInt:
		return strconv.ParseInt(raw, 10, 64)
	case KindFloat:
		return strconv.ParseFloat(raw, 64)
	case KindBool:
		return strconv.ParseBool(raw)
	case KindDate:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, nil
		}
		return time.Parse(time.DateOnly, raw)
	default:
		return nil, fmt.Errorf("literal not supported for %s", k)
	}
}

// SnakeCase: "CreatedAt" → "created_at", "HTTPCode" → "http_code".
func SnakeCase(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(rs[i-1]) || (i+1 < len(rs) && unicode.IsLower(rs[i+1]) && unicode.IsUpper(rs[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
