package generator

import (
	"fmt"
	"sort"
	"strings"
)

// Prompt 表示发送给 LLM 的一次请求。
type Prompt struct {
	// Step 标记发起请求的链路步骤，仅用于日志和指标。
	Step        string
	System      string
	User        string
	Temperature float64
}

// PromptTemplate 是带 {name} 占位符的提示词模板，构造时即校验占位符与声明变量一致。
// "{{" 与 "}}" 表示字面量花括号。
type PromptTemplate struct {
	template  string
	variables []string
	segments  []segment
}

type segment struct {
	text        string
	placeholder bool
}

// NewPromptTemplate 解析模板并校验 inputVariables 与模板中实际引用的占位符完全一致。
func NewPromptTemplate(template string, inputVariables ...string) (*PromptTemplate, error) {
	segments, referenced, err := parseTemplate(template)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool, len(inputVariables))
	for _, v := range inputVariables {
		if v == "" {
			return nil, fmt.Errorf("%w: empty input variable name", ErrInvalidTemplate)
		}
		if declared[v] {
			return nil, fmt.Errorf("%w: input variable %q declared twice", ErrInvalidTemplate, v)
		}
		declared[v] = true
	}

	refSet := make(map[string]bool, len(referenced))
	for _, name := range referenced {
		refSet[name] = true
		if !declared[name] {
			return nil, fmt.Errorf("%w: placeholder {%s} is not a declared input variable", ErrInvalidTemplate, name)
		}
	}
	var unused []string
	for v := range declared {
		if !refSet[v] {
			unused = append(unused, v)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		return nil, fmt.Errorf("%w: input variables %v are not referenced by the template", ErrInvalidTemplate, unused)
	}

	return &PromptTemplate{
		template:  template,
		variables: referenced,
		segments:  segments,
	}, nil
}

// MustPromptTemplate 用于包级常量模板，解析失败直接 panic。
func MustPromptTemplate(template string, inputVariables ...string) *PromptTemplate {
	t, err := NewPromptTemplate(template, inputVariables...)
	if err != nil {
		panic(err)
	}
	return t
}

// InputVariables 按首次出现顺序返回占位符名称。
func (t *PromptTemplate) InputVariables() []string {
	out := make([]string, len(t.variables))
	copy(out, t.variables)
	return out
}

// Template returns the raw template text.
func (t *PromptTemplate) Template() string {
	return t.template
}

// Render 用 bindings 替换占位符。bindings 必须恰好覆盖声明的变量，缺失或多余都会报错，
// 不会用空串兜底。替换值不做任何转义。
func (t *PromptTemplate) Render(bindings map[string]string) (string, error) {
	var missing []string
	for _, v := range t.variables {
		if _, ok := bindings[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %v", ErrMissingBinding, missing)
	}
	if len(bindings) != len(t.variables) {
		var extra []string
		for k := range bindings {
			if !t.declares(k) {
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		return "", fmt.Errorf("%w: %v", ErrUnexpectedBinding, extra)
	}

	var sb strings.Builder
	for _, seg := range t.segments {
		if seg.placeholder {
			sb.WriteString(bindings[seg.text])
			continue
		}
		sb.WriteString(seg.text)
	}
	return sb.String(), nil
}

func (t *PromptTemplate) declares(name string) bool {
	for _, v := range t.variables {
		if v == name {
			return true
		}
	}
	return false
}

// parseTemplate 拆分字面量与占位符，返回去重后的占位符列表（保持首次出现顺序）。
func parseTemplate(s string) ([]segment, []string, error) {
	var (
		segments []segment
		names    []string
		seen     = map[string]bool{}
		lit      strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			segments = append(segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return nil, nil, fmt.Errorf("%w: unclosed '{' at offset %d", ErrInvalidTemplate, i)
			}
			name := s[i+1 : i+1+end]
			if !validName(name) {
				return nil, nil, fmt.Errorf("%w: invalid placeholder {%s} at offset %d", ErrInvalidTemplate, name, i)
			}
			flush()
			segments = append(segments, segment{text: name, placeholder: true})
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
			i += end + 1
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, nil, fmt.Errorf("%w: single '}' at offset %d", ErrInvalidTemplate, i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segments, names, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
