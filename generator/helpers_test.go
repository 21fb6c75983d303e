package generator

import (
	"context"
	"fmt"
)

// fakeLLM 按步骤名返回固定文本，并记录收到的提示词。
type fakeLLM struct {
	replies map[string]string
	errs    map[string]error
	prompts []Prompt
}

func (f *fakeLLM) Complete(_ context.Context, p Prompt) (string, error) {
	f.prompts = append(f.prompts, p)
	if err := f.errs[p.Step]; err != nil {
		return "", err
	}
	if r, ok := f.replies[p.Step]; ok {
		return r, nil
	}
	return fmt.Sprintf("%s output", p.Step), nil
}

func newTestStep(llm LLMClient, name, key, tmpl string, vars ...string) *Step {
	st, err := NewStep(llm, StepConfig{
		Name:      name,
		OutputKey: key,
		Template:  MustPromptTemplate(tmpl, vars...),
	})
	if err != nil {
		panic(err)
	}
	return st
}
