package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// PromptInputKey 是步骤不读取链路输入时，transcript 记录渲染后提示词所用的 key。
const PromptInputKey = "prompt"

// StepConfig 描述一个链路步骤，进程启动时构造，之后不可变。
type StepConfig struct {
	Name        string
	OutputKey   string
	System      string
	Template    *PromptTemplate
	Temperature float64
}

// Step 把一个提示词模板绑定到 LLM，产出一个具名输出。
// 除共享的 Transcript 外无状态，重复调用 Run 只会多追加记录。
type Step struct {
	llm    LLMClient
	cfg    StepConfig
	logger *slog.Logger
}

func NewStep(llm LLMClient, cfg StepConfig) (*Step, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if cfg.Template == nil {
		return nil, fmt.Errorf("%w: step %q has no template", ErrInvalidChain, cfg.Name)
	}
	if cfg.OutputKey == "" {
		return nil, fmt.Errorf("%w: step %q has no output key", ErrInvalidChain, cfg.Name)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("%w: step %q temperature %.2f out of range [0,2]", ErrInvalidChain, cfg.Name, cfg.Temperature)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.OutputKey
	}
	return &Step{llm: llm, cfg: cfg, logger: slog.Default()}, nil
}

func (s *Step) Name() string      { return s.cfg.Name }
func (s *Step) OutputKey() string { return s.cfg.OutputKey }

// Reads 返回模板依赖的变量名。
func (s *Step) Reads() []string { return s.cfg.Template.InputVariables() }

// Run 渲染模板、记录输入、调用模型、记录输出。模型错误不重试，直接返回。
func (s *Step) Run(ctx context.Context, transcript *Transcript, bindings map[string]string) (string, string, error) {
	rendered, err := s.cfg.Template.Render(bindings)
	if err != nil {
		return "", "", fmt.Errorf("step %s: %w", s.cfg.Name, err)
	}

	if v, ok := bindings[transcript.InputKey()]; ok {
		transcript.Append(transcript.InputKey(), v)
	} else {
		transcript.Append(PromptInputKey, rendered)
	}

	s.logger.Log(ctx, LevelTrace, "completion request", "step", s.cfg.Name, "temperature", s.cfg.Temperature, "prompt", rendered)
	raw, err := s.llm.Complete(ctx, Prompt{
		Step:        s.cfg.Name,
		System:      s.cfg.System,
		User:        rendered,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return "", "", fmt.Errorf("step %s: %w", s.cfg.Name, err)
	}
	s.logger.Log(ctx, LevelTrace, "completion response", "step", s.cfg.Name, "content", raw)
	text, err := PostProcess(raw, s.cfg.OutputKey)
	if err != nil {
		return "", "", fmt.Errorf("step %s: %w", s.cfg.Name, err)
	}

	transcript.Append(s.cfg.OutputKey, text)
	return s.cfg.OutputKey, text, nil
}
