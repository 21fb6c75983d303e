package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MemoryKey 是可在模板中引用的 transcript 变量名，值为当前 transcript 的 Render 结果。
const MemoryKey = "chat_history"

// SequentialChain 按固定顺序执行步骤，后一步可读取前面步骤的输出。
type SequentialChain struct {
	inputKey string
	steps    []*Step
	logger   *slog.Logger
}

// ChainOption configures a SequentialChain.
type ChainOption func(*SequentialChain)

// WithLogger sets the logger used for per-step progress.
func WithLogger(l *slog.Logger) ChainOption {
	return func(c *SequentialChain) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewSequentialChain 在构造时校验每一步读取的变量都能从输入、chat_history
// 或更早步骤的输出中得到，output key 不得重复。
func NewSequentialChain(inputKey string, steps []*Step, opts ...ChainOption) (*SequentialChain, error) {
	if inputKey == "" {
		inputKey = DefaultInputKey
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidChain)
	}

	available := map[string]bool{inputKey: true, MemoryKey: true}
	for i, st := range steps {
		if st == nil {
			return nil, fmt.Errorf("%w: step %d is nil", ErrInvalidChain, i)
		}
		for _, v := range st.Reads() {
			if !available[v] {
				return nil, fmt.Errorf("%w: step %q reads %q which no earlier step produces", ErrInvalidChain, st.Name(), v)
			}
		}
		key := st.OutputKey()
		if key == inputKey || key == MemoryKey {
			return nil, fmt.Errorf("%w: step %q output key %q is reserved", ErrInvalidChain, st.Name(), key)
		}
		if available[key] {
			return nil, fmt.Errorf("%w: duplicate output key %q", ErrInvalidChain, key)
		}
		available[key] = true
	}

	c := &SequentialChain{
		inputKey: inputKey,
		steps:    steps,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	for _, st := range steps {
		st.logger = c.logger
	}
	return c, nil
}

// InputKey returns the name under which the topic is bound.
func (c *SequentialChain) InputKey() string {
	return c.inputKey
}

// OutputKeys 按配置顺序返回各步骤的 output key。
func (c *SequentialChain) OutputKeys() []string {
	keys := make([]string, len(c.steps))
	for i, st := range c.steps {
		keys[i] = st.OutputKey()
	}
	return keys
}

// Execute 依次运行所有步骤。主题为空时直接返回 ErrEmptyTopic，不触碰 transcript。
// 任一步失败即中止，不返回部分结果；已完成步骤的输出仍保留在 transcript 中。
func (c *SequentialChain) Execute(ctx context.Context, transcript *Transcript, topic string) (*RunResult, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, ErrEmptyTopic
	}
	if transcript == nil {
		return nil, fmt.Errorf("%w: transcript is required", ErrInvalidChain)
	}

	id := uuid.NewString()
	produced := map[string]string{c.inputKey: topic}
	outputs := make([]Output, 0, len(c.steps))

	for i, st := range c.steps {
		bindings := make(map[string]string, len(st.Reads()))
		for _, v := range st.Reads() {
			if v == MemoryKey {
				bindings[v] = transcript.Render()
				continue
			}
			bindings[v] = produced[v]
		}

		start := time.Now()
		c.logger.Debug("chain step start", "run_id", id, "step", st.Name(), "index", i, "reads", st.Reads())
		key, text, err := st.Run(ctx, transcript, bindings)
		if err != nil {
			c.logger.Warn("chain step failed", "run_id", id, "step", st.Name(), "elapsed", time.Since(start), "error", err)
			return nil, err
		}
		c.logger.Info("chain step done", "run_id", id, "step", st.Name(), "output_key", key,
			"chars", len(text), "elapsed", time.Since(start), "digest", Digest(text, 80))

		produced[key] = text
		outputs = append(outputs, Output{Key: key, Text: text})
	}

	return &RunResult{
		ID:        id,
		Topic:     topic,
		Outputs:   outputs,
		CreatedAt: time.Now(),
	}, nil
}
