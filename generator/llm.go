package generator

import (
	"context"
	"log/slog"
)

// LevelTrace 低于 Debug，用于记录完整的提示词和模型原始输出。
const LevelTrace = slog.Level(-8)

// LLMClient 抽象大模型客户端，便于替换/Mock。
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// LLMSettings 提供给具体实现的基础配置，凭据由调用方显式传入。
type LLMSettings struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	// UserAgent 非空时覆盖 SDK 默认的 User-Agent。
	UserAgent string
}
