package generator

import (
	"context"
	"fmt"
	"strings"
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
type MockLLM struct{}

func (m MockLLM) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// 取提示词首行作为标题，附上步骤名和温度，输出稳定可预测。
	first := strings.TrimSpace(prompt.User)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = strings.TrimSpace(first[:i])
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", prompt.Step))
	sb.WriteString(fmt.Sprintf("_temperature %.1f_\n\n", prompt.Temperature))
	sb.WriteString(first)
	sb.WriteString("\n")
	return sb.String(), nil
}
