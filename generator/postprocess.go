package generator

import (
	"fmt"
	"strings"
)

// PostProcess 清理模型输出；空文本视为失败，不向后传递。
func PostProcess(raw, outputKey string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("%w for %q", ErrEmptyCompletion, outputKey)
	}
	return text, nil
}

// Digest 取首个非标题段落，超出 limit 个字符时截断，用于日志与列表展示。
func Digest(text string, limit int) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return truncate(line, limit)
	}
	return truncate(strings.Join(strings.Fields(text), " "), limit)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
