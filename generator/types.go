package generator

import (
	"strings"
	"time"
)

// TranscriptEntry 是 transcript 中的一条记录，创建后不再修改。
type TranscriptEntry struct {
	Seq       int       `json:"seq"`
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Output 是某一步按 output key 产出的文本。
type Output struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// RunResult 是一次完整链路运行的结果，Outputs 顺序与步骤配置顺序一致。
type RunResult struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Outputs   []Output  `json:"outputs"`
	CreatedAt time.Time `json:"created_at"`
}

// Get returns the text produced under key.
func (r *RunResult) Get(key string) (string, bool) {
	for _, o := range r.Outputs {
		if o.Key == key {
			return o.Text, true
		}
	}
	return "", false
}

// Keys 按配置顺序返回所有 output key。
func (r *RunResult) Keys() []string {
	keys := make([]string, len(r.Outputs))
	for i, o := range r.Outputs {
		keys[i] = o.Key
	}
	return keys
}

// Combined 用空行拼接所有输出，作为导出文档的正文。
func (r *RunResult) Combined() string {
	texts := make([]string, len(r.Outputs))
	for i, o := range r.Outputs {
		texts[i] = o.Text
	}
	return strings.Join(texts, "\n\n")
}
