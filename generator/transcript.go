package generator

import (
	"strings"
	"sync"
	"time"
)

// DefaultInputKey 是链路输入变量名，同时作为 transcript 记录输入时使用的 key。
const DefaultInputKey = "topic"

// Transcript 按顺序累积每一步的输入与输出，只追加不删除，进程重启即清空。
// 读取可与写入并发；同一时刻只应有一次运行写入，由调用方串行化。
type Transcript struct {
	inputKey string

	mu      sync.RWMutex
	entries []TranscriptEntry
	seq     int
}

// NewTranscript 创建空 transcript；inputKey 为空时使用 DefaultInputKey。
func NewTranscript(inputKey string) *Transcript {
	if inputKey == "" {
		inputKey = DefaultInputKey
	}
	return &Transcript{inputKey: inputKey}
}

// InputKey 返回记录输入时使用的变量名。
func (t *Transcript) InputKey() string {
	return t.inputKey
}

// Append 追加一条记录并分配下一个序号。
func (t *Transcript) Append(key, text string) TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	e := TranscriptEntry{
		Seq:       t.seq,
		Key:       key,
		Text:      text,
		CreatedAt: time.Now(),
	}
	t.entries = append(t.entries, e)
	return e
}

// Len returns the number of recorded entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries 返回记录副本，调用方修改不会影响 transcript。
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Render 按插入顺序拼接为 "key: text" 行，用于展示和 chat_history 变量。
func (t *Transcript) Render() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return render(t.entries)
}

// Snapshot returns the rendered text and a copy of the entries taken under
// one read lock, so both describe the same point in the history.
func (t *Transcript) Snapshot() (string, []TranscriptEntry) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return render(out), out
}

func render(entries []TranscriptEntry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(e.Key)
		sb.WriteString(": ")
		sb.WriteString(e.Text)
	}
	return sb.String()
}
