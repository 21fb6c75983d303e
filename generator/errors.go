package generator

import "errors"

// 配置类错误在启动时即失败；运行期错误原样返回给调用方，不做重试。
var (
	// ErrEmptyTopic 主题为空时链路不执行。
	ErrEmptyTopic = errors.New("topic is empty")

	ErrInvalidTemplate   = errors.New("invalid prompt template")
	ErrMissingBinding    = errors.New("missing template binding")
	ErrUnexpectedBinding = errors.New("unexpected template binding")
	ErrInvalidChain      = errors.New("invalid chain configuration")

	// ErrEmptyCompletion 模型返回空文本。
	ErrEmptyCompletion = errors.New("model returned empty text")
)
