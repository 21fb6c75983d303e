package server

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// 模型输出是 Markdown（标题、列表、表格），展示前转成 HTML。
// goldmark 默认不透传原始 HTML，模型输出中的标签会被省略。
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

func markdownHTML(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
