package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// BodyFormat 源记录正文格式
type BodyFormat string

const (
	// FormatHTML HTML正文
	FormatHTML BodyFormat = "html"
	// FormatMarkdown Markdown正文，分割前先渲染为HTML
	FormatMarkdown BodyFormat = "markdown"
)

// ErrUnsupportedFormat 不支持的正文格式
var ErrUnsupportedFormat = errors.New("unsupported body format")

// ParseFormat 解析正文格式，空字符串视为HTML
func ParseFormat(s string) (BodyFormat, error) {
	switch BodyFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatMarkdown:
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

// MarkdownToHTML 将Markdown正文渲染为HTML
// 每个Markdown块渲染为一个顶层元素，独占一行的图片会落在单独的<p>中
func MarkdownToHTML(src string) string {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)

	doc := mdParser.Parse([]byte(src))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return string(markdown.Render(doc, renderer))
}

// NormalizeBody 按格式把正文统一转换为HTML
func NormalizeBody(body string, format BodyFormat) (string, error) {
	switch format {
	case "", FormatHTML:
		return body, nil
	case FormatMarkdown:
		return MarkdownToHTML(body), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
