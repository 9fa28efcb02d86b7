package document

import (
	"errors"

	"golang.org/x/net/html"
)

// ErrNoImageFound 片段中不存在<img>元素
// 只应在ContainsTag确认存在图片之后调用ExtractFirstImage，出现该错误说明调用方违反了约定
var ErrNoImageFound = errors.New("no image found in fragment")

// BlockKind 内容块类型
type BlockKind string

const (
	// KindText 富文本块
	KindText BlockKind = "text"
	// KindImage 图片引用块
	KindImage BlockKind = "image"
)

// Block 分割后的内容块
// 只有TextBlock和ImageBlock两种实现
type Block interface {
	// Kind 返回内容块类型
	Kind() BlockKind
}

// TextBlock 富文本块
// HTML为一个或多个连续非图片片段按文档顺序拼接的原始标记，不做任何裁剪或规范化
type TextBlock struct {
	HTML string
}

// Kind 实现Block接口
func (TextBlock) Kind() BlockKind { return KindText }

// ImageBlock 图片引用块
// 取自片段中第一个<img>元素，缺失的属性一律为空字符串
type ImageBlock struct {
	Src string
	Alt string
}

// Kind 实现Block接口
func (ImageBlock) Kind() BlockKind { return KindImage }

// Image 从片段中提取出的图片属性
type Image struct {
	Src string
	Alt string
}

// FragmentParser HTML片段解析能力
// 负责解析、遍历、序列化和按标签查找节点
type FragmentParser interface {
	// Parse 宽松解析HTML，返回文档根节点
	Parse(src string) (*html.Node, error)

	// ChildNodes 按文档顺序返回节点的直接子节点（包括文本和注释节点）
	ChildNodes(n *html.Node) []*html.Node

	// Serialize 将节点序列化回HTML字符串
	Serialize(n *html.Node) (string, error)

	// FindDescendants 以先序遍历返回n的所有指定标签后代元素，标签名大小写不敏感
	FindDescendants(n *html.Node, tag string) []*html.Node
}

// Splitter 内容块分割器接口
// 负责将一段HTML正文分割成有序的内容块
type Splitter interface {
	// Split 将HTML分割成内容块
	Split(src string) ([]Block, error)
}
