package document

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// GoqueryParser 基于goquery实现的片段解析器
// 底层使用golang.org/x/net/html的HTML5解析算法，对不规范标记按浏览器规则容错
type GoqueryParser struct{}

// NewGoqueryParser 创建goquery解析器
func NewGoqueryParser() *GoqueryParser {
	return &GoqueryParser{}
}

// Parse 解析HTML并返回文档根节点
func (p *GoqueryParser) Parse(src string) (*html.Node, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return doc.Get(0), nil
}

// ChildNodes 返回节点的直接子节点
func (p *GoqueryParser) ChildNodes(n *html.Node) []*html.Node {
	if n == nil {
		return nil
	}
	return goquery.NewDocumentFromNode(n).Contents().Nodes
}

// Serialize 序列化单个节点
func (p *GoqueryParser) Serialize(n *html.Node) (string, error) {
	out, err := goquery.OuterHtml(goquery.NewDocumentFromNode(n).Selection)
	if err != nil {
		return "", fmt.Errorf("serializing node: %w", err)
	}
	return out, nil
}

// FindDescendants 查找指定标签的后代元素
func (p *GoqueryParser) FindDescendants(n *html.Node, tag string) []*html.Node {
	if n == nil || tag == "" {
		return nil
	}
	// 用通配选择器加名称过滤，避免把任意标签名当作CSS选择器编译
	return goquery.NewDocumentFromNode(n).Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.EqualFold(goquery.NodeName(s), tag)
	}).Nodes
}

// defaultParser 包级辅助函数使用的解析器
var defaultParser FragmentParser = NewGoqueryParser()

// ContainsTag 独立解析片段，判断其中任意深度是否存在指定标签的元素
func ContainsTag(fragment string, tag string) bool {
	return containsTag(defaultParser, fragment, tag)
}

// ExtractFirstImage 独立解析片段，返回先序遍历中第一个<img>的src和alt
// 缺失的属性返回空字符串；片段中没有图片时返回ErrNoImageFound
func ExtractFirstImage(fragment string) (Image, error) {
	return extractFirstImage(defaultParser, fragment)
}

func containsTag(p FragmentParser, fragment string, tag string) bool {
	doc, err := p.Parse(fragment)
	if err != nil || doc == nil {
		return false
	}
	return len(p.FindDescendants(doc, tag)) > 0
}

func extractFirstImage(p FragmentParser, fragment string) (Image, error) {
	doc, err := p.Parse(fragment)
	if err != nil {
		return Image{}, err
	}

	images := p.FindDescendants(doc, "img")
	if len(images) == 0 {
		return Image{}, ErrNoImageFound
	}

	return Image{
		Src: attr(images[0], "src"),
		Alt: attr(images[0], "alt"),
	}, nil
}

// attr 读取属性值，属性不存在时返回空字符串
func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// findBody 返回文档中的<body>节点，不存在时返回nil
func findBody(p FragmentParser, doc *html.Node) *html.Node {
	bodies := p.FindDescendants(doc, "body")
	if len(bodies) == 0 {
		return nil
	}
	return bodies[0]
}

// discardsContent 判断图片片段在取第一张图之后是否还有被丢弃的内容
func discardsContent(fragment string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return false
	}
	body := doc.Find("body")
	return body.Find("img").Length() > 1 || strings.TrimSpace(body.Text()) != ""
}
