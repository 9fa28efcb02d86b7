package document

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// FragmentSplitter 按顶层片段分割HTML正文
// 连续的非图片片段合并为一个TextBlock，含图片的片段单独生成ImageBlock并打断合并
type FragmentSplitter struct {
	parser FragmentParser // HTML解析器
	logger *logrus.Logger // 日志记录器
}

// SplitterOption 分割器配置选项
type SplitterOption func(*FragmentSplitter)

// WithParser 设置HTML解析器
func WithParser(parser FragmentParser) SplitterOption {
	return func(s *FragmentSplitter) {
		if parser != nil {
			s.parser = parser
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) SplitterOption {
	return func(s *FragmentSplitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFragmentSplitter 创建片段分割器
func NewFragmentSplitter(opts ...SplitterOption) *FragmentSplitter {
	s := &FragmentSplitter{
		parser: defaultParser,
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split 将HTML正文分割成有序的内容块
// 非图片片段原样拼接，包括纯空白文本，文本块依次拼接可还原全部非图片片段
// 空输入或只有空白的输入返回空列表；不规范的标记按解析器的容错结果处理
func (s *FragmentSplitter) Split(src string) ([]Block, error) {
	blocks := []Block{}

	doc, err := s.parser.Parse(src)
	if err != nil {
		return nil, err
	}
	body := findBody(s.parser, doc)
	if body == nil {
		return blocks, nil
	}

	var current strings.Builder
	for i, child := range s.parser.ChildNodes(body) {
		fragment, err := s.parser.Serialize(child)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i, err)
		}

		if !containsTag(s.parser, fragment, "img") {
			current.WriteString(fragment)
			continue
		}

		if current.Len() > 0 {
			blocks = append(blocks, TextBlock{HTML: current.String()})
			current.Reset()
		}

		img, err := extractFirstImage(s.parser, fragment)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i, err)
		}
		if s.logger.IsLevelEnabled(logrus.DebugLevel) && discardsContent(fragment) {
			s.logger.WithFields(logrus.Fields{
				"fragment": i,
				"src":      img.Src,
			}).Debug("Image fragment has content besides its first image, dropping it")
		}
		blocks = append(blocks, ImageBlock{Src: img.Src, Alt: img.Alt})
	}

	if current.Len() > 0 {
		blocks = append(blocks, TextBlock{HTML: current.String()})
	}

	return blocks, nil
}

// CountBlocks 统计内容块中文本块和图片块的数量
func CountBlocks(blocks []Block) (text int, image int) {
	for _, b := range blocks {
		switch b.Kind() {
		case KindText:
			text++
		case KindImage:
			image++
		}
	}
	return text, image
}
