package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat 不支持的格式
var ErrUnsupportedFormat = errors.New("unsupported format")

// Format 支持的源文档格式
type Format string

const (
	FormatEPUB     Format = "epub"
	FormatDOCX     Format = "docx"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Formats 全部支持的格式
var Formats = []Format{FormatEPUB, FormatDOCX, FormatHTML, FormatMarkdown, FormatText}

func (f Format) String() string {
	return string(f)
}

// Valid 判断格式是否支持
func (f Format) Valid() bool {
	switch f {
	case FormatEPUB, FormatDOCX, FormatHTML, FormatMarkdown, FormatText:
		return true
	}
	return false
}

// Archive 是否为 ZIP 容器格式
func (f Format) Archive() bool {
	return f == FormatEPUB || f == FormatDOCX
}

// Markup 是否为纯文本类格式
func (f Format) Markup() bool {
	return f == FormatHTML || f == FormatMarkdown || f == FormatText
}

// ParseFormat 解析格式名或常见别名（包括文件扩展名）
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "epub":
		return FormatEPUB, nil
	case "docx":
		return FormatDOCX, nil
	case "html", "htm", "xhtml":
		return FormatHTML, nil
	case "markdown", "md", "mdown", "mkd":
		return FormatMarkdown, nil
	case "text", "txt", "plain":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Extension 返回格式的标准扩展名（带点）
func (f Format) Extension() string {
	switch f {
	case FormatEPUB:
		return ".epub"
	case FormatDOCX:
		return ".docx"
	case FormatHTML:
		return ".html"
	case FormatMarkdown:
		return ".md"
	case FormatText:
		return ".txt"
	}
	return ""
}
