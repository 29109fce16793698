package knowledge

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
)

// FileParser 按扩展名解析上传文件为纯文本
type FileParser struct {
	handlers map[string]func([]byte) (string, error)
}

// NewFileParser 创建文件解析器
func NewFileParser() *FileParser {
	p := &FileParser{}
	p.handlers = map[string]func([]byte) (string, error){
		".txt":      parsePlainText,
		".md":       parsePlainText,
		".markdown": parsePlainText,
		".pdf":      parsePDF,
		".docx":     parseDocx,
		".xlsx":     parseXlsx,
	}
	return p
}

// Supports 判断文件格式是否可解析
func (p *FileParser) Supports(filename string) bool {
	_, ok := p.handlers[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// SupportedFormats 返回支持的扩展名列表
func (p *FileParser) SupportedFormats() []string {
	formats := make([]string, 0, len(p.handlers))
	for ext := range p.handlers {
		formats = append(formats, ext)
	}
	sort.Strings(formats)
	return formats
}

// Parse 解析文件内容，不支持的格式返回验证错误
func (p *FileParser) Parse(reader io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	handler, ok := p.handlers[ext]
	if !ok {
		return "", apperrors.NewBusinessError(apperrors.ErrCodeInvalidFileFormat,
			fmt.Sprintf("unsupported file format: %s", ext))
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", apperrors.NewBusinessError(apperrors.ErrCodeUploadFailed, "failed to read file").WithCause(err)
	}
	return handler(data)
}

func parsePlainText(data []byte) (string, error) {
	return string(data), nil
}

func parsePDF(data []byte) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("解析PDF失败: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("获取PDF页数失败: %w", err)
	}

	var builder strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

func parseDocx(data []byte) (string, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	var builder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			builder.WriteString(run.Text())
		}
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

func parseXlsx(data []byte) (string, error) {
	ss, err := spreadsheet.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("解析Excel文档失败: %w", err)
	}
	defer ss.Close()

	var builder strings.Builder
	for _, sheet := range ss.Sheets() {
		builder.WriteString(fmt.Sprintf("工作表: %s\n", sheet.Name()))
		for _, row := range sheet.Rows() {
			var cells []string
			for _, cell := range row.Cells() {
				cells = append(cells, cell.GetString())
			}
			if len(cells) > 0 {
				builder.WriteString(strings.Join(cells, "\t"))
				builder.WriteString("\n")
			}
		}
		builder.WriteString("\n")
	}
	return builder.String(), nil
}
