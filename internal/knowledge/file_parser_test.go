package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
)

func TestFileParserSupports(t *testing.T) {
	p := NewFileParser()

	assert.True(t, p.Supports("文档.txt"))
	assert.True(t, p.Supports("README.MD"))
	assert.True(t, p.Supports("report.pdf"))
	assert.True(t, p.Supports("doc.docx"))
	assert.True(t, p.Supports("table.xlsx"))
	assert.False(t, p.Supports("image.png"))
	assert.False(t, p.Supports("noextension"))
}

func TestFileParserSupportedFormats(t *testing.T) {
	formats := NewFileParser().SupportedFormats()
	assert.Equal(t, []string{".docx", ".markdown", ".md", ".pdf", ".txt", ".xlsx"}, formats)
}

func TestFileParserParsePlainText(t *testing.T) {
	p := NewFileParser()

	content, err := p.Parse(strings.NewReader("第一行\n第二行"), "note.txt")
	require.NoError(t, err)
	assert.Equal(t, "第一行\n第二行", content)

	content, err = p.Parse(strings.NewReader("# 标题\n\n正文"), "README.md")
	require.NoError(t, err)
	assert.Equal(t, "# 标题\n\n正文", content)
}

func TestFileParserUnsupportedFormat(t *testing.T) {
	p := NewFileParser()
	_, err := p.Parse(strings.NewReader("data"), "archive.zip")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidFileFormat))
}

func TestFileParserCorruptedPDF(t *testing.T) {
	p := NewFileParser()
	_, err := p.Parse(strings.NewReader("这不是PDF文件"), "broken.pdf")
	assert.Error(t, err)
}
