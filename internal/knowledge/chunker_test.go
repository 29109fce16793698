package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
)

func TestNewChunkerConfig(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"合法配置", 500, 100, false},
		{"零重叠", 100, 0, false},
		{"块大小为零", 0, 0, true},
		{"块大小为负", -10, 0, true},
		{"重叠为负", 100, -1, true},
		{"重叠等于块大小", 100, 100, true},
		{"重叠超过块大小", 100, 150, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChunker(tt.size, tt.overlap)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))
				assert.Nil(t, c)
			} else {
				require.NoError(t, err)
				require.NotNil(t, c)
			}
		})
	}
}

func TestSplitEmptyInput(t *testing.T) {
	c, err := NewChunker(100, 20)
	require.NoError(t, err)

	assert.Nil(t, c.Split("", StrategyFixed, "zh"))
	assert.Nil(t, c.Split("   \n\t  ", StrategySemantic, "zh"))
}

func TestFixedSizeChunks(t *testing.T) {
	c, err := NewChunker(100, 20)
	require.NoError(t, err)

	text := strings.Repeat("a", 250)
	chunks := c.FixedSize(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, 100, chunks[0].EndPos)
	assert.Equal(t, 80, chunks[1].StartPos)
	assert.Equal(t, 180, chunks[1].EndPos)
	assert.Equal(t, 160, chunks[2].StartPos)
	assert.Equal(t, 250, chunks[2].EndPos)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, chunk.EndPos-chunk.StartPos, len([]rune(chunk.Text)))
	}
}

func TestFixedSizeShortText(t *testing.T) {
	c, err := NewChunker(100, 20)
	require.NoError(t, err)

	chunks := c.FixedSize("短文本")
	require.Len(t, chunks, 1)
	assert.Equal(t, "短文本", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, 3, chunks[0].EndPos)
}

func TestFixedSizeOverlapContent(t *testing.T) {
	c, err := NewChunker(10, 3)
	require.NoError(t, err)

	text := "0123456789abcdefghij"
	chunks := c.FixedSize(text)
	require.True(t, len(chunks) >= 2)

	// 相邻块共享尾部3个字符
	first := []rune(chunks[0].Text)
	second := []rune(chunks[1].Text)
	assert.Equal(t, string(first[len(first)-3:]), string(second[:3]))
}

func TestRecursiveSplitKeepsSeparators(t *testing.T) {
	c, err := NewChunker(10, 0)
	require.NoError(t, err)

	text := "aaaa\n\nbbbb\n\ncccc"
	chunks := c.Recursive(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, "aaaa\n\n", chunks[0].Text)
	assert.Equal(t, "bbbb\n\ncccc", chunks[1].Text)
	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, 6, chunks[1].StartPos)
	assert.Equal(t, 16, chunks[1].EndPos)
}

func TestRecursiveSplitChinesePunctuation(t *testing.T) {
	c, err := NewChunker(8, 0)
	require.NoError(t, err)

	text := "今天天气很好。我们出去玩。晚上吃饭。"
	chunks := c.Recursive(text)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk.Text)), 8)
	}
	// 句号保留在片段尾部
	assert.True(t, strings.HasSuffix(chunks[0].Text, "。"))
}

func TestRecursiveForceSplitWithoutSeparators(t *testing.T) {
	c, err := NewChunker(10, 0)
	require.NoError(t, err)

	text := strings.Repeat("x", 25)
	chunks := c.Recursive(text)

	require.NotEmpty(t, chunks)
	var rebuilt strings.Builder
	for _, chunk := range chunks {
		rebuilt.WriteString(chunk.Text)
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestRecursiveForceSplitRespectsChunkSize(t *testing.T) {
	c, err := NewChunker(10, 3)
	require.NoError(t, err)

	// 无分隔符文本按步长硬切，重叠不会把块撑过chunkSize
	text := "abcdefghijklmnopqrstuvwxyz0123"
	chunks := c.Recursive(text)

	require.Len(t, chunks, 4)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk.Text)), 10)
	}
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		curr := []rune(chunks[i].Text)
		assert.Equal(t, string(prev[len(prev)-3:]), string(curr[:3]))
	}
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1].Text, "0123"))
}

func TestRecursiveDeterministic(t *testing.T) {
	c, err := NewChunker(50, 10)
	require.NoError(t, err)

	text := "第一段内容。还有一些补充说明。\n\n第二段内容，包含更多的细节描述和示例。\n\n第三段收尾。"
	first := c.Recursive(text)
	second := c.Recursive(text)
	assert.Equal(t, first, second)
}

func TestSemanticChineseSentences(t *testing.T) {
	c, err := NewChunker(8, 0)
	require.NoError(t, err)

	text := "第一句。第二句。第三句。"
	chunks := c.Semantic(text, "zh")

	require.Len(t, chunks, 2)
	assert.Equal(t, "第一句。第二句。", chunks[0].Text)
	assert.Equal(t, "第三句。", chunks[1].Text)
	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, 8, chunks[1].StartPos)
}

func TestSemanticOverlapSeedsSentences(t *testing.T) {
	c, err := NewChunker(10, 4)
	require.NoError(t, err)

	text := "啊啊啊。哦哦哦。嗯嗯嗯。呀呀呀。"
	chunks := c.Semantic(text, "zh")

	require.Len(t, chunks, 3)
	// 每个后续块以前一块的末尾句子开头
	assert.Equal(t, "啊啊啊。哦哦哦。", chunks[0].Text)
	assert.Equal(t, "哦哦哦。嗯嗯嗯。", chunks[1].Text)
	assert.Equal(t, "嗯嗯嗯。呀呀呀。", chunks[2].Text)
}

func TestSemanticEnglishSentences(t *testing.T) {
	c, err := NewChunker(30, 0)
	require.NoError(t, err)

	text := "First sentence here. Second one follows. Third closes it."
	chunks := c.Semantic(text, "en")

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(chunk.Text))
	}
}

func TestSemanticOversizedSentence(t *testing.T) {
	c, err := NewChunker(10, 0)
	require.NoError(t, err)

	// 单句超过chunkSize时仍然作为独立块输出
	text := "这是一个远远超过十个字符限制的超长句子。"
	chunks := c.Semantic(text, "zh")

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
}

func TestParagraphPacking(t *testing.T) {
	c, err := NewChunker(20, 0)
	require.NoError(t, err)

	text := "短段一\n\n短段二\n\n" + strings.Repeat("长", 25)
	chunks := c.Paragraph(text)

	require.True(t, len(chunks) >= 2)
	// 短段落被合并进同一块
	assert.Equal(t, "短段一\n\n短段二", chunks[0].Text)
}

func TestParagraphBlankLineVariants(t *testing.T) {
	c, err := NewChunker(100, 0)
	require.NoError(t, err)

	// 空行带空白字符时同样作为段落边界
	text := "段落甲\n  \n段落乙\n\t\n段落丙"
	chunks := c.Paragraph(text)

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "段落甲")
	assert.Contains(t, chunks[0].Text, "段落丙")
}

func TestSplitDispatchDefaultsToSemantic(t *testing.T) {
	c, err := NewChunker(8, 0)
	require.NoError(t, err)

	text := "第一句。第二句。第三句。"
	assert.Equal(t, c.Semantic(text, "zh"), c.Split(text, "unknown", "zh"))
	assert.Equal(t, c.FixedSize(text), c.Split(text, StrategyFixed, "zh"))
}
