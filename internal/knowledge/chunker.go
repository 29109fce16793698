package knowledge

import (
	"regexp"
	"strings"

	"github.com/wengyuechuan/rag-backend/internal/errors"
)

// ChunkStrategy 分块策略
type ChunkStrategy string

const (
	StrategySemantic  ChunkStrategy = "semantic"
	StrategyFixed     ChunkStrategy = "fixed"
	StrategyRecursive ChunkStrategy = "recursive"
	StrategyParagraph ChunkStrategy = "paragraph"
)

// Chunk 表示分块后的文本片段，位置均以rune计
type Chunk struct {
	Index    int
	Text     string
	StartPos int
	EndPos   int
}

// Chunker 多策略文本分块器
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// 递归分块的分隔符优先级，空串表示按步长硬切
var recursiveSeparators = []string{"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""}

var (
	zhSentencePattern = regexp.MustCompile(`[^。！？；…]+[。！？；…]?`)
	enSentencePattern = regexp.MustCompile(`[^.!?]+[.!?]?`)
	paragraphPattern  = regexp.MustCompile(`\n\s*\n`)
)

// NewChunker 创建分块器，overlap必须小于chunkSize
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, errors.NewConfigurationError("chunk size must be positive")
	}
	if chunkOverlap < 0 {
		return nil, errors.NewConfigurationError("chunk overlap must not be negative")
	}
	if chunkOverlap >= chunkSize {
		return nil, errors.NewConfigurationError("chunk overlap must be smaller than chunk size")
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

// Split 按指定策略切分文本，未知策略回退到语义分块
func (c *Chunker) Split(text string, strategy ChunkStrategy, language string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	switch strategy {
	case StrategyFixed:
		return c.FixedSize(text)
	case StrategyRecursive:
		return c.Recursive(text)
	case StrategyParagraph:
		return c.Paragraph(text)
	default:
		return c.Semantic(text, language)
	}
}

// FixedSize 固定长度分块，相邻块共享chunkOverlap个字符
func (c *Chunker) FixedSize(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			Text:     string(runes[start:end]),
			StartPos: start,
			EndPos:   end,
		})
		start = end - c.chunkOverlap
		if start >= len(runes)-c.chunkOverlap {
			break
		}
	}
	return chunks
}

// Recursive 递归分块，按分隔符优先级逐层细分超长片段
func (c *Chunker) Recursive(text string) []Chunk {
	return c.locate(text, c.recursiveSplit(text, recursiveSeparators))
}

func (c *Chunker) recursiveSplit(text string, separators []string) []string {
	if runeLen(text) <= c.chunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	separator := ""
	var remaining []string
	for i, sep := range separators {
		if sep == "" {
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	// forceSplit的步长已含重叠，这里不再叠加
	if separator == "" {
		return c.forceSplit(text)
	}

	// 分隔符保留在片段尾部
	var splits []string
	parts := strings.Split(text, separator)
	for i, part := range parts {
		if part == "" && i == len(parts)-1 {
			continue
		}
		if i < len(parts)-1 {
			part += separator
		}
		if part != "" {
			splits = append(splits, part)
		}
	}

	var chunks []string
	current := ""
	for _, split := range splits {
		if runeLen(current)+runeLen(split) <= c.chunkSize {
			current += split
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
		}
		if runeLen(split) > c.chunkSize {
			chunks = append(chunks, c.recursiveSplit(split, remaining)...)
			current = ""
		} else {
			current = split
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}

	return c.addOverlap(chunks)
}

// forceSplit 无可用分隔符时按步长硬切
func (c *Chunker) forceSplit(text string) []string {
	runes := []rune(text)
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = c.chunkSize
	}

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// addOverlap 给除首块外的每个块加上前一块的尾部内容
func (c *Chunker) addOverlap(chunks []string) []string {
	if c.chunkOverlap <= 0 || len(chunks) <= 1 {
		return chunks
	}

	result := make([]string, 0, len(chunks))
	result = append(result, chunks[0])
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		from := len(prev) - c.chunkOverlap
		if from < 0 {
			from = 0
		}
		result = append(result, string(prev[from:])+chunks[i])
	}
	return result
}

// Semantic 语义分块，按句子边界聚合并用末尾句子构造重叠
func (c *Chunker) Semantic(text, language string) []Chunk {
	pattern := zhSentencePattern
	if strings.HasPrefix(strings.ToLower(language), "en") {
		pattern = enSentencePattern
	}

	var pieces []string
	current := ""
	var currentSentences []string

	for _, sentence := range pattern.FindAllString(text, -1) {
		if strings.TrimSpace(sentence) == "" {
			continue
		}
		if runeLen(current)+runeLen(sentence) <= c.chunkSize {
			current += sentence
			currentSentences = append(currentSentences, sentence)
			continue
		}

		if current != "" {
			pieces = append(pieces, current)
		}

		// 从尾部回收句子作为下一块的重叠前缀
		overlap := ""
		var overlapSentences []string
		for i := len(currentSentences) - 1; i >= 0; i-- {
			if runeLen(overlap)+runeLen(currentSentences[i]) > c.chunkOverlap {
				break
			}
			overlap = currentSentences[i] + overlap
			overlapSentences = append([]string{currentSentences[i]}, overlapSentences...)
		}

		current = overlap + sentence
		currentSentences = append(overlapSentences, sentence)
	}

	if strings.TrimSpace(current) != "" {
		pieces = append(pieces, current)
	}
	return c.locate(text, pieces)
}

// Paragraph 段落分块，空行分段后贪心合并，超长段落退化为递归分块
func (c *Chunker) Paragraph(text string) []Chunk {
	var pieces []string
	current := ""

	for _, paragraph := range paragraphPattern.Split(text, -1) {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		if runeLen(paragraph) > c.chunkSize {
			if current != "" {
				pieces = append(pieces, current)
				current = ""
			}
			pieces = append(pieces, c.recursiveSplit(paragraph, recursiveSeparators)...)
			continue
		}

		switch {
		case current == "":
			current = paragraph
		case runeLen(current)+2+runeLen(paragraph) <= c.chunkSize:
			current += "\n\n" + paragraph
		default:
			pieces = append(pieces, current)
			current = paragraph
		}
	}

	if current != "" {
		pieces = append(pieces, current)
	}
	return c.locate(text, pieces)
}

// locate 将文本片段映射回原文位置，用片段前50个字符在游标之后检索
func (c *Chunker) locate(text string, pieces []string) []Chunk {
	runes := []rune(text)
	chunks := make([]Chunk, 0, len(pieces))
	cursor := 0

	for _, piece := range pieces {
		pieceRunes := []rune(piece)
		needle := pieceRunes
		if len(needle) > 50 {
			needle = needle[:50]
		}

		start := runeIndex(runes, needle, cursor)
		if start < 0 {
			start = runeIndex(runes, needle, 0)
		}
		if start < 0 {
			start = cursor
		}

		end := start + len(pieceRunes)
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			Text:     piece,
			StartPos: start,
			EndPos:   end,
		})

		// 重叠块的起点可能早于前块终点，游标只保证前进
		if start+1 > cursor {
			cursor = start + 1
		}
	}
	return chunks
}

func runeLen(s string) int {
	return len([]rune(s))
}

// runeIndex 在runes中从from起查找needle，返回rune下标
func runeIndex(runes, needle []rune, from int) int {
	if len(needle) == 0 {
		return from
	}
	for i := from; i+len(needle) <= len(runes); i++ {
		matched := true
		for j := range needle {
			if runes[i+j] != needle[j] {
				matched = false
				break
			}
		}
		if matched {
			return i
		}
	}
	return -1
}
