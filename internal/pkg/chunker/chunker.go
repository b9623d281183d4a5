// Package chunker 把提取出的文本切成检索粒度的片段
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-ego/gse"
)

const (
	DefaultMaxChars = 2000
	DefaultOverlap  = 200
)

// Chunk 切片结果，Ordinal 从 0 开始连续
type Chunk struct {
	Ordinal int
	Text    string
	Tokens  int
}

// Options 切片配置
type Options struct {
	MaxChars int // 单个切片最大字符数
	Overlap  int // 相邻切片重叠字符数上限
	// NoSegmenter 不加载分词词典，长句按字符切分
	NoSegmenter bool
}

// Chunker 文本切片器
type Chunker struct {
	maxChars  int
	overlap   int
	segmenter *gse.Segmenter // 无空格长句（中日韩文本）按词边界切分
}

// New 创建切片器
func New(opts Options) *Chunker {
	c := &Chunker{maxChars: opts.MaxChars, overlap: opts.Overlap}
	if c.maxChars <= 0 {
		c.maxChars = DefaultMaxChars
	}
	if c.overlap < 0 || c.overlap >= c.maxChars {
		c.overlap = c.maxChars / 10
	}
	if !opts.NoSegmenter {
		segmenter, err := gse.New()
		if err == nil {
			c.segmenter = &segmenter
		}
		// 词典加载失败时 segmenter 保持 nil，退化为按字符切分
	}
	return c
}

// ApproxTokens 近似 token 数，按 4 个字符一个 token 估算
func ApproxTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// unit 不可再分的文本单元，glue 是它与前一个单元之间的分隔符
type unit struct {
	text string
	glue string
	size int
}

func newUnit(text, glue string) unit {
	return unit{text: text, glue: glue, size: utf8.RuneCountInString(text)}
}

// Chunk 切片；空白输入返回空结果
func (c *Chunker) Chunk(text string) []Chunk {
	units := c.units(text)
	if len(units) == 0 {
		return []Chunk{}
	}

	var (
		out     []Chunk
		current []unit
		length  int
	)

	flush := func() {
		var b strings.Builder
		for i, u := range current {
			if i > 0 {
				b.WriteString(u.glue)
			}
			b.WriteString(u.text)
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, Chunk{Ordinal: len(out), Text: s, Tokens: ApproxTokens(s)})
		}
	}

	for _, u := range units {
		need := u.size
		if len(current) > 0 {
			need += utf8.RuneCountInString(u.glue)
		}
		if len(current) > 0 && length+need > c.maxChars {
			flush()
			current, length = c.overlapTail(current)
			// 重叠部分放不下新单元时从前往后丢弃
			for len(current) > 0 && length+utf8.RuneCountInString(u.glue)+u.size > c.maxChars {
				length -= current[0].size
				current = current[1:]
				if len(current) > 0 {
					length -= utf8.RuneCountInString(current[0].glue)
				}
			}
			need = u.size
			if len(current) > 0 {
				need += utf8.RuneCountInString(u.glue)
			}
		}
		current = append(current, u)
		length += need
	}
	if len(current) > 0 {
		flush()
	}
	return out
}

// overlapTail 取末尾不超过 overlap 字符的单元作为下一个切片的开头
func (c *Chunker) overlapTail(units []unit) ([]unit, int) {
	if c.overlap <= 0 {
		return nil, 0
	}
	length := 0
	start := len(units)
	for i := len(units) - 1; i >= 0; i-- {
		add := units[i].size
		if i < len(units)-1 {
			add += utf8.RuneCountInString(units[i+1].glue)
		}
		if length+add > c.overlap {
			break
		}
		length += add
		start = i
	}
	if start == len(units) {
		return nil, 0
	}
	tail := make([]unit, len(units)-start)
	copy(tail, units[start:])
	return tail, length
}

// units 按行、句子切分，超长句子继续按词切分
func (c *Chunker) units(text string) []unit {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []unit
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for i, sentence := range splitSentences(line) {
			glue := " "
			if i == 0 {
				glue = "\n"
			} else if endsWithWide(out) {
				glue = ""
			}
			if utf8.RuneCountInString(sentence) <= c.maxChars {
				out = append(out, newUnit(sentence, glue))
				continue
			}
			out = append(out, c.splitLong(sentence, glue)...)
		}
	}
	return out
}

// splitLong 超长句子：先按空白分词，无空白的长词交给分词器，最后按字符硬切
func (c *Chunker) splitLong(sentence, glue string) []unit {
	var out []unit
	for i, word := range strings.Fields(sentence) {
		g := " "
		if i == 0 {
			g = glue
		}
		if utf8.RuneCountInString(word) <= c.maxChars && !isWide(word) {
			out = append(out, newUnit(word, g))
			continue
		}
		for j, piece := range c.cutWord(word) {
			if j == 0 {
				out = append(out, newUnit(piece, g))
			} else {
				out = append(out, newUnit(piece, ""))
			}
		}
	}
	return out
}

func (c *Chunker) cutWord(word string) []string {
	var words []string
	if c.segmenter != nil {
		words = c.segmenter.Cut(word, false)
	} else {
		words = []string{word}
	}

	step := c.overlap
	if step <= 0 || step > c.maxChars {
		step = c.maxChars
	}
	var out []string
	for _, w := range words {
		if w == "" {
			continue
		}
		runes := []rune(w)
		if len(runes) <= c.maxChars && (c.segmenter != nil || len(runes) <= step) {
			out = append(out, w)
			continue
		}
		for len(runes) > 0 {
			n := min(step, len(runes))
			out = append(out, string(runes[:n]))
			runes = runes[n:]
		}
	}
	return out
}

// splitSentences 在句末标点后断句；西文标点要求后跟空白
func splitSentences(line string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(line)
	for i, r := range runes {
		end := false
		switch r {
		case '。', '！', '？', '；', '…':
			end = true
		case '.', '!', '?':
			end = i+1 < len(runes) && unicode.IsSpace(runes[i+1])
		}
		if end {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func endsWithWide(units []unit) bool {
	if len(units) == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(units[len(units)-1].text)
	return r >= 0x2E80
}

// isWide 是否包含中日韩字符
func isWide(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
