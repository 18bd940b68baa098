package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"resume-matcher/internal/types"
)

const (
	defaultPageHeight = 792.0 // US Letter
	// 同一行的基线允许的偏差（相对字号）
	baselineTolerance = 0.3
	// 超过该水平间距（相对字号）则视为另一个文本块，通常是分栏
	columnGapRatio = 1.5
	// 超过该水平间距（相对字号）补一个空格，TJ 字距和 Td 位移产生的词间距没有空格字形
	wordGapRatio = 0.15
	// 缺少字宽信息时的估算字宽（相对字号）
	fallbackGlyphWidth = 0.5
)

var pdfMagic = []byte("%PDF")

// PDFDecoder 将PDF字节解码为带位置信息的文本块
type PDFDecoder struct {
	logger *log.Logger
}

// DecoderOption PDF解码器的配置选项
type DecoderOption func(*PDFDecoder)

// WithDecoderLogger 配置自定义日志记录器
func WithDecoderLogger(logger *log.Logger) DecoderOption {
	return func(d *PDFDecoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewPDFDecoder 创建PDF解码器
func NewPDFDecoder(options ...DecoderOption) *PDFDecoder {
	d := &PDFDecoder{logger: log.New(io.Discard, "", 0)}
	for _, option := range options {
		option(d)
	}
	return d
}

// Decode 解码PDF，按 页码 -> 从上到下 -> 从左到右 的顺序返回文本块。
// 空输入返回 ErrEmptyDocument，无法解析的输入返回 ErrUnreadableDocument。
func (d *PDFDecoder) Decode(ctx context.Context, docID string, data []byte) (blocks []types.TextBlock, err error) {
	if len(data) == 0 {
		return nil, types.NewEmptyDocumentError(docID, "zero bytes")
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), pdfMagic) {
		return nil, types.NewUnreadableError(docID, "missing %PDF header")
	}

	// ledongthuc/pdf 遇到损坏的内容流会直接 panic
	defer func() {
		if r := recover(); r != nil {
			blocks = nil
			err = types.NewUnreadableError(docID, fmt.Sprintf("pdf parser panic: %v", r))
		}
	}()

	startTime := time.Now()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, types.NewUnreadableError(docID, err.Error())
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		blocks = append(blocks, groupGlyphs(i, pageTop(page), page.Content().Text)...)
	}

	if len(blocks) == 0 {
		return nil, types.NewEmptyDocumentError(docID, fmt.Sprintf("no text layer in %d pages", numPages))
	}

	SortReadingOrder(blocks)
	d.logger.Printf("PDF解码完成: 文档 %s, %d 页, %d 个文本块 (用时 %v)", docID, numPages, len(blocks), time.Since(startTime))
	return blocks, nil
}

// SortReadingOrder 按 页码、行、横坐标 排序。
// 基线相差不超过 baselineTolerance 倍字号的块属于同一行，行内从左到右，与字号无关。
func SortReadingOrder(blocks []types.TextBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.BBox.Y1 != b.BBox.Y1 {
			return a.BBox.Y1 < b.BBox.Y1
		}
		return a.BBox.X0 < b.BBox.X0
	})

	for start := 0; start < len(blocks); {
		first := blocks[start]
		end := start + 1
		for end < len(blocks) && blocks[end].Page == first.Page &&
			blocks[end].BBox.Y1-first.BBox.Y1 <= math.Max(first.FontSize, blocks[end].FontSize)*baselineTolerance {
			end++
		}
		line := blocks[start:end]
		sort.SliceStable(line, func(i, j int) bool { return line[i].BBox.X0 < line[j].BBox.X0 })
		start = end
	}
}

// pageTop 返回页面上边界的纵坐标。MediaBox 可能继承自上级 Pages 节点。
func pageTop(page pdf.Page) float64 {
	var box pdf.Value
	for v := page.V; !v.IsNull(); v = v.Key("Parent") {
		if b := v.Key("MediaBox"); !b.IsNull() {
			box = b
			break
		}
	}
	if box.Kind() != pdf.Array || box.Len() < 4 {
		return defaultPageHeight
	}
	top := box.Index(3).Float64()
	if top-box.Index(1).Float64() <= 0 {
		return defaultPageHeight
	}
	return top
}

// groupGlyphs 把同一基线、同一字号、相邻的字形合并成文本块
func groupGlyphs(pageNum int, top float64, glyphs []pdf.Text) []types.TextBlock {
	var (
		out     []types.TextBlock
		cur     strings.Builder
		curBox  types.BoundingBox
		curSize float64
		curY    float64
		lastEnd float64
		open    bool
	)

	flush := func() {
		if !open {
			return
		}
		text := strings.Join(strings.Fields(cur.String()), " ")
		if text != "" {
			out = append(out, types.TextBlock{Text: text, Page: pageNum, BBox: curBox, FontSize: curSize})
		}
		cur.Reset()
		open = false
	}

	for _, g := range glyphs {
		if g.S == "" {
			continue
		}
		width := g.W
		if width <= 0 {
			width = g.FontSize * fallbackGlyphWidth
		}
		tol := math.Max(g.FontSize, curSize) * baselineTolerance
		sameLine := open &&
			math.Abs(g.Y-curY) <= tol &&
			math.Abs(g.FontSize-curSize) < 0.5 &&
			g.X-lastEnd <= math.Max(g.FontSize, 1)*columnGapRatio
		if !sameLine {
			flush()
			open = true
			curSize = g.FontSize
			curY = g.Y
			curBox = types.BoundingBox{X0: g.X, Y0: top - (g.Y + g.FontSize), X1: g.X + width, Y1: top - g.Y}
		} else if g.X-lastEnd > math.Max(g.FontSize, 1)*wordGapRatio && !endsWithSpace(cur.String()) && !startsWithSpace(g.S) {
			cur.WriteByte(' ')
		}
		cur.WriteString(g.S)
		if end := g.X + width; end > curBox.X1 {
			curBox.X1 = end
		}
		// 零字宽的字形不前移游标
		lastEnd = math.Max(lastEnd, g.X+g.W)
		if !sameLine {
			lastEnd = g.X + g.W
		}
	}
	flush()
	return out
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return s == "" || unicode.IsSpace(r)
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsSpace(r)
}
