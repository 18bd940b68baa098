// Package testutil 提供测试用的辅助工具，例如生成带定位文本的最小PDF。
package testutil

import (
	"bytes"
	"fmt"
	"strings"
)

// PDFText 页面上的一段文本，坐标为PDF原生坐标（原点在左下角）。
// Ops 非空时代替 Text，原样写在 Td 之后，例如 "[(John) -300 (Smith)] TJ"。
type PDFText struct {
	X, Y float64
	Size float64
	Text string
	Ops  string
}

// Line 便捷构造函数
func Line(x, y, size float64, text string) PDFText {
	return PDFText{X: x, Y: y, Size: size, Text: text}
}

// Raw 用原始文本操作符构造一段文本
func Raw(x, y, size float64, ops string) PDFText {
	return PDFText{X: x, Y: y, Size: size, Ops: ops}
}

// PDFOptions 控制生成的PDF结构
type PDFOptions struct {
	// PageWidth/PageHeight 默认 612x792
	PageWidth, PageHeight float64
	// InheritMediaBox 为 true 时 MediaBox 只写在 Pages 节点上
	InheritMediaBox bool
	// GlyphWidth 大于 0 时为字符 32..126 写入统一字宽（千分之一 em），否则不写字宽表
	GlyphWidth float64
}

// BuildPDF 生成一个包含给定页面的最小合法PDF（Helvetica，无字宽表）
func BuildPDF(pages ...[]PDFText) []byte {
	return BuildPDFWith(PDFOptions{}, pages...)
}

// BuildPDFWith 按 opts 生成PDF
func BuildPDFWith(opts PDFOptions, pages ...[]PDFText) []byte {
	if opts.PageWidth <= 0 {
		opts.PageWidth = 612
	}
	if opts.PageHeight <= 0 {
		opts.PageHeight = 792
	}
	mediaBox := fmt.Sprintf("/MediaBox [0 0 %g %g]", opts.PageWidth, opts.PageHeight)

	var buf bytes.Buffer
	var offsets []int
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	// 1: catalog, 2: pages, 3: font, 之后每页两个对象 (page, content)
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+i*2)
	}
	pagesBox, pageBox := "", mediaBox
	if opts.InheritMediaBox {
		pagesBox, pageBox = " "+mediaBox, ""
	}
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d%s >>", strings.Join(kids, " "), len(pages), pagesBox))

	font := "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica"
	if opts.GlyphWidth > 0 {
		widths := make([]string, 126-32+1)
		for i := range widths {
			widths[i] = fmt.Sprintf("%g", opts.GlyphWidth)
		}
		font += fmt.Sprintf(" /FirstChar 32 /LastChar 126 /Widths [%s]", strings.Join(widths, " "))
	}
	writeObj(font + " >>")

	for i, texts := range pages {
		var content strings.Builder
		for _, t := range texts {
			ops := t.Ops
			if ops == "" {
				ops = fmt.Sprintf("(%s) Tj", escapePDFString(t.Text))
			}
			fmt.Fprintf(&content, "BT /F1 %g Tf %g %g Td %s ET\n", t.Size, t.X, t.Y, ops)
		}
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R %s /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", pageBox, 5+i*2))
		stream := content.String()
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func escapePDFString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
