package parser

import (
	"bytes"
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-matcher/internal/testutil"
)

func TestNewEinoPDFTextExtractor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err)
	require.NotNil(t, extractor.parser)
	require.NotNil(t, extractor.logger, "默认使用丢弃输出的 logger")

	customLogger := log.New(os.Stdout, "[测试PDF提取器] ", log.LstdFlags)
	withLogger, err := NewEinoPDFTextExtractor(ctx, WithEinoLogger(customLogger), WithEinoTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, customLogger, withLogger.logger)
	assert.Equal(t, time.Second, withLogger.timeout)
}

func TestEinoPDFTextExtractor_ExtractTextFromBytes(t *testing.T) {
	ctx := context.Background()
	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err)

	data := testutil.BuildPDF([]testutil.PDFText{
		testutil.Line(72, 740, 18, "Jane Doe"),
		testutil.Line(72, 700, 12, "Skills"),
	})
	text, metadata, err := extractor.ExtractTextFromBytes(ctx, data, "doc-1.pdf", map[string]interface{}{
		"document_id": "doc-1",
	})
	require.NoError(t, err)
	assert.Contains(t, text, "Jane")
	assert.Equal(t, "doc-1", metadata["document_id"], "传入的元数据写入结果")
	assert.Equal(t, len(text), metadata["text_length"])
}

func TestEinoPDFTextExtractor_InvalidPDF(t *testing.T) {
	ctx := context.Background()
	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err)

	_, metadata, err := extractor.ExtractTextFromReader(ctx, bytes.NewReader([]byte("%PDF-1.5\nnot really a pdf")), "bad.pdf", "opaque")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.pdf")
	assert.Equal(t, "opaque", metadata["original_options"], "非 map 的 options 原样记录")
}
