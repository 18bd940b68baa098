package tracing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-matcher/internal/types"
)

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "*", Mask("a"))
	assert.Equal(t, "张*", Mask("张三"))
	assert.Equal(t, "王*明", Mask("王小明"))
	assert.Equal(t, "j**************m", Mask("jane@example.com"))
}

func TestAttr(t *testing.T) {
	assert.Equal(t, "j**************m", Attr("candidate.email", "jane@example.com").Value.AsString())
	assert.Equal(t, "l*******f", Attr("document.filename", "lihua.pdf").Value.AsString())
	assert.Equal(t, "abc", Attr("job.id", "abc").Value.AsString())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "ab...yz", Truncate("abcdefghijklmnopqrstuvwxyz", 7))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "short", Truncate("short", 10))
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorTypeDocument, ClassifyError(types.NewEmptyDocumentError("d1", "no bytes")))
	assert.Equal(t, ErrorTypeValidation, ClassifyError(types.NewInvalidWeightsError("sum is 1.2")))
	assert.Equal(t, ErrorTypeTimeout, ClassifyError(types.NewBatchTimeoutError("j1", 2)))
	assert.Equal(t, ErrorTypeInternal, ClassifyError(fmt.Errorf("boom")))
}

func TestInitProvider_NoEndpoint(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), "", "svc", "1.0", 1)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
