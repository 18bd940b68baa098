package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageError(t *testing.T) {
	err := NewEmptyDocumentError("doc-1", "no text layer")
	assert.True(t, errors.Is(err, ErrEmptyDocument))
	assert.False(t, errors.Is(err, ErrUnreadableDocument))
	assert.Equal(t, StageDecode, StageOf(err))
	assert.Equal(t, "stage=decode subject=doc-1: no text layer: empty document", err.Error())

	wrapped := fmt.Errorf("pipeline: %w", err)
	assert.True(t, errors.Is(wrapped, ErrEmptyDocument), "包装后仍可识别")
	assert.Equal(t, StageDecode, StageOf(wrapped))

	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
}

func TestSectionText(t *testing.T) {
	s := Section{Blocks: []TextBlock{{Text: "a"}, {Text: "b c"}}}
	assert.Equal(t, "a\nb c", s.Text())
	assert.Equal(t, "", Section{}.Text())
}
