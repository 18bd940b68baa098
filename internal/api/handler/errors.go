package handler

import (
	"errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"resume-matcher/internal/processor"
	"resume-matcher/internal/storage"
	"resume-matcher/internal/types"
)

// ErrorResponse 错误响应，Stage 为出错的处理阶段
type ErrorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// StatusFor 将业务错误映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, types.ErrEmptyDocument),
		errors.Is(err, types.ErrUnreadableDocument),
		errors.Is(err, types.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrDuplicateDocument),
		errors.Is(err, processor.ErrRankInProgress):
		return http.StatusConflict
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidWeightConfiguration),
		errors.Is(err, types.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrDocumentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrBatchTimeout):
		return http.StatusPartialContent
	case errors.Is(err, storage.ErrVectorDBNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newErrorResponse(err error) ErrorResponse {
	return ErrorResponse{Error: err.Error(), Stage: string(types.StageOf(err))}
}

// writeError 写出错误响应
func writeError(ctx *app.RequestContext, err error) {
	ctx.JSON(StatusFor(err), newErrorResponse(err))
}

func badRequest(ctx *app.RequestContext, msg string) {
	ctx.JSON(http.StatusBadRequest, utils.H{"error": msg})
}
