package router

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/hertz-contrib/keyauth"

	"resume-matcher/internal/api/handler"
)

// APIKeyHeader 鉴权使用的请求头
const APIKeyHeader = "X-API-Key"

// RegisterRoutes 注册 API 路由。apiKeys 不为空时 /api/v1 下除健康检查外的接口都需要 API Key。
func RegisterRoutes(h *server.Hertz, hd *handler.Handler, apiKeys []string) {
	api := h.Group("/api/v1")

	// 健康检查不鉴权
	api.GET("/health", hd.Health)

	protected := api.Group("")
	if len(apiKeys) > 0 {
		protected.Use(APIKeyAuth(apiKeys))
	}

	protected.POST("/documents", hd.SubmitDocument)
	protected.GET("/documents/:id/profile", hd.GetProfile)
	protected.GET("/candidates/search", hd.SearchByCriteria)

	protected.POST("/jobs", hd.CreateJob)
	protected.GET("/jobs/:id", hd.GetJob)
	protected.POST("/jobs/:id/rank", hd.RankCandidates)
	protected.GET("/jobs/:id/candidates/:cid/score", hd.ScoreCandidate)
	protected.GET("/jobs/:id/search", hd.SearchCandidates)
}

// APIKeyAuth 校验请求头中的 API Key
func APIKeyAuth(keys []string) app.HandlerFunc {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+APIKeyHeader, ""),
		keyauth.WithValidator(func(_ context.Context, _ *app.RequestContext, key string) (bool, error) {
			_, ok := allowed[key]
			return ok, nil
		}),
		keyauth.WithErrorHandler(func(_ context.Context, ctx *app.RequestContext, err error) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, utils.H{"error": "API Key 无效或缺失"})
		}),
	)
}
