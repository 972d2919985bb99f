package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/subramanya1997/agentic-trust-platform/internal/breaker"
)

// NewRouter 构建 HTTP 路由。
// 对外只暴露运维端点：健康检查、就绪检查与 Prometheus 指标。
func NewRouter(mode string, db *gorm.DB, rdb redis.UniversalClient, breakers *breaker.Registry) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(CORS())

	r.GET("/health", HealthCheck(breakers))
	r.GET("/ready", ReadinessCheck(db, rdb))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// HealthCheck 健康检查
// @Summary 服务健康检查
// @Description 返回基础健康状态及各外部依赖的熔断器状态
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func HealthCheck(breakers *breaker.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{
			Status:  "healthy",
			Service: "agentic-trust-platform",
		}
		if breakers != nil {
			states := make(map[string]string)
			for _, name := range breakers.Dependencies() {
				states[name] = string(breakers.State(name))
			}
			resp.Breakers = states
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ReadinessCheck 就绪检查
// @Summary 服务就绪检查
// @Description 包含数据库与 Redis 连通性结果，用于判断可接收请求
// @Tags System
// @Produce json
// @Success 200 {object} ReadinessResponse
// @Failure 503 {object} ReadinessResponse
// @Router /ready [get]
func ReadinessCheck(db *gorm.DB, rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, ReadinessResponse{
				Status: "not_ready",
				Reason: "database connection error",
			})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, ReadinessResponse{
				Status: "not_ready",
				Reason: "database ping failed",
			})
			return
		}

		resp := ReadinessResponse{Status: "ready", Database: "connected"}
		if rdb != nil {
			// 缓存不可用不阻塞就绪：读路径会降级为未命中
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				resp.Redis = "unavailable"
			} else {
				resp.Redis = "connected"
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
