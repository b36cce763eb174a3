// Package httpapi serves the hours table, allocation runs and report exports
// over HTTP.
package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workassign/docs/schema/openapi"
	"workassign/internal/adapters/reports"
	"workassign/internal/allocator"
	"workassign/internal/blob"
	"workassign/internal/core"
	"workassign/internal/report"
)

// Service is the application surface the handlers call. *core.Service
// satisfies it.
type Service interface {
	BuildReport(ctx context.Context) (report.Report, error)
	Allocate(ctx context.Context) (allocator.Result, error)
}

// ExportScheduler queues report exports. *reports.Worker satisfies it.
type ExportScheduler interface {
	EnqueueExport(ctx context.Context, input reports.ExportInput) (reports.ExportRecord, error)
	GetExport(id string) (reports.ExportRecord, bool)
	OpenArtifact(ctx context.Context, id string, format reports.Format) (blob.Info, io.ReadCloser, error)
}

// RouterConfig wires the handlers. Exports and Gatherer are optional.
type RouterConfig struct {
	Service  Service
	Exports  ExportScheduler
	Logger   core.Logger
	Gatherer prometheus.Gatherer
}

// NewRouter builds the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(cfg.Logger))

	health := &HealthHandler{}
	r.GET("/healthz", health.Health)
	r.GET("/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, openapi.ContentType, openapi.Document())
	})
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	{
		table := &TableHandler{Service: cfg.Service}
		api.GET("/table", table.JSON)
		api.GET("/table/", table.JSON)
		api.GET("/table.csv", table.CSV)

		alloc := &AllocationHandler{Service: cfg.Service}
		api.POST("/allocations", alloc.Run)

		if cfg.Exports != nil {
			exports := &ExportHandler{Exports: cfg.Exports}
			api.POST("/reports/exports", exports.Create)
			api.GET("/reports/exports/:id", exports.Get)
			api.GET("/reports/exports/:id/artifacts/:format", exports.Download)
		}
	}
	return r
}
