package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"workassign/internal/adapters/reports"
	"workassign/pkg/domain"
)

// HealthHandler answers liveness probes.
type HealthHandler struct{}

func (h *HealthHandler) Health(c *gin.Context) {
	RespondOK(c, gin.H{"status": "ok"})
}

// TableHandler renders the hours table.
type TableHandler struct {
	Service Service
}

// JSON writes the ordered row list.
func (h *TableHandler) JSON(c *gin.Context) {
	rep, err := h.Service.BuildReport(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	RespondOK(c, rep)
}

// CSV writes the table with a header row.
func (h *TableHandler) CSV(c *gin.Context) {
	rep, err := h.Service.BuildReport(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	var buf bytes.Buffer
	if err := rep.WriteCSV(&buf); err != nil {
		respondErr(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="table.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// AllocationHandler triggers allocator runs.
type AllocationHandler struct {
	Service Service
}

type allocationResponse struct {
	Placed             int                `json:"placed"`
	Unplaced           int                `json:"unplaced"`
	AverageUtilization float64            `json:"average_utilization"`
	UtilizationPercent float64            `json:"utilization_percent"`
	WorkerDayStdDev    float64            `json:"worker_day_stddev"`
	Warnings           []domain.Violation `json:"warnings,omitempty"`
}

// Run rebuilds all assignments and returns the KPIs.
func (h *AllocationHandler) Run(c *gin.Context) {
	res, err := h.Service.Allocate(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	RespondOK(c, allocationResponse{
		Placed:             res.Placed,
		Unplaced:           res.Unplaced,
		AverageUtilization: res.AverageUtilization,
		UtilizationPercent: res.AverageUtilization * 100,
		WorkerDayStdDev:    res.UtilizationStdDev(),
		Warnings:           res.Rules.Warnings(),
	})
}

// ExportHandler queues and serves report exports.
type ExportHandler struct {
	Exports ExportScheduler
}

// Create queues an export. An empty body exports json and csv.
func (h *ExportHandler) Create(c *gin.Context) {
	var input reports.ExportInput
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
			RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	record, err := h.Exports.EnqueueExport(c.Request.Context(), input)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, record)
}

// Get returns the export record.
func (h *ExportHandler) Get(c *gin.Context) {
	record, ok := h.Exports.GetExport(c.Param("id"))
	if !ok {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("export not found"))
		return
	}
	RespondOK(c, record)
}

// Download streams one artifact of a finished export.
func (h *ExportHandler) Download(c *gin.Context) {
	info, body, err := h.Exports.OpenArtifact(c.Request.Context(), c.Param("id"), reports.Format(c.Param("format")))
	if err != nil {
		respondErr(c, err)
		return
	}
	defer body.Close()
	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, body, nil)
}
