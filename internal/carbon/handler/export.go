package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/ledger"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"github.com/jmerrifield20/CarbonLedger/internal/export"
	"go.uber.org/zap"
)

// ExportHandler serves the JSON, CSV and summary exports.
type ExportHandler struct {
	exporter *export.Exporter
	logger   *zap.Logger
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(exporter *export.Exporter, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{exporter: exporter, logger: logger}
}

// Register mounts the export routes on the given router group.
func (h *ExportHandler) Register(rg *gin.RouterGroup) {
	ex := rg.Group("/export")
	{
		ex.GET("/json", h.ExportJSON)
		ex.GET("/csv", h.ExportCSV)
		ex.GET("/summary", h.ExportSummary)
	}
}

// filterFromQuery reads carrierId, orderId, fleetId, from, to and minGrade.
func filterFromQuery(c *gin.Context) (ledger.Filter, error) {
	f := ledger.Filter{
		CarrierID: c.Query("carrierId"),
		OrderID:   c.Query("orderId"),
		FleetID:   c.Query("fleetId"),
	}
	verr := &model.ErrValidation{}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			verr.Add(p.name, "must be an RFC 3339 timestamp")
			continue
		}
		*p.dst = &t
	}
	if raw := c.Query("minGrade"); raw != "" {
		g, err := strconv.Atoi(raw)
		if err != nil {
			verr.Add("min_grade", "must be an integer")
		} else {
			f.MinGrade = g
		}
	}
	return f, verr.OrNil()
}

// ExportJSON handles GET /export/json.
func (h *ExportHandler) ExportJSON(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out, err := h.exporter.ExportJSON(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ExportCSV handles GET /export/csv?includeIntegrity=true.
func (h *ExportHandler) ExportCSV(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	withIntegrity, _ := strconv.ParseBool(c.DefaultQuery("includeIntegrity", "false"))

	body, err := h.exporter.ExportCSV(c.Request.Context(), f, withIntegrity)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	name := "carbon-records-" + time.Now().UTC().Format("20060102T150405Z") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", body)
}

// ExportSummary handles GET /export/summary.
func (h *ExportHandler) ExportSummary(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out, err := h.exporter.ExportSummary(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
