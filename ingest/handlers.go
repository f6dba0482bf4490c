package ingest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fieldreport_backend/config"
)

func SubmitHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, SubmitResponse{
				Success: false,
				Message: "The report could not be read. Please try submitting it again.",
			})
			return
		}

		res, err := svc.Ingest(c.Request.Context(), req)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, SubmitResponse{
					Success: false,
					Message: validationMessage(verr),
				})
				return
			}
			config.LogError(config.GetLogger(), "ingest", "SubmitHandler", "svc.Ingest", nil, err)
			c.JSON(http.StatusInternalServerError, SubmitResponse{
				Success: false,
				Message: "The report could not be saved right now. Please try again in a moment.",
			})
			return
		}

		c.JSON(http.StatusOK, SubmitResponse{
			Success:  true,
			ReportId: res.ReportId,
			Message:  successMessage(res),
			Warnings: res.Warnings,
		})
	}
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ready",
			"service": "report-ingestion",
			"method":  "POST",
		})
	}
}

func successMessage(res Result) string {
	n := len(res.Report.EmployeeHours)
	noun := "employees"
	if n == 1 {
		noun = "employee"
	}
	msg := fmt.Sprintf("Your daily report has been saved with hours for %d %s", n, noun)
	if res.Report.JobSite != "" {
		msg += " at " + res.Report.JobSite
	}
	return msg + "."
}

func validationMessage(verr *ValidationError) string {
	parts := make([]string, 0, len(verr.Problems))
	for _, p := range verr.Problems {
		parts = append(parts, p.Field+" "+p.Message)
	}
	return "The report is missing some information: " + strings.Join(parts, "; ") + "."
}
