package correlator

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/fieldreport_backend/appctx"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/sirupsen/logrus"
)

const CorrelationIdHeader = "X-Correlation-Id"

// CallFinishedHandler always answers 200 so the provider does not retry.
// Failures are kept in the failure ledger and the dead-letter topic instead.
func CallFinishedHandler(c *Correlator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		logger := c.logger
		body, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			config.LogError(logger, "correlator", "CallFinishedHandler", "read body", nil, err)
			ctx.JSON(http.StatusOK, gin.H{"received": true, "processed": false})
			return
		}
		payload, err := DecodeCallFinished(body)
		if err != nil || payload.ConversationId == "" {
			if err == nil {
				logger.WithFields(logrus.Fields{"field": "CallFinishedHandler"}).Warn("notification without conversation_id dropped")
			} else {
				config.LogError(logger, "correlator", "CallFinishedHandler", "decode notification", string(body), err)
			}
			ctx.JSON(http.StatusOK, gin.H{"received": true, "processed": false})
			return
		}
		if payload.Status != models.CallStatusDone {
			logger.WithFields(logrus.Fields{
				"field":   "CallFinishedHandler",
				"call_id": payload.ConversationId,
				"status":  payload.Status,
			}).Info("call did not finish normally; not correlating")
			ctx.JSON(http.StatusOK, gin.H{"received": true, "processed": false})
			return
		}

		reqCtx := appctx.Set(ctx.Request.Context(), appctx.ContextKeyCorrelationId, correlationId(ctx))
		sum, err := c.HandleCall(reqCtx, payload.Event(), models.CorrelationTriggeredWebhook)
		if err != nil {
			config.LogError(logger, "correlator", "CallFinishedHandler", "HandleCall", payload.ConversationId, err)
		}
		ctx.JSON(http.StatusOK, gin.H{
			"received":  true,
			"processed": err == nil,
			"status":    sum.Status,
			"linked":    len(sum.Linked),
		})
	}
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ready",
			"service": "artifact-correlation",
			"method":  "POST",
		})
	}
}

func SweepHandler(c *Correlator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		reqCtx := appctx.Set(ctx.Request.Context(), appctx.ContextKeyCorrelationId, correlationId(ctx))
		sum, err := c.Sweep(reqCtx, models.CorrelationTriggeredManual)
		if err != nil {
			config.LogError(c.logger, "correlator", "SweepHandler", "Sweep", nil, err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": sum})
			return
		}
		ctx.JSON(http.StatusOK, sum)
	}
}

func RunsHandler(c *Correlator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		runs, err := c.runs.ListRuns(ctx.Request.Context(), queryLimit(ctx))
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if runs == nil {
			runs = []models.CorrelationRun{}
		}
		ctx.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

func FailuresHandler(c *Correlator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		retryableOnly, _ := strconv.ParseBool(ctx.DefaultQuery("retryable", "false"))
		failures, err := c.runs.ListFailures(ctx.Request.Context(), queryLimit(ctx), retryableOnly)
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if failures == nil {
			failures = []models.CorrelationFailure{}
		}
		ctx.JSON(http.StatusOK, gin.H{"failures": failures})
	}
}

// ReplayHandler receives dead-letter messages from a Pub/Sub push
// subscription. Malformed messages are acked (204) to stop redelivery; a
// retryable failure answers 500 so Pub/Sub delivers the message again.
func ReplayHandler(c *Correlator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		logger := c.logger
		var envelope PubSubPushEnvelope
		if err := ctx.ShouldBindJSON(&envelope); err != nil {
			config.LogError(logger, "correlator", "ReplayHandler", "decode envelope", nil, err)
			ctx.Status(http.StatusNoContent)
			return
		}
		var msg DeadLetterMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil || msg.CallId == "" {
			if err != nil {
				config.LogError(logger, "correlator", "ReplayHandler", "decode message", envelope.Message.ID, err)
			}
			ctx.Status(http.StatusNoContent)
			return
		}
		if msg.Status == "" {
			msg.Status = models.CallStatusDone
		}

		cid := envelope.Message.ID
		if cid == "" {
			cid = correlationId(ctx)
		}
		reqCtx := appctx.Set(ctx.Request.Context(), appctx.ContextKeyCorrelationId, cid)
		sum, err := c.Replay(reqCtx, msg)
		if err != nil && retryable(err) {
			config.LogError(logger, "correlator", "ReplayHandler", "Replay", msg.CallId, err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "status": sum.Status})
			return
		}
		ctx.Status(http.StatusNoContent)
	}
}

func correlationId(ctx *gin.Context) string {
	if v := strings.TrimSpace(ctx.GetHeader(CorrelationIdHeader)); v != "" {
		return v
	}
	return uuid.NewString()
}

func queryLimit(ctx *gin.Context) int {
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
