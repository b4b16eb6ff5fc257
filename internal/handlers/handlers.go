package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/roadcare/internal/analyzer"
	"github.com/example/roadcare/internal/auth"
	"github.com/example/roadcare/internal/repository"
	"github.com/example/roadcare/internal/usecase"
)

// MaxUploadSize caps repair photo uploads.
const MaxUploadSize = 10 << 20

type reportRequest struct {
	Title       string  `json:"title" binding:"required"`
	Description string  `json:"description"`
	Category    string  `json:"category" binding:"required"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

type verifyRequest struct {
	RepairImageID   string `json:"repair_image_id"`
	OriginalImageID string `json:"original_image_id"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, tickets *usecase.TicketUseCase, verifications *usecase.VerificationUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", authMiddleware)
	workers := authed.Group("/", auth.RequireRole(auth.RoleWorker))

	authed.POST("/tickets", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		var req reportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ticket, err := tickets.Report(c.Request.Context(), usecase.ReportInput{
			Title:       req.Title,
			Description: req.Description,
			Category:    req.Category,
			Latitude:    req.Latitude,
			Longitude:   req.Longitude,
			ReportedBy:  userID,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, ticketResponse(ticket))
	})

	authed.GET("/tickets", func(c *gin.Context) {
		status := repository.TicketStatus(c.Query("status"))
		list, err := tickets.List(c.Request.Context(), status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, 0, len(list))
		for _, t := range list {
			out = append(out, ticketResponse(t))
		}
		c.JSON(http.StatusOK, gin.H{"tickets": out})
	})

	authed.GET("/tickets/:id", func(c *gin.Context) {
		ticket, err := tickets.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusOK, ticketResponse(ticket))
	})

	workers.POST("/tickets/:id/claim", func(c *gin.Context) {
		workerID, _ := auth.GetUserID(c.Request.Context())
		err := tickets.Claim(c.Request.Context(), c.Param("id"), workerID)
		switch {
		case errors.Is(err, repository.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "ticket is not pending"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"ticket_id": c.Param("id"), "status": repository.TicketInProgress})
		}
	})

	authed.POST("/tickets/:id/images", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())

		kind := repository.ImageKind(c.PostForm("kind"))
		if kind == "" {
			kind = repository.ImageRepair
		}
		if kind != repository.ImageOriginal && kind != repository.ImageRepair {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be original or repair"})
			return
		}

		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image uploads are accepted"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}
		if len(data) > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		img, err := verifications.RegisterImage(c.Request.Context(), c.Param("id"), userID, kind, file.Header.Get("Content-Type"), data)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"image_id":     img.ID,
			"ticket_id":    img.TicketID,
			"kind":         img.Kind,
			"sha1_hash":    img.SHA1Hash,
			"size_bytes":   img.SizeBytes,
			"content_type": img.ContentType,
		})
	})

	workers.POST("/tickets/:id/verify", func(c *gin.Context) {
		workerID, _ := auth.GetUserID(c.Request.Context())

		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		outcome, err := verifications.VerifyRepair(c.Request.Context(), usecase.VerifyInput{
			TicketID:        c.Param("id"),
			WorkerID:        workerID,
			RepairImageID:   req.RepairImageID,
			OriginalImageID: req.OriginalImageID,
		})
		switch {
		case errors.Is(err, analyzer.ErrMissingRepairImage),
			errors.Is(err, analyzer.ErrMissingOriginalImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, usecase.ErrImageNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown repair image"})
			return
		case errors.Is(err, usecase.ErrTicketNotInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		res := outcome.Result
		c.JSON(http.StatusOK, gin.H{
			"request_id":       outcome.RequestID,
			"ticket_id":        c.Param("id"),
			"ticket_closed":    outcome.TicketClosed,
			"decision":         res.Decision,
			"confidence":       res.Confidence,
			"similarity_score": res.SimilarityScore,
			"band":             analyzer.Severity(res.SimilarityScore),
			"message":          res.Message,
			"factors":          res.Factors,
		})
	})

	authed.GET("/verifications/:id", func(c *gin.Context) {
		log, err := verifications.GetResult(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, logResponse(log))
	})

	authed.GET("/verifications/:id/duplicates", func(c *gin.Context) {
		report, err := verifications.GetDuplicateReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			duplicates = append(duplicates, logResponse(d))
		}
		c.JSON(http.StatusOK, gin.H{
			"request":    logResponse(report.Request),
			"duplicates": duplicates,
		})
	})

	authed.GET("/metrics/verifications", func(c *gin.Context) {
		summary, err := verifications.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func ticketResponse(t *repository.Ticket) gin.H {
	return gin.H{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"category":    t.Category,
		"latitude":    t.Latitude,
		"longitude":   t.Longitude,
		"status":      t.Status,
		"reported_by": t.ReportedBy,
		"assigned_to": t.AssignedTo,
		"created_at":  t.CreatedAt,
		"closed_at":   t.ClosedAt,
	}
}

func logResponse(log *repository.VerificationLog) gin.H {
	return gin.H{
		"request_id":       log.RequestID,
		"ticket_id":        log.TicketID,
		"worker_id":        log.WorkerID,
		"decision":         log.Decision,
		"confidence":       log.Confidence,
		"similarity_score": log.SimilarityScore,
		"band":             analyzer.Severity(log.SimilarityScore),
		"message":          log.Message,
		"sha1_hash":        log.SHA1Hash,
		"created_at":       log.CreatedAt,
	}
}
