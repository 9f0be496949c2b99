package main

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/config"
	"campusattend/internal/face"
	"campusattend/internal/geo"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/metrics"
	"campusattend/internal/queue"
	"campusattend/internal/session"
	"campusattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "campusattend:archival")
	}

	repo := attendance.NewRepository(db.Client)
	matcher := face.NewClient(cfg.FaceServiceURL, cfg.MatchThreshold)
	pipeline := attendance.NewPipeline(repo, repo, repo, matcher, attendance.NewCooldownPolicy(cfg.CooldownWindow))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := repo.Student(c.Request.Context(), req.UserID)
		if err != nil {
			if errors.Is(err, attendance.ErrStudentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}

		tokens, err := auth.Issue(user.ID, user.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		_ = repo.SaveRefreshToken(c.Request.Context(), user.ID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	// Mark attendance. Accepts multipart (session_id, lat, lng, image) or a
	// JSON body with a base64 capture.
	authGroup.POST("/attendance", auth.RequireRole(attendance.RoleStudent), func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)

		sub, err := bindSubmission(c, claims.Subject)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		out, err := pipeline.Evaluate(c.Request.Context(), sub)
		if err != nil {
			if errors.Is(err, attendance.ErrInvalidInput) {
				metrics.Admissions.WithLabelValues("error", "").Inc()
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Printf("attendance evaluation failed: %v", err)
			metrics.Admissions.WithLabelValues("error", "").Inc()
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try again later"})
			return
		}

		if !out.Accepted {
			metrics.Admissions.WithLabelValues("rejected", string(out.Reason)).Inc()
			c.JSON(http.StatusUnprocessableEntity, out)
			return
		}
		metrics.Admissions.WithLabelValues("accepted", "").Inc()

		// Stage the capture and hand it to the archival worker; losing
		// either only costs the stored image, never the mark.
		if err := redisClient.StageCapture(c.Request.Context(), out.RecordID, sub.Probe, cfg.CaptureTTL); err != nil {
			log.Printf("stage capture failed for record %s: %v", out.RecordID, err)
		} else if err := q.Publish(c.Request.Context(), queue.Message{Type: queue.TypeAccepted, Body: []byte(out.RecordID)}); err != nil {
			metrics.QueuePublishFailures.Inc()
			log.Printf("queue publish failed: %v", err)
		}

		c.JSON(http.StatusCreated, out)
	})

	// Faculty opens an attendance window for one of their courses.
	authGroup.POST("/sessions", auth.RequireRole(attendance.RoleFaculty, attendance.RoleAdmin), func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		var req struct {
			CourseID        string  `json:"course_id" binding:"required"`
			DurationMinutes int     `json:"duration_minutes" binding:"required"`
			Lat             float64 `json:"lat"`
			Lng             float64 `json:"lng"`
			RadiusMeters    float64 `json:"radius_meters"`
			Topic           string  `json:"topic"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.RadiusMeters == 0 {
			req.RadiusMeters = 200
		}
		if req.Topic == "" {
			req.Topic = "General Class"
		}

		if claims.Role != attendance.RoleAdmin {
			owned, err := repo.CourseOwnedBy(c.Request.Context(), req.CourseID, claims.Subject)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
				return
			}
			if !owned {
				c.JSON(http.StatusForbidden, gin.H{"error": "not your course"})
				return
			}
		}

		created, err := repo.CreateSession(c.Request.Context(), session.Session{
			CourseID:     req.CourseID,
			Duration:     time.Duration(req.DurationMinutes) * time.Minute,
			Anchor:       geo.Point{Lat: req.Lat, Lng: req.Lng},
			RadiusMeters: req.RadiusMeters,
			Topic:        req.Topic,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"id":         created.ID,
			"start_time": created.StartTime,
			"ends_at":    created.EndTime(),
			"topic":      created.Topic,
		})
	})

	// Faculty closes a window early.
	authGroup.POST("/sessions/:id/stop", auth.RequireRole(attendance.RoleFaculty, attendance.RoleAdmin), func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		id := c.Param("id")

		courseID, err := repo.SessionCourse(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, attendance.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session does not exist"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
		if claims.Role != attendance.RoleAdmin {
			owned, err := repo.CourseOwnedBy(c.Request.Context(), courseID, claims.Subject)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
				return
			}
			if !owned {
				c.JSON(http.StatusForbidden, gin.H{"error": "not your course"})
				return
			}
		}

		if err := repo.StopSession(c.Request.Context(), id, time.Now().UTC()); err != nil {
			if errors.Is(err, attendance.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session does not exist"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stopped": true})
	})

	authGroup.GET("/sessions/live", func(c *gin.Context) {
		courseID := c.Query("course_id")
		if courseID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "course_id required"})
			return
		}
		sessions, err := repo.LiveSessions(c.Request.Context(), courseID, time.Now().UTC())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	authGroup.GET("/students/:id/records", func(c *gin.Context) {
		id := c.Param("id")
		claims, _ := auth.ClaimsFrom(c)
		// Students may only read their own history.
		if claims.Role == attendance.RoleStudent && claims.Subject != id {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your history"})
			return
		}

		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		records, err := repo.ListByStudent(c.Request.Context(), id, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// bindSubmission reads a submission from either a multipart form or a JSON
// body with a base64 capture.
func bindSubmission(c *gin.Context, studentID string) (attendance.Submission, error) {
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		lat, err := strconv.ParseFloat(c.PostForm("lat"), 64)
		if err != nil {
			return attendance.Submission{}, errors.New("lat required")
		}
		lng, err := strconv.ParseFloat(c.PostForm("lng"), 64)
		if err != nil {
			return attendance.Submission{}, errors.New("lng required")
		}
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			return attendance.Submission{}, errors.New("image field required")
		}
		defer file.Close()
		probe, err := io.ReadAll(file)
		if err != nil {
			return attendance.Submission{}, errors.New("read image failed")
		}
		return attendance.Submission{
			StudentID: studentID,
			SessionID: c.PostForm("session_id"),
			Location:  geo.Point{Lat: lat, Lng: lng},
			Probe:     probe,
		}, nil
	}

	var req struct {
		SessionID string  `json:"session_id" binding:"required"`
		Lat       float64 `json:"lat"`
		Lng       float64 `json:"lng"`
		Image     string  `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return attendance.Submission{}, err
	}
	// Accept both raw base64 and data URLs.
	payload := req.Image
	if i := strings.Index(payload, ","); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+1:]
	}
	probe, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return attendance.Submission{}, errors.New("image must be base64")
	}
	return attendance.Submission{
		StudentID: studentID,
		SessionID: req.SessionID,
		Location:  geo.Point{Lat: req.Lat, Lng: req.Lng},
		Probe:     probe,
	}, nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
