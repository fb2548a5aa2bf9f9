package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iattend/internal/attend"
	"iattend/internal/auth"
	"iattend/internal/config"
	"iattend/internal/face"
	"iattend/internal/geofence"
	"iattend/internal/httpmiddleware"
	"iattend/internal/media"
	"iattend/internal/metrics"
	"iattend/internal/queue"
	"iattend/internal/session"
	"iattend/internal/store"
	"iattend/internal/verify"
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
	redisClient := store.NewRedis(cfg.RedisAddr)

	var (
		db  *store.DB
		st  attend.Store
		err error
	)
	switch cfg.Backend {
	case "rest":
		st = attend.NewRestStore(cfg.RestBaseURL, cfg.RestAPIKey)
	case "memory":
		st = attend.NewMemStore()
		log.Println("using in-memory store (dev mode, nothing is persisted)")
	default:
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		st = attend.NewRepository(db.Client)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "iattend:attempts")
	}

	registry := session.NewRegistry(st, redisClient)
	recognizer := face.NewRecognizer(loadModel(cfg), face.NullDetector{},
		cfg.SigmoidAlpha, cfg.SigmoidCenter, cfg.MatchThreshold)
	refs := media.NewRefSource(st)

	var uploader media.Uploader
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		uploader = media.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured; enrollment uploads disabled")
	}

	ctx := context.Background()
	notifier := func(d verify.Decision) {
		metrics.Attempts.WithLabelValues(string(d.Outcome)).Inc()
		if d.Outcome == attend.OutcomeSuccess || d.Outcome == attend.OutcomeFailFace {
			metrics.Similarity.Observe(d.Similarity)
		}
		if d.DistanceMeters > 0 {
			metrics.GeoDistance.Observe(d.DistanceMeters)
		}
		body, err := json.Marshal(attemptEvent(d))
		if err != nil {
			return
		}
		if err := q.Publish(ctx, queue.Message{Type: "attempt", Body: body}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}
	}

	// Serves stats reads only; a stats call never arms a location watcher.
	statsEngine := verify.NewSubmitter(registry, st, nil, recognizer, refs, cfg.AllowUnboundedFence)

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

	r.POST("/v1/users/register", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
			Name   string `json:"name"`
			Email  string `json:"email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := st.UpsertProfile(c.Request.Context(), attend.Profile{
			UserID: req.UserID, Name: req.Name, Email: req.Email,
		}); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "profile write failed"})
			return
		}
		tokens, err := auth.Issue(req.UserID, "user", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/enroll", func(c *gin.Context) {
		if uploader == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
			return
		}
		var req struct {
			Data string `json:"data" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 image>\"}"})
			return
		}
		raw, err := decodeBase64Image(req.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image data"})
			return
		}
		userID := auth.CallerID(c)
		url, err := uploader.UploadReference(c.Request.Context(), userID, raw)
		if err != nil {
			log.Printf("reference upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}
		p, err := st.ProfileByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "profile read failed"})
			return
		}
		profile := attend.Profile{UserID: userID}
		if p != nil {
			profile = *p
		}
		profile.RefImageURL = url
		if err := st.UpsertProfile(c.Request.Context(), profile); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "profile write failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ref_image_url": url})
	})

	authGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			CourseName      string   `json:"course_name" binding:"required"`
			DurationMinutes int      `json:"duration_minutes" binding:"required"`
			ExpectedCount   int      `json:"expected_count"`
			CenterLat       float64  `json:"center_lat"`
			CenterLon       float64  `json:"center_lon"`
			RadiusMeters    float64  `json:"radius_m"`
			InvitedUserIDs  []string `json:"invited_user_ids"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := registry.Create(c.Request.Context(), auth.CallerID(c), session.CreateParams{
			CourseLabel:    req.CourseName,
			Duration:       time.Duration(req.DurationMinutes) * time.Minute,
			CenterLat:      req.CenterLat,
			CenterLon:      req.CenterLon,
			RadiusMeters:   req.RadiusMeters,
			ExpectedCount:  req.ExpectedCount,
			InvitedUserIDs: req.InvitedUserIDs,
		})
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		metrics.SessionsCreated.Inc()
		if body, err := json.Marshal(sess); err == nil {
			if err := q.Publish(ctx, queue.Message{Type: "session", Body: body}); err != nil {
				log.Printf("queue publish failed: %v", err)
			}
		}
		c.JSON(http.StatusCreated, sess)
	})

	authGroup.GET("/sessions/:code", func(c *gin.Context) {
		sess, err := registry.Resolve(c.Request.Context(), c.Param("code"))
		if err != nil {
			status, reason := lookupError(err)
			c.JSON(status, gin.H{"error": reason})
			return
		}
		now := time.Now().UTC()
		remaining := sess.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		c.JSON(http.StatusOK, gin.H{
			"session":           sess,
			"state":             session.Classify(sess, now).String(),
			"remaining_seconds": int(remaining.Seconds()),
		})
	})

	authGroup.GET("/sessions/:code/stats", func(c *gin.Context) {
		code := c.Param("code")
		if session.ValidCode(code) {
			if cached, err := redisClient.CachedStats(c.Request.Context(), code); err == nil && cached != nil {
				c.Data(http.StatusOK, "application/json", cached)
				return
			}
		}
		stats, err := statsEngine.Stats(c.Request.Context(), code)
		if err != nil {
			status, reason := lookupError(err)
			c.JSON(status, gin.H{"error": reason})
			return
		}
		if body, err := json.Marshal(stats); err == nil {
			_ = redisClient.CacheStats(c.Request.Context(), stats.Code, body, 10*time.Second)
		}
		c.JSON(http.StatusOK, stats)
	})

	// Lets a client skip the capture flow when the caller already holds a
	// record for the session.
	authGroup.GET("/sessions/:code/checkins/me", func(c *gin.Context) {
		ok, err := statsEngine.CheckedIn(c.Request.Context(), auth.CallerID(c), c.Param("code"))
		if err != nil {
			status, reason := lookupError(err)
			c.JSON(status, gin.H{"error": reason})
			return
		}
		c.JSON(http.StatusOK, gin.H{"checked_in": ok})
	})

	authGroup.POST("/checkins", func(c *gin.Context) {
		var req struct {
			Code  string `json:"sign_in_code" binding:"required"`
			Image string `json:"image"`
			Fix   *struct {
				Lat      float64 `json:"lat"`
				Lon      float64 `json:"lon"`
				Accuracy float64 `json:"accuracy"`
			} `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var probe image.Image
		if req.Image != "" {
			raw, err := decodeBase64Image(req.Image)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid probe image"})
				return
			}
			img, _, err := image.Decode(bytes.NewReader(raw))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "undecodable probe image"})
				return
			}
			probe = img
		}

		// One provider and watcher per attempt: the in-flight flag belongs
		// to this user's flow, never shared across requests.
		var provider geofence.Provider
		if req.Fix != nil {
			chanProv := geofence.NewChanProvider()
			chanProv.Deliver(geofence.Fix{
				Lat:       req.Fix.Lat,
				Lon:       req.Fix.Lon,
				Accuracy:  req.Fix.Accuracy,
				Timestamp: time.Now().UTC(),
			})
			provider = chanProv
		} else {
			provider = geofence.NullProvider{}
		}
		watcher := geofence.NewWatcher(provider, cfg.LocationWait)
		defer provider.Stop()

		engine := verify.NewSubmitter(registry, st, watcher, recognizer, refs, cfg.AllowUnboundedFence).
			WithNotifier(notifier)

		decision, err := engine.Submit(c.Request.Context(), auth.CallerID(c), req.Code, probe)
		switch {
		case errors.Is(err, verify.ErrAttemptPending):
			c.JSON(http.StatusConflict, gin.H{"error": "verification already in progress"})
			return
		case errors.Is(err, verify.ErrRecordWrite):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "record_write_failed",
				"outcome": decision.Outcome,
				"detail":  "attempt audited; resubmit to finish check-in",
			})
			return
		case errors.Is(err, verify.ErrNetworkFailure):
			c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"outcome":            decision.Outcome,
			"distance_m":         decision.DistanceMeters,
			"similarity":         decision.Similarity,
			"low_confidence":     decision.LowConfidence,
			"already_checked_in": decision.AlreadyCheckedIn,
			"attempted_at":       decision.AttemptedAt,
		})
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

// loadModel selects the face model once at startup. A failed load leaves the
// recognizer without a model: every face gate then fails closed.
func loadModel(cfg config.App) face.Model {
	if cfg.FaceStub {
		log.Println("face model: deterministic stub (FACE_STUB=true)")
		return face.NewStubModel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m, err := face.NewHTTPModel(ctx, cfg.FaceRuntimeURL, cfg.FaceModelName)
	if err != nil {
		log.Printf("face model load failed, face gate will fail closed: %v", err)
		return nil
	}
	log.Printf("face model %s loaded: %d input(s) %dx%d, output dim %d",
		cfg.FaceModelName, m.InputCount(), m.InputWidth(), m.InputHeight(), m.OutputDim())
	return m
}

type attemptEventPayload struct {
	Outcome        string  `json:"outcome"`
	SessionCode    string  `json:"sign_in_code"`
	SessionID      string  `json:"session_id,omitempty"`
	DistanceMeters float64 `json:"distance_m"`
	Similarity     float64 `json:"similarity"`
	LowConfidence  bool    `json:"low_confidence"`
	AttemptedAt    string  `json:"attempted_at"`
}

func attemptEvent(d verify.Decision) attemptEventPayload {
	p := attemptEventPayload{
		Outcome:        string(d.Outcome),
		DistanceMeters: d.DistanceMeters,
		Similarity:     d.Similarity,
		LowConfidence:  d.LowConfidence,
		AttemptedAt:    d.AttemptedAt.Format(time.RFC3339),
	}
	if d.Session != nil {
		p.SessionCode = d.Session.Code
		p.SessionID = d.Session.ID
	}
	return p
}

// lookupError maps code-resolution failures to HTTP responses.
func lookupError(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrInvalidCode):
		return http.StatusBadRequest, "sign-in code must be 6 digits"
	case errors.Is(err, session.ErrCodeNotFound):
		return http.StatusNotFound, "sign-in code not found"
	default:
		return http.StatusBadGateway, "backend unavailable"
	}
}

// decodeBase64Image accepts a raw base64 string or a data URL.
func decodeBase64Image(data string) ([]byte, error) {
	if i := strings.Index(data, ";base64,"); i >= 0 {
		data = data[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(data))
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
