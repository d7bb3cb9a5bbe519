package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kepsekreport/internal/auth"
	"kepsekreport/internal/cloudinary"
	"kepsekreport/internal/config"
	"kepsekreport/internal/csvexport"
	"kepsekreport/internal/daykey"
	"kepsekreport/internal/httpmiddleware"
	"kepsekreport/internal/report"
	"kepsekreport/internal/store"
	"kepsekreport/pkg/logger"
)

var (
	reportsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kepsek_reports_saved_total",
		Help: "Daily report upserts accepted by the API.",
	})
	rosterCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kepsek_roster_cache_lookups_total",
		Help: "Roster cache lookups by result.",
	}, []string{"result"})
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	log := logger.Must(logger.New(cfg.Env))
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	repo := store.NewRepository(db.Client)
	if err := repo.Migrate(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	rosterCache := store.NewRosterCache(redisClient.Client, cfg.RosterCacheTTL)

	var cdn *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdn = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Info("cloudinary not configured; photo uploads disabled")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.RequestLogger(logger.Named(log, "http"), "/healthz", "/metrics"))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Identity is established externally; this endpoint exchanges a verified
	// principal for an API token carrying the stored role.
	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			Principal string `json:"principal" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role, err := repo.GetRole(c.Request.Context(), req.Principal)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "role lookup failed"})
			return
		}
		token, exp, err := auth.Issue(req.Principal, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": token,
			"role":         role,
			"expires_at":   exp.Unix(),
		})
	})

	authed := r.Group("/v1", auth.PrincipalAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authed.GET("/me/role", func(c *gin.Context) {
		// Roles can change after a token is issued; always answer from the
		// store rather than the claims.
		role, err := repo.GetRole(c.Request.Context(), auth.Caller(c).Principal)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "role lookup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"role": role})
	})

	authed.GET("/me/profile", func(c *gin.Context) {
		p, err := repo.GetProfile(c.Request.Context(), auth.Caller(c).Principal)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		profile, ok := p.Get()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no profile"})
			return
		}
		c.JSON(http.StatusOK, profile)
	})

	authed.PUT("/me/profile", func(c *gin.Context) {
		var req struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := repo.UpsertProfile(c.Request.Context(), report.Profile{
			Principal: auth.Caller(c).Principal,
			Name:      req.Name,
			Email:     req.Email,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed.GET("/me/school", func(c *gin.Context) {
		writeSchool(c, repo, auth.Caller(c).Principal)
	})

	authed.PUT("/me/school", func(c *gin.Context) {
		var sch report.School
		if err := c.ShouldBindJSON(&sch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sch.Principal = auth.Caller(c).Principal
		if err := repo.UpsertSchool(c.Request.Context(), sch); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rosterCache.InvalidateSchools(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed.GET("/schools/:principal", func(c *gin.Context) {
		principal := c.Param("principal")
		caller := auth.Caller(c)
		if caller.Principal != principal && caller.Role != report.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your school"})
			return
		}
		writeSchool(c, repo, principal)
	})

	authed.PUT("/schools/:principal", auth.RequireAdmin(), func(c *gin.Context) {
		principal := c.Param("principal")
		var sch report.School
		if err := c.ShouldBindJSON(&sch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sch.Principal = principal
		if err := repo.UpsertSchool(c.Request.Context(), sch); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// Registering a school for a principal also grants them the kepsek
		// role so they can start reporting.
		if err := repo.SetRole(c.Request.Context(), principal, report.RoleUser); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rosterCache.InvalidateSchools(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed.GET("/active-schools", func(c *gin.Context) {
		list, err := repo.ActiveSchoolsList(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, list)
	})

	authed.GET("/active-schools/count", func(c *gin.Context) {
		ctx := c.Request.Context()
		if n, ok := rosterCache.GetActiveCount(ctx); ok {
			rosterCacheLookups.WithLabelValues("hit").Inc()
			c.JSON(http.StatusOK, gin.H{"count": n})
			return
		}
		rosterCacheLookups.WithLabelValues("miss").Inc()
		n, err := repo.ActiveSchoolsCount(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rosterCache.SetActiveCount(ctx, n)
		c.JSON(http.StatusOK, gin.H{"count": n})
	})

	authed.GET("/reports/:principal/:day", func(c *gin.Context) {
		principal := c.Param("principal")
		caller := auth.Caller(c)
		if caller.Principal != principal && caller.Role != report.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your report"})
			return
		}
		day, ok := parseDayParam(c)
		if !ok {
			return
		}
		rec, err := repo.GetReport(c.Request.Context(), principal, day)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		found, ok := rec.Get()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no report for day"})
			return
		}
		c.JSON(http.StatusOK, found)
	})

	authed.PUT("/reports", func(c *gin.Context) {
		var rec report.Record
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		caller := auth.Caller(c)
		if rec.Principal == "" {
			rec.Principal = caller.Principal
		}
		if rec.Principal != caller.Principal && caller.Role != report.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot write another principal's report"})
			return
		}
		if err := validateRecord(rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := repo.UpsertReport(c.Request.Context(), rec); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		reportsSaved.Inc()
		rosterCache.InvalidateDay(c.Request.Context(), rec.DayKey)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	admin := authed.Group("", auth.RequireAdmin())

	admin.GET("/roster/:day", func(c *gin.Context) {
		day, ok := parseDayParam(c)
		if !ok {
			return
		}
		rows, err := loadRoster(c.Request.Context(), repo, rosterCache, day)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	})

	admin.GET("/roster/:day/ranked", func(c *gin.Context) {
		day, ok := parseDayParam(c)
		if !ok {
			return
		}
		ranked, err := repo.RankedForDate(c.Request.Context(), day)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ranked)
	})

	admin.GET("/roster/:day/export", func(c *gin.Context) {
		day, ok := parseDayParam(c)
		if !ok {
			return
		}
		rows, err := loadRoster(c.Request.Context(), repo, rosterCache, day)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+csvexport.Filename(day)+`"`)
		c.Header("Content-Type", "text/csv; charset=utf-8")
		if err := csvexport.WriteRoster(c.Writer, rows); err != nil {
			zap.L().Error("csv export failed", zap.Error(err))
		}
	})

	admin.POST("/roles", func(c *gin.Context) {
		var req struct {
			Principal string      `json:"principal" binding:"required"`
			Role      report.Role `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := repo.SetRole(c.Request.Context(), req.Principal, req.Role); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed.POST("/upload", func(c *gin.Context) {
		if cdn == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
			return
		}
		var result *cloudinary.UploadResult
		var err error
		switch {
		case strings.Contains(c.ContentType(), "multipart/form-data"):
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, rerr := io.ReadAll(file)
			if rerr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = cdn.UploadBytes(data, header.Filename)
		default:
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide a base64 data URL in the data field"})
				return
			}
			result, err = cdn.UploadBase64(body.Data)
		}
		if err != nil {
			zap.L().Error("photo upload failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"url":       result.SecureURL,
			"public_id": result.PublicID,
			"bytes":     result.Bytes,
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
		log.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

func writeSchool(c *gin.Context, repo *store.Repository, principal string) {
	sch, err := repo.GetSchool(c.Request.Context(), principal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	found, ok := sch.Get()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "school not registered"})
		return
	}
	c.JSON(http.StatusOK, found)
}

func parseDayParam(c *gin.Context) (daykey.DayKey, bool) {
	raw := c.Param("day")
	if ns, err := strconv.ParseInt(raw, 10, 64); err == nil && ns > 0 {
		return daykey.DayKey(ns), true
	}
	// YYYY-MM-DD is accepted as a convenience for curl and the CLI.
	if t, err := daykey.ParseDateInput(raw); err == nil {
		return daykey.StartOfDay(t), true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "day must be a day key or YYYY-MM-DD"})
	return 0, false
}

func loadRoster(ctx context.Context, repo *store.Repository, cache *store.RosterCache, day daykey.DayKey) ([]report.RosterRow, error) {
	if rows, ok := cache.GetRoster(ctx, day); ok {
		rosterCacheLookups.WithLabelValues("hit").Inc()
		return rows, nil
	}
	rosterCacheLookups.WithLabelValues("miss").Inc()
	rows, err := repo.RosterForDate(ctx, day)
	if err != nil {
		return nil, err
	}
	cache.SetRoster(ctx, day, rows)
	return rows, nil
}

// validateRecord checks the scoring and anchoring invariants before the
// upsert: category scores are 0 or 20, the total equals their sum, and the
// time fields sit inside the record's day.
func validateRecord(rec report.Record) error {
	if rec.DayKey == 0 {
		return errInvalid("dayKey required")
	}
	sum := 0
	for _, s := range []int{
		rec.AttendanceScore, rec.ClassControlScore, rec.TeacherControlScore,
		rec.WaliSantriResponseScore, rec.ProgramProblemSolvingScore,
	} {
		if s != 0 && s != report.CategoryPoints {
			return errInvalid("category scores must be 0 or 20")
		}
		sum += s
	}
	if rec.TotalScore != sum {
		return errInvalid("totalScore must equal the category sum")
	}
	dayNanos := (24 * time.Hour).Nanoseconds()
	for _, ts := range []int64{rec.ArrivalTime, rec.DepartureTime} {
		if ts == 0 {
			continue
		}
		if ts < int64(rec.DayKey) || ts >= int64(rec.DayKey)+dayNanos {
			return errInvalid("time fields must be anchored to dayKey")
		}
	}
	return nil
}

type errInvalid string

func (e errInvalid) Error() string { return string(e) }

// CORS middleware for browser requests.
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

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
