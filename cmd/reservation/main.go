package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seat_reservation/pkg/circuitbreaker"
	"seat_reservation/pkg/config"
	"seat_reservation/pkg/database"
	"seat_reservation/pkg/lock"
	"seat_reservation/pkg/logger"
	"seat_reservation/pkg/models"
	"seat_reservation/pkg/reconciler"
	"seat_reservation/pkg/repository"
	"seat_reservation/pkg/trigger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	repo *repository.Repository
	trig *trigger.Trigger
	log  = zap.NewNop()
)

func main() {
	if err := logger.Init(os.Getenv("ENV") == "development"); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log = logger.L()

	log.Info("starting reservation service")

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	db, err := database.Open(cfg.DB, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db, log)

	repo = repository.New(db)
	rec := reconciler.New(repo, cfg.Reconcile.Grace, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closeLock func()
	trig, closeLock = startReconciler(ctx, cfg, rec)
	defer closeLock()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("reservation service listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	trig.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("reservation service stopped")
}

// startReconciler builds the trigger and starts it when the settings allow. Failures
// here are logged and leave the HTTP service running; /manage/reconcile stays usable.
func startReconciler(ctx context.Context, cfg *config.Config, rec trigger.Runner) (*trigger.Trigger, func()) {
	closeLock := func() {}

	if err := cfg.ValidateReconcile(); err != nil {
		log.Error("invalid reconciliation settings, scheduled reconciliation not started", zap.Error(err))
		return trigger.New(rec, cfg.Reconcile.Interval, log), closeLock
	}

	opts := []trigger.Option{trigger.WithImmediateRun()}
	if cfg.Reconcile.BreakerFailures > 0 {
		window := cfg.Reconcile.Interval * time.Duration(cfg.Reconcile.BreakerFailures+1)
		opts = append(opts, trigger.WithBreaker(circuitbreaker.NewCircuitBreakerWithWindow(
			cfg.Reconcile.BreakerFailures, cfg.Reconcile.BreakerCooldown, window)))
	}
	if cfg.Redis.Enabled() {
		client, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// записи условные (CAS), так что параллельные тики реплик безопасны, лишь избыточны
			log.Error("redis unavailable, reconciling without distributed lock",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			closeLock = func() { _ = client.Close() }
			opts = append(opts, trigger.WithLocker(lock.NewRedisLocker(client, lock.DefaultKey), cfg.Reconcile.LockTTL))
			log.Info("distributed reconciliation lock enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	t := trigger.New(rec, cfg.Reconcile.Interval, log, opts...)
	if !cfg.Reconcile.Enabled {
		log.Warn("scheduled reconciliation disabled")
		return t, closeLock
	}
	if err := t.Start(ctx); err != nil {
		log.Error("failed to start reconciliation trigger", zap.Error(err))
	}
	return t, closeLock
}

func setupRouter() *gin.Engine {
	server := gin.New()
	server.Use(gin.Recovery())
	server.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "X-User-Name"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	server.GET("/manage/health", healthCheck)
	server.POST("/manage/reconcile", reconcileNow)

	api := server.Group("/api/v1")
	api.POST("/merchants/:merchantUid/seats", createSeat)
	api.GET("/merchants/:merchantUid/seats", getSeats)
	api.GET("/reservations", getReservations)
	api.POST("/reservations", createReservation)
	api.GET("/reservations/:reservationUid", getReservation)
	api.PATCH("/reservations/:reservationUid/status", updateReservationStatus)
	return server
}

func seatResponse(s *models.Seat) gin.H {
	return gin.H{
		"seatUid":     s.SeatUid,
		"merchantUid": s.MerchantUid,
		"zone":        s.Zone,
		"number":      s.Number,
		"isAvailable": s.IsAvailable,
	}
}

func reservationResponse(r *models.Reservation) gin.H {
	resp := gin.H{
		"reservationUid": r.ReservationUid,
		"status":         r.Status,
		"startTime":      r.StartTime.UTC().Format(time.RFC3339),
		"endTime":        r.EndTime.UTC().Format(time.RFC3339),
		"guests":         r.Guests,
		"tables":         r.Tables,
		"customerName":   r.CustomerName,
		"note":           r.Note,
	}
	if r.Seat != nil {
		resp["seat"] = seatResponse(r.Seat)
	}
	return resp
}

func createSeat(c *gin.Context) {
	merchantUid := c.Param("merchantUid")
	if _, err := uuid.Parse(merchantUid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "merchantUid must be a uuid"})
		return
	}

	var request struct {
		Zone   string `json:"zone"`
		Number string `json:"number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	seat, err := repo.CreateSeat(c.Request.Context(), repository.SeatInput{
		MerchantUid: merchantUid,
		Zone:        request.Zone,
		Number:      request.Number,
	})
	if err != nil {
		log.Error("failed to create seat", zap.String("merchant_uid", merchantUid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create seat"})
		return
	}
	c.JSON(http.StatusCreated, seatResponse(seat))
}

func getSeats(c *gin.Context) {
	seats, err := repo.Seats.ListByMerchant(c.Request.Context(), c.Param("merchantUid"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, len(seats))
	for i := range seats {
		items[i] = seatResponse(&seats[i])
	}
	c.JSON(http.StatusOK, items)
}

func getReservations(c *gin.Context) {
	username := c.GetHeader("X-User-Name")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-Name header is required"})
		return
	}

	reservations, err := repo.Reservations.ListByCustomer(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, len(reservations))
	for i := range reservations {
		items[i] = reservationResponse(&reservations[i])
	}
	c.JSON(http.StatusOK, items)
}

func getReservation(c *gin.Context) {
	res, err := repo.Reservations.GetByUid(c.Request.Context(), c.Param("reservationUid"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Reservation not found"})
		return
	}
	c.JSON(http.StatusOK, reservationResponse(res))
}

func createReservation(c *gin.Context) {
	username := c.GetHeader("X-User-Name")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-Name header is required"})
		return
	}

	var request struct {
		SeatUid   string `json:"seatUid" binding:"required"`
		StartTime string `json:"startTime" binding:"required"`
		EndTime   string `json:"endTime" binding:"required"`
		Guests    int    `json:"guests"`
		Tables    int    `json:"tables"`
		Note      string `json:"note"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	start, err := time.Parse(time.RFC3339, request.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startTime format"})
		return
	}
	end, err := time.Parse(time.RFC3339, request.EndTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endTime format"})
		return
	}
	if request.Tables == 0 {
		request.Tables = 1
	}

	res, err := repo.Book(c.Request.Context(), repository.BookingInput{
		SeatUid:      request.SeatUid,
		StartTime:    start,
		EndTime:      end,
		Guests:       request.Guests,
		Tables:       request.Tables,
		CustomerName: username,
		Note:         request.Note,
	})
	if err != nil {
		writeRepoError(c, err, "failed to create reservation")
		return
	}

	log.Info("reservation created",
		zap.String("reservation_uid", res.ReservationUid),
		zap.String("seat_uid", request.SeatUid))
	c.JSON(http.StatusCreated, reservationResponse(res))
}

func updateReservationStatus(c *gin.Context) {
	reservationUid := c.Param("reservationUid")

	var request struct {
		Status         string `json:"status" binding:"required"`
		ExpectedStatus string `json:"expectedStatus"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	to := models.ReservationStatus(request.Status)
	if !to.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + request.Status})
		return
	}
	var expected *models.ReservationStatus
	if request.ExpectedStatus != "" {
		exp := models.ReservationStatus(request.ExpectedStatus)
		if !exp.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + request.ExpectedStatus})
			return
		}
		expected = &exp
	}

	res, err := repo.UpdateStatus(c.Request.Context(), reservationUid, to, expected)
	if err != nil {
		writeRepoError(c, err, "failed to update reservation")
		return
	}

	log.Info("reservation status changed manually",
		zap.String("reservation_uid", reservationUid),
		zap.String("status", string(to)))
	c.JSON(http.StatusOK, reservationResponse(res))
}

func writeRepoError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrSeatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrSeatTaken), errors.Is(err, repository.ErrStatusConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrInvalidWindow),
		errors.Is(err, repository.ErrInvalidParty):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func reconcileNow(c *gin.Context) {
	res, err := trig.RunOnce(c.Request.Context())
	switch {
	case errors.Is(err, trigger.ErrTickInProgress), errors.Is(err, trigger.ErrLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, circuitbreaker.ErrOpen):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"completed": res.Completed,
		"noShow":    res.NoShow,
		"claimed":   res.Claimed,
		"failed":    res.Failed,
	})
}

func healthCheck(ctx *gin.Context) {
	sqlDB, err := repo.DB.DB()
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.PingContext(ctx.Request.Context()); err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":     "UP",
		"reconciler": gin.H{"scheduled": trig != nil && trig.Started(), "busy": trig != nil && trig.Busy()},
	})
}
