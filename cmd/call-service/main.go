package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vocalink-backend/internal/config"
	"vocalink-backend/internal/database"
	"vocalink-backend/internal/domain"
	callHandler "vocalink-backend/internal/handler/http/call"
	pushHandler "vocalink-backend/internal/handler/http/push"
	wsHandler "vocalink-backend/internal/handler/ws"
	"vocalink-backend/internal/middleware"
	"vocalink-backend/internal/repository/cassandra"
	"vocalink-backend/internal/repository/cockroach"
	redisRepo "vocalink-backend/internal/repository/redis"
	callService "vocalink-backend/internal/service/call"
	"vocalink-backend/internal/service/recording"
	"vocalink-backend/pkg/jwt"
	"vocalink-backend/pkg/logger"
	"vocalink-backend/pkg/metrics"
	"vocalink-backend/pkg/push"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logger.InitDefault()
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if err := logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		logger.InitDefault()
	}
	defer logger.Sync()

	logger.Info("starting call service",
		zap.String("service", cfg.Server.ServiceName),
		zap.String("environment", cfg.Server.Environment))

	// CockroachDB holds finished call history; connect with backoff so a slow
	// database start does not kill the service
	db := connectCockroach(ctx, cfg)
	var callRepo *cockroach.CallRepository
	if db != nil {
		defer db.Close()
		callRepo = cockroach.NewCallRepository(db.Pool)
		if _, err := db.Pool.Exec(ctx, cockroach.Schema()); err != nil {
			logger.Warn("failed to ensure call history schema", zap.Error(err))
		}
	} else {
		logger.Warn("running without call history persistence")
	}

	redisDB, err := database.NewRedisDB(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()

	var eventRepo *cassandra.CallEventRepository
	cassandraDB, err := database.NewCassandraDB(&cfg.Cassandra)
	if err != nil {
		logger.Warn("failed to connect to Cassandra, call event log disabled", zap.Error(err))
	} else {
		defer cassandraDB.Close()
		if err := cassandraDB.Session.Query(cassandra.Schema()).Exec(); err != nil {
			logger.Warn("failed to ensure call event schema", zap.Error(err))
		}
		eventRepo = cassandra.NewCallEventRepository(cassandraDB.Session)
	}

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// Push notifications
	var pushProvider push.Provider = push.NopProvider{}
	if cfg.Push.Enabled {
		pushProvider, err = push.NewProvider()
		if err != nil {
			logger.Fatal("failed to initialize push provider", zap.Error(err))
		}
	}
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)
	pushSvc := push.NewService(pushProvider, pushTokenRepo, appMetrics)

	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	eventsHub := wsHandler.NewEventsHub(redisDB.Client, presenceRepo, appMetrics)

	// Recording storage is shared; each engine gets its own controller
	recordingStore, err := recording.NewObjectStore(ctx,
		cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey,
		cfg.MinIO.Bucket, cfg.MinIO.UseSSL, logger.Log)
	if err != nil {
		logger.Fatal("failed to initialize recording storage", zap.Error(err))
	}

	engines := callService.NewRegistry(engineFactory(cfg, recordingStore, eventsHub, callRepo, eventRepo, pushSvc, appMetrics))

	// HTTP surface
	callHdlr := callHandler.NewHandler(engines, callRepo, eventRepo, pushSvc)
	pushHdlr := pushHandler.NewHandler(pushSvc)

	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		callHdlr.RegisterRoutes(v1)
		pushHdlr.RegisterRoutes(v1)
		v1.GET("/ws/events", eventsHub.ServeWS)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("call service listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// connectCockroach dials the database with exponential backoff. Returns nil
// when every attempt fails; callers degrade to memory-only operation.
func connectCockroach(ctx context.Context, cfg *config.Config) *database.CockroachDB {
	const maxRetries = 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	var db *database.CockroachDB
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = database.NewCockroachDB(ctx, &cfg.Database)
		if err == nil {
			logger.Info("connected to CockroachDB", zap.Int("attempt", attempt))
			return db
		}
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("CockroachDB connection failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		time.Sleep(delay)
	}
	return nil
}

// engineFactory builds one call engine per user, wiring its single-slot
// callbacks into the WebSocket stream, persistence, push and metrics fan-out.
// Callbacks receive detached snapshots, so the slow work runs off the engine's
// goroutine.
func engineFactory(
	cfg *config.Config,
	store *recording.ObjectStore,
	hub *wsHandler.EventsHub,
	callRepo *cockroach.CallRepository,
	eventRepo *cassandra.CallEventRepository,
	pushSvc *push.Service,
	m *metrics.Metrics,
) callService.Factory {
	return func(userID, name string) *callService.Service {
		controller := recording.NewController(store, logger.Log)
		eng := callService.NewService(callService.Config{
			LocalUserID:  userID,
			LocalName:    name,
			DialDelay:    cfg.Call.DialDelay,
			ConnectDelay: cfg.Call.ConnectDelay,
			JoinDelay:    cfg.Call.JoinDelay,
			RingTimeout:  cfg.Call.RingTimeout,
		}, domain.CallSettings{
			CameraEnabledByDefault: cfg.Call.CameraEnabledByDefault,
			EnableCallRecording:    cfg.Call.EnableCallRecording,
			Quality:                domain.CallQuality(cfg.Call.DefaultQuality),
		}, clock.New(), controller, logger.Log)

		var lastStatus domain.CallStatus

		eng.Events().OnStatusChanged(func(snap *domain.CallSession) {
			transition := snap.Status != lastStatus
			if transition && (snap.Status == domain.CallStatusCalling || snap.Status == domain.CallStatusRinging) {
				m.RecordCallStarted()
			}
			lastStatus = snap.Status

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				if err := hub.Publish(ctx, userID, &wsHandler.Event{
					Type:    wsHandler.EventStatusChanged,
					Session: snap,
				}); err != nil {
					logger.Warn("failed to publish status event",
						zap.String("user_id", userID),
						zap.Error(err))
				}

				if transition && eventRepo != nil {
					event := &domain.CallEvent{
						CallID:  snap.ID,
						Status:  snap.Status,
						Reason:  snap.EndReason,
						ActorID: userID,
					}
					if err := eventRepo.Append(ctx, event); err != nil {
						logger.Warn("failed to append call event",
							zap.String("call_id", snap.ID.String()),
							zap.Error(err))
					}
				}
			}()
		})

		eng.Events().OnIncomingCall(func(snap *domain.CallSession) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				if err := hub.Publish(ctx, userID, &wsHandler.Event{
					Type:    wsHandler.EventIncomingCall,
					Session: snap,
				}); err != nil {
					logger.Warn("failed to publish incoming call event",
						zap.String("user_id", userID),
						zap.Error(err))
				}

				caller := snap.Participant(snap.InitiatorID)
				callerName := snap.InitiatorID
				if caller != nil {
					callerName = caller.Name
				}
				if err := pushSvc.SendIncomingCall(ctx, snap.ID, snap.InitiatorID, callerName, string(snap.Type), []string{userID}); err != nil {
					logger.Warn("failed to send incoming call push",
						zap.String("call_id", snap.ID.String()),
						zap.Error(err))
				}
			}()
		})

		eng.Events().OnCallEnded(func(snap *domain.CallSession) {
			m.RecordCallEnded(string(snap.Type), snap.EndReason, snap.Duration)
			if snap.RecordingPath != "" {
				m.RecordRecording("completed")
			}

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := hub.Publish(ctx, userID, &wsHandler.Event{
					Type:    wsHandler.EventCallEnded,
					Session: snap,
				}); err != nil {
					logger.Warn("failed to publish call ended event",
						zap.String("user_id", userID),
						zap.Error(err))
				}

				if callRepo != nil {
					if err := callRepo.SaveEnded(ctx, snap); err != nil {
						logger.Error("failed to persist ended call",
							zap.String("call_id", snap.ID.String()),
							zap.Error(err))
					}
				}

				switch {
				case snap.EndReason == domain.EndReasonTimeout:
					caller := snap.Participant(snap.InitiatorID)
					callerName := snap.InitiatorID
					if caller != nil {
						callerName = caller.Name
					}
					if err := pushSvc.SendMissedCall(ctx, snap.ID, snap.InitiatorID, callerName, []string{userID}); err != nil {
						logger.Warn("failed to send missed call push",
							zap.String("call_id", snap.ID.String()),
							zap.Error(err))
					}
				case snap.StartTime != nil:
					// The call connected; let the user's other devices show it
					if err := pushSvc.SendCallEnded(ctx, snap.ID, userID, snap.Duration, []string{userID}); err != nil {
						logger.Warn("failed to send call ended push",
							zap.String("call_id", snap.ID.String()),
							zap.Error(err))
					}
				}
			}()
		})

		return eng
	}
}
