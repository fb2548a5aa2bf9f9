package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iattend/internal/attend"
	"iattend/internal/config"
	"iattend/internal/monitor"
	"iattend/internal/queue"
	"iattend/internal/session"
	"iattend/internal/store"
	"iattend/internal/verify"
)

// Worker consumes queue messages: it tails the attempt stream for operator
// visibility and runs a monitor per created session, keeping the cached
// roster stats fresh until the session expires.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var st attend.Store
	if cfg.Backend == "rest" {
		st = attend.NewRestStore(cfg.RestBaseURL, cfg.RestAPIKey)
	} else {
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
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
	statsEngine := verify.NewSubmitter(registry, st, nil, nil, nil, false)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		switch msg.Type {
		case "attempt":
			var evt struct {
				Outcome        string  `json:"outcome"`
				SessionCode    string  `json:"sign_in_code"`
				DistanceMeters float64 `json:"distance_m"`
				Similarity     float64 `json:"similarity"`
				LowConfidence  bool    `json:"low_confidence"`
			}
			if err := json.Unmarshal(msg.Body, &evt); err != nil {
				log.Printf("bad attempt event: %v", err)
				continue
			}
			log.Printf("attempt code=%s outcome=%s distance=%.1fm similarity=%.3f lowconf=%v",
				evt.SessionCode, evt.Outcome, evt.DistanceMeters, evt.Similarity, evt.LowConfidence)

		case "session":
			var sess attend.Session
			if err := json.Unmarshal(msg.Body, &sess); err != nil {
				log.Printf("bad session event: %v", err)
				continue
			}
			go watchSession(ctx, sess, statsEngine, redisClient, cfg)
		}
	}

	log.Println("worker stopped")
}

// watchSession runs a monitor for one session until it expires. The monitor
// context ends shortly after the deadline so the goroutine always drains.
func watchSession(ctx context.Context, sess attend.Session, engine *verify.Submitter, redisClient *store.Redis, cfg config.App) {
	deadline := sess.ExpiresAt.Add(10 * time.Second)
	mctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	m := monitor.New(sess, engine.Stats, cfg.StatsPollInterval, cfg.CountdownInterval)
	m.OnStats = func(stats verify.SessionStats) {
		body, err := json.Marshal(stats)
		if err != nil {
			return
		}
		if err := redisClient.CacheStats(mctx, stats.Code, body, 2*cfg.StatsPollInterval); err != nil {
			log.Printf("stats cache for %s failed: %v", stats.Code, err)
		}
	}
	m.OnExpired = func() {
		log.Printf("session %s expired", sess.Code)
		cancel()
	}

	log.Printf("monitoring session %s (%s) until %s", sess.Code, sess.CourseLabel, sess.ExpiresAt.Format(time.RFC3339))
	m.Run(mctx)
}
