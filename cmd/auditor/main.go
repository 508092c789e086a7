// cmd/auditor/main.go is the asynchronous trail worker: it pops
// admission records from the Redis queue the server publishes to and
// persists them to PostgreSQL in batches.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/anteroom-dev/anteroom/internal/audit"
	"github.com/anteroom-dev/anteroom/internal/config"
	"github.com/anteroom-dev/anteroom/internal/database"
)

// AuditorService drains the admission queue into the admission_events
// table and prunes rows past their retention.
type AuditorService struct {
	log         *logrus.Logger
	redisClient *redis.Client
	pool        *pgxpool.Pool
	queue       string
	batchSize   int
	flushDelay  time.Duration
	retention   time.Duration // zero keeps everything

	batchMu  sync.Mutex
	batch    []audit.Record
	ctx      context.Context
	cancelFn context.CancelFunc
}

func NewAuditorService(cfg config.Config, pool *pgxpool.Pool, logger *logrus.Logger) *AuditorService {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &AuditorService{
		log:         logger,
		redisClient: rdb,
		pool:        pool,
		queue:       cfg.AuditQueue,
		batchSize:   cfg.AuditorBatchSize,
		flushDelay:  cfg.AuditorFlushInterval,
		retention:   cfg.AuditRetention,
		batch:       make([]audit.Record, 0, cfg.AuditorBatchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run starts the queue reader and the retention sweep and blocks until
// Stop is called.
func (as *AuditorService) Run() {
	go as.readRedisLoop()
	if as.retention > 0 {
		go as.retentionLoop()
	}

	as.log.Infof("anteroom-auditor started on queue %s", as.queue)
	<-as.ctx.Done()
	as.log.Info("anteroom-auditor shutting down")
}

// readRedisLoop pulls records off the queue and accumulates them; a
// ticker flushes whatever a quiet queue has left over.
func (as *AuditorService) readRedisLoop() {
	ticker := time.NewTicker(as.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-as.ctx.Done():
			return

		case <-ticker.C:
			as.flushBatchToDB()

		default:
			// BLPop with a timeout so cancellation is noticed.
			res, err := as.redisClient.BLPop(as.ctx, 3*time.Second, as.queue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && as.ctx.Err() == nil {
					as.log.Warnf("BLPop: %v", err)
				}
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var record audit.Record
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				as.log.Warnf("invalid admission record: %v", err)
				continue
			}
			as.appendToBatch(record)
		}
	}
}

func (as *AuditorService) appendToBatch(record audit.Record) {
	as.batchMu.Lock()
	defer as.batchMu.Unlock()

	as.batch = append(as.batch, record)
	if len(as.batch) >= as.batchSize {
		as.flushLocked()
	}
}

func (as *AuditorService) flushBatchToDB() {
	as.batchMu.Lock()
	defer as.batchMu.Unlock()
	as.flushLocked()
}

// flushLocked writes the pending batch in one transaction. Callers
// hold batchMu.
func (as *AuditorService) flushLocked() {
	if len(as.batch) == 0 {
		return
	}
	batchCopy := make([]audit.Record, len(as.batch))
	copy(batchCopy, as.batch)
	as.batch = as.batch[:0]

	ctx := context.Background()
	err := pgx.BeginTxFunc(ctx, as.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
		INSERT INTO admission_events (room_jid, event_type, actor_jid, subject_id, nick, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), to_timestamp($6 / 1000.0))
		`
		for _, rec := range batchCopy {
			if _, err := tx.Exec(ctx, q,
				rec.RoomJID, rec.EventType, rec.ActorJID, rec.SubjectID, rec.Nick, rec.Timestamp,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		as.log.Errorf("flush admission batch: %v", err)
		return
	}
	as.log.Debugf("flushed %d admission events", len(batchCopy))
}

// retentionLoop deletes trail rows older than the configured
// retention.
func (as *AuditorService) retentionLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-as.ctx.Done():
			return

		case <-ticker.C:
			cutoff := time.Now().Add(-as.retention)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			tag, err := as.pool.Exec(ctx,
				`DELETE FROM admission_events WHERE occurred_at < $1`, cutoff)
			cancel()
			if err != nil {
				as.log.Warnf("retention sweep: %v", err)
				continue
			}
			if tag.RowsAffected() > 0 {
				as.log.Infof("retention sweep removed %d admission events", tag.RowsAffected())
			}
		}
	}
}

// Stop ends the loops and flushes whatever is still pending.
func (as *AuditorService) Stop() {
	as.cancelFn()
	as.flushBatchToDB()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}
	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required")
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("ANTEROOM_POSTGRES_DSN is required")
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	pool, err := database.Connect(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	as := NewAuditorService(cfg, pool, logger)
	go as.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	as.Stop()
	logger.Info("auditor shutdown complete")
}
