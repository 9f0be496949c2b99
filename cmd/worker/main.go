package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusattend/internal/attendance"
	"campusattend/internal/cloudinary"
	"campusattend/internal/config"
	"campusattend/internal/face"
	"campusattend/internal/metrics"
	"campusattend/internal/queue"
	"campusattend/internal/store"
)

// Worker archives accepted captures: it consumes record ids from the queue,
// pulls the staged image bytes from Redis, uploads them to Cloudinary, and
// backfills the record's image URL.
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

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
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

	var cdn *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdn = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured, captures will stay staged until they expire")
	}

	// The matcher is not used here, but a reachable face service is a good
	// startup signal for the deployment as a whole.
	if err := face.NewClient(cfg.FaceServiceURL, cfg.MatchThreshold).Health(ctx); err != nil {
		log.Printf("WARNING: face service not available: %v", err)
	} else {
		log.Println("Face service connected")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeAccepted {
			continue
		}

		id := string(msg.Body)
		log.Printf("archiving capture for record %s", id)

		if cdn == nil {
			continue
		}

		capture, err := redisClient.FetchCapture(ctx, id)
		if err != nil {
			log.Printf("fetch capture %s failed: %v", id, err)
			continue
		}
		if capture == nil {
			log.Printf("capture %s expired before archival", id)
			continue
		}

		result, err := cdn.UploadBytes(capture, fmt.Sprintf("%s.jpg", id))
		if err != nil {
			log.Printf("cloudinary upload failed for %s: %v", id, err)
			continue
		}

		if err := repo.SetRecordImageURL(ctx, id, result.SecureURL); err != nil {
			log.Printf("backfill image url failed for %s: %v", id, err)
			continue
		}
		_ = redisClient.DropCapture(ctx, id)
		metrics.ArchivedCaptures.Inc()
		log.Printf("record %s archived at %s", id, result.SecureURL)

		time.Sleep(10 * time.Millisecond)
	}

	log.Println("worker stopped")
}
