package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dayloop/dayloop-server/internal/application/delivery"
	"github.com/dayloop/dayloop-server/internal/application/schedule"
	"github.com/dayloop/dayloop-server/internal/config"
	"github.com/dayloop/dayloop-server/internal/infrastructure/dynamo"
	jwtinfra "github.com/dayloop/dayloop-server/internal/infrastructure/jwt"
	"github.com/dayloop/dayloop-server/internal/infrastructure/notify"
	s3infra "github.com/dayloop/dayloop-server/internal/infrastructure/s3"
	"github.com/dayloop/dayloop-server/internal/infrastructure/smtp"
	"github.com/dayloop/dayloop-server/internal/infrastructure/sns"
	transporthttp "github.com/dayloop/dayloop-server/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	// Token signing is not optional; every credential operation needs it.
	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("JWT provider: %v", err)
	}

	// S3 report archive.
	s3Client := s3infra.NewClient(cfg)
	reportStore := s3infra.NewStore(s3Client, cfg.S3ReportBucket)

	// SMTP mailer.
	mailer := smtp.NewMailer(cfg)

	// SNS push channel (optional, disabled when no topic is configured).
	var publisher sns.Publisher
	if cfg.SNSTopicARN != "" {
		if p, err := sns.NewPublisher(cfg); err == nil {
			publisher = p
		} else {
			log.Printf("WARN: SNS publisher not available: %v", err)
		}
	}

	userRepo := dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users)
	credentialRepo := dynamo.NewCredentialRepo(dynamoClient, cfg.DynamoTables.Credentials)
	otpRepo := dynamo.NewOTPRepo(dynamoClient, cfg.DynamoTables.OneTimeCodes)
	jobRepo := dynamo.NewJobRepo(dynamoClient, cfg.DynamoTables.DeliveryJobs)
	taskRepo := dynamo.NewTaskRepo(dynamoClient, cfg.DynamoTables.Tasks)
	activityRepo := dynamo.NewActivityRepo(dynamoClient, cfg.DynamoTables.FocusSessions)

	// Failed jobs are never retried automatically; surface any backlog left
	// over from previous runs so an operator notices.
	if failed, err := jobRepo.ListFailed(context.Background()); err != nil {
		log.Printf("WARN: could not list failed delivery jobs: %v", err)
	} else if len(failed) > 0 {
		log.Printf("WARN: %d delivery jobs are parked as failed", len(failed))
	}

	queue := delivery.NewQueue(jobRepo)

	// Delivery workers drain the queue for the lifetime of the process.
	runCtx, stopBackground := context.WithCancel(context.Background())
	pool := delivery.NewWorkerPool(delivery.WorkerPoolDeps{
		Repo:         jobRepo,
		Sender:       notify.NewNotifier(mailer, publisher),
		Workers:      cfg.QueueWorkers,
		PollInterval: cfg.QueuePollInterval,
		SendTimeout:  cfg.SendTimeout,
		BaseBackoff:  cfg.RetryBaseBackoff,
		ClaimLease:   cfg.ClaimLease,
	})
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(runCtx)
	}()

	scheduler := schedule.NewScheduler(schedule.SchedulerDeps{
		Triggers: schedule.NewTriggers(schedule.TriggerDeps{
			Tasks:    taskRepo,
			Activity: activityRepo,
			Users:    userRepo,
			Queue:    queue,
			Archive:  reportStore,
		}),
		ReminderHour:  cfg.ReminderHour,
		OverdueHour:   cfg.OverdueHour,
		ReportWeekday: cfg.ReportWeekday,
		ReportHour:    cfg.ReportHour,
	})
	go scheduler.Run(runCtx)

	deps := &transporthttp.Deps{
		UserRepo:       userRepo,
		CredentialRepo: credentialRepo,
		OTPRepo:        otpRepo,
		Queue:          queue,
		JWTProvider:    jwtProvider,
		ReportArchive:  reportStore,
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}

	// Stop the scheduler and let in-flight deliveries finish.
	stopBackground()
	select {
	case <-poolDone:
	case <-ctx.Done():
		log.Println("gave up waiting for delivery workers")
	}
	log.Println("Server stopped")
}
