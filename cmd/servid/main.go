package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/ardanlabs/conf/v3"
	"github.com/joho/godotenv"
	"github.com/phbpx/leadtrack"
	"github.com/phbpx/leadtrack/auth"
	"github.com/phbpx/leadtrack/handler"
	"github.com/phbpx/leadtrack/kafka"
	"github.com/phbpx/leadtrack/mail"
	"github.com/phbpx/leadtrack/memory"
	"github.com/phbpx/leadtrack/pkg/database"
	"github.com/phbpx/leadtrack/postgres"
	"github.com/phbpx/leadtrack/redis"
	"github.com/phbpx/leadtrack/render"
	"github.com/phbpx/leadtrack/scheduler"
	"github.com/phbpx/leadtrack/service"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {

	log, err := newLog("leads-api")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if err := run("leads-api", log); err != nil {
		log.Errorw("startup", "err", err)
		os.Exit(1)
	}
}

func run(serverName string, log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// A missing .env file is fine; the environment is used as is.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg := struct {
		Http struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:30s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			Host            string        `conf:"default:0.0.0.0:3000"`
			AllowedOrigins  []string      `conf:"default:*"`
		}
		DB struct {
			User         string        `conf:"default:leadsvc"`
			Password     string        `conf:"default:leadsvc,mask"`
			Host         string        `conf:"default:localhost"`
			Name         string        `conf:"default:leads"`
			MaxIdleConns int           `conf:"default:0"`
			MaxOpenConns int           `conf:"default:0"`
			MaxLifetime  time.Duration `conf:"default:30m"`
			DisableTLS   bool          `conf:"default:true"`
		}
		Jaeger struct {
			ReporterURI string  `conf:"default:http://localhost:14268/api/traces"`
			ServiceName string  `conf:"default:leadsvc-api"`
			Probability float64 `conf:"default:0.5"`
		}
		Auth struct {
			Secret   string        `conf:"required,mask"`
			TokenTTL time.Duration `conf:"default:24h"`
		}
		Leads struct {
			StaffNationalIDDigits int `conf:"default:12"`
			LinkNationalIDDigits  int `conf:"default:16"`
		}
		Report struct {
			Timezone   string        `conf:"default:Asia/Kolkata"`
			Cron       string        `conf:"default:0 9 1 * *"`
			JobTimeout time.Duration `conf:"default:10m"`
			// TrueType font for PDF text beyond cp1252.
			PDFFont    string
		}
		SMTP struct {
			Host     string `conf:"default:localhost"`
			Port     int    `conf:"default:587"`
			User     string
			Password string `conf:"mask"`
			From     string `conf:"default:reports@leadtrack.local"`
		}
		Redis struct {
			URL string
		}
		Kafka struct {
			Brokers []string
			Topic   string `conf:"default:lead-events"`
		}
	}{}

	help, err := conf.Parse("LEAD", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Report.Timezone)
	if err != nil {
		return fmt.Errorf("loading report timezone: %w", err)
	}

	// =========================================================================
	// Database Support

	// Create connectivity to the database.
	log.Infow("startup", "status", "initializing database support", "host", cfg.DB.Host)

	db, err := database.Open(database.Config{
		User:            cfg.DB.User,
		Password:        cfg.DB.Password,
		Host:            cfg.DB.Host,
		Name:            cfg.DB.Name,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		ConnMaxLifetime: cfg.DB.MaxLifetime,
		DisableTLS:      cfg.DB.DisableTLS,
		ApplicationName: serverName,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Infow("shutdown", "status", "stopping database support", "host", cfg.DB.Host)
		db.Close()
	}()

	// =========================================================================
	// Update database schema

	log.Infow("startup", "status", "updating database schema", "database", cfg.DB.Name, "host", cfg.DB.Host)

	if err := postgres.Migrate(context.Background(), db); err != nil {
		return fmt.Errorf("updating database schema: %w", err)
	}

	// =========================================================================
	// Start Tracing Support

	log.Infow("startup", "status", "initializing OT/Jaeger tracing support")

	traceProvider, err := startTracing(
		cfg.Jaeger.ServiceName,
		cfg.Jaeger.ReporterURI,
		cfg.Jaeger.Probability,
	)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer traceProvider.Shutdown(context.Background())

	// =========================================================================
	// Lead events

	var events leadtrack.EventPublisher
	if brokers := nonEmpty(cfg.Kafka.Brokers); len(brokers) > 0 {
		log.Infow("startup", "status", "initializing kafka publisher", "brokers", brokers, "topic", cfg.Kafka.Topic)
		publisher := kafka.NewPublisher(brokers, cfg.Kafka.Topic)
		defer publisher.Close()
		events = publisher
	}

	// =========================================================================
	// Services

	store := postgres.NewStore(db)

	leadService := service.NewLeadService(store, store, events, log, service.LeadConfig{
		StaffNationalID: leadtrack.NationalIDRule{Digits: cfg.Leads.StaffNationalIDDigits},
		LinkNationalID:  leadtrack.NationalIDRule{Digits: cfg.Leads.LinkNationalIDDigits},
		Location:        loc,
	})

	reportService := service.NewReportService(store, store, map[string]render.Renderer{
		"csv": render.CSV{},
		"pdf": render.PDF{Landscape: true, FontFile: cfg.Report.PDFFont},
	}, log, loc)

	authn, err := auth.New(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	// =========================================================================
	// Monthly report scheduler

	var guard service.RunGuard = memory.NewGuard()
	if cfg.Redis.URL != "" {
		log.Infow("startup", "status", "initializing redis run guard")
		client, err := redis.Connect(context.Background(), cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer client.Close()
		guard = redis.NewGuard(client)
	}

	mailer := mail.NewSMTP(mail.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})

	monthly := service.NewMonthlyReporter(reportService, store, mailer, guard, log)

	sched := scheduler.New(loc, cfg.Report.JobTimeout, log)
	if err := sched.Add("monthly-report", cfg.Report.Cron, monthly); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		log.Infow("shutdown", "status", "stopping scheduler")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Http.ShutdownTimeout)
		defer cancel()
		if err := sched.Stop(ctx); err != nil {
			log.Errorw("shutdown", "status", "scheduler did not stop", "error", err.Error())
		}
	}()

	// =========================================================================
	// Create router

	log.Infow("startup", "status", "initializing router")

	otelLog := otelzap.New(log.Desugar(), otelzap.WithStackTrace(true)).Sugar()

	r := handler.NewRouter(handler.Config{
		ServerName:     serverName,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		Leads:          leadService,
		Reports:        reportService,
		Users:          store,
		Auth:           authn,
		Health: func(ctx context.Context) error {
			return database.StatusCheck(ctx, db)
		},
		Log: otelLog,
	})

	// =========================================================================
	// Start API Server

	log.Infow("startup", "status", "initializing http server", "host", cfg.Http.Host)

	server := &http.Server{
		Addr:         cfg.Http.Host,
		Handler:      r,
		ReadTimeout:  cfg.Http.ReadTimeout,
		WriteTimeout: cfg.Http.WriteTimeout,
		IdleTimeout:  cfg.Http.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Http.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func newLog(serviceName string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	log, err := config.Build()
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}

func startTracing(serviceName, reporterURL string, probability float64) (*tracesdk.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(reporterURL)))
	if err != nil {
		return nil, fmt.Errorf("creating new exporter: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(probability))),
		tracesdk.WithBatcher(exp,
			tracesdk.WithMaxExportBatchSize(tracesdk.DefaultMaxExportBatchSize),
			tracesdk.WithBatchTimeout(tracesdk.DefaultScheduleDelay*time.Millisecond),
		),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("exporter", "jaeger"),
		)),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}
