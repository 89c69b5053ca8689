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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/crypto/bcrypt"

	"caixapos/backend/internal/cache"
	"caixapos/backend/internal/config"
	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/events"
	"caixapos/backend/internal/httpapi"
	"caixapos/backend/internal/metrics"
	"caixapos/backend/internal/service"
	"caixapos/backend/internal/store"
	"caixapos/backend/internal/store/memory"
	pgstore "caixapos/backend/internal/store/postgres"
	sqlitestore "caixapos/backend/internal/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("repository unavailable: %v", err)
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}
	if err := bootstrapAdmin(ctx, repo, os.Getenv("SEED_ADMIN_PASSWORD")); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()

	var holds cache.HeldSaleStore
	if cfg.RedisAddr != "" {
		redisHolds := cache.NewRedisHeldSaleStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisHolds.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), holding sales in memory", err)
		} else {
			holds = redisHolds
			closers = append(closers, redisHolds.Close)
			log.Println("held sales: redis")
		}
	}
	if holds == nil {
		memHolds := cache.NewMemoryHeldSaleStore()
		go memHolds.RunJanitor(janitorCtx, time.Minute)
		holds = memHolds
		log.Println("held sales: in-memory")
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if brokers := events.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		publisher = kafkaPublisher
		closers = append(closers, kafkaPublisher.Close)
		log.Printf("events: kafka topic=%s brokers=%v", cfg.KafkaTopic, brokers)
	} else {
		log.Println("events: disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	taxRate := cfg.DefaultTaxRate
	svc := service.New(repo, holds, service.Options{
		DefaultTaxRate: &taxRate,
		HoldTTL:        time.Duration(cfg.HoldTTLMinutes) * time.Minute,
		StoreName:      cfg.StoreName,
		Publisher:      publisher,
		Metrics:        m,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, m, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stopJanitor()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// openRepository picks postgres, then sqlite, then the seeded in-memory store.
// A configured database that cannot be reached is fatal rather than silently
// replaced by the memory store.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		log.Println("repository: postgres")
		return pg, pg.Close, nil
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		log.Printf("repository: sqlite (%s)", cfg.SQLitePath)
		return lite, lite.Close, nil
	default:
		log.Println("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

// bootstrapAdmin creates the first admin account on an empty user table so a
// fresh database can be logged into.
func bootstrapAdmin(ctx context.Context, repo store.Repository, password string) error {
	if password == "" {
		return nil
	}
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	log.Println("bootstrap: creating initial admin account")
	_, err = repo.CreateUser(ctx, domain.UserAccount{
		Username:  "admin",
		Password:  string(hash),
		Role:      "admin",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	return err
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	// Reject all-same-digit PINs.
	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	// Reject ascending or descending sequential PINs (e.g. 123456, 987654).
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
