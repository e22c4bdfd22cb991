package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"supporthub-ws/internal/auth"
	"supporthub-ws/internal/config"
	"supporthub-ws/internal/delivery"
	"supporthub-ws/internal/domain"
	"supporthub-ws/internal/hub"
	"supporthub-ws/internal/infrastructure/kafka"
	"supporthub-ws/internal/infrastructure/redis"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Application recovered from panic: %v", r)
			os.Exit(1)
		}
	}()

	_ = godotenv.Load()

	cfg := config.LoadConfig()
	hubID := uuid.New().String()

	log.Printf("Starting Support Hub WebSocket Server")
	log.Printf("Instance: %s", hubID)
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Port: %s", cfg.Port)
	log.Printf("Redis: %s:%s", cfg.RedisHost, cfg.RedisPort)
	log.Printf("Kafka Brokers: %v", cfg.KafkaBrokers)

	redisClient := redis.NewClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
	} else {
		log.Println("Redis connection successful")
	}

	kafkaBroker := strings.Join(cfg.KafkaBrokers, ",")
	producer := kafka.NewProducer(kafkaBroker, hubID)

	registry := hub.NewRegistry()
	store := hub.NewStore()
	router := hub.NewRouter(registry, store, producer, cfg.PushTimeout)
	presence := hub.NewPresence(cfg.TypingTTL, cfg.TypingThrottle, redisClient)

	// Online/offline transitions derive from register/unregister and
	// are republished to connected principals and the event bus.
	registry.OnPresence(func(sig domain.PresenceSignal) {
		router.BroadcastPresence(ctx, sig)
	})

	verifier := auth.NewTokenCodec(cfg.AuthSecret)
	wsHandler := delivery.NewWSHandler(registry, store, router, presence, producer, redisClient, hubID, cfg.PushTimeout)

	topics := []string{kafka.TopicChatMessages, kafka.TopicTyping, kafka.TopicPresence}
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, topics, wsHandler)

	server := delivery.NewServer(cfg, verifier, redisClient, registry, store, wsHandler)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		cancel()
		registry.Close()
		if err := consumer.Close(); err != nil {
			log.Printf("Error closing Kafka consumer: %v", err)
		}
		if err := producer.Close(); err != nil {
			log.Printf("Error closing Kafka producer: %v", err)
		}
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}()

	go presence.RunSweeper(ctx, 0)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Kafka consumer goroutine recovered from panic: %v", r)
			}
		}()
		if err := consumer.Start(ctx); err != nil {
			log.Printf("Kafka consumer error: %v", err)
		}
	}()

	log.Fatal(server.Start())
}
