// Command checkin-bot runs one attendance check-in batch from a JSON
// configuration file.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"attendbot/bot"
	"attendbot/eventbus"
	"attendbot/telegram"
)

func main() {
	// .env is optional; real environment always wins.
	_ = godotenv.Load()

	urlFlag := flag.String("url", "", "target URL (overrides the config file)")
	configFlag := flag.String("config", "config/config.json", "path to the run configuration file")
	flag.Parse()

	cfg, err := bot.LoadConfig(*configFlag)
	if err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
	if *urlFlag != "" {
		cfg.URL = *urlFlag
	}

	orch := bot.NewOrchestrator(cfg)

	if client := telegram.NewClient(os.Getenv("TELEGRAM_TOKEN")); client != nil {
		orch.Notifier = client
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		bus, err := eventbus.NewNATSBus(eventbus.NATSConfig{URL: natsURL})
		if err != nil {
			log.Printf("⚠️ NATS unavailable, run events disabled: %v", err)
		} else {
			defer bus.Close()
			orch.Bus = bus
		}
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Printf("⚠️ Invalid REDIS_URL, status mirror disabled: %v", err)
		} else {
			rdb := redis.NewClient(opts)
			defer rdb.Close()
			orch.Status.MirrorToRedis(rdb, "attendbot:run:"+orch.RunID)
		}
	}

	if _, err := orch.Run(); err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}
