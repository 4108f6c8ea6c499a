package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stake-plus/tally-gov-bot/src/shared/data"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/bot"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/config"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/webserver"
)

func main() {
	// Connect to database first
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "tallybot:tallybot@tcp(127.0.0.1:3306)/tallybot"
	}
	db := data.MustMySQL(mysqlDSN)

	if err := data.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	cfg := config.Load(db)
	if cfg.Token == "" {
		log.Fatal("DISCORD_TOKEN not set in database or environment")
	}
	if cfg.TallyAPIKey == "" {
		log.Fatal("TALLY_API_KEY not set in database or environment")
	}

	rdb := data.MustRedis(cfg.RedisURL)

	b, err := bot.New(bot.Config{App: cfg, DB: db, Redis: rdb})
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	if err := b.Start(); err != nil {
		log.Fatalf("Failed to start bot: %v", err)
	}

	router := webserver.New(webserver.Deps{
		Store:     b.Store(),
		Directory: b.Directory(),
		Engine:    b.Engine(),
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Status server listening on port %s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	log.Println("Tally governance bot is running. Press CTRL-C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)

	b.Stop()
	log.Println("Tally governance bot stopped gracefully")
}
