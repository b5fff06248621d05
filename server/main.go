package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"song-arena/server/rating"
	"song-arena/server/store"
)

type Config struct {
	DatabaseURL string  `env:"DATABASE_URL,required"`
	Port        string  `env:"PORT" envDefault:"8080"`
	Tau         float64 `env:"TAU" envDefault:"0.5"`
	AutoMigrate bool    `env:"AUTO_MIGRATE" envDefault:"false"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	var migrate, seed bool
	for _, a := range os.Args[1:] {
		switch a {
		case "--migrate":
			migrate = true
		case "--seed":
			seed = true
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	calc, err := rating.New(cfg.Tau)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close(context.Background())

	if migrate || cfg.AutoMigrate {
		if err := store.Migrate(context.Background(), db); err != nil {
			log.Fatal(err)
		}
		log.Println("migrated")
		if migrate && !seed {
			return
		}
	}
	if seed {
		if err := seedSongs(context.Background(), db); err != nil {
			log.Fatal(err)
		}
		return
	}

	ar := &arena{db: db, calc: calc, intn: rand.Intn}
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      Router(ar),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Println("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Printf("listening on http://localhost:%s (Ctrl+C to stop)", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// seedSongs loads a handful of songs so a fresh database has something to
// duel with.
func seedSongs(ctx context.Context, db *store.DB) error {
	vid := func(s string) *string { return &s }
	songs := []store.Song{
		{CanonicalName: "Feel Special", Artist: "TWICE", Language: "korean", Category: "TWICE", YouTubeVideoID: vid("3ymwOvzhwHs")},
		{CanonicalName: "Fancy", Artist: "TWICE", Language: "korean", Category: "TWICE", YouTubeVideoID: vid("kOHB85vDuow")},
		{CanonicalName: "Cry For Me", Artist: "TWICE", Language: "korean", Category: "TWICE", YouTubeVideoID: vid("bkQw-F1QTq4")},
		{CanonicalName: "The Feels", Artist: "TWICE", Language: "english", Category: "TWICE", YouTubeVideoID: vid("f5_wn8mexmM")},
		{CanonicalName: "Alcohol-Free", Artist: "TWICE", Language: "korean", Category: "TWICE", YouTubeVideoID: vid("XA2YEHn-A8Q")},
		{CanonicalName: "Moonlight Sunrise", Artist: "TWICE", Language: "english", Category: "TWICE", YouTubeVideoID: vid("1kfopX_y4WA")},
	}
	n, err := db.BulkInsertSongs(ctx, songs)
	if err != nil {
		return err
	}
	log.Printf("seeded %d songs", n)
	return nil
}
