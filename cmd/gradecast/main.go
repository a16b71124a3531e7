package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/kentwelham/gradecast/internal/accuracy"
	"github.com/kentwelham/gradecast/internal/api"
	"github.com/kentwelham/gradecast/internal/catalog"
	"github.com/kentwelham/gradecast/internal/fetch"
	"github.com/kentwelham/gradecast/internal/httputil"
	"github.com/kentwelham/gradecast/internal/ingest"
	"github.com/kentwelham/gradecast/internal/leader"
	"github.com/kentwelham/gradecast/internal/models"
	"github.com/kentwelham/gradecast/internal/store"
)

var defaultLocations = []models.Location{
	{ID: 1, Name: "Innsbruck", Latitude: 47.2692, Longitude: 11.4041},
	{ID: 2, Name: "Oslo", Latitude: 59.9139, Longitude: 10.7522},
	{ID: 3, Name: "Denver", Latitude: 39.7392, Longitude: -104.9903},
	{ID: 4, Name: "Sapporo", Latitude: 43.0618, Longitude: 141.3545},
}

var cli struct {
	DB            string        `name:"db" default:"data/gradecast.db" env:"GRADECAST_DB" help:"Path to the SQLite database."`
	Port          string        `default:"8080" env:"GRADECAST_PORT" help:"HTTP server port."`
	BaseURL       string        `name:"base-url" default:"https://api.open-meteo.com" env:"GRADECAST_BASE_URL" help:"Upstream forecast API base URL."`
	FetchSpacing  time.Duration `default:"100ms" env:"GRADECAST_FETCH_SPACING" help:"Minimum spacing between upstream requests."`
	CycleInterval time.Duration `default:"1h" env:"GRADECAST_CYCLE_INTERVAL" help:"Interval between update cycles."`
	LeaseTTL      time.Duration `default:"90s" env:"GRADECAST_LEASE_TTL" help:"Leadership lease time to live."`
	RenewInterval time.Duration `default:"60s" env:"GRADECAST_RENEW_INTERVAL" help:"Leadership lease renewal interval."`
	RetentionDays int           `default:"30" env:"GRADECAST_RETENTION_DAYS" help:"Days of scored history, actuals and raw payloads to keep."`
	NoPoll        bool          `name:"no-poll" help:"Disable the update scheduler (server only, for local dev)."`
	Once          bool          `help:"Run one update cycle and exit."`
	ResetAccuracy bool          `name:"reset-accuracy" help:"Clear accuracy scores and scored history, then exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("gradecast"),
		kong.Description("Tracks how accurate competing weather models actually are."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	db, err := sql.Open("sqlite", cli.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database migrated")

	for _, loc := range defaultLocations {
		if err := st.UpsertLocation(loc); err != nil {
			log.Fatalf("upsert location %s: %v", loc.Name, err)
		}
	}
	log.Println("locations seeded")

	retention := time.Duration(cli.RetentionDays) * 24 * time.Hour
	engine := accuracy.NewEngine(st, retention)

	if cli.ResetAccuracy {
		if err := engine.Reset(); err != nil {
			log.Fatalf("reset accuracy: %v", err)
		}
		log.Println("accuracy data cleared")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	queue := fetch.NewQueue(httputil.NewClient(), cli.FetchSpacing)
	go queue.Run(ctx)

	client := ingest.NewClient(queue, cli.BaseURL, st)
	cycle := ingest.NewCycle(st, client, ingest.NewActualsSource(client), engine, catalog.Default(), retention)

	elector := leader.NewElector(st, holderID(), cli.LeaseTTL, cli.RenewInterval)
	defer elector.Resign()

	if cli.Once {
		tok, err := elector.TryAcquire(ctx)
		if err != nil {
			log.Fatalf("acquire lease: %v", err)
		}
		if tok == nil {
			log.Fatal("another instance holds the lease, not running")
		}
		if err := cycle.Run(ctx, tok); err != nil {
			log.Fatalf("cycle: %v", err)
		}
		log.Println("done")
		return
	}

	if !cli.NoPoll {
		scheduler := ingest.NewScheduler(cycle, elector, cli.CycleInterval)
		go scheduler.Run(ctx)
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	server := api.NewServer(st, engine, cycle, elector, cli.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// holderID identifies this process in the lease table across restarts
// and hosts.
func holderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "gradecast"
	}
	return host + "-" + uuid.NewString()[:8]
}
