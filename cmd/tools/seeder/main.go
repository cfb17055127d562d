package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/noah-isme/pass-ticketing/internal/store"
)

type passSeed struct {
	Type  string
	Price int64
	Stock int
}

var passes = []passSeed{
	{"Silver", 499, 200},
	{"Gold", 999, 100},
	{"Platinum", 1999, 50},
	{"Priority", 4999, 10},
}

func main() {
	applySchema := flag.Bool("schema", false, "apply the reference schema before seeding")
	eventStart := flag.Duration("event-in", 30*24*time.Hour, "start the demo event this far from now")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	if *applySchema {
		fmt.Println("Applying schema...")
		if _, err := db.Exec(store.Schema); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
	}

	seedPasses(db)
	seedEvent(db, time.Now().Add(*eventStart))

	log.Println("Seeding completed successfully!")
}

func seedPasses(db *sql.DB) {
	fmt.Println("Seeding Passes...")
	for _, p := range passes {
		_, err := db.Exec(`
			INSERT INTO passes (type, price, stock)
			VALUES ($1, $2, $3)
			ON CONFLICT (type) DO UPDATE SET price = EXCLUDED.price;
		`, p.Type, p.Price, p.Stock)
		if err != nil {
			log.Printf("Failed to upsert pass %s: %v", p.Type, err)
		}
	}
}

func seedEvent(db *sql.DB, start time.Time) {
	fmt.Println("Seeding Events...")
	const name = "Annual Fest"
	_, err := db.Exec(`
		INSERT INTO events (name, description, venue, start_date, end_date, is_active)
		SELECT $1::text, $2, $3, $4::timestamptz, $4::timestamptz + interval '3 days', true
		WHERE NOT EXISTS (SELECT 1 FROM events WHERE name = $1::text);
	`, name, "Three days of talks, workshops and concerts.", "Main Campus Grounds", start.UTC())
	if err != nil {
		log.Printf("Failed to seed event %s: %v", name, err)
	}
}
