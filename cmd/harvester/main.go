// Command harvester fetches laws from the e-Gov API and publishes them as
// LawDocument JSON, either to NATS for the ingest workers or to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/AobaIwaki123/lawvec/engine/domain"
	"github.com/AobaIwaki123/lawvec/engine/egov"
	"github.com/AobaIwaki123/lawvec/engine/ingest"
	"github.com/AobaIwaki123/lawvec/pkg/natsutil"
)

func main() {
	natsURL := flag.String("nats", "", "NATS URL (if empty, output JSON to stdout)")
	subject := flag.String("subject", ingest.IngestSubject, "NATS subject to publish to")
	baseURL := flag.String("egov", "", "e-Gov API base URL (default: public API)")
	category := flag.Int("category", int(domain.CategoryConstitution), "e-Gov lawlists category (1-4)")
	keyword := flag.String("keyword", "", "only laws whose name contains this keyword")
	limit := flag.Int("limit", 0, "max laws to publish (0 = all)")
	interval := flag.Duration("interval", 0, "polling interval (0 = one-shot)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := egov.NewClient(*baseURL)

	var nc *nats.Conn
	if *natsURL != "" {
		var err error
		nc, err = nats.Connect(*natsURL)
		if err != nil {
			log.Fatalf("nats connect: %v", err)
		}
		defer nc.Close()
		log.Printf("publishing to NATS subject %s", *subject)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	run := func() error {
		entries, err := client.FetchIndex(ctx, domain.Category(*category))
		if err != nil {
			return fmt.Errorf("fetch index: %w", err)
		}
		if *keyword != "" {
			entries = egov.FilterByKeyword(entries, *keyword)
		}
		log.Printf("index has %d matching laws", len(entries))

		published := 0
		for _, e := range entries {
			if ctx.Err() != nil {
				break
			}
			if *limit > 0 && published >= *limit {
				break
			}

			doc, err := client.FetchLawData(ctx, e.Number)
			if err != nil {
				log.Printf("fetch %s (%s): %v", e.Name, e.Number, err)
				continue
			}
			doc.Category = e.Category

			if nc != nil {
				if err := natsutil.Publish(ctx, nc, *subject, doc); err != nil {
					log.Printf("nats publish error: %v", err)
					continue
				}
			} else {
				if err := enc.Encode(doc); err != nil {
					return fmt.Errorf("encode: %w", err)
				}
			}
			published++
		}
		log.Printf("published %d laws", published)
		return nil
	}

	// First run
	if err := run(); err != nil {
		log.Fatalf("harvest: %v", err)
	}

	if *interval <= 0 {
		return
	}

	// Poll loop for newly promulgated laws.
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("shutting down")
			return
		case <-ticker.C:
			if err := run(); err != nil {
				log.Printf("harvest error: %v", err)
			}
		}
	}
}
