// Command form-server serves the simulated forms on :8080 for local load
// test runs.
package main

import (
	"flag"
	"log"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/alphagov/forms-load-tests/internal/formsim"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	latency := flag.Duration("latency", 0, "delay added to every response")
	debug := flag.Bool("debug", false, "log every request")
	flag.Parse()

	// Use all CPU cores
	runtime.GOMAXPROCS(runtime.NumCPU())

	logger := zap.NewNop()
	if *debug {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			log.Fatal(err)
		}
	}

	forms := formsim.DefaultForms()
	server := &http.Server{
		Addr:              *addr,
		Handler:           formsim.New(forms, formsim.WithLogger(logger), formsim.WithLatency(*latency)),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	log.Printf("Serving %d simulated forms on %s", len(forms), *addr)
	for _, f := range forms {
		log.Printf("  /form/%s (%d questions)", f.ID, len(f.Questions))
	}

	if err := server.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
