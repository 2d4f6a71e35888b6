// ABOUTME: Minimal fake OpenAI-compatible upstream for E2E testing; streams a markdown echo as SSE.
// ABOUTME: Usage: fake-upstream [-addr localhost:11434] [-delay 30ms] [-fail-on word]
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:11434", "listen address")
	delay := flag.Duration("delay", 30*time.Millisecond, "pause between streamed words")
	failOn := flag.String("fail-on", "", "fail the stream midway when the prompt contains this text")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newHandler(*delay, *failOn),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("fake upstream listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
