//go:build !unix

package main

import (
	"log"
	"os"
	"os/signal"

	"github.com/HexSleeves/apiary/internal/beekeeper"
)

// watchSignals maps an interrupt to terminate. Resizing needs the dashboard
// keys on platforms without SIGUSR1/SIGUSR2.
func watchSignals(k *beekeeper.Beekeeper, logger *log.Logger) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)

	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-sigs:
			logger.Println("Received interrupt, gracefully stopping...")
			k.Submit(beekeeper.Request{Action: beekeeper.ActionTerminate, Source: "SIGINT"})
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
