//go:build unix

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/HexSleeves/apiary/internal/beekeeper"
)

var signalRequests = map[os.Signal]beekeeper.Request{
	syscall.SIGUSR1: {Action: beekeeper.ActionGrow, Source: "SIGUSR1"},
	syscall.SIGUSR2: {Action: beekeeper.ActionShrink, Source: "SIGUSR2"},
	syscall.SIGINT:  {Action: beekeeper.ActionTerminate, Source: "SIGINT"},
	syscall.SIGTERM: {Action: beekeeper.ActionTerminate, Source: "SIGTERM"},
}

// watchSignals turns process signals into beekeeper requests. The handler
// only enqueues; the beekeeper applies every change under the hive lock.
func watchSignals(k *beekeeper.Beekeeper, logger *log.Logger) (stop func()) {
	sigs := make(chan os.Signal, 8)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				req := signalRequests[sig]
				if req.Action == beekeeper.ActionTerminate {
					logger.Printf("Received %s, gracefully stopping...", req.Source)
				}
				k.Submit(req)
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
