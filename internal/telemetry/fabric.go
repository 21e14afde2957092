package telemetry

import (
	"context"
	"io"
)

// LogOpener opens a fresh engine log byte stream for a container name. Each
// subscriber gets its own call (one live engine stream per subscriber).
type LogOpener func(ctx context.Context, name string) (io.ReadCloser, bool, error)

// StatsOpener opens a fresh engine stats byte stream for a container name.
type StatsOpener func(ctx context.Context, name string) (io.ReadCloser, error)

// SubscribeLogs returns a cold, per-subscriber producer of normalized log
// lines for the named container. Cancelling ctx closes the underlying
// engine socket and terminates the producer within one record.
func SubscribeLogs(ctx context.Context, open LogOpener, name string) <-chan LogLine {
	out := make(chan LogLine)
	go func() {
		defer close(out)
		rc, hasTTY, err := open(ctx, name)
		if err != nil {
			select {
			case out <- LogLine{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		defer rc.Close()

		go func() {
			<-ctx.Done()
			_ = rc.Close()
		}()

		for line := range StreamLogs(ctx, rc, hasTTY) {
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SubscribeStats returns a cold, per-subscriber producer of normalized
// stats samples for the named container.
func SubscribeStats(ctx context.Context, open StatsOpener, name string) <-chan Stats {
	out := make(chan Stats)
	go func() {
		defer close(out)
		rc, err := open(ctx, name)
		if err != nil {
			select {
			case out <- Stats{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		defer rc.Close()

		go func() {
			<-ctx.Done()
			_ = rc.Close()
		}()

		for sample := range StreamStats(ctx, rc) {
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// NamedStats tags a Stats sample with the infrastructure service that
// produced it, for the aggregate multiplexed /services/stats endpoint.
type NamedStats struct {
	Service string `json:"service"`
	Stats
}

// SubscribeNamedStats fans in SubscribeStats across multiple named
// services into one channel, tagging each record with its origin. The
// channel closes only when ctx is done (every per-service producer selects
// on ctx independently, not on each other — "close on client disconnect").
func SubscribeNamedStats(ctx context.Context, open StatsOpener, services []string) <-chan NamedStats {
	out := make(chan NamedStats)
	go func() {
		defer close(out)
		done := make(chan struct{})
		active := len(services)
		if active == 0 {
			<-ctx.Done()
			return
		}
		for _, svc := range services {
			svc := svc
			go func() {
				defer func() { done <- struct{}{} }()
				for sample := range SubscribeStats(ctx, open, svc) {
					select {
					case out <- NamedStats{Service: svc, Stats: sample}:
					case <-ctx.Done():
						return
					}
				}
			}()
		}
		<-ctx.Done()
		for i := 0; i < active; i++ {
			<-done
		}
	}()
	return out
}
