package usecase

import (
	"context"
	"time"

	"FinSight/internal/domain/models"
	"FinSight/internal/domain/repository"
	cachesvc "FinSight/internal/service/cache"
	"FinSight/pkg/logger"
)

// PriceWarmer keeps the price cache fresh for tracked symbols by
// consuming the live market stream. Every streamed tick becomes a cache
// write, so analyses for tracked symbols rarely pay for a REST fetch.
type PriceWarmer struct {
	stream  repository.MarketStream
	cache   *cachesvc.Manager
	metrics repository.Metrics
	log     *logger.Logger

	symbols        []string
	reconnectDelay time.Duration
}

// NewPriceWarmer creates a price cache warmer.
func NewPriceWarmer(stream repository.MarketStream, cache *cachesvc.Manager, metrics repository.Metrics, log *logger.Logger, symbols []string) *PriceWarmer {
	return &PriceWarmer{
		stream:         stream,
		cache:          cache,
		metrics:        metrics,
		log:            log,
		symbols:        symbols,
		reconnectDelay: 5 * time.Second,
	}
}

// Start connects, subscribes and consumes until the context ends. The
// stream is reconnected with a fixed delay on read errors; warming is
// best-effort and never fails the application.
func (w *PriceWarmer) Start(ctx context.Context) error {
	if len(w.symbols) == 0 {
		w.log.Info("price warmer disabled, no symbols configured")
		return nil
	}

	if err := w.stream.Connect(ctx); err != nil {
		return err
	}
	if err := w.stream.Subscribe(ctx, w.symbols); err != nil {
		return err
	}
	w.log.Info("price warmer started", logger.Strings("symbols", w.symbols))

	for {
		quotes, errs := w.stream.Read(ctx)

	consume:
		for {
			select {
			case <-ctx.Done():
				return w.stream.Close()
			case q, ok := <-quotes:
				if !ok {
					break consume
				}
				w.store(ctx, q)
			case err, ok := <-errs:
				if !ok {
					break consume
				}
				w.log.Warn("market stream error", logger.Error(err))
				w.metrics.RecordError("stream_read")
				break consume
			}
		}

		select {
		case <-ctx.Done():
			return w.stream.Close()
		case <-time.After(w.reconnectDelay):
		}
		if err := w.stream.Reconnect(ctx); err != nil {
			w.log.Warn("market stream reconnect failed", logger.Error(err))
			w.metrics.RecordError("stream_reconnect")
		}
	}
}

// Shutdown closes the stream.
func (w *PriceWarmer) Shutdown(ctx context.Context) error {
	return w.stream.Close()
}

func (w *PriceWarmer) store(ctx context.Context, q *models.Quote) {
	key := w.cache.Key(models.DataTypePrice, q.Symbol, "")
	ttl := w.cache.Policy().TTL(models.DataTypePrice)
	if err := w.cache.Set(ctx, key, q, ttl); err != nil {
		w.log.Debug("warm write failed", logger.String("symbol", q.Symbol), logger.Error(err))
		return
	}
	w.metrics.RecordLastPrice(q.Symbol, q.Price)
}
