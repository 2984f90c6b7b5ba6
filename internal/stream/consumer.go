package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler processes one consumed message value. Returning an error leaves
// the offset uncommitted so the message is redelivered.
type Handler func(ctx context.Context, value []byte) error

// Consumer reads raw transactions from the tx topic and feeds the handler.
type Consumer struct {
	reader  *kafka.Reader
	handler Handler

	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	consumed atomic.Uint64
	errors   atomic.Uint64
}

// NewConsumer creates a transaction consumer.
func NewConsumer(cfg Config, handler Handler) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("stream: handler is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		reader:  kafka.NewReader(cfg.readerConfig()),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins consuming in a goroutine.
func (c *Consumer) Start() error {
	if c.started.Swap(true) {
		return errors.New("stream: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumeLoop(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("transaction consumer exited", "error", err)
		}
	}()
	slog.Info("transaction consumer started")
	return nil
}

func (c *Consumer) consumeLoop() error {
	for {
		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.errors.Add(1)
			slog.Error("fetch message failed", "error", err)
			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		handleCtx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		err = c.handler(handleCtx, msg.Value)
		cancel()
		if err != nil {
			c.errors.Add(1)
			slog.Error("message handling failed", "offset", msg.Offset, "error", err)
			continue
		}

		if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
			slog.Error("offset commit failed", "offset", msg.Offset, "error", err)
		}
		c.consumed.Add(1)
	}
}

// Stats returns consumer counters.
func (c *Consumer) Stats() (consumed, errs uint64) {
	return c.consumed.Load(), c.errors.Load()
}

// Stop cancels consumption and closes the reader.
func (c *Consumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("stream: close reader: %w", err)
	}
	return nil
}
