// Package services holds transport decorators that add side effects to
// confirmed writes.
package services

import (
	"context"
	"fmt"

	"bollette/internal/core"
	"bollette/internal/gateway"
	"bollette/internal/log"
	"bollette/internal/notify"
)

const billsTable = "bills"

// ChangePublisher wraps a Transport and announces every confirmed write on
// the push channel of the current user. Reads pass straight through.
type ChangePublisher struct {
	gateway.Transport
	publisher notify.Publisher
	sessions  gateway.SessionSource
	logger    *log.Logger
}

func NewChangePublisher(t gateway.Transport, p notify.Publisher, s gateway.SessionSource, logger *log.Logger) *ChangePublisher {
	if logger == nil {
		logger = log.Discard()
	}
	return &ChangePublisher{
		Transport: t,
		publisher: p,
		sessions:  s,
		logger:    logger.WithComponent(log.ComponentBackend),
	}
}

// Insert saves the bill and publishes an insert event.
func (c *ChangePublisher) Insert(ctx context.Context, in core.BillInput) (core.Bill, error) {
	b, err := c.Transport.Insert(ctx, in)
	if err != nil {
		return core.Bill{}, err
	}
	c.publish(ctx, notify.EventInsert)
	return b, nil
}

func (c *ChangePublisher) Update(ctx context.Context, id string, patch core.BillPatch) (core.Bill, error) {
	b, err := c.Transport.Update(ctx, id, patch)
	if err != nil {
		return core.Bill{}, err
	}
	c.publish(ctx, notify.EventUpdate)
	return b, nil
}

func (c *ChangePublisher) Delete(ctx context.Context, id string) error {
	if err := c.Transport.Delete(ctx, id); err != nil {
		return err
	}
	c.publish(ctx, notify.EventDelete)
	return nil
}

// publish never fails the write; the row is already stored.
func (c *ChangePublisher) publish(ctx context.Context, kind notify.EventKind) {
	if c.publisher == nil {
		c.logger.WarnContext(ctx, "Change publisher not available, skipping event")
		return
	}
	scope, err := c.scope(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "No session scope, skipping change event", log.FieldError, err)
		return
	}
	if err := c.publisher.Publish(ctx, scope, notify.NewChangeEvent(kind, billsTable)); err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish change event",
			log.FieldScope, scope, log.FieldEventKind, string(kind), log.FieldError, err)
	}
}

func (c *ChangePublisher) scope(ctx context.Context) (string, error) {
	if c.sessions == nil {
		return "", fmt.Errorf("no session source")
	}
	s, err := c.sessions.Current(ctx)
	if err != nil {
		return "", err
	}
	if s == nil || s.UserID == "" {
		return "", fmt.Errorf("anonymous session")
	}
	return s.UserID, nil
}
