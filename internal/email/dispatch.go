package email

import (
	"context"
	"dailybrief/internal/core"
	"dailybrief/internal/logger"
	"fmt"
	"time"
)

// Dispatcher is the dispatch stage: it renders a digest document and hands
// it to the email capability, retrying once on transient transport failure.
type Dispatcher struct {
	sender     Sender
	template   *Template
	retryDelay time.Duration
}

// NewDispatcher wraps the sender. A nil template uses the default.
func NewDispatcher(sender Sender, template *Template) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		template:   template,
		retryDelay: 2 * time.Second,
	}
}

// Dispatch sends the document to the given address. One retry is made on
// failure; a second failure is returned as the permanent dispatch outcome
// for the run.
func (d *Dispatcher) Dispatch(ctx context.Context, to string, doc core.DigestDocument) error {
	subject, err := Subject(doc, d.template)
	if err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	body, err := RenderHTML(doc, d.template)
	if err != nil {
		return fmt.Errorf("render digest email: %w", err)
	}

	if err := d.sender.Send(ctx, to, subject, body); err != nil {
		logger.Warn("dispatch failed, retrying once", "to", to, "error", err.Error())

		timer := time.NewTimer(d.retryDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := d.sender.Send(ctx, to, subject, body); err != nil {
			return fmt.Errorf("dispatch to %s failed after retry: %w", to, err)
		}
	}

	logger.Info("digest delivered", "to", to, "sections", len(doc.Sections))
	return nil
}
