// Package notify pushes execution alerts to operator chat channels. Alerts are
// fanned out to every registered Sender and filtered by execution status so
// operators can follow only reverts, for example.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// Alert is one rendered notification.
type Alert struct {
	Title  string
	Body   string
	Status domain.ExecStatus
	Fields []Field
}

// Field is a short name/value pair shown under the alert body.
type Field struct {
	Name  string
	Value string
}

// Sender delivers alerts to one channel.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Notifier turns executions into alerts for its senders.
type Notifier struct {
	senders []Sender
	events  map[domain.ExecStatus]bool
	assets  domain.AssetBook
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. events lists the execution statuses that
// trigger an alert ("succeeded", "reverted", "rejected"); empty means all.
func NewNotifier(senders []Sender, events []string, assets domain.AssetBook, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.ExecStatus]bool, len(events))
	for _, e := range events {
		allowed[domain.ExecStatus(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		assets:  assets,
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// RecordExecution alerts on exec in the background if its status is
// enabled. Sender failures are logged and never reach the executor.
func (n *Notifier) RecordExecution(ctx context.Context, exec domain.Execution) {
	if !n.wants(exec.Status) {
		return
	}
	alert := n.Render(exec)
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		if err := n.Dispatch(ctx, alert); err != nil {
			n.logger.WarnContext(ctx, "execution alert failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Close waits for in-flight alerts.
func (n *Notifier) Close() {
	n.wg.Wait()
}

func (n *Notifier) wants(status domain.ExecStatus) bool {
	return len(n.events) == 0 || n.events[status]
}

// Render formats exec as an alert.
func (n *Notifier) Render(exec domain.Execution) Alert {
	a := Alert{
		Title:  fmt.Sprintf("%s %s", exec.Strategy, exec.Status),
		Status: exec.Status,
		Fields: []Field{
			{Name: "funding", Value: string(exec.Funding)},
			{Name: "legs", Value: fmt.Sprint(len(exec.Legs))},
		},
	}
	symbol := n.assets.Symbol(exec.Asset)
	switch exec.Status {
	case domain.ExecSucceeded:
		a.Body = fmt.Sprintf("profit %s %s, paid %s %s to %s",
			n.assets.Format(exec.Asset, exec.Profit), symbol,
			n.assets.Format(exec.Asset, exec.Payout), symbol,
			exec.Beneficiary.Hex())
		if exec.Premium != nil && exec.Premium.Sign() > 0 {
			a.Fields = append(a.Fields, Field{Name: "premium", Value: n.assets.Format(exec.Asset, exec.Premium) + " " + symbol})
		}
	default:
		a.Body = fmt.Sprintf("%s in %s: %s", exec.ErrorKind, exec.Component, exec.Error)
	}
	if exec.RequestID != "" {
		a.Fields = append(a.Fields, Field{Name: "request", Value: exec.RequestID})
	}
	return a
}

// Dispatch sends alert to every sender. One failing sender does not stop
// delivery to the rest.
func (n *Notifier) Dispatch(ctx context.Context, alert Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", alert.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
