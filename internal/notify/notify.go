// Package notify delivers "plan ready" and "run evaluated" messages to users
// without blocking the pipeline.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"lararun/internal/analysis"
	"lararun/internal/logger"
	"lararun/internal/store"
)

// Notifier is what the coaching pipeline calls. Implementations must not
// block on delivery.
type Notifier interface {
	NotifyPlanReady(ctx context.Context, user *store.User, rec *store.DailyRecommendation)
	NotifyActivityEvaluated(ctx context.Context, user *store.User, activity *store.Activity)
}

// Message is one outbound notification
type Message struct {
	Kind    string
	User    store.User
	Subject string
	Body    string
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

const (
	KindPlanReady         = "plan_ready"
	KindActivityEvaluated = "activity_evaluated"
)

// PlanReadyMessage renders today's recommendation.
func PlanReadyMessage(user *store.User, rec *store.DailyRecommendation) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", user.Name)
	fmt.Fprintf(&b, "%s (%s)\n\n", rec.Title, rec.Type)
	b.WriteString(rec.Description)
	if rec.Reasoning != "" {
		fmt.Fprintf(&b, "\n\nWhy: %s", rec.Reasoning)
	}
	return Message{
		Kind:    KindPlanReady,
		User:    *user,
		Subject: "Your training plan for today: " + rec.Title,
		Body:    b.String(),
	}
}

// ActivityEvaluatedMessage renders an activity summary with its evaluation.
func ActivityEvaluatedMessage(user *store.User, a *store.Activity) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s in %s (%s min/km)\n\n",
		a.Name, analysis.FormatDistance(a.Distance), analysis.FormatDuration(a.MovingTime),
		analysis.FormatPace(a.MovingTime, a.Distance))
	if a.ShortEvaluation != nil {
		b.WriteString(*a.ShortEvaluation)
	}
	return Message{
		Kind:    KindActivityEvaluated,
		User:    *user,
		Subject: "Your run is ready for review: " + a.Name,
		Body:    b.String(),
	}
}

// Dispatcher queues messages in memory and hands them to a Sender on a
// background goroutine. Messages are dropped when the buffer is full.
type Dispatcher struct {
	sender Sender
	log    *logger.Logger
	ch     chan Message

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, log *logger.Logger, buffer int) *Dispatcher {
	if buffer < 1 {
		buffer = 64
	}
	return &Dispatcher{
		sender: sender,
		log:    log.With("component", "NotificationDispatcher"),
		ch:     make(chan Message, buffer),
	}
}

// Start begins delivery. Pending messages are still delivered after ctx is
// cancelled, until Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for msg := range d.ch {
			if err := d.sender.Send(context.WithoutCancel(ctx), msg); err != nil {
				d.log.Warn("notification failed", "kind", msg.Kind, "user_id", msg.User.ID, "error", err)
				continue
			}
			d.log.Debug("notification sent", "kind", msg.Kind, "user_id", msg.User.ID)
		}
	}()
}

// Close stops accepting messages and waits for the queued ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) NotifyPlanReady(ctx context.Context, user *store.User, rec *store.DailyRecommendation) {
	d.enqueue(PlanReadyMessage(user, rec))
}

func (d *Dispatcher) NotifyActivityEvaluated(ctx context.Context, user *store.User, activity *store.Activity) {
	d.enqueue(ActivityEvaluatedMessage(user, activity))
}

func (d *Dispatcher) enqueue(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warn("dispatcher closed, dropping notification", "kind", msg.Kind, "user_id", msg.User.ID)
		return
	}
	select {
	case d.ch <- msg:
	default:
		d.log.Warn("notification buffer full, dropping", "kind", msg.Kind, "user_id", msg.User.ID)
	}
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log.With("component", "LogSender")}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.log.Info("notification", "kind", msg.Kind, "user_id", msg.User.ID, "email", msg.User.Email, "subject", msg.Subject)
	return nil
}
