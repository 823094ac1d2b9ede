package mailer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
)

const (
	defaultSendTimeout = 45 * time.Second
	defaultWorkers     = 4
	defaultQueueSize   = 256
)

var ErrNotifierClosed = errors.New("notifier closed")

// Message is a templated email waiting for delivery.
type Message struct {
	To       string
	Subject  string
	Template string
	Data     any
}

// Notifier accepts messages for delivery without waiting for it.
type Notifier interface {
	Enqueue(msg Message)
}

// DefaultBackoff allows three attempts in total, waiting 2s and then 4s,
// with no single wait above 10s.
func DefaultBackoff() retry.Backoff {
	b := retry.NewExponential(2 * time.Second)
	b = retry.WithCappedDuration(10*time.Second, b)
	return retry.WithMaxRetries(2, b)
}

type NotifierOption func(*AsyncNotifier)

func WithBackoff(f func() retry.Backoff) NotifierOption {
	return func(n *AsyncNotifier) { n.backoff = f }
}

func WithSendTimeout(d time.Duration) NotifierOption {
	return func(n *AsyncNotifier) { n.timeout = d }
}

func WithWorkers(workers, queueSize int) NotifierOption {
	return func(n *AsyncNotifier) {
		n.workers = workers
		n.queueSize = queueSize
	}
}

// WithSendRate paces SMTP attempts across all workers to perSecond, with
// bursts of one. Zero or less leaves sends unpaced. A send that cannot get
// a slot before its timeout fails without retry.
func WithSendRate(perSecond float64) NotifierOption {
	return func(n *AsyncNotifier) {
		if perSecond <= 0 {
			n.pace = nil
			return
		}
		n.pace = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// AsyncNotifier renders and sends messages on a small worker pool. Failed
// deliveries are logged and dropped; transient ones are retried first.
type AsyncNotifier struct {
	mailer    Mailer
	log       logging.Logger
	backoff   func() retry.Backoff
	timeout   time.Duration
	pace      *rate.Limiter
	workers   int
	queueSize int

	mu     sync.Mutex
	closed bool
	queue  chan Message
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewAsyncNotifier(m Mailer, log logging.Logger, opts ...NotifierOption) *AsyncNotifier {
	n := &AsyncNotifier{
		mailer:    m,
		log:       log,
		backoff:   DefaultBackoff,
		timeout:   defaultSendTimeout,
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(n)
	}

	n.queue = make(chan Message, n.queueSize)
	n.ctx, n.cancel = context.WithCancel(context.Background())
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.work()
	}
	return n
}

// Enqueue never blocks. A full queue or a closed notifier drops the message
// with an error log.
func (n *AsyncNotifier) Enqueue(msg Message) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		n.log.Error(context.Background(), "email dropped", "to", msg.To, "template", msg.Template, "err", ErrNotifierClosed)
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.log.Error(context.Background(), "email dropped, queue full", "to", msg.To, "template", msg.Template)
	}
}

// Close stops accepting messages and waits for queued ones. If ctx ends
// first, in-flight sends are canceled and ctx.Err() is returned.
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}

func (n *AsyncNotifier) work() {
	defer n.wg.Done()
	for msg := range n.queue {
		n.deliver(msg)
	}
}

func (n *AsyncNotifier) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(n.ctx, n.timeout)
	defer cancel()

	log := n.log.With("to", msg.To, "template", msg.Template)

	html, err := n.mailer.RenderTemplate(msg.Template, msg.Data)
	if err != nil {
		log.Error(ctx, "email render failed", "err", err)
		return
	}

	attempt := 0
	err = retry.Do(ctx, n.backoff(), func(ctx context.Context) error {
		if n.pace != nil {
			if err := n.pace.Wait(ctx); err != nil {
				return err
			}
		}
		attempt++
		err := n.mailer.SendEmail(ctx, msg.To, msg.Subject, html)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			log.Warn(ctx, "email send failed, will retry", "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		log.Error(ctx, "email delivery failed", "attempts", attempt, "err", err)
		return
	}
	log.Info(ctx, "email sent", "attempts", attempt)
}

// IsTransient reports whether a send error is worth retrying: network
// failures and SMTP 4xx replies.
func IsTransient(err error) bool {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	return errors.As(err, &ne)
}
