package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/accountcheck/internal/analysis"
	"github.com/mbd888/accountcheck/internal/idgen"
	"github.com/mbd888/accountcheck/internal/retry"
)

// Delivery headers.
const (
	HeaderEvent     = "X-Accountcheck-Event"
	HeaderDelivery  = "X-Accountcheck-Delivery"
	HeaderTimestamp = "X-Accountcheck-Timestamp"
	HeaderSignature = "X-Accountcheck-Signature"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
	deliveryTimeout = 30 * time.Second
)

var ErrClosed = errors.New("webhooks: dispatcher closed")

var (
	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "accountcheck",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries by outcome (success, failure).",
	}, []string{"result"})

	deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "accountcheck",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Time to deliver one webhook, retries included.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(deliveriesTotal, deliveryDuration)
}

// Dispatcher delivers stored analyses to matching subscriptions. It
// implements analysis.Publisher.
type Dispatcher struct {
	store        *Store
	client       *http.Client
	logger       *slog.Logger
	urlValidator func(string) error
	attempts     int
	backoff      time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetry sets the attempts per delivery and the initial backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		d.attempts = attempts
		d.backoff = backoff
	}
}

// AllowPrivateTargets permits loopback and private network URLs. Only for
// local development and tests.
func AllowPrivateTargets() Option {
	return func(d *Dispatcher) { d.urlValidator = validateSyntax }
}

// NewDispatcher creates a dispatcher reading subscriptions from store.
func NewDispatcher(store *Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:        store,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		urlValidator: ValidateEndpointURL,
		attempts:     defaultAttempts,
		backoff:      defaultBackoff,
		now:          func() time.Time { return time.Now().UTC() },
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ValidateURL checks a subscription URL against the dispatcher's policy.
func (d *Dispatcher) ValidateURL(raw string) error {
	return d.urlValidator(raw)
}

// Name implements analysis.Publisher.
func (d *Dispatcher) Name() string { return "webhooks" }

// Publish implements analysis.Publisher. Deliveries run in the background;
// only the subscription lookup happens on the caller's goroutine.
func (d *Dispatcher) Publish(ctx context.Context, rec *analysis.Record) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	subs, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing webhooks: %w", err)
	}

	var payload []byte
	var ev *Event
	for _, sub := range subs {
		if !sub.Active || !sub.Filter.Matches(rec) {
			continue
		}
		if payload == nil {
			ev = &Event{
				ID:        idgen.WithPrefix("evt_"),
				Type:      EventAnalysisCompleted,
				Timestamp: rec.Timestamp,
				Data:      rec,
			}
			if payload, err = json.Marshal(ev); err != nil {
				return fmt.Errorf("encoding webhook event: %w", err)
			}
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(sub, ev, payload)
		}()
	}
	return nil
}

// Close cancels in-flight deliveries and waits for them to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

// Wait blocks until every started delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(sub *Subscription, ev *Event, payload []byte) {
	ctx, cancel := context.WithTimeout(d.ctx, deliveryTimeout)
	defer cancel()

	start := time.Now()
	err := retry.Do(ctx, d.attempts, d.backoff, func() error {
		return d.send(ctx, sub, ev, payload)
	})
	deliveryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		deliveriesTotal.WithLabelValues("failure").Inc()
		d.logger.Warn("webhook delivery failed",
			"webhook", sub.ID,
			"event", ev.ID,
			"username", ev.Data.Username,
			"error", err,
		)
	} else {
		deliveriesTotal.WithLabelValues("success").Inc()
		d.logger.Debug("webhook delivered", "webhook", sub.ID, "event", ev.ID)
	}

	// Bookkeeping must land even when the delivery context expired.
	bookCtx, bookCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer bookCancel()
	if uerr := d.store.recordDelivery(bookCtx, sub.ID, err, d.now()); uerr != nil {
		d.logger.Warn("failed to record webhook delivery", "webhook", sub.ID, "error", uerr)
	}
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, ev *Event, payload []byte) error {
	// Re-checked per attempt: DNS may have changed since registration.
	if err := d.urlValidator(sub.URL); err != nil {
		return retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, ev.Type)
	req.Header.Set(HeaderDelivery, ev.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ev.Timestamp.Unix(), 10))
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateEndpointURL rejects URLs that would let the server reach internal
// hosts: loopback, private, link-local and unspecified addresses, checked
// on the literal host and on every resolved address.
func ValidateEndpointURL(raw string) error {
	if err := validateSyntax(raw); err != nil {
		return err
	}
	u, _ := url.Parse(raw)
	host := u.Hostname()

	for _, blocked := range []string{"localhost", "metadata.google.internal", "metadata.google"} {
		if strings.EqualFold(host, blocked) {
			return fmt.Errorf("URL host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

func validateSyntax(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.New("URL scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("URL must have a host")
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return errors.New("loopback addresses are not allowed")
	case ip.IsPrivate():
		return errors.New("private addresses are not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return errors.New("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return errors.New("unspecified addresses are not allowed")
	}
	return nil
}
