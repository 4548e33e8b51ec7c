// Package workers runs background delivery of guardian alerts.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-analysis/metrics"
	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/queue"
)

// AlertSink delivers an alert to one destination.
type AlertSink interface {
	Name() string
	Send(ctx context.Context, alert model.GuardianAlert) error
}

type funcSink struct {
	name string
	send func(ctx context.Context, alert model.GuardianAlert) error
}

func (s funcSink) Name() string { return s.name }

func (s funcSink) Send(ctx context.Context, alert model.GuardianAlert) error {
	return s.send(ctx, alert)
}

// SinkFunc adapts a function to an AlertSink.
func SinkFunc(name string, send func(ctx context.Context, alert model.GuardianAlert) error) AlertSink {
	return funcSink{name: name, send: send}
}

// AlertWorkerConfig tunes delivery.
type AlertWorkerConfig struct {
	Buffer        int
	RetryInterval time.Duration
	MaxAttempts   int
	SendTimeout   time.Duration
}

func DefaultAlertWorkerConfig() AlertWorkerConfig {
	return AlertWorkerConfig{
		Buffer:        64,
		RetryInterval: 30 * time.Second,
		MaxAttempts:   5,
		SendTimeout:   10 * time.Second,
	}
}

// pending is a delivery to one sink that still has to succeed.
type pending struct {
	alert    model.GuardianAlert
	sink     AlertSink
	attempts int
}

// AlertWorker fans each alert out to every sink. Failed deliveries are kept
// in a backlog and retried on every tick until MaxAttempts.
type AlertWorker struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     AlertWorkerConfig
	input   chan model.GuardianAlert
	sinks   []AlertSink
	backlog *queue.Queue[pending]
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewAlertWorker(cfg AlertWorkerConfig, sinks []AlertSink, logger *zap.SugaredLogger, m *metrics.Metrics) (*AlertWorker, error) {
	if len(sinks) == 0 {
		return nil, fmt.Errorf("at least one alert sink is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	def := DefaultAlertWorkerConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AlertWorker{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		input:   make(chan model.GuardianAlert, cfg.Buffer),
		sinks:   sinks,
		backlog: queue.New[pending](),
		logger:  logger,
		metrics: m,
	}, nil
}

// Notify hands an alert to the worker without blocking on delivery. When the
// buffer is full the alert goes straight to the backlog.
func (aw *AlertWorker) Notify(ctx context.Context, alert model.GuardianAlert) error {
	select {
	case <-aw.ctx.Done():
		return fmt.Errorf("alert worker stopped")
	default:
	}
	select {
	case aw.input <- alert:
	default:
		for _, sink := range aw.sinks {
			aw.backlog.Enqueue(pending{alert: alert, sink: sink})
		}
		aw.logger.Warnw("alert buffer full, deferring delivery", "alertID", alert.ID)
	}
	return nil
}

// Pending returns the number of deliveries waiting for a retry.
func (aw *AlertWorker) Pending() int {
	return aw.backlog.Len()
}

func (aw *AlertWorker) Start() {
	aw.wg.Add(1)
	go func() {
		defer aw.wg.Done()
		ticker := time.NewTicker(aw.cfg.RetryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-aw.ctx.Done():
				aw.flush()
				return
			case alert := <-aw.input:
				for _, sink := range aw.sinks {
					aw.deliver(pending{alert: alert, sink: sink})
				}
			case <-ticker.C:
				aw.retryBacklog()
			}
		}
	}()
}

// Stop cancels the worker and waits until buffered and backlogged alerts got
// one more attempt.
func (aw *AlertWorker) Stop() {
	aw.cancel()
	aw.wg.Wait()
}

func (aw *AlertWorker) retryBacklog() {
	for _, p := range aw.backlog.Drain(0) {
		aw.deliver(p)
	}
}

// flush gives alerts still in the buffer and the backlog one delivery attempt
// on shutdown.
func (aw *AlertWorker) flush() {
buffered:
	for {
		select {
		case alert := <-aw.input:
			for _, sink := range aw.sinks {
				aw.deliver(pending{alert: alert, sink: sink})
			}
		default:
			break buffered
		}
	}

	// failed deliveries are enqueued again, so only walk what is there now
	for n := aw.backlog.Len(); n > 0; n-- {
		p, ok := aw.backlog.Dequeue()
		if !ok {
			break
		}
		aw.deliver(p)
	}
	if !aw.backlog.IsEmpty() {
		aw.logger.Warnw("dropping undelivered guardian alerts on shutdown", "pending", aw.backlog.Len())
	}
}

func (aw *AlertWorker) deliver(p pending) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(aw.ctx), aw.cfg.SendTimeout)
	defer cancel()

	p.attempts++
	err := p.sink.Send(ctx, p.alert)
	aw.metrics.ObserveAlert(p.sink.Name(), err)
	if err == nil {
		aw.logger.Infow("guardian alert delivered", "alertID", p.alert.ID, "sink", p.sink.Name(), "attempts", p.attempts)
		return
	}

	if p.attempts >= aw.cfg.MaxAttempts {
		aw.logger.Errorw("giving up on guardian alert", "alertID", p.alert.ID, "sink", p.sink.Name(), "attempts", p.attempts, "error", err)
		return
	}
	aw.logger.Warnw("guardian alert delivery failed, will retry", "alertID", p.alert.ID, "sink", p.sink.Name(), "attempts", p.attempts, "error", err)
	aw.backlog.Enqueue(p)
}
