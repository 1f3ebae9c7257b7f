// Package bazaarcron runs a task on a schedule, either on a ticker in console
// mode or once per scheduled Lambda invocation.
package bazaarcron

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/rs/zerolog"
)

// ErrBusy is returned when a run is requested while the previous one is still going.
var ErrBusy = errors.New("previous run still in progress")

type RunCallback func(ctx context.Context) error

type Handler struct {
	service  bazaarcli.Service
	logger   zerolog.Logger
	interval time.Duration

	runOnce RunCallback
	running atomic.Bool
}

func NewHandler(
	service bazaarcli.Service,
	interval time.Duration,
	runOnce RunCallback,
) *Handler {
	return &Handler{
		service:  service,
		logger:   bazaarcli.Logger(service).With().Str("component", "cron").Logger(),
		interval: interval,
		runOnce:  runOnce,
	}
}

// WithLogger replaces the handler's logger.
func (h *Handler) WithLogger(logger zerolog.Logger) *Handler {
	h.logger = logger
	return h
}

// Tick runs the callback unless a previous run has not finished.
func (h *Handler) Tick(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		h.logger.Warn().Msg("skipping scheduled run, previous run still in progress")
		return ErrBusy
	}
	defer h.running.Store(false)

	start := time.Now()
	err := h.runOnce(ctx)
	logger := h.logger.With().Dur("elapsed", time.Since(start)).Logger()
	if err != nil {
		logger.Error().Err(err).Msg("scheduled run failed")
		return err
	}
	logger.Debug().Msg("scheduled run complete")
	return nil
}

// RunOnce is the Lambda entry point for scheduled invocations.
func (h *Handler) RunOnce(ctx context.Context, _ json.RawMessage) error {
	h.logger.Info().Msg("running scheduled task")
	return h.Tick(ctx)
}

// Run ticks every interval until ctx is cancelled. Failed runs are logged and
// do not stop the schedule.
func (h *Handler) Run(ctx context.Context) error {
	if h.interval <= 0 {
		return h.Tick(ctx)
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = h.Tick(ctx)
		}
	}
}

func (h *Handler) Start(ctx context.Context) error {
	switch {
	case bazaarcli.CommonOpts.Console:
		return h.Run(ctx)

	default:
		lambda.Start(h.RunOnce)
	}
	return nil
}
