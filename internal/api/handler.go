// Package api serves the read-mostly status API of the punch daemon.
package api

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"

	"attendance-punch/config"
	"attendance-punch/internal/scheduler"
	"attendance-punch/internal/store"
)

// Scheduler is the part of the scheduling loop the API exposes.
type Scheduler interface {
	Status(ctx context.Context) scheduler.Status
	RequestReload(cfg *config.Config)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	scheduler  Scheduler
	history    store.PunchLog
	subs       store.SubscriptionStore
	webpush    *webpush.Options
	loadConfig func() *config.Config
}

// NewHandler creates a new API handler. loadConfig, when set, supplies the
// configuration a reload request applies.
func NewHandler(sched Scheduler, s store.Store, webpushOptions *webpush.Options, loadConfig func() *config.Config) *Handler {
	h := &Handler{
		scheduler:  sched,
		webpush:    webpushOptions,
		loadConfig: loadConfig,
	}
	if s != nil {
		h.history = s
		h.subs = s
	}
	return h
}
