package main

import (
	"context"

	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
)

// cloudWatchObserver counts evictions and authentication failures.
type cloudWatchObserver struct {
	ctx     context.Context
	metrics bazaarcli.Metrics
}

func (o *cloudWatchObserver) Registered(registry.Connection) {}

func (o *cloudWatchObserver) Deregistered(_ registry.Connection, reason registry.Reason) {
	if reason != registry.ReasonQuota {
		return
	}
	o.metrics.Event(o.ctx, bazaarcli.EvictedConnectionMetric)
}

func (o *cloudWatchObserver) AuthFailed(_ string, err error) {
	o.metrics.Event(o.ctx, bazaarcli.AuthFailureMetric, map[bazaarcli.DimensionName]string{
		bazaarcli.ReasonDimension: registry.FailureReason(err),
	})
}
