package server

import (
	"context"

	"github.com/toolbridge/toolbridge/engine/adapter"
	"github.com/toolbridge/toolbridge/engine/contextmap"
	"github.com/toolbridge/toolbridge/engine/dispatcher"
	"github.com/toolbridge/toolbridge/engine/errorlog"
	"github.com/toolbridge/toolbridge/engine/integration"
	"github.com/toolbridge/toolbridge/engine/scheduler"
	"github.com/toolbridge/toolbridge/engine/webhook"
	"github.com/toolbridge/toolbridge/pkg/config"
)

// HealthCheck is one named dependency probe surfaced by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps carries the assembled engine components the HTTP layer exposes.
type Deps struct {
	Config        *config.Config
	Registry      *adapter.Registry
	Dispatcher    *dispatcher.Engine
	Integrations  *integration.Manager
	Errors        *errorlog.Handler
	Mappings      *contextmap.Mapper
	Scheduler     *scheduler.Scheduler
	Webhooks      *webhook.Service
	Subscriptions *webhook.Subscriptions
	Health        []HealthCheck
}
