package config

import (
	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/subscription"
	"github.com/samber/lo"
)

// DefaultEventMap is the engine's default event map keyed by event name.
// Users can override it via config.yaml: subscription.event_map
var DefaultEventMap = lo.MapKeys(subscription.DefaultEventMap(),
	func(_ string, kind events.EventType) string { return string(kind) })

// DefaultHotfolderExtensions are the ticket files picked up by the hot folder.
var DefaultHotfolderExtensions = []string{".yaml", ".yml", ".json"}

// ValidLogLevels are the accepted logging.level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// ValidLogFormats are the accepted logging.format values.
var ValidLogFormats = []string{"console", "json"}
