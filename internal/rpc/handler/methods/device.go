// Package methods answers the device query types.
package methods

import (
	"context"
	"encoding/json"

	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/process"
	"github.com/brianly1003/pressd/internal/rpc/handler"
	"github.com/brianly1003/pressd/internal/rpc/message"
)

// DeviceController is the part of the process worker exposed to queries.
type DeviceController interface {
	Status() events.DeviceStatus
	CurrentEntryID() string
	JobPhase() (*process.JobPhase, bool)
	SetDown(comment string) error
	SetUp() error
	AbortEntry(entryID string) error
}

// QueueStatusReader reports the queue status.
type QueueStatusReader interface {
	Status() events.QueueStatus
}

// DeviceService answers device status and catalogue queries.
type DeviceService struct {
	deviceID string
	device   DeviceController
	queue    QueueStatusReader
	registry *handler.Registry
}

// NewDeviceService creates a device service. registry backs KnownMessages.
func NewDeviceService(deviceID string, device DeviceController, queue QueueStatusReader, registry *handler.Registry) *DeviceService {
	return &DeviceService{
		deviceID: deviceID,
		device:   device,
		queue:    queue,
		registry: registry,
	}
}

// RegisterMethods registers all device methods with the registry.
func (s *DeviceService) RegisterMethods(r *handler.Registry) {
	r.RegisterWithMeta("Status", s.Status, handler.MethodMeta{
		Summary:      "Device status with the running job phase",
		Subscribable: true,
	})
	r.RegisterWithMeta("KnownMessages", s.KnownMessages, handler.MethodMeta{
		Summary: "Query types this device answers",
	})
	r.RegisterWithMeta("SetDeviceDown", s.SetDown, handler.MethodMeta{
		Summary: "Take the device out of service",
	})
	r.RegisterWithMeta("SetDeviceUp", s.SetUp, handler.MethodMeta{
		Summary: "Return the device to service",
	})
}

// StatusResult for the Status query.
type StatusResult struct {
	DeviceID    string              `json:"deviceId"`
	Status      events.DeviceStatus `json:"status"`
	QueueStatus events.QueueStatus  `json:"queueStatus"`
	EntryID     string              `json:"entryId,omitempty"`
	Phase       *process.JobPhase   `json:"phase,omitempty"`
}

// Status returns the device state.
func (s *DeviceService) Status(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
	if s.device == nil {
		return nil, message.ErrInternalError("device not available")
	}
	res := StatusResult{
		DeviceID: s.deviceID,
		Status:   s.device.Status(),
		EntryID:  s.device.CurrentEntryID(),
	}
	if s.queue != nil {
		res.QueueStatus = s.queue.Status()
	}
	if phase, ok := s.device.JobPhase(); ok {
		res.Phase = phase
	}
	return res, nil
}

// KnownMessage describes one answered query type.
type KnownMessage struct {
	Type         string `json:"type"`
	Summary      string `json:"summary"`
	Subscribable bool   `json:"subscribable"`
}

// KnownMessages lists the registered query types.
func (s *DeviceService) KnownMessages(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
	methods := s.registry.Methods()
	out := make([]KnownMessage, 0, len(methods))
	for _, m := range methods {
		meta := s.registry.GetMeta(m)
		out = append(out, KnownMessage{Type: m, Summary: meta.Summary, Subscribable: meta.Subscribable})
	}
	return map[string]interface{}{"messages": out}, nil
}

type downParams struct {
	Comment string `json:"comment"`
}

// SetDown marks the device Down.
func (s *DeviceService) SetDown(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
	var p downParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, message.ErrInvalidParams("failed to parse params: " + err.Error())
		}
	}
	if err := s.device.SetDown(p.Comment); err != nil {
		return nil, message.FromDomainError(err)
	}
	return map[string]events.DeviceStatus{"status": s.device.Status()}, nil
}

// SetUp brings the device back.
func (s *DeviceService) SetUp(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
	if err := s.device.SetUp(); err != nil {
		return nil, message.FromDomainError(err)
	}
	return map[string]events.DeviceStatus{"status": s.device.Status()}, nil
}
