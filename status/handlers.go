package status

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
)

// handler maps one validated message body into gauge writes
type handler func(payload []byte) error

func (r *Router) handlerTable() map[Category]handler {
	return map[Category]handler{
		CategoryAlerter:      r.componentHandler(CategoryAlerter, "alerter"),
		CategoryArchive:      r.componentHandler(CategoryArchive, "archive"),
		CategoryDispatcher:   r.componentHandler(CategoryDispatcher, "dispatcher"),
		CategoryExpiry:       r.componentHandler(CategoryExpiry, "expiry"),
		CategoryIngester:     r.handleIngester,
		CategoryScaler:       r.componentHandler(CategoryScaler, "scaler"),
		CategoryScalerStatus: r.handleScalerStatus,
		CategoryService:      r.handleService,
	}
}

// componentHandler touches the heartbeat and records the instance count
func (r *Router) componentHandler(category Category, component string) handler {
	return func(payload []byte) error {
		var msg ComponentHeartbeat
		if err := decode(category, payload, &msg); err != nil {
			return err
		}
		r.gauges.Heartbeat.Touch(component)
		r.gauges.ComponentInstances.Set(msg.Instances, component)
		return nil
	}
}

func (r *Router) handleIngester(payload []byte) error {
	var msg IngestHeartbeat
	if err := decode(CategoryIngester, payload, &msg); err != nil {
		return err
	}

	g := r.gauges
	g.Heartbeat.Touch("ingester")
	g.ComponentInstances.Set(msg.Instances, "ingester")

	g.BytesCompleted.Set(msg.Metrics.BytesCompleted)
	g.BytesIngested.Set(msg.Metrics.BytesIngested)
	g.FilesCompleted.Set(msg.Metrics.FilesCompleted)
	g.SubmissionsCompleted.Set(msg.Metrics.SubmissionsCompleted)
	g.SubmissionsIngested.Set(msg.Metrics.SubmissionsIngested)

	for name, depth := range msg.Queues {
		g.IngesterQueues.Set(depth, name)
	}
	return nil
}

// handleScalerStatus reports the scaler's per-service view. The heartbeat is
// attributed to the scaler itself.
func (r *Router) handleScalerStatus(payload []byte) error {
	var msg ScalerStatusHeartbeat
	if err := decode(CategoryScalerStatus, payload, &msg); err != nil {
		return err
	}

	g := r.gauges
	service := strings.ToLower(msg.ServiceName)
	m := msg.Metrics

	g.Heartbeat.Touch("scaler")
	g.ServiceInstancesRunning.Set(m.Running, service)
	g.ServiceInstancesTarget.Set(m.Target, service)
	g.ServiceInstancesMinimum.Set(m.Minimum, service)
	g.ServiceInstancesMaximum.Set(m.Maximum, service)
	g.ServiceInstancesDynamicMaximum.Set(m.DynamicMaximum, service)
	g.ServiceQueue.Set(m.Queue, service)
	g.ServicePressure.Set(m.Pressure, service)
	g.ServiceDutyCycle.Set(m.DutyCycle, service)
	return nil
}

// handleService records service activity. Service messages carry no
// heartbeat.
func (r *Router) handleService(payload []byte) error {
	var msg ServiceHeartbeat
	if err := decode(CategoryService, payload, &msg); err != nil {
		return err
	}

	g := r.gauges
	service := strings.ToLower(msg.ServiceName)

	instancesLabel := serviceInstancesLabel
	if r.compat.CorrectServiceInstances {
		instancesLabel = service
	}
	g.ComponentInstances.Set(msg.Instances, instancesLabel)

	g.ServiceBusy.Set(msg.Activity.Busy, service)
	g.ServiceIdle.Set(msg.Activity.Idle, service)
	g.ServiceQueue.Set(msg.Queue, service)
	g.ServiceFailures.Set(msg.Metrics.FailRecoverable, service, failureRecoverable)
	g.ServiceFailures.Set(msg.Metrics.FailNonrecoverable, service, failureNonrecoverable)
	g.ServiceProcessed.Set(msg.Metrics.Execute, service)
	return nil
}

// decode fills v from a body that already passed its schema. What can still
// fail is a value Go cannot hold, such as a number beyond float64 range.
func decode(category Category, payload []byte, v any) error {
	err := json.Unmarshal(payload, v)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &MessageError{
			Category: category,
			Field:    typeErr.Field,
			Reason:   fmt.Sprintf("cannot hold %s as %s", typeErr.Value, typeErr.Type),
			Err:      errors.ErrInvalidData,
		}
	}
	return &MessageError{
		Category: category,
		Reason:   "decode: " + err.Error(),
		Err:      errors.ErrParsingFailed,
	}
}
