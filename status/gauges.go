package status

import (
	"github.com/kryptoslogic/assemblyline-exporter/metric"
)

// Label values that are fixed strings rather than message content
const (
	failureRecoverable    = "recoverable"
	failureNonrecoverable = "nonrecoverable"

	// serviceInstancesLabel is where service messages have always reported
	// their instance count.
	serviceInstancesLabel = "alerter"
)

// Compat selects between the historical metric layout and its corrected form.
// The zero value reproduces the historical layout exactly.
type Compat struct {
	// CorrectServiceInstances writes service instance counts under the
	// service's own name instead of component="alerter".
	CorrectServiceInstances bool `json:"correct_service_instances" yaml:"correct_service_instances"`

	// CorrectByteGauges stores bytes_completed in assemblyline_bytes_completed
	// and bytes_ingested in assemblyline_bytes_ingested. Historically the two
	// are crossed.
	CorrectByteGauges bool `json:"correct_byte_gauges" yaml:"correct_byte_gauges"`
}

// Gauges holds every Assemblyline gauge the router writes
type Gauges struct {
	Heartbeat          *metric.Gauge
	ComponentInstances *metric.Gauge
	IngesterQueues     *metric.Gauge

	// Destinations for the ingester's bytes_completed and bytes_ingested
	// fields. Which metric name each points at depends on Compat.
	BytesCompleted       *metric.Gauge
	BytesIngested        *metric.Gauge
	FilesCompleted       *metric.Gauge
	SubmissionsCompleted *metric.Gauge
	SubmissionsIngested  *metric.Gauge

	ServiceInstancesRunning        *metric.Gauge
	ServiceInstancesTarget         *metric.Gauge
	ServiceInstancesMinimum        *metric.Gauge
	ServiceInstancesMaximum        *metric.Gauge
	ServiceInstancesDynamicMaximum *metric.Gauge
	ServiceQueue                   *metric.Gauge
	ServicePressure                *metric.Gauge
	ServiceDutyCycle               *metric.Gauge
	ServiceBusy                    *metric.Gauge
	ServiceIdle                    *metric.Gauge
	ServiceFailures                *metric.Gauge
	ServiceProcessed               *metric.Gauge
}

type gaugeDef struct {
	dest   **metric.Gauge
	name   string
	help   string
	labels []string
}

// NewGauges defines the Assemblyline gauges on registry
func NewGauges(registry *metric.MetricsRegistry, compat Compat) (*Gauges, error) {
	g := &Gauges{}

	// bytes_completed historically lands in a gauge named "ingested" whose
	// help says "completed", and vice versa.
	completedName, ingestedName := "assemblyline_bytes_ingested", "assemblyline_bytes_completed"
	completedHelp, ingestedHelp := "Bytes completed", "Bytes ingested"
	if compat.CorrectByteGauges {
		completedName, ingestedName = ingestedName, completedName
	}

	defs := []gaugeDef{
		{&g.Heartbeat, "assemblyline_last_heartbeat", "Last heartbeat", []string{"component"}},
		{&g.ComponentInstances, "assemblyline_component_instances", "Number of instances", []string{"component"}},
		{&g.IngesterQueues, "assemblyline_ingester_queues", "Size of ingester queues", []string{"name"}},

		{&g.BytesCompleted, completedName, completedHelp, nil},
		{&g.BytesIngested, ingestedName, ingestedHelp, nil},
		{&g.FilesCompleted, "assemblyline_files_completed", "Files finished analyzing", nil},
		{&g.SubmissionsCompleted, "assemblyline_submissions_completed", "Submissions completed", nil},
		{&g.SubmissionsIngested, "assemblyline_submissions_ingested", "Submissions ingested", nil},

		{&g.ServiceInstancesRunning, "assemblyline_service_instances_running", "Number of running instances", []string{"service"}},
		{&g.ServiceInstancesTarget, "assemblyline_service_instances_target", "Target number of running instances", []string{"service"}},
		{&g.ServiceInstancesMinimum, "assemblyline_service_instances_minimum", "Minimum number of running services", []string{"service"}},
		{&g.ServiceInstancesMaximum, "assemblyline_service_instances_maximum", "Maximum number of running instances", []string{"service"}},
		{&g.ServiceInstancesDynamicMaximum, "assemblyline_service_instances_dynamic_maximum", "Service dynamic_maximum", []string{"service"}},
		{&g.ServiceQueue, "assemblyline_service_queue", "Service queue", []string{"service"}},
		{&g.ServicePressure, "assemblyline_service_pressure", "Service pressure", []string{"service"}},
		{&g.ServiceDutyCycle, "assemblyline_service_duty_cycle", "Service duty cycle", []string{"service"}},

		{&g.ServiceBusy, "assemblyline_service_busy", "Number of instances busy", []string{"service"}},
		{&g.ServiceIdle, "assemblyline_service_idle", "Number of instances idle", []string{"service"}},
		{&g.ServiceFailures, "assemblyline_service_failures", "Number of service failures", []string{"service", "type"}},
		{&g.ServiceProcessed, "assemblyline_service_processed", "Number of samples processed by the service", []string{"service"}},
	}

	for _, def := range defs {
		gauge, err := registry.DefineGauge(def.name, def.help, def.labels...)
		if err != nil {
			return nil, err
		}
		*def.dest = gauge
	}
	return g, nil
}
