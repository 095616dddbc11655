package status

// Typed views of the heartbeat bodies. Only the fields the handlers read are
// declared; everything else in a message is ignored.

// ComponentHeartbeat covers alerter, archive, dispatcher, expiry and scaler,
// which only contribute their instance count.
type ComponentHeartbeat struct {
	Instances float64 `json:"instances"`
}

// IngestHeartbeat is published by the ingester
type IngestHeartbeat struct {
	Instances float64            `json:"instances"`
	Metrics   IngestMetrics      `json:"metrics"`
	Queues    map[string]float64 `json:"queues"`
}

// IngestMetrics holds the ingester's cumulative counters
type IngestMetrics struct {
	BytesCompleted       float64 `json:"bytes_completed"`
	BytesIngested        float64 `json:"bytes_ingested"`
	FilesCompleted       float64 `json:"files_completed"`
	SubmissionsCompleted float64 `json:"submissions_completed"`
	SubmissionsIngested  float64 `json:"submissions_ingested"`
}

// ScalerStatusHeartbeat is published by the scaler once per service
type ScalerStatusHeartbeat struct {
	ServiceName string              `json:"service_name"`
	Metrics     ScalerStatusMetrics `json:"metrics"`
}

// ScalerStatusMetrics describes the scaler's view of one service
type ScalerStatusMetrics struct {
	Running        float64 `json:"running"`
	Target         float64 `json:"target"`
	Minimum        float64 `json:"minimum"`
	Maximum        float64 `json:"maximum"`
	DynamicMaximum float64 `json:"dynamic_maximum"`
	Queue          float64 `json:"queue"`
	Pressure       float64 `json:"pressure"`
	DutyCycle      float64 `json:"duty_cycle"`
}

// ServiceHeartbeat is published by each analysis service
type ServiceHeartbeat struct {
	Instances   float64         `json:"instances"`
	ServiceName string          `json:"service_name"`
	Activity    ServiceActivity `json:"activity"`
	Queue       float64         `json:"queue"`
	Metrics     ServiceMetrics  `json:"metrics"`
}

// ServiceActivity counts busy and idle service instances
type ServiceActivity struct {
	Busy float64 `json:"busy"`
	Idle float64 `json:"idle"`
}

// ServiceMetrics holds the per-service counters
type ServiceMetrics struct {
	Execute            float64 `json:"execute"`
	FailRecoverable    float64 `json:"fail_recoverable"`
	FailNonrecoverable float64 `json:"fail_nonrecoverable"`
}
