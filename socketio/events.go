package socketio

import "github.com/kryptoslogic/assemblyline-exporter/status"

// StatusNamespace is the Socket.IO namespace Assemblyline publishes
// heartbeats on.
const StatusNamespace = "/status"

var eventCategories = map[string]status.Category{
	"AlerterHeartbeat":      status.CategoryAlerter,
	"ArchiveHeartbeat":      status.CategoryArchive,
	"DispatcherHeartbeat":   status.CategoryDispatcher,
	"ExpiryHeartbeat":       status.CategoryExpiry,
	"IngestHeartbeat":       status.CategoryIngester,
	"ScalerHeartbeat":       status.CategoryScaler,
	"ScalerStatusHeartbeat": status.CategoryScalerStatus,
	"ServiceHeartbeat":      status.CategoryService,
}

// CategoryForEvent returns the category a status event is routed to
func CategoryForEvent(event string) (status.Category, bool) {
	c, ok := eventCategories[event]
	return c, ok
}

// EventForCategory returns the event name Assemblyline uses for a category
func EventForCategory(category status.Category) (string, bool) {
	for event, c := range eventCategories {
		if c == category {
			return event, true
		}
	}
	return "", false
}

// monitorRequest asks the status namespace to start streaming heartbeats
type monitorRequest struct {
	Status string `json:"status"`
	Client string `json:"client"`
}

var startMonitoring = monitorRequest{Status: "start", Client: "assemblyline_client"}
