package config

import "time"

// SyncPaginationEnabled makes the upstream client follow numbered pages until a short page.
// When disabled only the first page of each collection is requested.
//
// Set via env:
// - ERP_SYNC_PAGINATE=false
func SyncPaginationEnabled() bool {
	return envBoolDefault("ERP_SYNC_PAGINATE", true)
}

// UsePubSubForRuns routes queued runs through Pub/Sub instead of running them in-process.
//
// Set via env:
// - ERP_SYNC_USE_PUBSUB=false
func UsePubSubForRuns() bool {
	return envBoolDefault("ERP_SYNC_USE_PUBSUB", true)
}

// PubSubPushEndpointEnabled toggles the /pubsub/erp-sync push handler.
func PubSubPushEndpointEnabled() bool {
	return envBoolDefault("ENABLE_ERP_PUBSUB_PUSH_ENDPOINT", true)
}

// CreateSyncTopic creates the sync topic on first publish when it does not exist.
func CreateSyncTopic() bool {
	return envBoolDefault("ERP_SYNC_CREATE_TOPIC", false)
}

func SyncTopicName() string {
	return stringFromEnv("ERP_SYNC_TOPIC", "erp-sync")
}

// SyncRunTimeout bounds one run once it is detached from the request that started it.
//
// Set via env:
// - ERP_SYNC_RUN_TIMEOUT_MINUTES=60
func SyncRunTimeout() time.Duration {
	minutes := intFromEnv("ERP_SYNC_RUN_TIMEOUT_MINUTES", 60)
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}
