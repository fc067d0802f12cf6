package eventbus

import (
	"time"

	"github.com/companionbot/petwatch/internal/telemetry"
)

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicTelemetryStatus   Topic = "telemetry.status"
	TopicTelemetryLog      Topic = "telemetry.log"
	TopicTelemetryCloudLog Topic = "telemetry.cloud_log"
	TopicTelemetryInsight  Topic = "telemetry.insight"
	TopicConnectionState   Topic = "connection.state"
	TopicConfigSaved       Topic = "config.saved"
)

// Source describes which component produced an event.
type Source string

const (
	SourcePoller  Source = "poller"
	SourceStream  Source = "stream"
	SourceCommand Source = "command"
	SourceConfig  Source = "config"
	SourceUnknown Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// ConnectionStatus is the coarse reachability verdict for the device.
type ConnectionStatus string

const (
	ConnectionUnknown ConnectionStatus = "unknown"
	ConnectionOnline  ConnectionStatus = "online"
	ConnectionOffline ConnectionStatus = "offline"
)

// StatusUpdate carries one fresh telemetry snapshot.
type StatusUpdate struct {
	Snapshot telemetry.Snapshot
}

// LogEvent carries a single log entry from the stream or a manual action.
type LogEvent struct {
	Entry telemetry.LogEntry
}

// CloudLogUpdate carries the result of one bulk cloud-log fetch.
type CloudLogUpdate struct {
	Entries []telemetry.LogEntry
	Path    string
}

// InsightUpdate carries the latest emotion insight fetch result. On a
// failed fetch OK is false and StatusMessage explains the failure;
// consumers keep their last-known-good insight rather than blanking.
type InsightUpdate struct {
	Insight       telemetry.EmotionInsight
	OK            bool
	StatusMessage string
}

// ConnectionUpdate reports a reachability transition with its reason.
type ConnectionUpdate struct {
	Status    ConnectionStatus
	Reason    string
	CheckedAt time.Time
}

// ConfigSaved announces that the stored device address changed; the
// console loop reacts by re-resolving and restarting the channels.
type ConfigSaved struct {
	DeviceAddress string
}

// Typed topic descriptors. Publishing through these keeps topic and
// payload type in agreement at compile time.
var (
	TelemetryStatus   = NewTopicDef[StatusUpdate](TopicTelemetryStatus)
	TelemetryLog      = NewTopicDef[LogEvent](TopicTelemetryLog)
	TelemetryCloudLog = NewTopicDef[CloudLogUpdate](TopicTelemetryCloudLog)
	TelemetryInsight  = NewTopicDef[InsightUpdate](TopicTelemetryInsight)
	ConnectionState   = NewTopicDef[ConnectionUpdate](TopicConnectionState)
	ConfigSavedDef    = NewTopicDef[ConfigSaved](TopicConfigSaved)
)
