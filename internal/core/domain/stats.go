package domain

import "time"

// PublisherAudioStats is one per-subscriber entry of a publisher's audio
// statistics snapshot.
type PublisherAudioStats struct {
	ConnectionID ConnectionID `json:"connection_id"`
	SubscriberID SubscriberID `json:"subscriber_id"`
	PacketsLost  int64        `json:"packets_lost"`
	PacketsSent  int64        `json:"packets_sent"`
	BytesSent    int64        `json:"bytes_sent"`
	AudioLevel   float32      `json:"audio_level"`
	Timestamp    time.Time    `json:"timestamp"`
	StartTime    time.Time    `json:"start_time"`
}

type PublisherVideoStats struct {
	ConnectionID ConnectionID `json:"connection_id"`
	SubscriberID SubscriberID `json:"subscriber_id"`
	PacketsLost  int64        `json:"packets_lost"`
	PacketsSent  int64        `json:"packets_sent"`
	BytesSent    int64        `json:"bytes_sent"`
	Timestamp    time.Time    `json:"timestamp"`
	StartTime    time.Time    `json:"start_time"`
}

type SubscriberAudioStats struct {
	PacketsLost     int64     `json:"packets_lost"`
	PacketsReceived int64     `json:"packets_received"`
	BytesReceived   int64     `json:"bytes_received"`
	AudioLevel      float32   `json:"audio_level"`
	Timestamp       time.Time `json:"timestamp"`
}

type SubscriberVideoStats struct {
	PacketsLost     int64     `json:"packets_lost"`
	PacketsReceived int64     `json:"packets_received"`
	BytesReceived   int64     `json:"bytes_received"`
	Timestamp       time.Time `json:"timestamp"`
}

// RTCStatsReport is a serialized point-in-time snapshot of transport
// statistics for one remote connection.
type RTCStatsReport struct {
	ConnectionID ConnectionID `json:"connection_id"`
	JSON         string       `json:"json_array_of_reports"`
}
