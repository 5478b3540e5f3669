package protocol

import "fmt"

// Relay topic and Redis key helpers
//
// Relay topics are the logical broadcast channel names peers agree on.
// Redis keys and Pub/Sub channels are additionally namespaced so several
// deployments can share one Redis server.
//
// Key pattern: stave:{namespace}:{entity}:{id}
// Channel pattern: stave:{namespace}:topic:{topic}

// GeneralTopic is the process-wide presence and announcement topic.
const GeneralTopic = "general"

// ProjectTopic returns the relay topic scoped to one project.
// Pattern: project_{project_id}
func ProjectTopic(projectID string) string {
	return fmt.Sprintf("project_%s", projectID)
}

// TopicChannel returns the Redis Pub/Sub channel backing a relay topic.
// Pattern: stave:{namespace}:topic:{topic}
func TopicChannel(namespace, topic string) string {
	return fmt.Sprintf("stave:%s:topic:%s", namespace, topic)
}

// PresenceKey returns the Redis hash holding presence metadata for a topic.
// Pattern: stave:{namespace}:presence:{topic}
func PresenceKey(namespace, topic string) string {
	return fmt.Sprintf("stave:%s:presence:%s", namespace, topic)
}

// CursorKey returns the Redis hash holding the latest cursor per user.
// Pattern: stave:{namespace}:cursors:{project_id}
func CursorKey(namespace, projectID string) string {
	return fmt.Sprintf("stave:%s:cursors:%s", namespace, projectID)
}

// MessageStreamKey returns the Redis stream mirroring a project's messages.
// Pattern: stave:{namespace}:messages:{project_id}
func MessageStreamKey(namespace, projectID string) string {
	return fmt.Sprintf("stave:%s:messages:%s", namespace, projectID)
}

// ProjectKey returns the Redis hash for a project row.
// Pattern: stave:{namespace}:project:{project_id}
func ProjectKey(namespace, projectID string) string {
	return fmt.Sprintf("stave:%s:project:%s", namespace, projectID)
}

// ProjectTracksKey returns the ZSET ordering a project's tracks.
// Pattern: stave:{namespace}:project:{project_id}:tracks
func ProjectTracksKey(namespace, projectID string) string {
	return fmt.Sprintf("stave:%s:project:%s:tracks", namespace, projectID)
}

// ProjectBlocksKey returns the ZSET ordering a project's audio blocks.
// Pattern: stave:{namespace}:project:{project_id}:audio_blocks
func ProjectBlocksKey(namespace, projectID string) string {
	return fmt.Sprintf("stave:%s:project:%s:audio_blocks", namespace, projectID)
}

// ProjectMarkersKey returns the ZSET ordering a project's timeline markers.
// Pattern: stave:{namespace}:project:{project_id}:timeline_markers
func ProjectMarkersKey(namespace, projectID string) string {
	return fmt.Sprintf("stave:%s:project:%s:timeline_markers", namespace, projectID)
}

// TrackKey returns the Redis hash for a track row.
// Pattern: stave:{namespace}:track:{track_id}
func TrackKey(namespace, trackID string) string {
	return fmt.Sprintf("stave:%s:track:%s", namespace, trackID)
}

// BlockKey returns the Redis hash for an audio block row.
// Pattern: stave:{namespace}:audio_block:{block_id}
func BlockKey(namespace, blockID string) string {
	return fmt.Sprintf("stave:%s:audio_block:%s", namespace, blockID)
}

// MarkerKey returns the Redis hash for a timeline marker row.
// Pattern: stave:{namespace}:timeline_marker:{marker_id}
func MarkerKey(namespace, markerID string) string {
	return fmt.Sprintf("stave:%s:timeline_marker:%s", namespace, markerID)
}
