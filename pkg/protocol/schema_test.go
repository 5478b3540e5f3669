package protocol

import (
	"testing"

	"github.com/google/uuid"
)

// TestProjectTopic tests project topic naming
func TestProjectTopic(t *testing.T) {
	if got := ProjectTopic("abc"); got != "project_abc" {
		t.Errorf("ProjectTopic() = %q, expected %q", got, "project_abc")
	}
}

// TestKeyPatterns tests that every key is namespaced
func TestKeyPatterns(t *testing.T) {
	id := uuid.New().String()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"topic channel", TopicChannel("prod", GeneralTopic), "stave:prod:topic:general"},
		{"presence", PresenceKey("prod", "project_" + id), "stave:prod:presence:project_" + id},
		{"cursors", CursorKey("prod", id), "stave:prod:cursors:" + id},
		{"messages", MessageStreamKey("prod", id), "stave:prod:messages:" + id},
		{"project", ProjectKey("prod", id), "stave:prod:project:" + id},
		{"tracks", ProjectTracksKey("prod", id), "stave:prod:project:" + id + ":tracks"},
		{"blocks", ProjectBlocksKey("prod", id), "stave:prod:project:" + id + ":audio_blocks"},
		{"markers", ProjectMarkersKey("prod", id), "stave:prod:project:" + id + ":timeline_markers"},
		{"track", TrackKey("prod", id), "stave:prod:track:" + id},
		{"block", BlockKey("prod", id), "stave:prod:audio_block:" + id},
		{"marker", MarkerKey("prod", id), "stave:prod:timeline_marker:" + id},
	}

	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s key = %q, expected %q", tc.name, tc.got, tc.want)
		}
	}
}
