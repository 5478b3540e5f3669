// Package protocol provides the wire types for Stave's collaborative editing
// core.
//
// # Overview
//
// Every edit a user makes in the arrangement (adding a track, moving a block,
// seeking the playhead) is described by a UserInteractionMessage. The message
// carries the originating user, one ActionType from a closed vocabulary, the
// action's typed Params, a send timestamp, a client-generated MessageID and
// the sender's local DispatchProcessStatus.
//
// # Params
//
// Params is a tagged union: each ActionType has one concrete struct, selected
// from the "action" field when a message is decoded. A message whose action
// this build does not know decodes into *RawParams so newer peers can still
// talk to older ones.
//
//	msg := protocol.NewMessage(userID, &protocol.MoveBlockParams{
//		BlockID:   "b1",
//		Track:     2,
//		StartBeat: 16,
//	}, time.Now())
//
//	data, _ := json.Marshal(msg)
//	// {"userId":"local-...","action":"MOVE_BLOCK","params":{"blockId":"b1",...},...}
//
// # Delivery lifecycle
//
// A message moves PENDING → SENT → BROADCAST_TO_CLIENTS on the sender. File
// transfers continue through UPLOADING_FILE ... FILE_AVAILABLE_TO_COLLABORATORS.
// ValidTransition encodes the allowed steps.
//
// # Redis Schema
//
// Topics: general, project_{project_id}
// Pub/Sub: stave:{namespace}:topic:{topic}
// Presence: stave:{namespace}:presence:{topic}
// Cursors: stave:{namespace}:cursors:{project_id}
// Message mirror: stave:{namespace}:messages:{project_id}
// Rows: stave:{namespace}:{project|track|audio_block|timeline_marker}:{uuid}
package protocol
