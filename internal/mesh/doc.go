// Package mesh treats mesh payloads as opaque canonical JSON documents
// and implements the diff protocol over them: merge-patch updates,
// removal sentinels, and the per-room table the diffs apply to. Keeping
// payloads canonical means a broadcast diff and a fresh fetch of the
// same mesh are byte-identical.
package mesh
