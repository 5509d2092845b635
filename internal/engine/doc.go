// Package engine orchestrates bundle acquisition on top of the cache store:
// it resolves a reference to a local directory (downloading, extracting and
// recording metadata when needed), coordinates concurrent requests for the
// same bundle through an in-process lock set, fetches individual files on
// demand, and applies the cache budget after every download. Host surfaces
// (the CLI) call Engine methods and receive paths or typed errors.
package engine
