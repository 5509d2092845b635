// Package cache owns the on-disk layout of downloaded bundles:
// <root>/datasets/<owner>/<name>[-v<version>]/ holding the extracted files
// plus a ".downloaded" marker with JSON metadata. A directory is considered
// complete only when its marker exists and is non-empty. The store exposes
// atomic writes (temp file + rename) for markers and single files, recursive
// size accounting, and the LRU eviction pass that keeps the cache under its
// configured budget. The engine package drives it; nothing here talks to the
// network.
package cache
