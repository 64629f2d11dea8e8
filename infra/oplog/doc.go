// Package oplog is the append-only, per-object operation log.
//
// A log is a chain of nvm regions. Each region starts with a header that
// records how many entry bytes in it are committed; entries follow the
// header back to back and never span regions. An entry is
//
//	[tag:8 LE][tag-specific fields]
//
// The log itself does not know entry lengths. Replay hands the bytes after
// each tag to a Player, which decodes one entry and reports how many bytes
// it occupied; the fields must therefore be self-delimiting.
package oplog
