// Package persist turns ordinary in-memory objects into persistent ones.
//
// A persistent object embeds *Base, which owns a header region and an
// operation log in the object's heap. Every mutating call is staged into an
// oplog.ArgVector, appended to the log and only then applied to the
// object's volatile state (Base.Mutate). After a restart the Manager finds
// the object through its catalog entry, rebuilds an empty instance with the
// class's recovery constructor and replays the log through the object's
// Play method.
//
// The Manager guarantees at most one live instance per identifier.
package persist
