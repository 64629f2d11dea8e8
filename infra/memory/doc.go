// Package memory pools reusable scratch values, such as the encoders that
// stage operation log entries.
package memory
