// Package nvm is the allocation service for persistent objects.
//
// Every identifier owns a heap file that is mapped into the process in
// page-aligned regions. Regions are handed out as *Region handles; the
// arena, not the caller, controls how long the mapping lives. The region
// table (which regions exist, their kind, offset and size) is kept in the
// metadata pebble DB so an identifier's regions can be re-attached in
// allocation order after a restart.
package nvm
