// Package app wires the runtime together: it builds the logger, loads the
// configuration model, and runs either the sync server or the sync client
// (zone, datastore, transport, engine) depending on the selected mode.
package app
