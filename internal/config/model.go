package config

import (
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Model is the unified representation of the application configuration:
// at most one client block, at most one server block, and any number of
// datastore definitions.
type Model struct {
	Client *Client
	Server *Server
	Stores []*Store
}

// Client configures the sync client: where to sync against and the two
// fixed timing constants of the protocol.
type Client struct {
	Endpoint       string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	TokenFile      string
	Store          string
}

// Server configures the sync server.
type Server struct {
	Listen       string
	SnapshotPath string
	StaticDir    string
	TokenFile    string
}

// Store declares a datastore and its serializable fields.
type Store struct {
	Name   string
	Fields []*Field
}

// Field declares one settable cell: name, cell type, and its initial value
// (already converted to the declared type).
type Field struct {
	Name    string
	Type    cty.Type
	Default cty.Value
}
