// Package config defines the format-agnostic configuration model for the
// application, along with the Loader interface for reading it from a
// concrete source. The HCL implementation lives in the internal/hcl package.
package config
