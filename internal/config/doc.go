// Package config defines the on-disk configuration schema and a manager
// that hot-reloads it.
package config
