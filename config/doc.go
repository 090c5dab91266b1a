// Package config loads the router's runtime configuration from a YAML
// file with environment-variable overrides, the same builder-pattern
// Loader the donor config package uses, narrowed to the router's own
// option set (spec.md §6) and stripped of the donor's hot-reload
// watcher: the router treats config as immutable for a process's
// lifetime, so changing it means restarting (see DESIGN.md).
package config
