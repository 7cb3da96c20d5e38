// Package config loads the YAML configuration for trainyard serve and fills
// in defaults for every field the file leaves out.
package config
