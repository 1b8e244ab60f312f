// Package config loads OpenSRF's deployment settings. The project's
// original configuration is a hierarchical XML document; this package
// treats that format as an external collaborator (spec.md §1) and only
// consumes its values through the key→value/key→list Store interface
// (spec.md §9). The concrete implementation here decodes YAML, following
// the teacher's own config.LoadConfig convention (user file, then project
// file, with the latter's values taking precedence).
package config
