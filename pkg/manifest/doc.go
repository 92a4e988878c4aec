// Package manifest defines the declarative YAML format that describes
// an extension: its metadata, installation method, validation checks,
// and removal/upgrade behavior.
//
// Manifests are validated twice on load: structurally against a CUE
// schema, then field-by-field with struct validation tags. A manifest
// that loads without error is safe to hand to an executor.
package manifest
