// Package policy evaluates extension lifecycle operations against
// Rego policies using the Open Policy Agent.
//
// The engine ships with built-in policies covering trusted definition
// sources, protected extensions, version pins, and production safety.
// Additional policies load from .rego or .json files and can be
// watched for changes and hot-reloaded.
//
// A policy contributes violations through a deny set in its own
// package:
//
//	package crucible.policies.example
//
//	import rego.v1
//
//	deny contains violation if {
//		input.operation == "remove"
//		input.extension == "docker"
//		violation := {
//			"message": "docker removal is not allowed here",
//			"severity": "error",
//			"extension": input.extension,
//		}
//	}
//
// Violations with error or critical severity block the operation;
// warning and info findings are reported but do not.
package policy
