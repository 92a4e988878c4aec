package manifest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for manifest validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("extension", builtinExtensionSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// Schemas define their constraints as a CUE definition named after
	// the schema, e.g. #Extension for the "extension" schema.
	defName := "#" + strings.ToUpper(schemaName[:1]) + schemaName[1:]
	def := schema.LookupPath(cue.ParsePath(defName))
	if def.Exists() {
		schema = def
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinExtensionSchema = `
// Extension schema for Crucible extension manifests
#Extension: {
	// Metadata describes the extension
	metadata: {
		// Name is the unique extension name
		name: string & =~"^[a-z0-9][a-z0-9-]*$"

		// Version is the extension definition version
		version: string

		// Description is a one-line summary
		description: string

		// Category classifies the extension
		category: "languages" | "devops" | "cloud" | "ai-agents" | "productivity" | "testing" | "documentation"

		// Author is the manifest author
		author?: string

		// Homepage is the upstream project page
		homepage?: string

		// Dependencies lists extensions installed first
		dependencies?: [...string]
	}

	// Requirements declares resource and timeout requirements
	requirements?: {
		diskSpace?:         int & >0
		memory?:            int & >0
		installTimeout?:    int & >0
		validationTimeout?: int & >0
		domains?: [...string]
	}

	// Install declares how the extension is installed
	install: #Install

	// Validate declares how an installation is checked
	validate?: #Validate

	// Remove declares removal behavior
	remove?: {
		confirmation?: bool
		paths?: [...string]
	}

	// Upgrade declares upgrade behavior
	upgrade?: {
		strategy?: "in-place" | "reinstall"
	}
}

// Install configuration for an extension
#Install: {
	// Method selects the installation mechanism
	method: "mise" | "apt" | "binary" | "npm" | "script" | "hybrid"

	mise?: {
		configFile?:         string
		reshimAfterInstall?: bool
	}

	apt?: {
		packages: [...string] & [_, ...]
		updateFirst?: bool
	}

	binary?: {
		downloads: [...{
			name:         string
			url:          string
			version:      string
			destination?: string
			extract?:     bool
		}] & [_, ...]
	}

	npm?: {
		package: string
	}

	script?: {
		path: string
		args?: [...string]
		timeout?: int & >0
	}
}

// Validation configuration for an extension
#Validate: {
	// Commands lists command checks to run
	commands?: [...{
		name:             string
		versionFlag?:     string
		expectedPattern?: string
	}]

	// Mise lists mise tools that must be present
	mise?: {
		tools: [...string] & [_, ...]
	}
}
`
