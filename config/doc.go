// Package config loads engine configuration and workflow descriptors.
//
// Engine configuration follows a fixed precedence: built-in defaults,
// then an optional YAML file, then TASKFORGE_* environment variables.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("taskforge.yaml").
//	    Load()
//
// Workflow descriptors are plain YAML documents binding task names to
// commands registered in a CommandRegistry; see LoadWorkflow.
package config
