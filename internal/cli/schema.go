package cli

import (
	"encoding/json"
	"sort"
	"strings"
)

// SchemaCmd outputs JSON Schema for bsync output types
type SchemaCmd struct {
	Type []string `short:"t" help:"Output types to include (ready,session_established,health,components,state,log,mail,session_debug,rotation,tmux,edit,ledger,state_value,error). Default: all"`
}

var schemaBuilders = map[string]func() map[string]interface{}{
	"ready":               readySchema,
	"session_established": sessionSchema,
	"health":              healthSchema,
	"components":          componentsSchema,
	"state":               stateSchema,
	"log":                 logSchema,
	"mail":                mailSchema,
	"session_debug":       debugSchema,
	"rotation":            rotationSchema,
	"tmux":                tmuxSchema,
	"edit":                editSchema,
	"ledger":              ledgerSchema,
	"state_value":         stateValueSchema,
	"error":               errorSchema,
}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	typesToOutput := c.Type
	if len(typesToOutput) == 0 {
		for t := range schemaBuilders {
			typesToOutput = append(typesToOutput, t)
		}
		sort.Strings(typesToOutput)
	}

	defs := map[string]interface{}{}
	for _, t := range typesToOutput {
		t = strings.ToLower(strings.TrimSpace(t))
		if build, ok := schemaBuilders[t]; ok {
			defs[t] = build()
		}
	}

	out := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "bsync Output Schemas",
		"description": "JSON Schema definitions for all bsync NDJSON output types",
		"definitions": defs,
	}

	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

// event builds an object schema with the common type and schemaVersion
// properties
func event(eventType, title, description string, props map[string]interface{}, required ...string) map[string]interface{} {
	props["type"] = map[string]interface{}{"type": "string", "const": eventType}
	props["schemaVersion"] = map[string]interface{}{"type": "integer", "const": 1}
	return map[string]interface{}{
		"type":        "object",
		"title":       title,
		"description": description,
		"properties":  props,
		"required":    append([]string{"type", "schemaVersion"}, required...),
	}
}

func readySchema() map[string]interface{} {
	return event("ready", "Ready", "First line of a connect stream", map[string]interface{}{
		"timestamp": prop("string", "ISO8601 time the command started"),
		"server":    prop("string", "Backend base URL"),
		"run_id":    prop("string", "Unique id of this bsync run"),
	}, "timestamp", "server")
}

func sessionSchema() map[string]interface{} {
	return event("session_established", "Session Established", "Emitted after every successful handshake", map[string]interface{}{
		"alert": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"SESSION_REPLACED"},
			"description": "Set when the backend granted a different id than proposed",
		},
		"session_id":  prop("string", "Session id granted by the backend"),
		"previous_id": prop("string", "Session id that was proposed but not resumed"),
		"mode": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"edit", "run"},
			"description": "Backend run mode",
		},
		"handshake":  prop("integer", "Handshake number within this run, starting at 1"),
		"components": prop("integer", "Size of the component tree received"),
		"timestamp":  prop("string", "ISO8601 timestamp"),
	}, "session_id", "mode", "handshake")
}

func healthSchema() map[string]interface{} {
	health := map[string]interface{}{
		"type": "string",
		"enum": []string{"idle", "connected", "offline", "suspended"},
	}
	return event("health", "Health Change", "Connection health transition", map[string]interface{}{
		"from":      health,
		"to":        health,
		"timestamp": prop("string", "ISO8601 timestamp"),
	}, "from", "to")
}

func componentsSchema() map[string]interface{} {
	return event("components", "Component Tree", "Summary of a component tree replacement", map[string]interface{}{
		"count":           prop("integer", "Number of components"),
		"builder_managed": prop("integer", "Components owned by the builder"),
		"code_managed":    prop("integer", "Components declared in application code"),
		"report": map[string]interface{}{
			"type":        "object",
			"description": "Problems found and repaired in the received tree",
			"properties": map[string]interface{}{
				"missing_root": prop("boolean", "The tree has no root component"),
				"orphans":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"repaired":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			},
		},
		"timestamp": prop("string", "ISO8601 timestamp"),
	}, "count")
}

func stateSchema() map[string]interface{} {
	return event("state", "Application State", "Full application state snapshot", map[string]interface{}{
		"state":     prop("object", "Application state keyed by top-level name"),
		"timestamp": prop("string", "ISO8601 timestamp"),
	}, "state")
}

func logSchema() map[string]interface{} {
	return event("log", "Log Entry", "A deduplicated diagnostic entry from the backend", map[string]interface{}{
		"severity": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"debug", "info", "warning", "error", "critical"},
			"description": "Entry severity",
		},
		"title":             prop("string", "Short title"),
		"message":           prop("string", "Entry message"),
		"code":              prop("string", "Optional source code excerpt or error code"),
		"id":                prop("string", "Entries with the same id replace each other"),
		"fingerprint":       prop("string", "Stable digest used to collapse repeats"),
		"repeated":          prop("integer", "How many times the entry repeated after the first"),
		"timestampReceived": prop("string", "ISO8601 time the entry was last received"),
	}, "severity", "title", "message", "fingerprint")
}

func mailSchema() map[string]interface{} {
	return event("mail", "Mail", "A subscribed one-shot notification", map[string]interface{}{
		"mail_type": prop("string", "Mail type"),
		"payload":   map[string]interface{}{"description": "Mail payload, any JSON value"},
		"timestamp": prop("string", "ISO8601 timestamp"),
	}, "mail_type")
}

func debugSchema() map[string]interface{} {
	return event("session_debug", "Session Debug", "Stream transition, emitted with --debug", map[string]interface{}{
		"run_id":     prop("string", "Id of this bsync run"),
		"session_id": prop("string", "Current session id"),
		"generation": prop("integer", "Stream generation the event belongs to"),
		"close_code": prop("integer", "Close code for close events"),
		"reason": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"open", "close", "code_update", "rehandshake", "reconnect_scheduled"},
			"description": "What happened",
		},
	}, "generation", "reason")
}

func rotationSchema() map[string]interface{} {
	return event("rotation", "Output Rotation", "A new per-handshake output file was opened", map[string]interface{}{
		"handshake": prop("integer", "Handshake number the file belongs to"),
		"path":      prop("string", "File path"),
	}, "handshake", "path")
}

func tmuxSchema() map[string]interface{} {
	return event("tmux", "Tmux Session", "Events are mirrored into a tmux session", map[string]interface{}{
		"session": prop("string", "Tmux session name"),
		"attach":  prop("string", "Command to attach to the session"),
	}, "session", "attach")
}

func editSchema() map[string]interface{} {
	return event("edit", "Edit Result", "Outcome of one scripted builder operation", map[string]interface{}{
		"line":   prop("integer", "Script line number"),
		"op":     prop("string", "Operation: create, set, handler, move, delete, undo, redo"),
		"id":     prop("string", "Component id the operation touched"),
		"ok":     prop("boolean", "Whether the operation succeeded and synced"),
		"error":  prop("string", "Failure reason"),
		"ledger": prop("object", "Undo/redo state after the operation"),
	}, "line", "op", "ok", "ledger")
}

func ledgerSchema() map[string]interface{} {
	return event("ledger", "Ledger Summary", "Undo/redo state at the end of an edit run", map[string]interface{}{
		"canUndo":         prop("boolean", "A transaction can be undone"),
		"canRedo":         prop("boolean", "A transaction can be redone"),
		"undoDescription": prop("string", "Description of the next undo"),
		"redoDescription": prop("string", "Description of the next redo"),
		"entries":         prop("integer", "Closed transactions, including redoable ones"),
		"offset":          prop("integer", "Cursor distance from the newest transaction (<= 0)"),
		"applied":         prop("integer", "Operations that succeeded"),
		"failed":          prop("integer", "Operations that failed"),
	}, "canUndo", "canRedo", "entries", "offset")
}

func stateValueSchema() map[string]interface{} {
	return event("state_value", "State Value", "Value at an accessor path in the application state", map[string]interface{}{
		"path":  prop("string", "Accessor path"),
		"found": prop("boolean", "Whether the path resolved"),
		"value": map[string]interface{}{"description": "Resolved value, any JSON type"},
	}, "path", "found")
}

func errorSchema() map[string]interface{} {
	return event("error", "Error", "A command failure", map[string]interface{}{
		"code":    prop("string", "Stable error code, e.g. HANDSHAKE_REJECTED"),
		"message": prop("string", "Human readable message"),
		"hint":    prop("string", "Suggested next step"),
	}, "code", "message")
}
