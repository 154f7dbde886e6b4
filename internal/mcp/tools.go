package mcp

// schemas holds the input schema for each dispatchable tool. Descriptions
// live on the dispatch registry; only the argument shapes are declared
// here. Tools without an entry advertise a free-form object.
var schemas = map[string]InputSchema{
	"memory_put": {
		Type: "object",
		Properties: map[string]Property{
			"slot":        {Type: "string", Description: "Slot path like pref:editor or fact:team.deploy_day"},
			"key":         {Type: "string", Description: "Free-form key, mapped into the ctx: namespace when slot is not given"},
			"scope_type":  {Type: "string", Description: "Scope of the memory", Enum: []string{"user", "project", "entity", "domain"}, Default: "user"},
			"scope_id":    {Type: "string", Description: "Scope identifier; required for every scope except user"},
			"agent_id":    {Type: "string", Description: "Identity of the writing agent"},
			"content":     {Type: "string", Description: "The memory content"},
			"tags":        {Type: "array", Description: "Descriptive tags", Items: &Items{Type: "string"}},
			"sensitivity": {Type: "string", Description: "Handling level", Enum: []string{"normal", "sensitive"}, Default: "normal"},
			"ttl_days":    {Type: "number", Description: "Days until expiry; 0 expires immediately"},
		},
		Required: []string{"agent_id", "content"},
	},
	"memory_get": {
		Type: "object",
		Properties: map[string]Property{
			"slot":       {Type: "string", Description: "Slot path to read"},
			"key":        {Type: "string", Description: "Free-form key alternative to slot"},
			"scope_type": {Type: "string", Enum: []string{"user", "project", "entity", "domain"}, Default: "user"},
			"scope_id":   {Type: "string"},
		},
	},
	"memory_search": {
		Type: "object",
		Properties: map[string]Property{
			"query": {Type: "string", Description: "Natural language search query"},
			"limit": {Type: "number", Default: 10},
		},
		Required: []string{"query"},
	},
	"memory_history": {
		Type: "object",
		Properties: map[string]Property{
			"memory_id": {Type: "string"},
			"limit":     {Type: "number", Default: 50},
		},
		Required: []string{"memory_id"},
	},
	"memory_supersede": {
		Type: "object",
		Properties: map[string]Property{
			"old_id":   {Type: "string", Description: "ID of the memory being replaced"},
			"agent_id": {Type: "string"},
			"content":  {Type: "string", Description: "Replacement content"},
			"tags":     {Type: "array", Items: &Items{Type: "string"}},
		},
		Required: []string{"old_id", "agent_id", "content"},
	},
	"memory_retract": {
		Type: "object",
		Properties: map[string]Property{
			"memory_id": {Type: "string"},
			"agent_id":  {Type: "string"},
			"reason":    {Type: "string"},
		},
		Required: []string{"memory_id", "agent_id"},
	},
	"memory_prune": {
		Type: "object",
	},
	"conflicts_list": {
		Type: "object",
		Properties: map[string]Property{
			"open_only": {Type: "boolean", Default: true},
			"limit":     {Type: "number", Default: 50},
		},
	},
	"conflict_resolve": {
		Type: "object",
		Properties: map[string]Property{
			"conflict_id": {Type: "string"},
			"resolution":  {Type: "string", Description: "How the disagreement was settled"},
			"resolved_by": {Type: "string"},
		},
		Required: []string{"conflict_id", "resolution", "resolved_by"},
	},
	"duplicates_list": {
		Type: "object",
		Properties: map[string]Property{
			"open_only": {Type: "boolean", Default: true},
			"limit":     {Type: "number", Default: 50},
		},
	},
	"duplicate_resolve": {
		Type: "object",
		Properties: map[string]Property{
			"duplicate_id": {Type: "string"},
			"resolution":   {Type: "string"},
			"resolved_by":  {Type: "string"},
		},
		Required: []string{"duplicate_id", "resolution", "resolved_by"},
	},
	"task_create": {
		Type: "object",
		Properties: map[string]Property{
			"name":                {Type: "string"},
			"description":         {Type: "string"},
			"payload":             {Type: "string", Description: "Opaque JSON payload for the executing agent"},
			"priority":            {Type: "number", Default: 5},
			"requires_capability": {Type: "string"},
			"max_attempts":        {Type: "number", Default: 3},
			"depends_on":          {Type: "array", Description: "Task IDs that must finish first", Items: &Items{Type: "string"}},
		},
		Required: []string{"name"},
	},
	"task_poll": {
		Type: "object",
		Properties: map[string]Property{
			"agent_id":     {Type: "string"},
			"capabilities": {Type: "array", Items: &Items{Type: "string"}},
			"limit":        {Type: "number", Default: 10},
		},
		Required: []string{"agent_id"},
	},
	"task_claim": {
		Type: "object",
		Properties: map[string]Property{
			"task_id":  {Type: "string"},
			"agent_id": {Type: "string"},
		},
		Required: []string{"task_id", "agent_id"},
	},
	"task_start": {
		Type: "object",
		Properties: map[string]Property{
			"task_id":  {Type: "string"},
			"agent_id": {Type: "string"},
		},
		Required: []string{"task_id", "agent_id"},
	},
	"task_complete": {
		Type: "object",
		Properties: map[string]Property{
			"task_id":        {Type: "string"},
			"agent_id":       {Type: "string"},
			"output_summary": {Type: "string"},
		},
		Required: []string{"task_id", "agent_id"},
	},
	"task_fail": {
		Type: "object",
		Properties: map[string]Property{
			"task_id":  {Type: "string"},
			"agent_id": {Type: "string"},
			"error":    {Type: "string"},
		},
		Required: []string{"task_id", "agent_id"},
	},
	"task_cancel": {
		Type: "object",
		Properties: map[string]Property{
			"task_id": {Type: "string"},
			"reason":  {Type: "string"},
		},
		Required: []string{"task_id"},
	},
	"task_get": {
		Type: "object",
		Properties: map[string]Property{
			"task_id": {Type: "string"},
		},
		Required: []string{"task_id"},
	},
	"task_list": {
		Type: "object",
		Properties: map[string]Property{
			"status":   {Type: "string", Enum: []string{"pending", "queued", "claimed", "running", "done", "failed", "cancelled"}},
			"agent_id": {Type: "string"},
			"limit":    {Type: "number", Default: 50},
		},
	},
	"status": {
		Type: "object",
	},
}

func schemaFor(name string) InputSchema {
	if s, ok := schemas[name]; ok {
		return s
	}
	return InputSchema{Type: "object"}
}
