package protocol

// Query is one statement plus optional parameter bindings.
type Query struct {
	Query  string   `json:"query"`
	Params []string `json:"params,omitempty"`
}

// ExecuteRequest is the outbound frame submitting one command. The command's
// statements are carried individually so the server can acknowledge each
// with its own CommandStarting/CommandComplete pair.
type ExecuteRequest struct {
	Queries []Query `json:"queries"`
	Cluster string  `json:"cluster,omitempty"`
}

// SessionParams are sent once at connection time and re-sent on change.
type SessionParams struct {
	ApplicationName    string `json:"application_name,omitempty"`
	MaxQueryResultSize string `json:"max_query_result_size,omitempty"`
	Cluster            string `json:"cluster,omitempty"`
	Database           string `json:"database,omitempty"`
	SearchPath         string `json:"search_path,omitempty"`
	// Feature-flag-driven toggles, e.g. plan-insight emission.
	Options map[string]string `json:"options,omitempty"`
}
