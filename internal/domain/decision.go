package domain

// InputColumn describes one input column of a DMN decision table.
type InputColumn struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	TypeRef string `json:"typeRef"`

	// Field is the resolved data-record key this column reads from.
	Field string `json:"field"`
}

// OutputColumn describes one output column of a DMN decision table.
type OutputColumn struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Name    string `json:"name,omitempty"`
	TypeRef string `json:"typeRef"`

	// Field is the data-record key matched output values are written to.
	Field string `json:"field"`
}

// DecisionMetadata describes one parsed DMN decision: its columns, its
// upstream dependencies, and the label -> field mapping used to write matched
// outputs back into the shared execution context. Built once per parse and
// held only for the duration of one execution.
type DecisionMetadata struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	HitPolicy string         `json:"hitPolicy"`
	Inputs    []InputColumn  `json:"inputs"`
	Outputs   []OutputColumn `json:"outputs"`

	// Requires lists the ids of upstream decisions this decision depends on.
	Requires []string `json:"requires,omitempty"`

	// OutputFields maps an output label to the record field it writes.
	OutputFields map[string]string `json:"outputFields"`
}

// Hit policies with dedicated handling. Everything else evaluates every row,
// last matching output wins.
const (
	HitPolicyUnique = "UNIQUE"
	HitPolicyFirst  = "FIRST"
)

// FirstMatchOnly reports whether row evaluation stops at the first match.
func (d *DecisionMetadata) FirstMatchOnly() bool {
	return d.HitPolicy == "" || d.HitPolicy == HitPolicyUnique || d.HitPolicy == HitPolicyFirst
}

// DecisionModel is a stored DMN document.
type DecisionModel struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	XML      string `json:"xml"`
	Checksum string `json:"checksum"`
	Enabled  bool   `json:"enabled"`
}
