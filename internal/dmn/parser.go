// Package dmn parses DMN decision-table documents and executes multi-decision
// chains in dependency order.
package dmn

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/opensource-decisions/kestrel/internal/condition"
	"github.com/opensource-decisions/kestrel/internal/domain"
)

// Known DMN schema namespaces. Element matching is by local name, so other
// revisions parse too; these are only used to report the detected version.
var knownNamespaces = map[string]string{
	"http://www.omg.org/spec/DMN/20151101/dmn.xsd":  "1.1",
	"http://www.omg.org/spec/DMN/20180521/MODEL/":   "1.2",
	"https://www.omg.org/spec/DMN/20191111/MODEL/":  "1.3",
}

// ParsedDecision pairs one decision's metadata with the rules generated from
// its table rows.
type ParsedDecision struct {
	Meta  *domain.DecisionMetadata
	Rules []*domain.RuleConfig
}

// Model is a fully parsed DMN document. Decisions keep declaration order.
type Model struct {
	Namespace string
	Decisions []*ParsedDecision
}

// Decision returns the parsed decision with the given id, or nil.
func (m *Model) Decision(id string) *ParsedDecision {
	for _, d := range m.Decisions {
		if d.Meta.ID == id {
			return d
		}
	}
	return nil
}

// AllRules flattens every decision's rules in declaration order.
func (m *Model) AllRules() []*domain.RuleConfig {
	var out []*domain.RuleConfig
	for _, d := range m.Decisions {
		out = append(out, d.Rules...)
	}
	return out
}

// Metadata returns every decision's metadata in declaration order.
func (m *Model) Metadata() []*domain.DecisionMetadata {
	out := make([]*domain.DecisionMetadata, 0, len(m.Decisions))
	for _, d := range m.Decisions {
		out = append(out, d.Meta)
	}
	return out
}

// XML shapes. Tags use local names only so all namespace revisions bind.

type definitionsXML struct {
	XMLName   xml.Name      `xml:"definitions"`
	Decisions []decisionXML `xml:"decision"`
}

type decisionXML struct {
	ID           string                      `xml:"id,attr"`
	Name         string                      `xml:"name,attr"`
	Requirements []informationRequirementXML `xml:"informationRequirement"`
	Table        *decisionTableXML           `xml:"decisionTable"`
}

type informationRequirementXML struct {
	RequiredDecision *hrefXML `xml:"requiredDecision"`
}

type hrefXML struct {
	Href string `xml:"href,attr"`
}

type decisionTableXML struct {
	HitPolicy string      `xml:"hitPolicy,attr"`
	Inputs    []inputXML  `xml:"input"`
	Outputs   []outputXML `xml:"output"`
	Rules     []ruleXML   `xml:"rule"`
}

type inputXML struct {
	ID            string              `xml:"id,attr"`
	Label         string              `xml:"label,attr"`
	InputVariable string              `xml:"inputVariable,attr"`
	Expression    *inputExpressionXML `xml:"inputExpression"`
}

type inputExpressionXML struct {
	TypeRef string `xml:"typeRef,attr"`
	Text    string `xml:"text"`
}

type outputXML struct {
	ID      string `xml:"id,attr"`
	Label   string `xml:"label,attr"`
	Name    string `xml:"name,attr"`
	TypeRef string `xml:"typeRef,attr"`
}

type ruleXML struct {
	ID            string     `xml:"id,attr"`
	InputEntries  []entryXML `xml:"inputEntry"`
	OutputEntries []entryXML `xml:"outputEntry"`
}

type entryXML struct {
	Text string `xml:"text"`
}

// ParseFile reads and parses a DMN document from disk.
func ParseFile(path string) (*Model, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.ConfigErr("unreadable_file", path, err)
	}
	return Parse(content)
}

// Parse parses a DMN document. Decisions without a decision table are kept
// for dependency metadata but contribute no rules. Malformed rows are dropped
// with a log line; only an unparseable document or one with no decisions at
// all aborts.
func Parse(content []byte) (*Model, error) {
	var defs definitionsXML
	if err := xml.Unmarshal(content, &defs); err != nil {
		return nil, domain.ConfigErr("invalid_xml", "", err)
	}
	if len(defs.Decisions) == 0 {
		return nil, domain.ConfigErr("no_decisions", "", fmt.Errorf("document contains no decision elements"))
	}

	model := &Model{Namespace: defs.XMLName.Space}
	if version, ok := knownNamespaces[model.Namespace]; ok {
		slog.Debug("detected DMN schema", "version", version, "namespace", model.Namespace)
	} else if model.Namespace != "" {
		slog.Warn("unrecognized DMN namespace, parsing by local names", "namespace", model.Namespace)
	}

	for _, d := range defs.Decisions {
		model.Decisions = append(model.Decisions, parseDecision(d))
	}

	return model, nil
}

// parseDecision builds one decision's metadata and rule rows.
func parseDecision(d decisionXML) *ParsedDecision {
	meta := &domain.DecisionMetadata{
		ID:           d.ID,
		Name:         d.Name,
		HitPolicy:    domain.HitPolicyUnique,
		Requires:     parseRequirements(d),
		OutputFields: make(map[string]string),
	}

	parsed := &ParsedDecision{Meta: meta}
	if d.Table == nil {
		slog.Debug("decision has no decision table", "decision_id", d.ID)
		return parsed
	}

	if d.Table.HitPolicy != "" {
		meta.HitPolicy = strings.ToUpper(strings.TrimSpace(d.Table.HitPolicy))
	}

	for _, in := range d.Table.Inputs {
		typeRef := ""
		if in.Expression != nil {
			typeRef = in.Expression.TypeRef
		}
		meta.Inputs = append(meta.Inputs, domain.InputColumn{
			ID:      in.ID,
			Label:   in.Label,
			TypeRef: typeRef,
			Field:   resolveInputField(in),
		})
	}

	for i, out := range d.Table.Outputs {
		col := domain.OutputColumn{
			ID:      out.ID,
			Label:   outputLabel(out, i),
			Name:    out.Name,
			TypeRef: out.TypeRef,
		}
		col.Field = out.Name
		if col.Field == "" {
			col.Field = condition.NormalizeField(col.Label)
		}
		meta.Outputs = append(meta.Outputs, col)
		meta.OutputFields[col.Label] = col.Field
	}

	for i, row := range d.Table.Rules {
		rule, ok := parseRow(meta, row, i+1)
		if !ok {
			continue
		}
		parsed.Rules = append(parsed.Rules, rule)
	}

	return parsed
}

// parseRow converts one table row to a prepared rule. Rows whose entry counts
// do not line up with the column definitions are dropped.
func parseRow(meta *domain.DecisionMetadata, row ruleXML, rowIndex int) (*domain.RuleConfig, bool) {
	if len(row.InputEntries) != len(meta.Inputs) || len(row.OutputEntries) != len(meta.Outputs) {
		slog.Warn("skipping malformed decision table row",
			"decision_id", meta.ID,
			"row", rowIndex,
			"input_entries", len(row.InputEntries),
			"input_columns", len(meta.Inputs),
			"output_entries", len(row.OutputEntries),
			"output_columns", len(meta.Outputs),
		)
		return nil, false
	}

	var parts []string
	var firstCond *domain.ConditionDefinition
	for i, entry := range row.InputEntries {
		col := meta.Inputs[i]
		op, constant := condition.FromFEEL(entry.Text, col.TypeRef)
		cond := domain.ConditionDefinition{
			Attribute: col.Field,
			Operator:  op,
			Constant:  constant,
		}
		part, err := condition.ToPredicate(cond)
		if err != nil {
			slog.Warn("skipping decision table row: untranslatable condition",
				"decision_id", meta.ID,
				"row", rowIndex,
				"error", err,
			)
			return nil, false
		}
		if firstCond == nil {
			c := cond
			firstCond = &c
		}
		parts = append(parts, part)
	}

	outputs := make(map[string]any, len(row.OutputEntries))
	actionResult := ""
	for i, entry := range row.OutputEntries {
		col := meta.Outputs[i]
		value := condition.EvalValue(entry.Text)
		outputs[col.Label] = value
		if i == 0 {
			actionResult = fmt.Sprintf("%v", value)
		}
	}

	return &domain.RuleConfig{
		ID:           fmt.Sprintf("%s_R%04d", meta.ID, rowIndex),
		Name:         fmt.Sprintf("%s - Rule %d", meta.Name, rowIndex),
		Expression:   condition.Combine(parts),
		Priority:     rowIndex,
		Weight:       1.0,
		ActionResult: actionResult,
		Condition:    firstCond,
		DecisionID:   meta.ID,
		Outputs:      outputs,
		Enabled:      true,
	}, true
}

// parseRequirements extracts upstream decision ids from the decision's
// informationRequirement elements. The href is a "#id" local reference.
func parseRequirements(d decisionXML) []string {
	var requires []string
	for _, req := range d.Requirements {
		if req.RequiredDecision == nil {
			continue
		}
		ref := strings.TrimPrefix(strings.TrimSpace(req.RequiredDecision.Href), "#")
		if ref == "" {
			continue
		}
		requires = append(requires, ref)
	}
	return requires
}

// resolveInputField picks the record field an input column reads from:
// explicit input-variable annotation, then the FEEL expression's reference,
// then the normalized display label.
func resolveInputField(in inputXML) string {
	if v := strings.TrimSpace(in.InputVariable); v != "" {
		return v
	}
	if in.Expression != nil {
		if t := strings.TrimSpace(in.Expression.Text); t != "" {
			return t
		}
	}
	return condition.NormalizeField(in.Label)
}

// outputLabel picks a stable label for an output column.
func outputLabel(out outputXML, index int) string {
	if out.Label != "" {
		return out.Label
	}
	if out.Name != "" {
		return out.Name
	}
	return fmt.Sprintf("output_%d", index+1)
}
