package dmn

import (
	"errors"
	"testing"

	"github.com/opensource-decisions/kestrel/internal/domain"
)

const riskTableXML = `<?xml version="1.0" encoding="UTF-8"?>
<definitions xmlns="https://www.omg.org/spec/DMN/20191111/MODEL/" id="defs1" name="risk">
  <decision id="riskLevel" name="Risk Level">
    <decisionTable hitPolicy="FIRST">
      <input id="i1" label="Credit Score">
        <inputExpression typeRef="number"><text>score</text></inputExpression>
      </input>
      <input id="i2" label="Tier">
        <inputExpression typeRef="string"><text>tier</text></inputExpression>
      </input>
      <output id="o1" label="Risk" name="risk" typeRef="string"/>
      <rule id="row1">
        <inputEntry><text>&gt;= 700</text></inputEntry>
        <inputEntry><text>"gold"</text></inputEntry>
        <outputEntry><text>"LOW"</text></outputEntry>
      </rule>
      <rule id="row2">
        <inputEntry><text>&lt; 400</text></inputEntry>
        <inputEntry><text>-</text></inputEntry>
        <outputEntry><text>"HIGH"</text></outputEntry>
      </rule>
    </decisionTable>
  </decision>
</definitions>`

func TestParseDecisionTable(t *testing.T) {
	model, err := Parse([]byte(riskTableXML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if len(model.Decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(model.Decisions))
	}

	d := model.Decisions[0]
	if d.Meta.ID != "riskLevel" || d.Meta.Name != "Risk Level" {
		t.Errorf("unexpected metadata: %+v", d.Meta)
	}
	if d.Meta.HitPolicy != domain.HitPolicyFirst {
		t.Errorf("expected FIRST hit policy, got %q", d.Meta.HitPolicy)
	}
	if !d.Meta.FirstMatchOnly() {
		t.Error("FIRST must stop at first match")
	}

	if len(d.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(d.Rules))
	}

	r1 := d.Rules[0]
	if r1.ID != "riskLevel_R0001" {
		t.Errorf("unexpected rule id %q", r1.ID)
	}
	if r1.Expression != `score >= 700 && tier == "gold"` {
		t.Errorf("unexpected expression %q", r1.Expression)
	}
	if r1.Priority != 1 || r1.Weight != 1.0 || !r1.Enabled {
		t.Errorf("unexpected rule defaults: %+v", r1)
	}
	if r1.ActionResult != "LOW" {
		t.Errorf("expected action LOW, got %q", r1.ActionResult)
	}
	if r1.Outputs["Risk"] != "LOW" {
		t.Errorf("expected output Risk=LOW, got %v", r1.Outputs)
	}
	if r1.DecisionID != "riskLevel" {
		t.Errorf("rule must carry its decision id, got %q", r1.DecisionID)
	}

	// Wildcard entries translate to an equals-empty-string check.
	r2 := d.Rules[1]
	if r2.Expression != `score < 400 && tier == ""` {
		t.Errorf("unexpected wildcard expression %q", r2.Expression)
	}
	if r2.Priority != 2 {
		t.Errorf("row order must drive priority, got %d", r2.Priority)
	}
}

func TestParseDefaultHitPolicyIsUnique(t *testing.T) {
	doc := `<definitions xmlns="https://www.omg.org/spec/DMN/20191111/MODEL/">
  <decision id="d1" name="D1">
    <decisionTable>
      <input label="X"><inputExpression><text>x</text></inputExpression></input>
      <output label="Out" name="out"/>
      <rule><inputEntry><text>1</text></inputEntry><outputEntry><text>"A"</text></outputEntry></rule>
    </decisionTable>
  </decision>
</definitions>`

	model, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	meta := model.Decisions[0].Meta
	if meta.HitPolicy != domain.HitPolicyUnique {
		t.Errorf("expected UNIQUE default, got %q", meta.HitPolicy)
	}
	if !meta.FirstMatchOnly() {
		t.Error("UNIQUE must stop at first match")
	}
}

func TestParseOlderNamespace(t *testing.T) {
	doc := `<definitions xmlns="http://www.omg.org/spec/DMN/20151101/dmn.xsd">
  <decision id="d1" name="D1">
    <decisionTable hitPolicy="COLLECT">
      <input label="X"><inputExpression><text>x</text></inputExpression></input>
      <output label="Out"/>
      <rule><inputEntry><text>&gt; 0</text></inputEntry><outputEntry><text>"A"</text></outputEntry></rule>
    </decisionTable>
  </decision>
</definitions>`

	model, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("DMN 1.1 namespace must parse: %v", err)
	}
	if model.Namespace != "http://www.omg.org/spec/DMN/20151101/dmn.xsd" {
		t.Errorf("unexpected namespace %q", model.Namespace)
	}
	meta := model.Decisions[0].Meta
	if meta.FirstMatchOnly() {
		t.Error("COLLECT must evaluate every row")
	}
}

func TestParseUnknownNamespaceStillParses(t *testing.T) {
	doc := `<definitions xmlns="urn:example:custom-dmn">
  <decision id="d1" name="D1">
    <decisionTable>
      <input label="X"><inputExpression><text>x</text></inputExpression></input>
      <output label="Out"/>
      <rule><inputEntry><text>5</text></inputEntry><outputEntry><text>"A"</text></outputEntry></rule>
    </decisionTable>
  </decision>
</definitions>`

	model, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unknown namespace must still parse by local names: %v", err)
	}
	if len(model.Decisions[0].Rules) != 1 {
		t.Errorf("expected 1 rule, got %d", len(model.Decisions[0].Rules))
	}
}

func TestParseMalformedRowSkipped(t *testing.T) {
	doc := `<definitions xmlns="https://www.omg.org/spec/DMN/20191111/MODEL/">
  <decision id="d1" name="D1">
    <decisionTable>
      <input label="A"><inputExpression><text>a</text></inputExpression></input>
      <input label="B"><inputExpression><text>b</text></inputExpression></input>
      <output label="Out"/>
      <rule>
        <inputEntry><text>1</text></inputEntry>
        <outputEntry><text>"bad"</text></outputEntry>
      </rule>
      <rule>
        <inputEntry><text>1</text></inputEntry>
        <inputEntry><text>2</text></inputEntry>
        <outputEntry><text>"good"</text></outputEntry>
      </rule>
    </decisionTable>
  </decision>
</definitions>`

	model, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rules := model.Decisions[0].Rules
	if len(rules) != 1 {
		t.Fatalf("malformed row must be dropped, got %d rules", len(rules))
	}
	if rules[0].ActionResult != "good" {
		t.Errorf("wrong surviving rule: %+v", rules[0])
	}
	// Priority still reflects the original row index.
	if rules[0].Priority != 2 {
		t.Errorf("expected priority 2, got %d", rules[0].Priority)
	}
}

func TestParseInputFieldResolution(t *testing.T) {
	doc := `<definitions xmlns="https://www.omg.org/spec/DMN/20191111/MODEL/">
  <decision id="d1" name="D1">
    <decisionTable>
      <input label="Annotated" inputVariable="annotated_var"/>
      <input label="From Expression"><inputExpression><text>expr_field</text></inputExpression></input>
      <input label="Display Label Only"/>
      <output label="Out"/>
      <rule>
        <inputEntry><text>1</text></inputEntry>
        <inputEntry><text>2</text></inputEntry>
        <inputEntry><text>3</text></inputEntry>
        <outputEntry><text>"A"</text></outputEntry>
      </rule>
    </decisionTable>
  </decision>
</definitions>`

	model, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	inputs := model.Decisions[0].Meta.Inputs
	if inputs[0].Field != "annotated_var" {
		t.Errorf("inputVariable must win, got %q", inputs[0].Field)
	}
	if inputs[1].Field != "expr_field" {
		t.Errorf("expression text is second choice, got %q", inputs[1].Field)
	}
	if inputs[2].Field != "display_label_only" {
		t.Errorf("label is normalized as last resort, got %q", inputs[2].Field)
	}

	expr := model.Decisions[0].Rules[0].Expression
	want := "annotated_var == 1 && expr_field == 2 && display_label_only == 3"
	if expr != want {
		t.Errorf("expression = %q, want %q", expr, want)
	}
}

func TestParseOutputFieldMapping(t *testing.T) {
	doc := `<definitions xmlns="https://www.omg.org/spec/DMN/20191111/MODEL/">
  <decision id="d1" name="D1">
    <decisionTable>
      <input label="X"><inputExpression><text>x</text></inputExpression></input>
      <output label="guestsOk" name="eligible" typeRef="boolean"/>
      <rule><inputEntry><text>1</text></inputEntry><outputEntry><text>true</text></outputEntry></rule>
    </decisionTable>
  </decision>
</definitions>`

	model, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	meta := model.Decisions[0].Meta
	if meta.Outputs[0].Field != "eligible" {
		t.Errorf("output name attribute must drive the field, got %q", meta.Outputs[0].Field)
	}
	if meta.OutputFields["guestsOk"] != "eligible" {
		t.Errorf("label must map to field, got %v", meta.OutputFields)
	}

	// Boolean output entries keep their type.
	if model.Decisions[0].Rules[0].Outputs["guestsOk"] != true {
		t.Errorf("expected boolean output, got %v", model.Decisions[0].Rules[0].Outputs)
	}
}

func TestParseRequirements(t *testing.T) {
	doc := `<definitions xmlns="https://www.omg.org/spec/DMN/20191111/MODEL/">
  <decision id="downstream" name="Downstream">
    <informationRequirement><requiredDecision href="#upstream"/></informationRequirement>
    <informationRequirement><requiredDecision href="#other"/></informationRequirement>
  </decision>
  <decision id="upstream" name="Upstream"/>
  <decision id="other" name="Other"/>
</definitions>`

	model, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	requires := model.Decisions[0].Meta.Requires
	if len(requires) != 2 || requires[0] != "upstream" || requires[1] != "other" {
		t.Errorf("unexpected requirements %v", requires)
	}
}

func TestParseInvalidXML(t *testing.T) {
	_, err := Parse([]byte("not xml at all <<<"))
	if err == nil {
		t.Fatal("expected error for invalid XML")
	}
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindConfiguration {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestParseNoDecisions(t *testing.T) {
	_, err := Parse([]byte(`<definitions xmlns="https://www.omg.org/spec/DMN/20191111/MODEL/"/>`))
	if err == nil {
		t.Fatal("expected error for document without decisions")
	}
	var de *domain.Error
	if !errors.As(err, &de) || de.Code != "no_decisions" {
		t.Errorf("expected no_decisions error, got %v", err)
	}
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile("/nonexistent/model.dmn")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var de *domain.Error
	if !errors.As(err, &de) || de.Code != "unreadable_file" {
		t.Errorf("expected unreadable_file error, got %v", err)
	}
}

func TestModelHelpers(t *testing.T) {
	model, err := Parse([]byte(riskTableXML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if model.Decision("riskLevel") == nil {
		t.Error("expected decision lookup to succeed")
	}
	if model.Decision("ghost") != nil {
		t.Error("expected nil for unknown decision")
	}
	if len(model.AllRules()) != 2 {
		t.Errorf("expected 2 flattened rules, got %d", len(model.AllRules()))
	}
	if len(model.Metadata()) != 1 {
		t.Errorf("expected 1 metadata entry, got %d", len(model.Metadata()))
	}
}
