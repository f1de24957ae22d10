package domain

// WriteRule is a CEL predicate a record must satisfy before it is written.
// The expression sees the merged record as the map variable "record" and
// must return bool.
type WriteRule struct {
	ID          string `json:"id" yaml:"id"`
	Entity      string `json:"entity" yaml:"entity"`
	Description string `json:"description" yaml:"description"`
	Expression  string `json:"expression" yaml:"expression"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// RuleViolation reports a rule the record failed.
type RuleViolation struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
}
