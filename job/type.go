package job

import "regexp"

// Type names the kind of work a job performs.
type Type string

// Known job types.
const (
	TypeCaseAnalysis        Type = "case-analysis"
	TypeStrategyPlanning    Type = "strategy-planning"
	TypeLegalResearch       Type = "legal-research"
	TypeEntityLookup        Type = "entity-lookup"
	TypeComplianceCheck     Type = "compliance-check"
	TypeDeadlineCalculation Type = "deadline-calculation"
	TypeDocumentGeneration  Type = "document-generation"
	TypeDocumentAnalysis    Type = "document-analysis"
	TypeDocumentEmbedding   Type = "document-embedding"
)

// KnownTypes lists every type with dedicated routing and handling.
func KnownTypes() []Type {
	return []Type{
		TypeCaseAnalysis,
		TypeStrategyPlanning,
		TypeLegalResearch,
		TypeEntityLookup,
		TypeComplianceCheck,
		TypeDeadlineCalculation,
		TypeDocumentGeneration,
		TypeDocumentAnalysis,
		TypeDocumentEmbedding,
	}
}

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(?:[-_:.][a-z0-9]+)*$`)

// WellFormed reports whether t is a syntactically valid type name. Unknown
// but well-formed types are accepted and handled generically.
func (t Type) WellFormed() bool {
	return len(t) <= 64 && typePattern.MatchString(string(t))
}

// Known reports whether t is one of KnownTypes.
func (t Type) Known() bool {
	switch t {
	case TypeCaseAnalysis, TypeStrategyPlanning, TypeLegalResearch, TypeEntityLookup,
		TypeComplianceCheck, TypeDeadlineCalculation, TypeDocumentGeneration,
		TypeDocumentAnalysis, TypeDocumentEmbedding:
		return true
	default:
		return false
	}
}

func (t Type) String() string { return string(t) }
