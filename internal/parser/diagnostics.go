package parser

// Code classifies why an information table could not be parsed.
type Code string

const (
	CodeInvalidXML              Code = "invalid_xml"
	CodeMissingInformationTable Code = "missing_information_table"
	CodeMissingRequiredNode     Code = "missing_required_node"
	CodeInvalidNumericValue     Code = "invalid_numeric_value"
)

// Diagnostic locates a parse failure inside a filing.
type Diagnostic struct {
	Code            Code   `json:"code"`
	Message         string `json:"message"`
	AccessionNumber string `json:"accessionNumber,omitempty"`
	RowNumber       int    `json:"rowNumber,omitempty"`
	NodeName        string `json:"nodeName,omitempty"`
}

// Error reports a malformed upstream document.
type Error struct {
	Diagnostic Diagnostic
}

func (e *Error) Error() string {
	return "parser: " + e.Diagnostic.Message
}

func newError(d Diagnostic) *Error {
	return &Error{Diagnostic: d}
}
