package parser

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"whaleinsight/internal/domain"
)

// Version identifies this parser on ledger rows.
const Version = "information-table-v1"

// rowNodes maps lower-cased local element names to their first trimmed text.
type rowNodes map[string]string

// ParseInformationTable normalizes the holdings table of one filing.
// Notice forms yield StatusNoticeOnly with no holdings regardless of document.
func ParseInformationTable(artifact domain.FilingArtifact, document string) (domain.ParsedInformationTable, error) {
	result := domain.ParsedInformationTable{
		AccessionNumber:       artifact.AccessionNumber,
		InstitutionCIK:        artifact.InstitutionCIK,
		ReportPeriod:          artifact.ReportPeriod,
		FilingDate:            artifact.FilingDate,
		FilingFormType:        artifact.FilingFormType,
		IsAmendment:           artifact.IsAmendment,
		AmendsAccessionNumber: artifact.AmendsAccessionNumber,
		Holdings:              []domain.NormalizedHoldingRecord{},
	}
	accession := artifact.AccessionNumber

	if artifact.FilingFormType.IsNotice() {
		result.Status = domain.StatusNoticeOnly
		return result, nil
	}

	if strings.TrimSpace(document) == "" {
		return domain.ParsedInformationTable{}, newError(Diagnostic{
			Code:            CodeMissingInformationTable,
			AccessionNumber: accession,
			Message:         fmt.Sprintf("Information table XML is required for accession %s.", accession),
		})
	}

	rows, err := scanRows(document, accession)
	if err != nil {
		return domain.ParsedInformationTable{}, err
	}
	if len(rows) == 0 {
		return domain.ParsedInformationTable{}, newError(Diagnostic{
			Code:            CodeMissingInformationTable,
			AccessionNumber: accession,
			Message:         fmt.Sprintf("No <infoTable> rows found in information table XML for accession %s.", accession),
		})
	}

	holdings := make([]domain.NormalizedHoldingRecord, 0, len(rows))
	for i, row := range rows {
		holding, rowErr := parseRow(row, accession, i+1)
		if rowErr != nil {
			return domain.ParsedInformationTable{}, rowErr
		}
		holdings = append(holdings, holding)
	}

	result.Status = domain.StatusHoldings
	result.Holdings = holdings
	return result, nil
}

var xmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// scanRows checks tag balance and collects every infoTable row in one pass.
// Tags match on their local name, so prefixes may differ between open and close.
// Only the five predefined entities are decoded; anything else stays literal.
func scanRows(document, accession string) ([]rowNodes, error) {
	var (
		rows     []rowNodes
		current  rowNodes
		rowDepth int
		stack    []string
		text     strings.Builder
		pos      int
	)

	for {
		lt := strings.IndexByte(document[pos:], '<')
		if lt < 0 {
			break
		}
		lt += pos
		if current != nil {
			text.WriteString(document[pos:lt])
		}

		rest := document[lt:]
		switch {
		case strings.HasPrefix(rest, "<!--"):
			end := strings.Index(rest[4:], "-->")
			if end < 0 {
				return nil, invalidXML(accession, fmt.Sprintf("Malformed XML for accession %s; unterminated comment.", accession))
			}
			pos = lt + 4 + end + 3
			continue
		case strings.HasPrefix(rest, "<![CDATA["):
			end := strings.Index(rest[9:], "]]>")
			if end < 0 {
				return nil, invalidXML(accession, fmt.Sprintf("Malformed XML for accession %s; unterminated CDATA section.", accession))
			}
			if current != nil {
				text.WriteString(strings.ReplaceAll(rest[9:9+end], "&", "&amp;"))
			}
			pos = lt + 9 + end + 3
			continue
		}

		gt := strings.IndexByte(rest[1:], '>')
		if gt < 0 {
			return nil, invalidXML(accession, fmt.Sprintf("Malformed XML for accession %s; unterminated tag.", accession))
		}
		tag := strings.TrimSpace(rest[1 : 1+gt])
		pos = lt + 1 + gt + 1
		if strings.ContainsRune(tag, '<') {
			return nil, invalidXML(accession, fmt.Sprintf("Invalid XML tag token detected for accession %s.", accession))
		}
		if strings.HasPrefix(tag, "?") || strings.HasPrefix(tag, "!") {
			continue
		}

		closing := strings.HasPrefix(tag, "/")
		selfClosing := !closing && strings.HasSuffix(tag, "/")
		name := localName(strings.TrimSuffix(strings.TrimPrefix(tag, "/"), "/"))
		if name == "" {
			return nil, invalidXML(accession, fmt.Sprintf("Invalid XML tag token detected for accession %s.", accession))
		}
		lower := strings.ToLower(name)

		switch {
		case closing:
			if len(stack) == 0 || stack[len(stack)-1] != name {
				expected := ""
				if len(stack) > 0 {
					expected = stack[len(stack)-1]
				}
				return nil, invalidXML(accession, fmt.Sprintf(
					"Malformed XML for accession %s; expected closing tag for <%s> but received </%s>.", accession, expected, name))
			}
			stack = stack[:len(stack)-1]
			if current == nil {
				continue
			}
			if len(stack) < rowDepth {
				rows = append(rows, current)
				current = nil
				continue
			}
			if _, seen := current[lower]; !seen {
				current[lower] = decodeText(text.String())
			}
			text.Reset()
		case selfClosing:
			if current != nil {
				if _, seen := current[lower]; !seen {
					current[lower] = ""
				}
			}
		default:
			stack = append(stack, name)
			if current == nil {
				if lower == "infotable" {
					current = rowNodes{}
					rowDepth = len(stack)
				}
				continue
			}
			text.Reset()
		}
	}

	if len(stack) > 0 {
		return nil, invalidXML(accession, fmt.Sprintf(
			"Malformed XML for accession %s; unclosed tags remain: %s.", accession, strings.Join(stack, ", ")))
	}
	return rows, nil
}

// localName drops attributes and any namespace prefix from a tag body.
func localName(tag string) string {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return ""
	}
	name := fields[0]
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func decodeText(raw string) string {
	return strings.TrimSpace(xmlEntities.Replace(raw))
}

func invalidXML(accession, message string) error {
	return newError(Diagnostic{
		Code:            CodeInvalidXML,
		AccessionNumber: accession,
		Message:         message,
	})
}

func parseRow(row rowNodes, accession string, rowNumber int) (domain.NormalizedHoldingRecord, error) {
	issuer, err := requiredNode(row, "nameOfIssuer", accession, rowNumber)
	if err != nil {
		return domain.NormalizedHoldingRecord{}, err
	}
	cusip, err := requiredNode(row, "cusip", accession, rowNumber)
	if err != nil {
		return domain.NormalizedHoldingRecord{}, err
	}
	rawValue, err := requiredNode(row, "value", accession, rowNumber)
	if err != nil {
		return domain.NormalizedHoldingRecord{}, err
	}
	value, err := numericNode(rawValue, "value", accession, rowNumber)
	if err != nil {
		return domain.NormalizedHoldingRecord{}, err
	}
	rawShares, err := requiredNode(row, "sshPrnamt", accession, rowNumber)
	if err != nil {
		return domain.NormalizedHoldingRecord{}, err
	}
	shares, err := numericNode(rawShares, "sshPrnamt", accession, rowNumber)
	if err != nil {
		return domain.NormalizedHoldingRecord{}, err
	}

	holding := domain.NormalizedHoldingRecord{
		RowNumber:      rowNumber,
		IssuerName:     issuer,
		ClassTitle:     row["titleofclass"],
		CUSIP:          strings.ToUpper(cusip),
		Ticker:         strings.ToUpper(row["symbol"]),
		ValueThousands: value,
		Shares:         shares,
		Action:         domain.ActionKeep,
	}
	if err := holding.Validate(); err != nil {
		return domain.NormalizedHoldingRecord{}, err
	}
	return holding, nil
}

func requiredNode(row rowNodes, node, accession string, rowNumber int) (string, error) {
	value := row[strings.ToLower(node)]
	if value == "" {
		return "", newError(Diagnostic{
			Code:            CodeMissingRequiredNode,
			AccessionNumber: accession,
			RowNumber:       rowNumber,
			NodeName:        node,
			Message:         fmt.Sprintf("Missing required XML node <%s> for accession %s row %d.", node, accession, rowNumber),
		})
	}
	return value, nil
}

func numericNode(raw, node, accession string, rowNumber int) (decimal.Decimal, error) {
	parsed, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil || parsed.IsNegative() {
		return decimal.Zero, newError(Diagnostic{
			Code:            CodeInvalidNumericValue,
			AccessionNumber: accession,
			RowNumber:       rowNumber,
			NodeName:        node,
			Message:         fmt.Sprintf("Invalid numeric value in <%s> for accession %s row %d.", node, accession, rowNumber),
		})
	}
	return parsed, nil
}
