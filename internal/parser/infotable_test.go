package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whaleinsight/internal/domain"
)

func holdingsArtifact() domain.FilingArtifact {
	return domain.FilingArtifact{
		AccessionNumber: "0000950123-25-011111",
		InstitutionCIK:  "0001067983",
		FilingFormType:  domain.FormHoldingsReport,
		FilingDate:      "2025-11-14",
		ReportPeriod:    "2025-09-30",
		RawPayload:      []byte(`{}`),
	}
}

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func requireDiagnostic(t *testing.T, err error, code Code) Diagnostic {
	t.Helper()
	var perr *Error
	require.True(t, errors.As(err, &perr), "expected parser error, got %v", err)
	assert.Equal(t, code, perr.Diagnostic.Code)
	return perr.Diagnostic
}

func TestParseInformationTable(t *testing.T) {
	for _, fixture := range []string{"13f-hr.xml", "13f-hr-prefixed.xml"} {
		t.Run(fixture, func(t *testing.T) {
			result, err := ParseInformationTable(holdingsArtifact(), readFixture(t, fixture))
			require.NoError(t, err)

			assert.Equal(t, domain.StatusHoldings, result.Status)
			assert.Equal(t, "0000950123-25-011111", result.AccessionNumber)
			require.Len(t, result.Holdings, 3)

			first := result.Holdings[0]
			assert.Equal(t, 1, first.RowNumber)
			assert.Equal(t, "APPLE INC", first.IssuerName)
			assert.Equal(t, "COM", first.ClassTitle)
			assert.Equal(t, "037833100", first.CUSIP)
			assert.Equal(t, "AAPL", first.Ticker)
			assert.True(t, first.ValueThousands.Equal(decimal.NewFromInt(1234)))
			assert.True(t, first.Shares.Equal(decimal.NewFromInt(10000)))
			assert.Equal(t, domain.ActionKeep, first.Action)

			assert.Equal(t, "JOHNSON & JOHNSON", result.Holdings[1].IssuerName)
			assert.Empty(t, result.Holdings[2].Ticker)
			assert.Equal(t, 3, result.Holdings[2].RowNumber)
		})
	}
}

func TestParseInformationTableIsDeterministic(t *testing.T) {
	doc := readFixture(t, "13f-hr.xml")
	first, err := ParseInformationTable(holdingsArtifact(), doc)
	require.NoError(t, err)
	second, err := ParseInformationTable(holdingsArtifact(), doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseInformationTableNoticeOnly(t *testing.T) {
	artifact := holdingsArtifact()
	artifact.FilingFormType = domain.FormNoticeAmendment
	artifact.IsNotice = true
	artifact.IsAmendment = true
	artifact.AmendsAccessionNumber = "0000950123-25-010000"

	result, err := ParseInformationTable(artifact, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNoticeOnly, result.Status)
	assert.Empty(t, result.Holdings)
	assert.Equal(t, "0000950123-25-010000", result.AmendsAccessionNumber)
}

func TestParseInformationTableDiagnostics(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		_, err := ParseInformationTable(holdingsArtifact(), "   ")
		d := requireDiagnostic(t, err, CodeMissingInformationTable)
		assert.Equal(t, "0000950123-25-011111", d.AccessionNumber)
	})

	t.Run("mismatched tags", func(t *testing.T) {
		_, err := ParseInformationTable(holdingsArtifact(), `<informationTable><infoTable><cusip>1</value></infoTable></informationTable>`)
		requireDiagnostic(t, err, CodeInvalidXML)
	})

	t.Run("unclosed tags", func(t *testing.T) {
		_, err := ParseInformationTable(holdingsArtifact(), `<informationTable><infoTable>`)
		requireDiagnostic(t, err, CodeInvalidXML)
	})

	t.Run("no rows", func(t *testing.T) {
		_, err := ParseInformationTable(holdingsArtifact(), `<?xml version="1.0"?><informationTable></informationTable>`)
		requireDiagnostic(t, err, CodeMissingInformationTable)
	})

	t.Run("missing cusip", func(t *testing.T) {
		doc := `<informationTable>
			<infoTable><nameOfIssuer>A</nameOfIssuer><cusip>037833100</cusip><value>1</value><shrsOrPrnAmt><sshPrnamt>1</sshPrnamt></shrsOrPrnAmt></infoTable>
			<infoTable><nameOfIssuer>B</nameOfIssuer><value>1</value><shrsOrPrnAmt><sshPrnamt>1</sshPrnamt></shrsOrPrnAmt></infoTable>
		</informationTable>`
		_, err := ParseInformationTable(holdingsArtifact(), doc)
		d := requireDiagnostic(t, err, CodeMissingRequiredNode)
		assert.Equal(t, 2, d.RowNumber)
		assert.Equal(t, "cusip", d.NodeName)
	})

	t.Run("missing shares", func(t *testing.T) {
		doc := `<informationTable><infoTable><nameOfIssuer>A</nameOfIssuer><cusip>037833100</cusip><value>1</value><shrsOrPrnAmt/></infoTable></informationTable>`
		_, err := ParseInformationTable(holdingsArtifact(), doc)
		d := requireDiagnostic(t, err, CodeMissingRequiredNode)
		assert.Equal(t, "sshPrnamt", d.NodeName)
	})

	t.Run("negative value", func(t *testing.T) {
		doc := `<informationTable><infoTable><nameOfIssuer>A</nameOfIssuer><cusip>037833100</cusip><value>-5</value><shrsOrPrnAmt><sshPrnamt>1</sshPrnamt></shrsOrPrnAmt></infoTable></informationTable>`
		_, err := ParseInformationTable(holdingsArtifact(), doc)
		d := requireDiagnostic(t, err, CodeInvalidNumericValue)
		assert.Equal(t, "value", d.NodeName)
		assert.Equal(t, 1, d.RowNumber)
	})

	t.Run("non numeric shares", func(t *testing.T) {
		doc := `<informationTable><infoTable><nameOfIssuer>A</nameOfIssuer><cusip>037833100</cusip><value>5</value><shrsOrPrnAmt><sshPrnamt>lots</sshPrnamt></shrsOrPrnAmt></infoTable></informationTable>`
		_, err := ParseInformationTable(holdingsArtifact(), doc)
		d := requireDiagnostic(t, err, CodeInvalidNumericValue)
		assert.Equal(t, "sshPrnamt", d.NodeName)
	})
}

func TestParseInformationTableTolerantText(t *testing.T) {
	row := func(issuer string) string {
		return `<informationTable><infoTable><nameOfIssuer>` + issuer +
			`</nameOfIssuer><cusip>037833100</cusip><value>1</value><shrsOrPrnAmt><sshPrnamt>1</sshPrnamt></shrsOrPrnAmt></infoTable></informationTable>`
	}

	t.Run("mixed namespace prefixes", func(t *testing.T) {
		doc := `<ns1:informationTable xmlns:ns1="a" xmlns:ns2="a"><ns1:infoTable><ns2:nameOfIssuer>APPLE INC</ns1:nameOfIssuer>` +
			`<ns1:cusip>037833100</ns2:cusip><value>1</ns1:value><ns2:shrsOrPrnAmt><ns1:sshPrnamt>10</ns2:sshPrnamt></ns1:shrsOrPrnAmt>` +
			`</ns2:infoTable></ns2:informationTable>`
		result, err := ParseInformationTable(holdingsArtifact(), doc)
		require.NoError(t, err)
		require.Len(t, result.Holdings, 1)
		assert.Equal(t, "APPLE INC", result.Holdings[0].IssuerName)
		assert.True(t, result.Holdings[0].Shares.Equal(decimal.NewFromInt(10)))
	})

	t.Run("bare ampersand", func(t *testing.T) {
		result, err := ParseInformationTable(holdingsArtifact(), row("AT&T INC"))
		require.NoError(t, err)
		assert.Equal(t, "AT&T INC", result.Holdings[0].IssuerName)
	})

	t.Run("only predefined entities decode", func(t *testing.T) {
		result, err := ParseInformationTable(holdingsArtifact(), row("A&nbsp;B&#65; &lt;C&gt; &amp;lt;"))
		require.NoError(t, err)
		assert.Equal(t, "A&nbsp;B&#65; <C> &lt;", result.Holdings[0].IssuerName)
	})

	t.Run("cdata kept verbatim", func(t *testing.T) {
		result, err := ParseInformationTable(holdingsArtifact(), row("<![CDATA[S&P &amp; CO]]>"))
		require.NoError(t, err)
		assert.Equal(t, "S&P &amp; CO", result.Holdings[0].IssuerName)
	})

	t.Run("mismatch reports expected tag", func(t *testing.T) {
		_, err := ParseInformationTable(holdingsArtifact(), `<a:informationTable><a:infoTable></a:cusip></a:informationTable>`)
		d := requireDiagnostic(t, err, CodeInvalidXML)
		assert.Contains(t, d.Message, "expected closing tag for <infoTable> but received </cusip>")
	})
}

func TestParseInformationTableValidatesRows(t *testing.T) {
	doc := `<informationTable><infoTable><nameOfIssuer>A</nameOfIssuer><cusip>12-34</cusip><value>5</value><shrsOrPrnAmt><sshPrnamt>1</sshPrnamt></shrsOrPrnAmt></infoTable></informationTable>`
	_, err := ParseInformationTable(holdingsArtifact(), doc)

	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "cusip", vErr.Field)
}
