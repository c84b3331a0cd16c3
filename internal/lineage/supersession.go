package lineage

import (
	"sort"

	"whaleinsight/internal/domain"
)

// Record is the lineage trail entry of one filing.
type Record struct {
	AccessionNumber             string                    `json:"accessionNumber"`
	InstitutionCIK              string                    `json:"institutionCik"`
	ReportPeriod                string                    `json:"reportPeriod"`
	FilingDate                  string                    `json:"filingDate"`
	FilingFormType              domain.FilingFormType     `json:"filingFormType"`
	Status                      domain.ParsedFilingStatus `json:"status"`
	IsAmendment                 bool                      `json:"isAmendment"`
	AmendsAccessionNumber       string                    `json:"amendsAccessionNumber,omitempty"`
	RootAccessionNumber         string                    `json:"rootAccessionNumber"`
	SupersedesAccessionNumber   string                    `json:"supersedesAccessionNumber,omitempty"`
	SupersededByAccessionNumber string                    `json:"supersededByAccessionNumber,omitempty"`
	IsActive                    bool                      `json:"isActive"`
}

// Snapshot is the resolved state of a batch of filings.
type Snapshot struct {
	ActiveFilingByPeriod   map[string]string                           `json:"activeFilingByPeriod"`
	ActiveHoldingsByPeriod map[string][]domain.NormalizedHoldingRecord `json:"activeHoldingsByPeriod"`
	Lineage                []Record                                    `json:"lineage"`

	index map[string]int
}

// PeriodKey builds the composite institution/report-period key.
func PeriodKey(cik, reportPeriod string) string {
	return cik + ":" + reportPeriod
}

// BuildSnapshot folds filings in (filingDate, accession) order into a fresh snapshot.
// A filing supersedes the record it declares it amends when that record is known,
// otherwise whatever is active for its period. When two amendments declare the same
// target the one processed last stays active.
func BuildSnapshot(filings []domain.ParsedInformationTable) Snapshot {
	ordered := make([]domain.ParsedInformationTable, len(filings))
	copy(ordered, filings)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].FilingDate != ordered[j].FilingDate {
			return ordered[i].FilingDate < ordered[j].FilingDate
		}
		return ordered[i].AccessionNumber < ordered[j].AccessionNumber
	})

	var (
		byAccession = make(map[string]*Record, len(ordered))
		order       = make([]*Record, 0, len(ordered))
		active      = make(map[string]string)
		holdings    = make(map[string][]domain.NormalizedHoldingRecord)
	)

	for _, filing := range ordered {
		if _, dup := byAccession[filing.AccessionNumber]; dup {
			continue
		}
		key := PeriodKey(filing.InstitutionCIK, filing.ReportPeriod)

		var superseded *Record
		if filing.IsAmendment && filing.AmendsAccessionNumber != "" {
			superseded = byAccession[filing.AmendsAccessionNumber]
		}
		if superseded == nil {
			if acc, ok := active[key]; ok {
				superseded = byAccession[acc]
			}
		}

		record := &Record{
			AccessionNumber:       filing.AccessionNumber,
			InstitutionCIK:        filing.InstitutionCIK,
			ReportPeriod:          filing.ReportPeriod,
			FilingDate:            filing.FilingDate,
			FilingFormType:        filing.FilingFormType,
			Status:                filing.Status,
			IsAmendment:           filing.IsAmendment,
			AmendsAccessionNumber: filing.AmendsAccessionNumber,
			IsActive:              true,
		}
		switch {
		case superseded != nil:
			record.RootAccessionNumber = superseded.RootAccessionNumber
			record.SupersedesAccessionNumber = superseded.AccessionNumber
			superseded.SupersededByAccessionNumber = record.AccessionNumber
			superseded.IsActive = false
		case filing.AmendsAccessionNumber != "":
			record.RootAccessionNumber = filing.AmendsAccessionNumber
		default:
			record.RootAccessionNumber = filing.AccessionNumber
		}

		// a branch off an older record still retires the current period head
		if acc, ok := active[key]; ok {
			if head := byAccession[acc]; head != nil && head != superseded && head.IsActive {
				head.IsActive = false
				if head.SupersededByAccessionNumber == "" {
					head.SupersededByAccessionNumber = record.AccessionNumber
				}
			}
		}

		byAccession[record.AccessionNumber] = record
		order = append(order, record)

		active[key] = record.AccessionNumber
		if filing.Status == domain.StatusNoticeOnly {
			holdings[key] = []domain.NormalizedHoldingRecord{}
		} else {
			holdings[key] = filing.Holdings
		}
	}

	snapshot := Snapshot{
		ActiveFilingByPeriod:   active,
		ActiveHoldingsByPeriod: holdings,
		Lineage:                make([]Record, len(order)),
		index:                  make(map[string]int, len(order)),
	}
	for i, record := range order {
		snapshot.Lineage[i] = *record
		snapshot.index[record.AccessionNumber] = i
	}
	return snapshot
}

// Record looks up the lineage entry of an accession.
func (s Snapshot) Record(accession string) (Record, bool) {
	i, ok := s.index[accession]
	if !ok {
		return Record{}, false
	}
	return s.Lineage[i], true
}

// ActiveRecord returns the authoritative filing of an institution's period.
func (s Snapshot) ActiveRecord(cik, reportPeriod string) (Record, bool) {
	acc, ok := s.ActiveFilingByPeriod[PeriodKey(cik, reportPeriod)]
	if !ok {
		return Record{}, false
	}
	return s.Record(acc)
}

// ActiveHoldings returns the holdings of an institution's active filing for a period.
func (s Snapshot) ActiveHoldings(cik, reportPeriod string) []domain.NormalizedHoldingRecord {
	return s.ActiveHoldingsByPeriod[PeriodKey(cik, reportPeriod)]
}

// Chain walks supersedes pointers from accession back to its root, newest first.
func (s Snapshot) Chain(accession string) []Record {
	chain := make([]Record, 0)
	seen := make(map[string]bool)
	for accession != "" && !seen[accession] {
		seen[accession] = true
		record, ok := s.Record(accession)
		if !ok {
			break
		}
		chain = append(chain, record)
		accession = record.SupersedesAccessionNumber
	}
	return chain
}

// ReportPeriods lists the periods with an active filing for cik, most recent first.
func (s Snapshot) ReportPeriods(cik string) []string {
	periods := make([]string, 0)
	for _, record := range s.Lineage {
		if record.InstitutionCIK == cik && record.IsActive {
			periods = append(periods, record.ReportPeriod)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(periods)))
	return periods
}
