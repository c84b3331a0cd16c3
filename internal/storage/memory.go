package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"whaleinsight/internal/domain"
)

// MemoryStore is a process-local Repository used when no database is configured.
type MemoryStore struct {
	mu           sync.RWMutex
	filings      map[string]domain.FilingArtifact
	runs         []domain.RunLedgerRecord
	institutions map[string]domain.InstitutionUniverseRecord
	positions    map[string][]PositionRecord
	now          func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		filings:      make(map[string]domain.FilingArtifact),
		institutions: make(map[string]domain.InstitutionUniverseRecord),
		positions:    make(map[string][]PositionRecord),
		now:          time.Now,
	}
}

func (m *MemoryStore) UpsertFiling(_ context.Context, artifact domain.FilingArtifact) (FilingUpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.filings[artifact.AccessionNumber]; ok {
		return FilingUpsertResult{Created: false, TotalKnownFilings: int64(len(m.filings)), Record: existing}, nil
	}
	m.filings[artifact.AccessionNumber] = artifact
	return FilingUpsertResult{Created: true, TotalKnownFilings: int64(len(m.filings)), Record: artifact}, nil
}

func (m *MemoryStore) GetFiling(_ context.Context, accession string) (domain.FilingArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	artifact, ok := m.filings[accession]
	if !ok {
		return domain.FilingArtifact{}, ErrNotFound
	}
	return artifact, nil
}

func (m *MemoryStore) ListFilings(_ context.Context, cik string) ([]domain.FilingArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filings := make([]domain.FilingArtifact, 0)
	for _, artifact := range m.filings {
		if artifact.InstitutionCIK == cik {
			filings = append(filings, artifact)
		}
	}
	sort.Slice(filings, func(i, j int) bool {
		if filings[i].FilingDate != filings[j].FilingDate {
			return filings[i].FilingDate > filings[j].FilingDate
		}
		return filings[i].AccessionNumber > filings[j].AccessionNumber
	})
	return filings, nil
}

func (m *MemoryStore) CountFilings(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.filings)), nil
}

func (m *MemoryStore) AppendRun(_ context.Context, record domain.RunLedgerRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, record)
	return nil
}

// ListRecentRuns returns rows newest first in append order.
func (m *MemoryStore) ListRecentRuns(_ context.Context, limit int) ([]domain.RunLedgerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]domain.RunLedgerRecord, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(runs) == limit {
			break
		}
		runs = append(runs, m.runs[i])
	}
	return runs, nil
}

// Runs returns every ledger row in append order.
func (m *MemoryStore) Runs() []domain.RunLedgerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]domain.RunLedgerRecord, len(m.runs))
	copy(runs, m.runs)
	return runs
}

func (m *MemoryStore) UpsertInstitutions(_ context.Context, records []domain.InstitutionUniverseRecord) (InstitutionUpsertResult, error) {
	deduped := dedupeInstitutions(records)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range deduped {
		m.institutions[record.CIK] = record
	}
	return InstitutionUpsertResult{UpsertedCount: len(deduped), TotalKnownInstitutions: int64(len(m.institutions))}, nil
}

func (m *MemoryStore) ListPriorityInstitutions(_ context.Context) ([]domain.InstitutionUniverseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	institutions := make([]domain.InstitutionUniverseRecord, 0)
	for _, record := range m.institutions {
		if record.IsPriorityCohort {
			institutions = append(institutions, record)
		}
	}
	sort.Slice(institutions, func(i, j int) bool { return institutions[i].CIK < institutions[j].CIK })
	return institutions, nil
}

func (m *MemoryStore) CountInstitutions(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.institutions)), nil
}

func (m *MemoryStore) ReplacePositions(_ context.Context, cik, reportPeriod string, rows []PositionRecord) error {
	if _, err := parseDate(reportPeriod); err != nil {
		return err
	}

	stamped := make([]PositionRecord, len(rows))
	now := m.now().UTC()
	for i, row := range rows {
		row.InstitutionCIK = cik
		row.ReportPeriod = reportPeriod
		row.UpdatedAt = now
		stamped[i] = row
	}
	sort.SliceStable(stamped, func(i, j int) bool { return stamped[i].RowNumber < stamped[j].RowNumber })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[positionKey(cik, reportPeriod)] = stamped
	return nil
}

func (m *MemoryStore) ListLatestPositions(_ context.Context, cik string) ([]PositionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := ""
	for _, rows := range m.positions {
		if len(rows) == 0 || rows[0].InstitutionCIK != cik {
			continue
		}
		if rows[0].ReportPeriod > latest {
			latest = rows[0].ReportPeriod
		}
	}
	if latest == "" {
		return []PositionRecord{}, nil
	}
	rows := m.positions[positionKey(cik, latest)]
	out := make([]PositionRecord, len(rows))
	copy(out, rows)
	return out, nil
}

// TryAdvisoryLock always succeeds; a MemoryStore is never shared across processes.
func (m *MemoryStore) TryAdvisoryLock(_ context.Context, _ int64) (func(), bool, error) {
	return func() {}, true, nil
}

func positionKey(cik, reportPeriod string) string {
	return cik + ":" + reportPeriod
}

var (
	_ Repository     = (*MemoryStore)(nil)
	_ AdvisoryLocker = (*MemoryStore)(nil)
)
