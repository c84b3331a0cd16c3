package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"whaleinsight/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	insertFilingSQL = `INSERT INTO filings (
        accession_number,
        institution_cik,
        filing_form_type,
        filing_date,
        report_period,
        is_amendment,
        is_notice,
        amends_accession_number,
        source_url,
        raw_payload
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (accession_number) DO NOTHING;`

	selectFilingColumns = `SELECT
        accession_number,
        institution_cik,
        filing_form_type,
        filing_date,
        report_period,
        is_amendment,
        is_notice,
        amends_accession_number,
        source_url,
        raw_payload
    FROM filings`

	getFilingSQL = selectFilingColumns + `
    WHERE accession_number = $1;`

	listFilingsSQL = selectFilingColumns + `
    WHERE institution_cik = $1
    ORDER BY filing_date DESC, accession_number DESC;`

	countFilingsSQL = `SELECT COUNT(*) FROM filings;`

	insertRunSQL = `INSERT INTO ingestion_runs (
        run_id,
        run_kind,
        run_status,
        trigger_mode,
        request_signature,
        target_accession_number,
        parser_version,
        transform_version,
        input_payload,
        row_counts,
        warnings,
        error_payload,
        started_at,
        ended_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    );`

	listRecentRunsSQL = `SELECT
        run_id,
        run_kind,
        run_status,
        trigger_mode,
        request_signature,
        target_accession_number,
        parser_version,
        transform_version,
        input_payload,
        row_counts,
        warnings,
        error_payload,
        started_at,
        ended_at
    FROM ingestion_runs
    ORDER BY started_at DESC, run_id DESC
    LIMIT $1;`

	upsertInstitutionSQL = `INSERT INTO institutions (
        cik,
        institution_name,
        ticker,
        country_code,
        is_priority_cohort,
        form_13f_hr,
        form_13f_hr_amendment,
        form_13f_nt,
        form_13f_nt_amendment
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (cik) DO UPDATE
    SET
        institution_name      = EXCLUDED.institution_name,
        ticker                = EXCLUDED.ticker,
        country_code          = EXCLUDED.country_code,
        is_priority_cohort    = EXCLUDED.is_priority_cohort,
        form_13f_hr           = EXCLUDED.form_13f_hr,
        form_13f_hr_amendment = EXCLUDED.form_13f_hr_amendment,
        form_13f_nt           = EXCLUDED.form_13f_nt,
        form_13f_nt_amendment = EXCLUDED.form_13f_nt_amendment,
        updated_at            = now();`

	listPriorityInstitutionsSQL = `SELECT
        cik,
        institution_name,
        ticker,
        country_code,
        is_priority_cohort,
        form_13f_hr,
        form_13f_hr_amendment,
        form_13f_nt,
        form_13f_nt_amendment
    FROM institutions
    WHERE is_priority_cohort
    ORDER BY cik;`

	countInstitutionsSQL = `SELECT COUNT(*) FROM institutions;`

	deletePositionsSQL = `DELETE FROM positions WHERE institution_cik = $1 AND report_period = $2;`

	insertPositionSQL = `INSERT INTO positions (
        institution_cik,
        report_period,
        row_number,
        accession_number,
        issuer_name,
        class_title,
        cusip,
        ticker,
        action,
        value_thousands,
        shares,
        weight,
        cost,
        price,
        gap,
        price_timestamp,
        calc_version,
        stale_badge,
        stale_reason
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
    );`

	listLatestPositionsSQL = `SELECT
        institution_cik,
        report_period,
        row_number,
        accession_number,
        issuer_name,
        class_title,
        cusip,
        ticker,
        action,
        value_thousands,
        shares,
        weight,
        cost,
        price,
        gap,
        price_timestamp,
        calc_version,
        stale_badge,
        stale_reason,
        updated_at
    FROM positions
    WHERE institution_cik = $1
      AND report_period = (SELECT MAX(report_period) FROM positions WHERE institution_cik = $1)
    ORDER BY row_number;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// FilingStore persists filing artifacts keyed by accession number.
type FilingStore interface {
	UpsertFiling(ctx context.Context, artifact domain.FilingArtifact) (FilingUpsertResult, error)
	GetFiling(ctx context.Context, accession string) (domain.FilingArtifact, error)
	ListFilings(ctx context.Context, cik string) ([]domain.FilingArtifact, error)
	CountFilings(ctx context.Context) (int64, error)
}

// RunLedger is the append-only audit trail of ingestion attempts.
type RunLedger interface {
	AppendRun(ctx context.Context, record domain.RunLedgerRecord) error
	ListRecentRuns(ctx context.Context, limit int) ([]domain.RunLedgerRecord, error)
}

// InstitutionStore persists the tracked institution universe keyed by CIK.
type InstitutionStore interface {
	UpsertInstitutions(ctx context.Context, records []domain.InstitutionUniverseRecord) (InstitutionUpsertResult, error)
	ListPriorityInstitutions(ctx context.Context) ([]domain.InstitutionUniverseRecord, error)
	CountInstitutions(ctx context.Context) (int64, error)
}

// PositionStore persists enriched holdings per institution and report period.
type PositionStore interface {
	ReplacePositions(ctx context.Context, cik, reportPeriod string, rows []PositionRecord) error
	ListLatestPositions(ctx context.Context, cik string) ([]PositionRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is everything the pipeline persists.
type Repository interface {
	FilingStore
	RunLedger
	InstitutionStore
	PositionStore
}

// Store is the PostgreSQL implementation of Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate applies the embedded schema; statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertFiling inserts an artifact unless its accession is already known.
func (s *Store) UpsertFiling(ctx context.Context, artifact domain.FilingArtifact) (FilingUpsertResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return FilingUpsertResult{}, err
	}

	filingDate, err := parseDate(artifact.FilingDate)
	if err != nil {
		return FilingUpsertResult{}, err
	}
	reportPeriod, err := parseDate(artifact.ReportPeriod)
	if err != nil {
		return FilingUpsertResult{}, err
	}

	tag, execErr := pool.Exec(ctx, insertFilingSQL,
		artifact.AccessionNumber,
		artifact.InstitutionCIK,
		string(artifact.FilingFormType),
		filingDate,
		reportPeriod,
		artifact.IsAmendment,
		artifact.IsNotice,
		nullable(artifact.AmendsAccessionNumber),
		nullable(artifact.SourceURL),
		[]byte(artifact.RawPayload),
	)
	if execErr != nil {
		return FilingUpsertResult{}, fmt.Errorf("insert filing: %w", execErr)
	}

	result := FilingUpsertResult{Created: tag.RowsAffected() == 1, Record: artifact}
	if !result.Created {
		existing, getErr := s.GetFiling(ctx, artifact.AccessionNumber)
		if getErr != nil {
			return FilingUpsertResult{}, getErr
		}
		result.Record = existing
	}

	result.TotalKnownFilings, err = s.CountFilings(ctx)
	if err != nil {
		return FilingUpsertResult{}, err
	}
	return result, nil
}

// GetFiling loads an artifact by accession.
func (s *Store) GetFiling(ctx context.Context, accession string) (domain.FilingArtifact, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.FilingArtifact{}, err
	}
	artifact, scanErr := scanFiling(pool.QueryRow(ctx, getFilingSQL, accession))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.FilingArtifact{}, ErrNotFound
	}
	if scanErr != nil {
		return domain.FilingArtifact{}, fmt.Errorf("get filing: %w", scanErr)
	}
	return artifact, nil
}

// ListFilings lists an institution's filings, newest first.
func (s *Store) ListFilings(ctx context.Context, cik string) ([]domain.FilingArtifact, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listFilingsSQL, cik)
	if queryErr != nil {
		return nil, fmt.Errorf("list filings: %w", queryErr)
	}
	defer rows.Close()

	filings := make([]domain.FilingArtifact, 0)
	for rows.Next() {
		artifact, scanErr := scanFiling(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		filings = append(filings, artifact)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return filings, nil
}

// CountFilings counts stored filings.
func (s *Store) CountFilings(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countFilingsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count filings: %w", scanErr)
	}
	return count, nil
}

// AppendRun validates and appends a ledger row.
func (s *Store) AppendRun(ctx context.Context, record domain.RunLedgerRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	startedAt, err := time.Parse(time.RFC3339Nano, record.StartedAt)
	if err != nil {
		return fmt.Errorf("parse started_at: %w", err)
	}
	endedAt := startedAt
	if record.EndedAt != "" {
		if endedAt, err = time.Parse(time.RFC3339Nano, record.EndedAt); err != nil {
			return fmt.Errorf("parse ended_at: %w", err)
		}
	}

	input, err := json.Marshal(record.InputPayload)
	if err != nil {
		return fmt.Errorf("marshal input payload: %w", err)
	}
	counts, err := json.Marshal(record.RowCounts)
	if err != nil {
		return fmt.Errorf("marshal row counts: %w", err)
	}
	warnings := record.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	var errorPayload interface{}
	if record.ErrorPayload != nil {
		encoded, marshalErr := json.Marshal(record.ErrorPayload)
		if marshalErr != nil {
			return fmt.Errorf("marshal error payload: %w", marshalErr)
		}
		errorPayload = encoded
	}

	if _, execErr := pool.Exec(ctx, insertRunSQL,
		record.RunID,
		string(record.RunKind),
		string(record.RunStatus),
		string(record.TriggerMode),
		record.RequestSignature,
		nullable(record.TargetAccessionNumber),
		nullable(record.ParserVersion),
		nullable(record.TransformVersion),
		input,
		counts,
		warningsJSON,
		errorPayload,
		startedAt,
		endedAt,
	); execErr != nil {
		return fmt.Errorf("append run: %w", execErr)
	}
	return nil
}

// ListRecentRuns lists ledger rows, most recently started first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]domain.RunLedgerRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]domain.RunLedgerRecord, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// UpsertInstitutions upserts a deduplicated batch of institutions.
func (s *Store) UpsertInstitutions(ctx context.Context, records []domain.InstitutionUniverseRecord) (InstitutionUpsertResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return InstitutionUpsertResult{}, err
	}

	deduped := dedupeInstitutions(records)
	if len(deduped) > 0 {
		batch := &pgx.Batch{}
		for _, record := range deduped {
			batch.Queue(upsertInstitutionSQL,
				record.CIK,
				record.InstitutionName,
				nullable(record.Ticker),
				nullable(record.CountryCode),
				record.IsPriorityCohort,
				record.FilingCoverage.Form13FHR,
				record.FilingCoverage.Form13FHRAmendment,
				record.FilingCoverage.Form13FNT,
				record.FilingCoverage.Form13FNTAmendment,
			)
		}
		if batchErr := pool.SendBatch(ctx, batch).Close(); batchErr != nil {
			return InstitutionUpsertResult{}, fmt.Errorf("upsert institutions: %w", batchErr)
		}
	}

	total, err := s.CountInstitutions(ctx)
	if err != nil {
		return InstitutionUpsertResult{}, err
	}
	return InstitutionUpsertResult{UpsertedCount: len(deduped), TotalKnownInstitutions: total}, nil
}

// ListPriorityInstitutions lists the priority cohort ordered by CIK.
func (s *Store) ListPriorityInstitutions(ctx context.Context) ([]domain.InstitutionUniverseRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPriorityInstitutionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list priority institutions: %w", queryErr)
	}
	defer rows.Close()

	institutions := make([]domain.InstitutionUniverseRecord, 0)
	for rows.Next() {
		var (
			record          domain.InstitutionUniverseRecord
			ticker, country sql.NullString
		)
		if err := rows.Scan(
			&record.CIK,
			&record.InstitutionName,
			&ticker,
			&country,
			&record.IsPriorityCohort,
			&record.FilingCoverage.Form13FHR,
			&record.FilingCoverage.Form13FHRAmendment,
			&record.FilingCoverage.Form13FNT,
			&record.FilingCoverage.Form13FNTAmendment,
		); err != nil {
			return nil, err
		}
		record.Ticker = ticker.String
		record.CountryCode = country.String
		institutions = append(institutions, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return institutions, nil
}

// CountInstitutions counts stored institutions.
func (s *Store) CountInstitutions(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countInstitutionsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count institutions: %w", scanErr)
	}
	return count, nil
}

// ReplacePositions swaps the stored positions of one institution period in a transaction.
func (s *Store) ReplacePositions(ctx context.Context, cik, reportPeriod string, positions []PositionRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	period, err := parseDate(reportPeriod)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deletePositionsSQL, cik, period); err != nil {
			return fmt.Errorf("delete positions: %w", err)
		}
		if len(positions) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, p := range positions {
			batch.Queue(insertPositionSQL,
				cik,
				period,
				p.RowNumber,
				p.AccessionNumber,
				p.IssuerName,
				p.ClassTitle,
				p.CUSIP,
				p.Ticker,
				string(p.Action),
				p.ValueThousands.String(),
				p.Shares.String(),
				p.Weight,
				nullableDecimal(p.Cost),
				nullableDecimal(p.Price),
				p.Gap,
				p.PriceTimestamp,
				p.CalcVersion,
				string(p.StaleBadge),
				p.StaleReason,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert positions: %w", err)
		}
		return nil
	})
}

// ListLatestPositions lists the positions of an institution's most recent stored period.
func (s *Store) ListLatestPositions(ctx context.Context, cik string) ([]PositionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listLatestPositionsSQL, cik)
	if queryErr != nil {
		return nil, fmt.Errorf("list latest positions: %w", queryErr)
	}
	defer rows.Close()

	positions := make([]PositionRecord, 0)
	for rows.Next() {
		position, scanErr := scanPosition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		positions = append(positions, position)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return positions, nil
}

func scanFiling(row pgx.Row) (domain.FilingArtifact, error) {
	var (
		artifact     domain.FilingArtifact
		formType     string
		filingDate   time.Time
		reportPeriod time.Time
		amends       sql.NullString
		sourceURL    sql.NullString
		raw          json.RawMessage
	)
	if err := row.Scan(
		&artifact.AccessionNumber,
		&artifact.InstitutionCIK,
		&formType,
		&filingDate,
		&reportPeriod,
		&artifact.IsAmendment,
		&artifact.IsNotice,
		&amends,
		&sourceURL,
		&raw,
	); err != nil {
		return domain.FilingArtifact{}, err
	}
	artifact.FilingFormType = domain.FilingFormType(formType)
	artifact.FilingDate = filingDate.Format(domain.DateLayout)
	artifact.ReportPeriod = reportPeriod.Format(domain.DateLayout)
	artifact.AmendsAccessionNumber = amends.String
	artifact.SourceURL = sourceURL.String
	artifact.RawPayload = raw
	return artifact, nil
}

func scanRun(rows pgx.Rows) (domain.RunLedgerRecord, error) {
	var (
		record                  domain.RunLedgerRecord
		kind, status, trigger   string
		target, parser, transfm sql.NullString
		input, counts, warnings []byte
		errorPayload            []byte
		startedAt, endedAt      time.Time
	)
	if err := rows.Scan(
		&record.RunID,
		&kind,
		&status,
		&trigger,
		&record.RequestSignature,
		&target,
		&parser,
		&transfm,
		&input,
		&counts,
		&warnings,
		&errorPayload,
		&startedAt,
		&endedAt,
	); err != nil {
		return domain.RunLedgerRecord{}, err
	}

	record.RunKind = domain.RunKind(kind)
	record.RunStatus = domain.RunStatus(status)
	record.TriggerMode = domain.TriggerMode(trigger)
	record.TargetAccessionNumber = target.String
	record.ParserVersion = parser.String
	record.TransformVersion = transfm.String
	record.StartedAt = startedAt.UTC().Format(time.RFC3339Nano)
	record.EndedAt = endedAt.UTC().Format(time.RFC3339Nano)

	if err := json.Unmarshal(input, &record.InputPayload); err != nil {
		return domain.RunLedgerRecord{}, fmt.Errorf("decode input payload: %w", err)
	}
	if err := json.Unmarshal(counts, &record.RowCounts); err != nil {
		return domain.RunLedgerRecord{}, fmt.Errorf("decode row counts: %w", err)
	}
	if err := json.Unmarshal(warnings, &record.Warnings); err != nil {
		return domain.RunLedgerRecord{}, fmt.Errorf("decode warnings: %w", err)
	}
	if len(errorPayload) > 0 {
		var payload domain.RunErrorPayload
		if err := json.Unmarshal(errorPayload, &payload); err != nil {
			return domain.RunLedgerRecord{}, fmt.Errorf("decode error payload: %w", err)
		}
		record.ErrorPayload = &payload
	}
	return record, nil
}

func scanPosition(rows pgx.Rows) (PositionRecord, error) {
	var (
		p             PositionRecord
		reportPeriod  time.Time
		action, badge string
		valueStr      string
		sharesStr     string
		cost, price   sql.NullString
	)
	if err := rows.Scan(
		&p.InstitutionCIK,
		&reportPeriod,
		&p.RowNumber,
		&p.AccessionNumber,
		&p.IssuerName,
		&p.ClassTitle,
		&p.CUSIP,
		&p.Ticker,
		&action,
		&valueStr,
		&sharesStr,
		&p.Weight,
		&cost,
		&price,
		&p.Gap,
		&p.PriceTimestamp,
		&p.CalcVersion,
		&badge,
		&p.StaleReason,
		&p.UpdatedAt,
	); err != nil {
		return PositionRecord{}, err
	}

	var err error
	p.ReportPeriod = reportPeriod.Format(domain.DateLayout)
	p.Action = domain.FilingAction(action)
	p.StaleBadge = domain.FreshnessBadge(badge)
	if p.ValueThousands, err = decimal.NewFromString(valueStr); err != nil {
		return PositionRecord{}, fmt.Errorf("parse value: %w", err)
	}
	if p.Shares, err = decimal.NewFromString(sharesStr); err != nil {
		return PositionRecord{}, fmt.Errorf("parse shares: %w", err)
	}
	if p.Cost, err = parseNullDecimal(cost); err != nil {
		return PositionRecord{}, fmt.Errorf("parse cost: %w", err)
	}
	if p.Price, err = parseNullDecimal(price); err != nil {
		return PositionRecord{}, fmt.Errorf("parse price: %w", err)
	}
	return p, nil
}

func parseDate(value string) (time.Time, error) {
	parsed, err := time.ParseInLocation(domain.DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return parsed, nil
}

func parseNullDecimal(value sql.NullString) (*decimal.Decimal, error) {
	if !value.Valid {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func nullable(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullableDecimal(value *decimal.Decimal) interface{} {
	if value == nil {
		return nil
	}
	return value.String()
}

func dedupeInstitutions(records []domain.InstitutionUniverseRecord) []domain.InstitutionUniverseRecord {
	index := make(map[string]int, len(records))
	deduped := make([]domain.InstitutionUniverseRecord, 0, len(records))
	for _, record := range records {
		if i, ok := index[record.CIK]; ok {
			deduped[i] = record
			continue
		}
		index[record.CIK] = len(deduped)
		deduped = append(deduped, record)
	}
	return deduped
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
