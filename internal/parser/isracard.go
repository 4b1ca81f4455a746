package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/itamarsh/cardledger/internal/domain"
	"github.com/itamarsh/cardledger/internal/xlsxgrid"
)

// isracard spreads transactions across up to five sheets for different
// settlement states, attempted in this fixed priority order. Each sheet
// carries the same banner in A1, the fixed header convention on row 2 and
// data from row 3. Dates are Excel serial numbers.
const (
	isracardSheetRegular   = "עסקאות בארץ"
	isracardSheetForeign   = `עסקאות בחו"ל`
	isracardSheetImmediate = "חיוב מיידי"
	isracardSheetPending   = "עסקאות בהמתנה"
	isracardSheetInfo      = "מידע נוסף"

	isracardHeaderCell   = "תאריך רכישה"
	isracardFirstDataRow = 3
)

var isracardSheetOrder = []string{
	isracardSheetRegular,
	isracardSheetForeign,
	isracardSheetImmediate,
	isracardSheetPending,
	isracardSheetInfo,
}

var (
	isracardCardRe  = regexp.MustCompile(`אמריקן אקספרס\s+(\d{4})`)
	isracardMonthRe = regexp.MustCompile(`לחודש\s+(\d{2}/\d{4})`)
	isracardTotalRe = regexp.MustCompile(`סה"כ:\s*([\d,]+(?:\.\d+)?)`)

	isracardFilenameRe = regexp.MustCompile(`(?i)^Export_(\d{4})\.xlsx$`)
)

type IsracardParser struct{}

func NewIsracardParser() *IsracardParser {
	return &IsracardParser{}
}

func (p *IsracardParser) Name() string {
	return IssuerIsracard
}

func (p *IsracardParser) CanParse(path string) bool {
	wb, err := xlsxgrid.Open(path)
	if err != nil {
		return false
	}
	defer wb.Close()

	sheet := firstIsracardSheet(wb)
	if sheet == "" {
		return false
	}
	return strings.TrimSpace(wb.Cell(sheet, "A2")) == isracardHeaderCell
}

func (p *IsracardParser) Parse(path string) (*domain.ParseResult, error) {
	wb, err := xlsxgrid.Open(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	primary := firstIsracardSheet(wb)
	if primary == "" {
		return nil, fmt.Errorf("%w: no isracard sheet found", domain.ErrMissingMetadata)
	}

	meta, err := p.extractMetadata(wb, primary)
	if err != nil {
		return nil, err
	}

	result := &domain.ParseResult{Metadata: *meta}
	for _, sheet := range isracardSheetOrder {
		if !wb.HasSheet(sheet) {
			continue
		}
		if err := p.parseSheet(wb, sheet, path, result); err != nil {
			return nil, err
		}
	}

	// Informational-only rows do not take part in the totals check.
	var countable []domain.ParsedTransaction
	for _, tx := range result.Transactions {
		if tx.SourceSheet != isracardSheetInfo {
			countable = append(countable, tx)
		}
	}
	result.Validation = Validate(countable, meta.TotalAmount)
	return result, nil
}

func (p *IsracardParser) extractMetadata(wb *xlsxgrid.Workbook, sheet string) (*domain.ParserMetadata, error) {
	banner := wb.Cell(sheet, "A1")

	cardMatch := isracardCardRe.FindStringSubmatch(banner)
	if cardMatch == nil {
		return nil, fmt.Errorf("%w: card digits not found in banner", domain.ErrMissingMetadata)
	}
	monthMatch := isracardMonthRe.FindStringSubmatch(banner)
	if monthMatch == nil {
		return nil, fmt.Errorf("%w: billing month not found in banner", domain.ErrMissingMetadata)
	}

	meta := &domain.ParserMetadata{
		CardLast4:      cardMatch[1],
		StatementMonth: monthMatch[1],
	}
	if m := isracardTotalRe.FindStringSubmatch(banner); m != nil {
		if total, _, err := ParseAmount(m[1]); err == nil {
			meta.TotalAmount = &total
		}
	}
	return meta, nil
}

func (p *IsracardParser) parseSheet(wb *xlsxgrid.Workbook, sheet, path string, result *domain.ParseResult) error {
	rows, err := wb.Rows(sheet)
	if err != nil {
		return err
	}

	for i := isracardFirstDataRow - 1; i < len(rows); i++ {
		row := rows[i]
		rowNum := i + 1

		if len(row) == 0 || strings.TrimSpace(cell(row, 0)) == "" {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(cell(row, 0)), `סה"כ`) {
			break
		}

		tx, warning, err := p.parseRow(row, path, sheet)
		if err != nil {
			result.Errors = append(result.Errors, domain.RowIssue{
				Row:     rowNum,
				Message: fmt.Sprintf("%s: %s", sheet, err.Error()),
				Data:    row,
			})
			continue
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, domain.RowIssue{
				Row:     rowNum,
				Message: fmt.Sprintf("%s: %s", sheet, warning),
				Data:    row,
			})
		}
		if sheet == isracardSheetPending {
			result.Warnings = append(result.Warnings, domain.RowIssue{
				Row:     rowNum,
				Message: fmt.Sprintf("%s: charged amount not final", sheet),
				Data:    row,
			})
		}
		result.Transactions = append(result.Transactions, *tx)
	}
	return nil
}

// columns: A purchase date (serial), B business, C original amount,
// D currency, E charged ILS, F notes.
func (p *IsracardParser) parseRow(row []string, path, sheet string) (*domain.ParsedTransaction, string, error) {
	dealDate, err := ParseDateSerial(cell(row, 0))
	if err != nil {
		return nil, "", err
	}

	business := strings.TrimSpace(cell(row, 1))
	if business == "" {
		return nil, "", fmt.Errorf("missing business name")
	}

	original, embedded, err := ParseAmount(cell(row, 2))
	if err != nil {
		return nil, "", fmt.Errorf("original amount: %w", err)
	}

	warning := ""
	currency, ok := NormalizeCurrency(cell(row, 3))
	if !ok {
		currency = embedded
	}
	if currency == "" {
		if sheet == isracardSheetForeign {
			// Blank currency on the foreign sheet falls back to business-name
			// geography. Affects amounts silently, so it is surfaced.
			if guessed, ok := GuessCurrencyByBusinessName(business); ok {
				currency = guessed
				warning = fmt.Sprintf("currency guessed as %s from business name", guessed)
			}
		}
		if currency == "" {
			currency = "ILS"
		}
	}

	charged, _, err := ParseAmount(cell(row, 4))
	if err != nil {
		return nil, "", fmt.Errorf("charged amount: %w", err)
	}

	notes := strings.TrimSpace(cell(row, 5))

	tx := &domain.ParsedTransaction{
		BusinessName:     business,
		DealDate:         dealDate,
		OriginalAmount:   original,
		OriginalCurrency: currency,
		ChargedAmountILS: charged,
		PaymentType:      domain.PaymentTypeOneTime,
		IsRefund:         MatchRefund(notes, charged),
		SourceFile:       path,
		SourceSheet:      sheet,
		Notes:            notes,
		RawRow:           append([]string(nil), row...),
	}
	if sheet == isracardSheetImmediate {
		tx.BankChargeDate = &dealDate
	}

	if MatchSubscription(business, notes) {
		tx.PaymentType = domain.PaymentTypeSubscription
	} else if idx, total, ok := MatchInstallment(notes); ok {
		tx.PaymentType = domain.PaymentTypeInstallments
		tx.InstallmentIndex = idx
		tx.InstallmentTotal = total
		if sum, ok := MatchTotalDealSum(notes); ok {
			tx.TotalDealSum = sum
		}
	}

	if err := tx.Validate(); err != nil {
		return nil, "", err
	}
	return tx, warning, nil
}

func firstIsracardSheet(wb *xlsxgrid.Workbook) string {
	for _, sheet := range isracardSheetOrder {
		if wb.HasSheet(sheet) {
			return sheet
		}
	}
	return ""
}

// ExtractIsracardHeader is the detector's static header extractor.
func ExtractIsracardHeader(path string) (*domain.CardInfo, bool) {
	wb, err := xlsxgrid.Open(path)
	if err != nil {
		return nil, false
	}
	defer wb.Close()

	sheet := firstIsracardSheet(wb)
	if sheet == "" {
		return nil, false
	}
	m := isracardCardRe.FindStringSubmatch(wb.Cell(sheet, "A1"))
	if m == nil {
		return nil, false
	}
	return &domain.CardInfo{Last4: m[1], Issuer: IssuerIsracard}, true
}

// MatchIsracardFilename recognizes the isracard export naming convention,
// e.g. "Export_9012.xlsx".
func MatchIsracardFilename(filename string) (*domain.CardInfo, bool) {
	m := isracardFilenameRe.FindStringSubmatch(filename)
	if m == nil {
		return nil, false
	}
	return &domain.CardInfo{Last4: m[1], Issuer: IssuerIsracard}, true
}
