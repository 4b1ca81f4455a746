package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/itamarsh/cardledger/internal/domain"
	"github.com/itamarsh/cardledger/internal/xlsxgrid"
)

// max exports carry a fixed-named data sheet, a card banner in A1, the
// billing month as MM/YYYY in A2 and the declared total in A3. The header
// row sits at row 5 and data starts at row 6.
const (
	maxSheetName    = "עסקאות במועד החיוב"
	maxHeaderRow    = 5
	maxFirstDataRow = 6
)

var (
	maxCardRe    = regexp.MustCompile(`מסתיים ב-?(\d{4})`)
	maxAccountRe = regexp.MustCompile(`חשבון\s+(\d+)`)
	maxMonthRe   = regexp.MustCompile(`חודש חיוב:\s*(\d{2}/\d{4})`)
	maxTotalRe   = regexp.MustCompile(`סה"כ לחיוב:\s*([\d,]+(?:\.\d+)?)`)

	maxFilenameRe = regexp.MustCompile(`(?i)^transaction-details_(\d{4})_export.*\.xlsx$`)
)

type MaxParser struct{}

func NewMaxParser() *MaxParser {
	return &MaxParser{}
}

func (p *MaxParser) Name() string {
	return IssuerMax
}

func (p *MaxParser) CanParse(path string) bool {
	wb, err := xlsxgrid.Open(path)
	if err != nil {
		return false
	}
	defer wb.Close()
	return wb.HasSheet(maxSheetName)
}

func (p *MaxParser) Parse(path string) (*domain.ParseResult, error) {
	wb, err := xlsxgrid.Open(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	if !wb.HasSheet(maxSheetName) {
		return nil, fmt.Errorf("%w: sheet %q not found", domain.ErrMissingMetadata, maxSheetName)
	}

	meta, err := p.extractMetadata(wb)
	if err != nil {
		return nil, err
	}

	rows, err := wb.Rows(maxSheetName)
	if err != nil {
		return nil, err
	}

	result := &domain.ParseResult{Metadata: *meta}
	for i := maxFirstDataRow - 1; i < len(rows); i++ {
		row := rows[i]
		rowNum := i + 1

		if len(row) == 0 || strings.TrimSpace(cell(row, 0)) == "" {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(cell(row, 0)), `סה"כ`) {
			break
		}

		tx, err := p.parseRow(row, path)
		if err != nil {
			result.Errors = append(result.Errors, domain.RowIssue{
				Row:     rowNum,
				Message: err.Error(),
				Data:    row,
			})
			continue
		}
		result.Transactions = append(result.Transactions, *tx)
	}

	result.Validation = Validate(result.Transactions, meta.TotalAmount)
	return result, nil
}

func (p *MaxParser) extractMetadata(wb *xlsxgrid.Workbook) (*domain.ParserMetadata, error) {
	banner := wb.Cell(maxSheetName, "A1")
	monthCell := wb.Cell(maxSheetName, "A2")
	totalCell := wb.Cell(maxSheetName, "A3")

	cardMatch := maxCardRe.FindStringSubmatch(banner)
	if cardMatch == nil {
		return nil, fmt.Errorf("%w: card digits not found in banner", domain.ErrMissingMetadata)
	}
	monthMatch := maxMonthRe.FindStringSubmatch(monthCell)
	if monthMatch == nil {
		return nil, fmt.Errorf("%w: billing month not found", domain.ErrMissingMetadata)
	}

	meta := &domain.ParserMetadata{
		CardLast4:      cardMatch[1],
		StatementMonth: monthMatch[1],
	}
	if m := maxAccountRe.FindStringSubmatch(banner); m != nil {
		meta.AccountNumber = m[1]
	}
	if m := maxTotalRe.FindStringSubmatch(totalCell); m != nil {
		if total, _, err := ParseAmount(m[1]); err == nil {
			meta.TotalAmount = &total
		}
	}
	return meta, nil
}

// columns: A deal date, B business, C original amount, D currency,
// E charged ILS, F notes, G bank category.
func (p *MaxParser) parseRow(row []string, path string) (*domain.ParsedTransaction, error) {
	dealDate, err := ParseDateDDMMYYYY(cell(row, 0))
	if err != nil {
		return nil, err
	}

	business := strings.TrimSpace(cell(row, 1))
	if business == "" {
		return nil, fmt.Errorf("missing business name")
	}

	original, embedded, err := ParseAmount(cell(row, 2))
	if err != nil {
		return nil, fmt.Errorf("original amount: %w", err)
	}
	currency, ok := NormalizeCurrency(cell(row, 3))
	if !ok {
		currency = embedded
	}
	if currency == "" {
		currency = "ILS"
	}

	charged, _, err := ParseAmount(cell(row, 4))
	if err != nil {
		return nil, fmt.Errorf("charged amount: %w", err)
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
		SourceSheet:      maxSheetName,
		Category:         strings.TrimSpace(cell(row, 6)),
		Notes:            notes,
		RawRow:           append([]string(nil), row...),
	}

	// Subscription beats installment notation.
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
		return nil, err
	}
	return tx, nil
}

// ExtractMaxHeader is the detector's static header extractor for max files.
func ExtractMaxHeader(path string) (*domain.CardInfo, bool) {
	wb, err := xlsxgrid.Open(path)
	if err != nil {
		return nil, false
	}
	defer wb.Close()

	if !wb.HasSheet(maxSheetName) {
		return nil, false
	}
	m := maxCardRe.FindStringSubmatch(wb.Cell(maxSheetName, "A1"))
	if m == nil {
		return nil, false
	}
	return &domain.CardInfo{Last4: m[1], Issuer: IssuerMax}, true
}

// MatchMaxFilename recognizes the max export naming convention,
// e.g. "transaction-details_1234_export_05-2025.xlsx".
func MatchMaxFilename(filename string) (*domain.CardInfo, bool) {
	m := maxFilenameRe.FindStringSubmatch(filename)
	if m == nil {
		return nil, false
	}
	return &domain.CardInfo{Last4: m[1], Issuer: IssuerMax}, true
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}
