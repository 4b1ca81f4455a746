package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/itamarsh/cardledger/internal/domain"
	"github.com/itamarsh/cardledger/internal/xlsxgrid"
)

// cal exports use a generic sheet name; everything identifying lives in
// free-text banner rows matched by regex. Header row 4, data from row 5.
const (
	calHeaderRow    = 4
	calFirstDataRow = 5
)

var (
	calBannerRe = regexp.MustCompile(`פירוט עסקאות לכרטיס ויזה כאל`)
	calCardRe   = regexp.MustCompile(`המסתיים בספרות\s*(\d{4})`)
	calDateRe   = regexp.MustCompile(`מועד חיוב:\s*(\d{1,2}/\d{1,2}/\d{4})`)
	calTotalRe  = regexp.MustCompile(`סך חיוב בש"ח:\s*([\d,]+(?:\.\d+)?)`)

	calFilenameRe = regexp.MustCompile(`פירוט חיובים לכרטיס\s+(\d{4})`)
)

type CalParser struct{}

func NewCalParser() *CalParser {
	return &CalParser{}
}

func (p *CalParser) Name() string {
	return IssuerCal
}

func (p *CalParser) CanParse(path string) bool {
	wb, err := xlsxgrid.Open(path)
	if err != nil {
		return false
	}
	defer wb.Close()

	sheet := wb.FirstSheet()
	if sheet == "" {
		return false
	}
	return calBannerRe.MatchString(wb.Cell(sheet, "A1"))
}

func (p *CalParser) Parse(path string) (*domain.ParseResult, error) {
	wb, err := xlsxgrid.Open(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	sheet := wb.FirstSheet()
	if sheet == "" || !calBannerRe.MatchString(wb.Cell(sheet, "A1")) {
		return nil, fmt.Errorf("%w: cal banner not found", domain.ErrMissingMetadata)
	}

	meta, err := p.extractMetadata(wb, sheet)
	if err != nil {
		return nil, err
	}

	rows, err := wb.Rows(sheet)
	if err != nil {
		return nil, err
	}

	result := &domain.ParseResult{Metadata: *meta}
	for i := calFirstDataRow - 1; i < len(rows); i++ {
		row := rows[i]
		rowNum := i + 1

		if len(row) == 0 || strings.TrimSpace(cell(row, 0)) == "" {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(cell(row, 0)), "סך") {
			break
		}

		tx, err := p.parseRow(row, path, sheet)
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

func (p *CalParser) extractMetadata(wb *xlsxgrid.Workbook, sheet string) (*domain.ParserMetadata, error) {
	banner := wb.Cell(sheet, "A1")
	dateCell := wb.Cell(sheet, "A2")
	totalCell := wb.Cell(sheet, "A3")

	cardMatch := calCardRe.FindStringSubmatch(banner)
	if cardMatch == nil {
		return nil, fmt.Errorf("%w: card digits not found in banner", domain.ErrMissingMetadata)
	}
	dateMatch := calDateRe.FindStringSubmatch(dateCell)
	if dateMatch == nil {
		return nil, fmt.Errorf("%w: billing date not found", domain.ErrMissingMetadata)
	}
	billingDate, err := ParseDateDDMMYYYYSlash(dateMatch[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMissingMetadata, err)
	}

	meta := &domain.ParserMetadata{
		CardLast4:      cardMatch[1],
		StatementMonth: billingDate.Format("01/2006"),
		StatementDate:  &billingDate,
	}
	if m := calTotalRe.FindStringSubmatch(totalCell); m != nil {
		if total, _, err := ParseAmount(m[1]); err == nil {
			meta.TotalAmount = &total
		}
	}
	return meta, nil
}

// columns: A deal date (D/M/YY), B business, C original amount, D currency,
// E charged ILS, F notes.
func (p *CalParser) parseRow(row []string, path, sheet string) (*domain.ParsedTransaction, error) {
	dealDate, err := ParseDateDMYY(cell(row, 0))
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
		SourceSheet:      sheet,
		Notes:            notes,
		RawRow:           append([]string(nil), row...),
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
		return nil, err
	}
	return tx, nil
}

// ExtractCalHeader is the detector's static header extractor for cal files.
func ExtractCalHeader(path string) (*domain.CardInfo, bool) {
	wb, err := xlsxgrid.Open(path)
	if err != nil {
		return nil, false
	}
	defer wb.Close()

	sheet := wb.FirstSheet()
	if sheet == "" {
		return nil, false
	}
	banner := wb.Cell(sheet, "A1")
	if !calBannerRe.MatchString(banner) {
		return nil, false
	}
	m := calCardRe.FindStringSubmatch(banner)
	if m == nil {
		return nil, false
	}
	return &domain.CardInfo{Last4: m[1], Issuer: IssuerCal}, true
}

// MatchCalFilename recognizes the cal export naming convention,
// e.g. "פירוט חיובים לכרטיס 5678.xlsx".
func MatchCalFilename(filename string) (*domain.CardInfo, bool) {
	m := calFilenameRe.FindStringSubmatch(filename)
	if m == nil {
		return nil, false
	}
	return &domain.CardInfo{Last4: m[1], Issuer: IssuerCal}, true
}
