package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fx-session-lab/internal/domain"
)

var csvHeader = []string{"date", "open", "high", "low", "close"}

// LoadCandlesCSV reads a daily candle series from a CSV file with columns
// date, open, high, low, close. The series is validated before being
// returned; any malformed row fails the whole load.
func LoadCandlesCSV(path string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()

	candles, err := ReadCandles(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return candles, nil
}

// ReadCandles parses CSV candle rows from r and validates the series.
func ReadCandles(r io.Reader) ([]domain.Candle, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var candles []domain.Candle
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		candles = append(candles, c)
	}

	if err := ValidateSeries(candles); err != nil {
		return nil, err
	}
	return candles, nil
}

func checkHeader(header []string) error {
	if len(header) != len(csvHeader) {
		return fmt.Errorf("%w: expected columns %v, got %v", ErrMalformedRow, csvHeader, header)
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(col), csvHeader[i]) {
			return fmt.Errorf("%w: expected column %q at position %d, got %q", ErrMalformedRow, csvHeader[i], i, col)
		}
	}
	return nil
}

func parseRow(row []string) (domain.Candle, error) {
	if len(row) != len(csvHeader) {
		return domain.Candle{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedRow, len(csvHeader), len(row))
	}

	date, err := parseDate(row[0])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("%w: bad date %q: %v", ErrMalformedRow, row[0], err)
	}

	prices := make([]float64, 4)
	for i, field := range row[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("%w: bad %s %q: %v", ErrMalformedRow, csvHeader[i+1], field, err)
		}
		prices[i] = v
	}

	return domain.Candle{
		Date:  date,
		Open:  prices[0],
		High:  prices[1],
		Low:   prices[2],
		Close: prices[3],
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return domain.Day(t), nil
}

// SaveCandlesCSV writes a candle series to path in the same format
// LoadCandlesCSV reads. The series is validated before anything is
// written.
func SaveCandlesCSV(path string, candles []domain.Candle) error {
	if err := ValidateSeries(candles); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create candle file: %w", err)
	}
	if err := WriteCandles(f, candles); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// WriteCandles emits CSV candle rows to w, header included. Dates render
// as YYYY-MM-DD and prices with five decimal places.
func WriteCandles(w io.Writer, candles []domain.Candle) error {
	cw := csv.NewWriter(w)

	header := []string{"Date", "Open", "High", "Low", "Close"}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, 5)
	for _, c := range candles {
		row[0] = c.Date.Format("2006-01-02")
		row[1] = formatPrice(c.Open)
		row[2] = formatPrice(c.High)
		row[3] = formatPrice(c.Low)
		row[4] = formatPrice(c.Close)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 5, 64)
}
