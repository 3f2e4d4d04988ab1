// Package record parses framed device lines into batch/product records.
package record

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDelimiter separates the batch id from the product id on the wire.
const DefaultDelimiter = "-"

// ErrMalformedRecord is returned when a line does not carry a batch id and a product id.
var ErrMalformedRecord = errors.New("malformed record")

// Record is one telemetry reading emitted by the device.
type Record struct {
	BatchID   string `json:"batch_id"`
	ProductID string `json:"product_id"`
}

// Args returns the record fields in contract-argument order.
func (r Record) Args() []string {
	return []string{r.BatchID, r.ProductID}
}

// Parser splits lines into records.
type Parser struct {
	delim  string
	strict bool
}

// NewParser creates a parser splitting on delim. An empty delim falls back to
// DefaultDelimiter. When strict is set, lines with more than two fields are rejected;
// otherwise the extra fields are ignored.
func NewParser(delim string, strict bool) *Parser {
	if delim == "" {
		delim = DefaultDelimiter
	}
	return &Parser{delim: delim, strict: strict}
}

var defaultParser = NewParser(DefaultDelimiter, false)

// Parse splits line with the default delimiter, ignoring extra fields.
func Parse(line string) (Record, error) {
	return defaultParser.Parse(line)
}

// Parse turns one line into a Record. Whitespace around each field, including a trailing
// line terminator, is trimmed.
func (p *Parser) Parse(line string) (Record, error) {
	fields := strings.Split(line, p.delim)
	if len(fields) < 2 {
		return Record{}, fmt.Errorf("%w: expected %q-separated batch and product, got %q", ErrMalformedRecord, p.delim, line)
	}
	if p.strict && len(fields) > 2 {
		return Record{}, fmt.Errorf("%w: %d fields, want 2", ErrMalformedRecord, len(fields))
	}

	rec := Record{
		BatchID:   strings.TrimSpace(fields[0]),
		ProductID: strings.TrimSpace(fields[1]),
	}
	if rec.BatchID == "" {
		return Record{}, fmt.Errorf("%w: empty batch id", ErrMalformedRecord)
	}
	if rec.ProductID == "" {
		return Record{}, fmt.Errorf("%w: empty product id", ErrMalformedRecord)
	}
	return rec, nil
}
