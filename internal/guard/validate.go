package guard

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/osngd/internal/envelope"
)

const (
	// MaxLimit is the largest page size the upstream accepts.
	MaxLimit = 100

	// MaxBulkIdentifiers caps the fan-out of the bulk tools.
	MaxBulkIdentifiers = 50

	maxIdentifierLen = 200
)

var collectionIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,99}$`)

// ValidateCollectionID checks the syntax of a collection id. Whether the
// collection exists is decided by the workflow context.
func ValidateCollectionID(id string) error {
	if id == "" {
		return envelope.InvalidInput("collection_id is required")
	}
	if !collectionIDRe.MatchString(id) {
		return envelope.InvalidInput("Invalid collection ID format: %q", id)
	}
	return nil
}

// BBox is a parsed minx,miny,maxx,maxy bounding box.
type BBox [4]float64

// String renders b the way the upstream expects it.
func (b BBox) String() string {
	parts := make([]string, 4)
	for i, v := range b {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// ParseBBox parses and validates "minx,miny,maxx,maxy".
func ParseBBox(s string) (BBox, error) {
	var b BBox
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return b, envelope.InvalidInput("bbox must have four comma-separated numbers, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return b, envelope.InvalidInput("bbox value %q is not a finite number", strings.TrimSpace(p))
		}
		b[i] = v
	}
	if b[0] > b[2] || b[1] > b[3] {
		return b, envelope.InvalidInput("bbox minimum must not exceed maximum: %q", s)
	}
	return b, nil
}

// ValidateLimit checks 1 <= limit <= MaxLimit.
func ValidateLimit(limit int) error {
	if limit < 1 || limit > MaxLimit {
		return envelope.InvalidInput("limit must be between 1 and %d, got %d", MaxLimit, limit)
	}
	return nil
}

// ValidateOffset rejects negative offsets.
func ValidateOffset(offset int) error {
	if offset < 0 {
		return envelope.InvalidInput("offset must not be negative, got %d", offset)
	}
	return nil
}

// ValidateIdentifiers checks a bulk identifier list.
func ValidateIdentifiers(ids []string) error {
	if len(ids) == 0 {
		return envelope.InvalidInput("identifiers must not be empty")
	}
	if len(ids) > MaxBulkIdentifiers {
		return envelope.InvalidInput("too many identifiers (%d, maximum %d)", len(ids), MaxBulkIdentifiers)
	}
	for _, id := range ids {
		if err := ValidateIdentifier("identifiers", id); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIdentifier checks a single free-form identifier such as a feature id,
// UPRN or USRN.
func ValidateIdentifier(field, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return envelope.InvalidInput("%s must not be empty", field)
	}
	if len(id) > maxIdentifierLen {
		return envelope.InvalidInput("%s is too long", field)
	}
	if strings.ContainsAny(id, "/\\?#&;<>\"'") {
		return envelope.InvalidInput("%s contains disallowed characters: %q", field, id)
	}
	return nil
}

// QuoteLiteral renders v as a CQL string literal, doubling embedded quotes.
func QuoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
