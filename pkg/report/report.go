package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethpandaops/runkeeper/pkg/execution"
	"github.com/mitchellh/mapstructure"
)

// Format names a report wire format.
type Format string

// Supported report formats.
const (
	FormatJUnit Format = "junit"
	FormatJSON  Format = "json"
)

// ErrUnsupportedFormat is returned for unknown report formats.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// ParseFormat converts a case-insensitive name into a Format. "xml" is
// accepted as an alias of junit.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "junit", "xml":
		return FormatJUnit, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// FormatFromFilename guesses the format from a file extension.
func FormatFromFilename(name string) (Format, error) {
	lower := strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, ".xml"):
		return FormatJUnit, nil
	case strings.HasSuffix(lower, ".json"):
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: cannot infer from %q", ErrUnsupportedFormat, name)
	}
}

// Parse reads a report in the given format. Malformed input yields an
// error wrapping execution.ErrValidation.
func Parse(r io.Reader, format Format) (*execution.Report, error) {
	var (
		rep *execution.Report
		err error
	)

	switch format {
	case FormatJUnit:
		rep, err = parseJUnit(r)
	case FormatJSON:
		rep, err = parseJSON(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s report: %w", execution.ErrValidation, format, err)
	}

	return rep, nil
}

// decodeMetadata decodes loosely typed key/value metadata into m. Unknown
// keys are ignored; keys already set in m are overwritten.
func decodeMetadata(input map[string]any, m *execution.Metadata) error {
	if len(input) == 0 {
		return nil
	}

	normalized := make(map[string]any, len(input))
	for k, v := range input {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           m,
	})
	if err != nil {
		return fmt.Errorf("creating metadata decoder: %w", err)
	}

	if err := dec.Decode(normalized); err != nil {
		return fmt.Errorf("decoding metadata: %w", err)
	}

	return nil
}
