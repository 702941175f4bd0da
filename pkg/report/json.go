package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethpandaops/runkeeper/pkg/execution"
	"github.com/mitchellh/mapstructure"
)

// jsonReport is the generic JSON report layout:
//
//	{"metadata": {...}, "entries": [{"method": "...", "status": "...", "durationSeconds": 1.2}]}
//
// "tests" and "results" are accepted in place of "entries", "name" or
// "classname"+"name" in place of "method", and "duration_seconds" or
// "duration" in place of "durationSeconds".
type jsonReport struct {
	Metadata map[string]any `mapstructure:"metadata"`
	Entries  []jsonEntry    `mapstructure:"entries"`
	Tests    []jsonEntry    `mapstructure:"tests"`
	Results  []jsonEntry    `mapstructure:"results"`
}

type jsonEntry struct {
	Method    string   `mapstructure:"method"`
	Name      string   `mapstructure:"name"`
	Classname string   `mapstructure:"classname"`
	Status    string   `mapstructure:"status"`
	Outcome   string   `mapstructure:"outcome"`
	Message   string   `mapstructure:"message"`

	// Durations in seconds, under any of the accepted keys.
	DurationSeconds *float64 `mapstructure:"duration_seconds"`
	DurationCamel   *float64 `mapstructure:"durationSeconds"`
	Duration        *float64 `mapstructure:"duration"`
}

func (e jsonEntry) durationSeconds() *float64 {
	for _, d := range []*float64{e.DurationSeconds, e.DurationCamel, e.Duration} {
		if d != nil {
			return d
		}
	}

	return nil
}

func parseJSON(r io.Reader) (*execution.Report, error) {
	var raw map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}

	var doc jsonReport

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &doc,
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}

	entries := doc.Entries
	entries = append(entries, doc.Tests...)
	entries = append(entries, doc.Results...)

	rep := &execution.Report{Entries: make([]execution.Entry, 0, len(entries))}

	for i, e := range entries {
		method := e.Method
		if method == "" {
			method = e.Name
			if e.Classname != "" {
				method = e.Classname + "." + e.Name
			}
		}

		if method == "" {
			return nil, fmt.Errorf("entry %d: %w", i, errMissingMethod)
		}

		status := e.Status
		if status == "" {
			status = e.Outcome
		}

		rep.Entries = append(rep.Entries, execution.Entry{
			Method:          method,
			Status:          status,
			DurationSeconds: e.durationSeconds(),
			Message:         e.Message,
		})
	}

	if err := decodeMetadata(doc.Metadata, &rep.Metadata); err != nil {
		return nil, err
	}

	return rep, nil
}

var errMissingMethod = errors.New("entry has no method or name")
