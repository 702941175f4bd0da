package report

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ethpandaops/runkeeper/pkg/execution"
)

type junitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr"`
	Properties []junitProperty  `xml:"properties>property"`
	Suites     []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	XMLName    xml.Name         `xml:"testsuite"`
	Name       string           `xml:"name,attr"`
	Timestamp  string           `xml:"timestamp,attr"`
	Hostname   string           `xml:"hostname,attr"`
	Properties []junitProperty  `xml:"properties>property"`
	TestCases  []junitTestCase  `xml:"testcase"`
	Suites     []junitTestSuite `xml:"testsuite"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Status    string        `xml:"status,attr"`
	Failure   *junitFailure `xml:"failure"`
	Error     *junitFailure `xml:"error"`
	Skipped   *junitFailure `xml:"skipped"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// parseJUnit accepts either a <testsuites> or a single <testsuite> root.
// Nested suites are flattened.
func parseJUnit(r io.Reader) (*execution.Report, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	var root junitTestSuites

	rootName, err := rootElement(data)
	if err != nil {
		return nil, err
	}

	switch rootName {
	case "testsuites":
		if err := xml.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("decoding testsuites: %w", err)
		}
	case "testsuite":
		var suite junitTestSuite
		if err := xml.Unmarshal(data, &suite); err != nil {
			return nil, fmt.Errorf("decoding testsuite: %w", err)
		}

		root.Name = suite.Name
		root.Suites = []junitTestSuite{suite}
	default:
		return nil, fmt.Errorf("unexpected root element <%s>", rootName)
	}

	rep := &execution.Report{Metadata: execution.Metadata{Name: root.Name}}

	props := propertiesMap(root.Properties)

	var walk func(suites []junitTestSuite) error

	walk = func(suites []junitTestSuite) error {
		for _, s := range suites {
			if rep.Metadata.Name == "" {
				rep.Metadata.Name = s.Name
			}

			for k, v := range propertiesMap(s.Properties) {
				if _, ok := props[k]; !ok {
					props[k] = v
				}
			}

			for _, tc := range s.TestCases {
				entry, err := junitEntry(tc)
				if err != nil {
					return err
				}

				rep.Entries = append(rep.Entries, entry)
			}

			if err := walk(s.Suites); err != nil {
				return err
			}
		}

		return nil
	}

	if err := walk(root.Suites); err != nil {
		return nil, err
	}

	if err := decodeMetadata(props, &rep.Metadata); err != nil {
		return nil, err
	}

	return rep, nil
}

// rootElement returns the local name of the document's first element.
func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("finding root element: %w", err)
		}

		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func propertiesMap(props []junitProperty) map[string]any {
	out := make(map[string]any, len(props))
	for _, p := range props {
		out[strings.ToLower(strings.TrimSpace(p.Name))] = p.Value
	}

	return out
}

func junitEntry(tc junitTestCase) (execution.Entry, error) {
	method := tc.Name
	if tc.Classname != "" {
		method = tc.Classname + "." + tc.Name
	}

	entry := execution.Entry{Method: method, Status: "passed"}

	switch {
	case tc.Failure != nil:
		entry.Status = "failed"
		entry.Message = firstNonEmpty(tc.Failure.Message, strings.TrimSpace(tc.Failure.Content))
	case tc.Error != nil:
		entry.Status = "error"
		entry.Message = firstNonEmpty(tc.Error.Message, strings.TrimSpace(tc.Error.Content))
	case tc.Skipped != nil:
		entry.Status = "skipped"
		entry.Message = tc.Skipped.Message
	case tc.Status != "" && !strings.EqualFold(tc.Status, "run"):
		entry.Status = tc.Status
	}

	if t := strings.ReplaceAll(strings.TrimSpace(tc.Time), ",", ""); t != "" {
		secs, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return execution.Entry{}, fmt.Errorf("parsing time of %q: %w", method, err)
		}

		entry.DurationSeconds = &secs
	}

	return entry, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
