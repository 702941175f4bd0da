package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/runkeeper/pkg/execution"
)

const junitSuites = `<?xml version="1.0" encoding="UTF-8"?>
<testsuites name="nightly regression">
  <properties>
    <property name="Environment" value="staging"/>
  </properties>
  <testsuite name="login">
    <properties>
      <property name="platform" value="web"/>
      <property name="environment" value="ignored"/>
    </properties>
    <testcase classname="auth.LoginTest" name="test_valid_login" time="1.25"/>
    <testcase classname="auth.LoginTest" name="test_bad_password" time="0.5">
      <failure message="expected 401">stack</failure>
    </testcase>
    <testsuite name="nested">
      <testcase name="TC_003" time="1,200.5">
        <error>boom</error>
      </testcase>
    </testsuite>
  </testsuite>
  <testsuite name="checkout">
    <testcase classname="shop" name="TC_004">
      <skipped message="flaky on ci"/>
    </testcase>
    <testcase classname="shop" name="TC_005" status="blocked"/>
    <testcase classname="shop" name="TC_006" status="run"/>
  </testsuite>
</testsuites>`

func TestParse_JUnitTestSuites(t *testing.T) {
	rep, err := Parse(strings.NewReader(junitSuites), FormatJUnit)
	require.NoError(t, err)

	assert.Equal(t, execution.Metadata{
		Name:        "nightly regression",
		Environment: "staging",
		Platform:    "web",
	}, rep.Metadata)

	require.Len(t, rep.Entries, 6)

	tests := []struct {
		method   string
		status   string
		message  string
		duration *float64
	}{
		{method: "auth.LoginTest.test_valid_login", status: "passed", duration: ptr(1.25)},
		{method: "auth.LoginTest.test_bad_password", status: "failed", message: "expected 401", duration: ptr(0.5)},
		{method: "TC_003", status: "error", message: "boom", duration: ptr(1200.5)},
		{method: "shop.TC_004", status: "skipped", message: "flaky on ci"},
		{method: "shop.TC_005", status: "blocked"},
		{method: "shop.TC_006", status: "passed"},
	}

	for i, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			e := rep.Entries[i]
			assert.Equal(t, tt.method, e.Method)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.message, e.Message)
			assert.Equal(t, tt.duration, e.DurationSeconds)
		})
	}
}

func TestParse_JUnitSingleSuite(t *testing.T) {
	doc := `<testsuite name="smoke">
  <properties><property name="device" value="pixel-8"/></properties>
  <testcase name="TC-001" time="2"/>
</testsuite>`

	rep, err := Parse(strings.NewReader(doc), FormatJUnit)
	require.NoError(t, err)

	assert.Equal(t, "smoke", rep.Metadata.Name)
	assert.Equal(t, "pixel-8", rep.Metadata.Device)
	require.Len(t, rep.Entries, 1)
	assert.Equal(t, "TC-001", rep.Entries[0].Method)
	assert.Equal(t, ptr(2.0), rep.Entries[0].DurationSeconds)
}

func TestParse_JSON(t *testing.T) {
	doc := `{
  "metadata": {"Name": "api suite", "environment": "prod", "platform": 42},
  "entries": [
    {"method": "TC_001", "status": "pass", "duration_seconds": 1.5},
    {"classname": "api.Users", "name": "create", "outcome": "FAIL", "duration_seconds": "2.25", "message": "500"},
    {"name": "TC_003", "status": "skip"}
  ],
  "tests": [
    {"method": "TC_004", "status": "blocked"}
  ]
}`

	rep, err := Parse(strings.NewReader(doc), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, execution.Metadata{Name: "api suite", Environment: "prod", Platform: "42"}, rep.Metadata)

	require.Len(t, rep.Entries, 4)
	assert.Equal(t, execution.Entry{Method: "TC_001", Status: "pass", DurationSeconds: ptr(1.5)}, rep.Entries[0])
	assert.Equal(t, execution.Entry{
		Method: "api.Users.create", Status: "FAIL", DurationSeconds: ptr(2.25), Message: "500",
	}, rep.Entries[1])
	assert.Equal(t, "TC_003", rep.Entries[2].Method)
	assert.Nil(t, rep.Entries[2].DurationSeconds)
	assert.Equal(t, "TC_004", rep.Entries[3].Method)
}

func TestParse_JSONDurationKeys(t *testing.T) {
	doc := `{"results": [
    {"method": "TC_001", "status": "passed", "durationSeconds": 0.5},
    {"method": "TC_002", "status": "passed", "duration": "3"},
    {"method": "TC_003", "status": "passed", "duration_seconds": 1, "durationSeconds": 9},
    {"method": "TC_004", "status": "passed"}
  ]}`

	rep, err := Parse(strings.NewReader(doc), FormatJSON)
	require.NoError(t, err)
	require.Len(t, rep.Entries, 4)

	assert.Equal(t, ptr(0.5), rep.Entries[0].DurationSeconds)
	assert.Equal(t, ptr(3), rep.Entries[1].DurationSeconds)
	assert.Equal(t, ptr(1), rep.Entries[2].DurationSeconds, "duration_seconds takes precedence")
	assert.Nil(t, rep.Entries[3].DurationSeconds)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		input  string
	}{
		{name: "truncated xml", format: FormatJUnit, input: `<testsuites><testsuite>`},
		{name: "wrong root", format: FormatJUnit, input: `<report><testcase name="x"/></report>`},
		{name: "bad time", format: FormatJUnit, input: `<testsuite><testcase name="x" time="fast"/></testsuite>`},
		{name: "empty xml", format: FormatJUnit, input: ``},
		{name: "broken json", format: FormatJSON, input: `{"entries": [`},
		{name: "json entry without method", format: FormatJSON, input: `{"entries": [{"status": "pass"}]}`},
		{name: "json bad duration", format: FormatJSON, input: `{"entries": [{"method": "a", "duration_seconds": "soon"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), tt.format)
			require.Error(t, err)
			assert.ErrorIs(t, err, execution.ErrValidation)
		})
	}
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse(strings.NewReader("{}"), Format("csv"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "junit", want: FormatJUnit},
		{input: " XML ", want: FormatJUnit},
		{input: "Json", want: FormatJSON},
		{input: "csv", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFromFilename(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{name: "results.xml", want: FormatJUnit},
		{name: "RESULTS.XML", want: FormatJUnit},
		{name: "out/report.json", want: FormatJSON},
		{name: "report.txt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatFromFilename(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func ptr(v float64) *float64 { return &v }
