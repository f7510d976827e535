package reporting

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

const (
	// ReportFilePrefix is the prefix build tools look for in a reports directory
	ReportFilePrefix = "TEST-"
	ReportFileSuffix = ".xml"

	// packageCaseName names the test case of a failure not bound to a test function
	packageCaseName = "(package)"
)

type xmlTestSuite struct {
	XMLName    xml.Name      `xml:"testsuite"`
	Name       string        `xml:"name,attr"`
	Tests      int           `xml:"tests,attr"`
	Failures   int           `xml:"failures,attr"`
	Errors     int           `xml:"errors,attr"`
	Skipped    int           `xml:"skipped,attr"`
	Time       string        `xml:"time,attr"`
	Timestamp  string        `xml:"timestamp,attr"`
	Properties []xmlProperty `xml:"properties>property"`
	TestCases  []xmlTestCase `xml:"testcase"`
	SystemOut  string        `xml:"system-out,omitempty"`
}

type xmlProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type xmlTestCase struct {
	Name          string      `xml:"name,attr"`
	ClassName     string      `xml:"classname,attr"`
	Time          string      `xml:"time,attr"`
	Failure       *xmlProblem `xml:"failure,omitempty"`
	Error         *xmlProblem `xml:"error,omitempty"`
	Skipped       *xmlSkipped `xml:"skipped,omitempty"`
	FlakyFailures []xmlRerun  `xml:"flakyFailure,omitempty"`
	FlakyErrors   []xmlRerun  `xml:"flakyError,omitempty"`
	RerunFailures []xmlRerun  `xml:"rerunFailure,omitempty"`
	RerunErrors   []xmlRerun  `xml:"rerunError,omitempty"`
}

type xmlProblem struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Text    string `xml:",chardata"`
}

type xmlSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

type xmlRerun struct {
	Message    string `xml:"message,attr,omitempty"`
	Type       string `xml:"type,attr,omitempty"`
	Time       string `xml:"time,attr,omitempty"`
	StackTrace string `xml:"stackTrace,omitempty"`
}

// SurefireWriter writes one surefire compatible XML file per report
type SurefireWriter struct {
	log log.Logger

	mu     sync.Mutex
	claims map[string]string // report file -> test package writing it
}

func NewSurefireWriter(logger log.Logger) *SurefireWriter {
	if logger == nil {
		logger = log.New()
	}
	return &SurefireWriter{log: logger, claims: make(map[string]string)}
}

// ReportFileName returns the file a report for the named test package is written to
func ReportFileName(name string) string {
	return ReportFilePrefix + strings.ReplaceAll(name, "/", ".") + ReportFileSuffix
}

// uniqueReportFileName is the file of a package whose ReportFileName is taken
// by another package, e.g. x/a.b/c and x/a/b.c
func uniqueReportFileName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return ReportFilePrefix + strings.ReplaceAll(name, "/", ".") + "-" + hex.EncodeToString(sum[:4]) + ReportFileSuffix
}

// reportPath returns the file the report of the named package goes to below dir.
// A file stays with the first package written to it.
func (w *SurefireWriter) reportPath(dir, name string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(dir, ReportFileName(name))
	if owner, ok := w.claims[path]; ok && owner != name {
		path = filepath.Join(dir, uniqueReportFileName(name))
		w.log.Warn("Report file name collides with another package", "test", name, "other", owner, "path", path)
	}
	w.claims[path] = name
	return path
}

// Write marshals report below dir, replacing the report of an earlier pass
func (w *SurefireWriter) Write(dir string, report *types.Report) (string, error) {
	if report == nil {
		return "", fmt.Errorf("no report to write")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	data, err := MarshalReport(report)
	if err != nil {
		return "", err
	}

	path := w.reportPath(dir, report.Name)
	// Readers of the directory never see a partial file.
	tmp, err := os.CreateTemp(dir, ".tmp-"+ReportFilePrefix+"*")
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}

	w.log.Debug("Wrote surefire report", "test", report.TestID, "path", path)
	return path, nil
}

// MarshalReport renders report as a surefire testsuite document
func MarshalReport(report *types.Report) ([]byte, error) {
	suite := xmlTestSuite{
		Name:      report.Name,
		Tests:     report.Tests,
		Failures:  report.Failures,
		Errors:    report.Errors,
		Skipped:   report.Skipped,
		Time:      seconds(report.Duration),
		Timestamp: report.Timestamp.UTC().Format("2006-01-02T15:04:05"),
		SystemOut: clean(report.Stdout),
	}
	for _, p := range []xmlProperty{
		{Name: "test.id", Value: report.TestID},
		{Name: "component", Value: report.ComponentID},
		{Name: "run.id", Value: report.RunID},
	} {
		if p.Value != "" {
			suite.Properties = append(suite.Properties, p)
		}
	}
	for _, c := range report.Cases {
		suite.TestCases = append(suite.TestCases, testCase(report.Name, c))
	}

	out, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report of %s: %w", report.TestID, err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

func testCase(className string, c *types.CaseResult) xmlTestCase {
	tc := xmlTestCase{
		Name:      c.Name,
		ClassName: className,
		Time:      seconds(c.Duration),
	}
	if c.IsSuiteLevel() {
		tc.Name = packageCaseName
	}

	switch c.Status {
	case types.TestStatusFailure:
		tc.Failure = problem(c.Message, c.Output)
	case types.TestStatusError:
		tc.Error = problem(c.Message, c.Output)
	case types.TestStatusSkipped:
		tc.Skipped = &xmlSkipped{Message: clean(c.Message)}
	}

	if len(c.Reruns) == 0 {
		return tc
	}

	// A test that passed on rerun is flaky: the original failure and every
	// failed rerun are recorded. A test still failing lists each rerun.
	if !c.Status.Failed() {
		first := xmlRerun{Message: clean(c.Message), StackTrace: clean(c.Output)}
		if c.InitialStatus == types.TestStatusError {
			tc.FlakyErrors = append(tc.FlakyErrors, first)
		} else {
			tc.FlakyFailures = append(tc.FlakyFailures, first)
		}
	}
	for _, attempt := range c.Reruns {
		if !attempt.Status.Failed() {
			continue
		}
		rr := xmlRerun{
			Message:    clean(attempt.Message),
			Time:       seconds(attempt.Duration),
			StackTrace: clean(attempt.Output),
		}
		switch {
		case !c.Status.Failed() && attempt.Status == types.TestStatusError:
			tc.FlakyErrors = append(tc.FlakyErrors, rr)
		case !c.Status.Failed():
			tc.FlakyFailures = append(tc.FlakyFailures, rr)
		case attempt.Status == types.TestStatusError:
			tc.RerunErrors = append(tc.RerunErrors, rr)
		default:
			tc.RerunFailures = append(tc.RerunFailures, rr)
		}
	}
	return tc
}

func problem(message, output string) *xmlProblem {
	p := &xmlProblem{Message: clean(message), Text: clean(output)}
	if strings.HasPrefix(p.Message, "panic: ") {
		p.Type = "panic"
	}
	return p
}

// clean strips terminal escape sequences, go test output often carries colors
func clean(s string) string {
	return stripansi.Strip(s)
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
