package regress

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/davidahmann/harness/core/fsx"
)

type junitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Suites   []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Skipped   int             `xml:"skipped,attr"`
	TestCases []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr"`
}

// WriteJUnit renders report as a JUnit document so CI can surface
// regressions next to test results.
func WriteJUnit(path string, report Report) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create junit directory: %w", err)
		}
	}
	encoded, err := xml.MarshalIndent(buildJUnit(report), "", "  ")
	if err != nil {
		return err
	}
	document := append([]byte(xml.Header), encoded...)
	document = append(document, '\n')
	return fsx.WriteFileAtomic(path, document, 0o600)
}

func buildJUnit(report Report) junitTestSuites {
	regressed := map[string]Finding{}
	for _, finding := range report.Regressed {
		regressed[finding.StepID] = finding
	}
	skipped := map[string]bool{}
	for _, id := range report.Skipped {
		skipped[id] = true
	}

	cases := make([]junitTestCase, 0, len(report.Checked))
	for _, id := range report.Checked {
		testCase := junitTestCase{Name: id, ClassName: "harness.regress"}
		if finding, ok := regressed[id]; ok {
			testCase.Failure = &junitFailure{Message: finding.Message, Type: "regression_" + report.Policy, Body: finding.Detector}
		} else if skipped[id] {
			testCase.Skipped = &junitSkipped{Message: "indeterminate"}
		}
		cases = append(cases, testCase)
	}
	suite := junitTestSuite{
		Name:      "harness.regress",
		Tests:     len(cases),
		Failures:  len(report.Regressed),
		Skipped:   len(report.Skipped),
		TestCases: cases,
	}
	return junitTestSuites{
		Tests:    suite.Tests,
		Failures: suite.Failures,
		Skipped:  suite.Skipped,
		Suites:   []junitTestSuite{suite},
	}
}
