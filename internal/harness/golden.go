package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats a result for golden comparison: the step trace, then the
// final state in engine order. Timestamps are left out; ids are
// deterministic within a run.
func Render(name string, result *Result) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "scenario %s\n", name)
	for _, ev := range result.Trace {
		fmt.Fprintf(&b, "step %s\n", ev)
	}
	if s := result.Final; s != nil {
		fmt.Fprintf(&b, "filter %s\n", filterLabel(s))
		for _, v := range s.Todos {
			fmt.Fprintf(&b, "todo %s %q\n", v.ID, todoLabel(v))
		}
		for _, c := range s.Categories {
			fmt.Fprintf(&b, "category %s %q\n", c.ID, categoryLabel(c))
		}
		for _, l := range linkLabels(s) {
			fmt.Fprintf(&b, "link %s\n", l)
		}
	}
	for _, e := range result.Errors {
		fmt.Fprintf(&b, "error %s\n", e)
	}
	return b.Bytes()
}

// RunWithGolden executes a scenario and compares its rendering against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can assert on it further. Test failure
// (via goldie) occurs if the rendering doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against the golden file for
// scenarioName without re-running anything.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Render(scenarioName, result))
}
