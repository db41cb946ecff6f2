package cucumber

import (
	"testing"

	"github.com/cucumber/godog"

	"github.com/gwlsn/avfarm/test/steps"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: steps.InitializeScenario,
		Options: &godog.Options{
			TestingT: t,
			Strict:   true,
			Format:   "pretty",
			Paths:    []string{"features"},
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
