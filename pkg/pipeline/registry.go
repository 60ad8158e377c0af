package pipeline

import (
	"fmt"
	"sort"

	"github.com/stevedore-deploy/stevedore/pkg/journal"
	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// OperationDeps are the collaborators a convention list may need.
type OperationDeps struct {
	Journal  *journal.Store
	Resolver *packages.Resolver
	Fetchers FetcherFactory
	Metrics  *telemetry.Metrics
	Extract  ExtractOptions
}

// operationFactory builds the main and finalizer convention lists for
// one operation.
type operationFactory func(deps OperationDeps) (conventions, finalizers []Convention)

// operations is the static operation registry. Extending the agent
// with a new operation means adding a compile-time entry here.
var operations = map[string]operationFactory{
	"deploy-package": func(deps OperationDeps) ([]Convention, []Convention) {
		return []Convention{
				NewAlreadyInstalledConvention(deps.Journal, deps.Metrics),
				NewExtractConvention(deps.Resolver, deps.Fetchers, deps.Extract),
			}, []Convention{
				NewJournalRecordConvention(deps.Journal, deps.Metrics),
			}
	},
	"download-package": func(deps OperationDeps) ([]Convention, []Convention) {
		return []Convention{
			NewExtractConvention(deps.Resolver, deps.Fetchers, deps.Extract),
		}, nil
	},
}

// ConventionsFor returns the convention lists registered for an
// operation name.
func ConventionsFor(operation string, deps OperationDeps) (conventions, finalizers []Convention, err error) {
	factory, ok := operations[operation]
	if !ok {
		return nil, nil, fmt.Errorf("unknown operation %q (known: %v)", operation, OperationNames())
	}
	conventions, finalizers = factory(deps)
	return conventions, finalizers, nil
}

// OperationNames lists the registered operations, sorted.
func OperationNames() []string {
	out := make([]string, 0, len(operations))
	for name := range operations {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
