// Package apply installs, updates and uninstalls modules on the local machine
// through the puppet module tool.
package apply

import (
	"context"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
)

var log = logging.Logger("apply")

// Operation is what to do with each unit.
type Operation string

const (
	OpInstall   Operation = "install"
	OpUpdate    Operation = "update"
	OpUninstall Operation = "uninstall"
)

// Unit names a module to operate on. An empty Version lets the forge pick the
// newest release.
type Unit struct {
	Author  string
	Name    string
	Version string
}

// FullName is the "author/name" key results are reported under.
func (u Unit) FullName() string {
	return u.Author + "/" + u.Name
}

// ParseUnit parses "author-name" or "author/name", optionally followed by
// "@version".
func ParseUnit(s string) (Unit, error) {
	fullName, version, _ := strings.Cut(s, "@")
	author, name, ok := model.SplitFullName(fullName)
	if !ok {
		return Unit{}, fmt.Errorf("invalid module %q, expected author-name[@version]", s)
	}
	return Unit{Author: author, Name: name, Version: version}, nil
}

// Options are passed through to the tool for every unit.
type Options struct {
	// ForgeURL is the module repository to install from. When empty and
	// ForgeHost is set, a URL carrying ConsumerID and RepoID as basic auth
	// credentials is built for ForgeHost.
	ForgeURL   string
	ForgeHost  string
	ConsumerID string
	RepoID     string
	IgnoreDeps bool
	Force      bool
	ModulePath string
}

// Report is the structured output the tool produced for one unit.
type Report map[string]any

// Outcome is the result of running the tool once.
type Outcome struct {
	ExitCode int
	Report   Report
}

// Tool performs one operation on one unit.
type Tool interface {
	Run(ctx context.Context, op Operation, unit Unit, opts Options) (Outcome, error)
}

// Result aggregates the outcome of an apply. A unit appears in exactly one of
// Successes and Errors.
type Result struct {
	Successes  map[string]Report
	Errors     map[string]Report
	NumChanges int
	// Rounds is how many times the tool was run over the failing set.
	Rounds int
}

// Apply runs op over units. Install and update try each unit once. Uninstall
// retries the failing units until they all succeed or a round fails to reduce
// the number of failures, since removing one module may unblock removing
// another.
//
// Cancellation stops before the next unit; the partial result is returned
// along with the context's error.
func Apply(ctx context.Context, tool Tool, op Operation, units []Unit, opts Options) (*Result, error) {
	switch op {
	case OpInstall, OpUpdate, OpUninstall:
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	res := &Result{Successes: map[string]Report{}, Errors: map[string]Report{}}
	if op != OpUninstall {
		res.Rounds = 1
		return res, runRound(ctx, tool, op, units, opts, res)
	}

	pending := units
	previousErrorCount := len(units)
	for {
		res.Rounds++
		if err := runRound(ctx, tool, op, pending, opts, res); err != nil {
			return res, err
		}
		if len(res.Errors) == 0 || len(res.Errors) >= previousErrorCount {
			break
		}
		previousErrorCount = len(res.Errors)

		var next []Unit
		for _, u := range pending {
			if _, failed := res.Errors[u.FullName()]; failed {
				next = append(next, u)
			}
		}
		pending = next
		log.Infof("retrying uninstall of %d modules", len(pending))
	}
	if len(res.Errors) > 0 {
		log.Warnf("giving up on %d modules after %d rounds", len(res.Errors), res.Rounds)
	}
	return res, nil
}

// runRound runs the tool once per unit and files each outcome. A unit that
// succeeds is removed from Errors.
func runRound(ctx context.Context, tool Tool, op Operation, units []Unit, opts Options, res *Result) error {
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := u.FullName()
		outcome, err := tool.Run(ctx, op, u, opts)
		switch {
		case err != nil:
			log.Debugw("tool failed to run", "op", op, "module", name, "error", err)
			res.Errors[name] = Report{"error": err.Error()}
		case failed(outcome):
			log.Debugw("tool reported an error", "op", op, "module", name, "exit_code", outcome.ExitCode)
			report := outcome.Report
			if report == nil {
				report = Report{"exit_code": outcome.ExitCode}
			}
			res.Errors[name] = report
		default:
			delete(res.Errors, name)
			res.Successes[name] = outcome.Report
			if changed(outcome) {
				res.NumChanges++
			}
		}
	}
	return nil
}

func failed(o Outcome) bool {
	if o.ExitCode != 0 {
		return true
	}
	_, hasError := o.Report["error"]
	return hasError
}

// changed reports whether the tool says it modified the machine, as opposed
// to merely running without error.
func changed(o Outcome) bool {
	return o.Report["result"] == "success"
}
