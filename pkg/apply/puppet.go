package apply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
)

// DefaultBinary is the puppet executable looked up on PATH.
const DefaultBinary = "puppet"

// subcommands maps each operation to the puppet module action performing it.
var subcommands = map[Operation]string{
	OpInstall:   "install",
	OpUpdate:    "upgrade",
	OpUninstall: "uninstall",
}

// PuppetTool runs `puppet module` with JSON output.
type PuppetTool struct {
	Binary string
}

var _ Tool = (*PuppetTool)(nil)

// Run executes the tool for one unit. A non-zero exit is not an error; it is
// reported in the outcome alongside whatever JSON the tool printed.
func (p *PuppetTool) Run(ctx context.Context, op Operation, unit Unit, opts Options) (Outcome, error) {
	args, err := Args(op, unit, opts)
	if err != nil {
		return Outcome{}, err
	}
	bin := p.Binary
	if bin == "" {
		bin = DefaultBinary
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debugw("running module tool", "binary", bin, "args", args)

	outcome := Outcome{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Outcome{}, fmt.Errorf("running %s: %w", bin, err)
		}
		outcome.ExitCode = exitErr.ExitCode()
	}

	report, err := ParseReport(stdout.Bytes())
	if err != nil {
		if outcome.ExitCode == 0 {
			return Outcome{}, err
		}
		report = Report{"error": stderr.String()}
	}
	outcome.Report = report
	return outcome, nil
}

// Args builds the puppet module command line for one unit.
func Args(op Operation, unit Unit, opts Options) ([]string, error) {
	sub, ok := subcommands[op]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	args := []string{"module", sub, "--render-as=json"}
	if unit.Version != "" && op != OpUninstall {
		args = append(args, "--version", unit.Version)
	}
	if op != OpUninstall {
		if repo := ModuleRepository(opts); repo != "" {
			args = append(args, "--module_repository", repo)
		}
		if opts.IgnoreDeps {
			args = append(args, "--ignore-dependencies")
		}
	}
	if opts.Force {
		args = append(args, "--force")
	}
	if opts.ModulePath != "" {
		args = append(args, "--modulepath", opts.ModulePath)
	}
	return append(args, unit.Author+"-"+unit.Name), nil
}

// ModuleRepository returns the forge URL the tool should install from. The
// consumer and repository ids ride along as basic auth credentials, with the
// null sentinel standing in for either one left unset.
func ModuleRepository(opts Options) string {
	if opts.ForgeURL != "" {
		return opts.ForgeURL
	}
	if opts.ForgeHost == "" {
		return ""
	}
	consumer, repo := opts.ConsumerID, opts.RepoID
	if consumer == "" {
		consumer = "."
	}
	if repo == "" {
		repo = "."
	}
	u := url.URL{Scheme: "https", User: url.UserPassword(consumer, repo), Host: opts.ForgeHost}
	return u.String()
}

// ParseReport decodes the JSON document the tool prints. Anything written
// before the document, such as deprecation warnings, is skipped.
func ParseReport(out []byte) (Report, error) {
	start := bytes.IndexByte(out, '{')
	if start < 0 {
		return nil, errors.New("no JSON report in tool output")
	}
	var report Report
	if err := json.NewDecoder(bytes.NewReader(out[start:])).Decode(&report); err != nil {
		return nil, fmt.Errorf("decoding tool report: %w", err)
	}
	return report, nil
}
