package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pmirror/pmirror/pkg/apply"
	"github.com/urfave/cli/v2"
)

func applyUnits(cCtx *cli.Context) error {
	args := cCtx.Args().Slice()
	if len(args) < 2 {
		return fmt.Errorf("an operation and at least one module are required")
	}
	op := apply.Operation(args[0])

	units := make([]apply.Unit, 0, len(args)-1)
	for _, a := range args[1:] {
		u, err := apply.ParseUnit(a)
		if err != nil {
			return err
		}
		units = append(units, u)
	}

	tool := &apply.PuppetTool{Binary: cCtx.String("puppet")}
	res, err := apply.Apply(cCtx.Context, tool, op, units, apply.Options{
		ForgeURL:   cCtx.String("forge-url"),
		ForgeHost:  cCtx.String("forge-host"),
		ConsumerID: cCtx.String("consumer"),
		RepoID:     cCtx.String("repo"),
		IgnoreDeps: cCtx.Bool("ignore-deps"),
		Force:      cCtx.Bool("force"),
		ModulePath: cCtx.String("modulepath"),
	})
	if res != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"successes":   res.Successes,
			"errors":      res.Errors,
			"num_changes": res.NumChanges,
		}); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%s failed for %d modules", op, len(res.Errors))
	}
	return nil
}
