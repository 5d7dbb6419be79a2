package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/pmirror/pmirror/internal/cmdutil"
	"github.com/pmirror/pmirror/pkg/synchronizer/model"
	"github.com/urfave/cli/v2"
)

func syncRepos(cCtx *cli.Context) error {
	env, err := openEnv(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	ids := cCtx.Args().Slice()
	if cCtx.Bool("all") {
		for _, r := range env.Config.Repositories {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("at least one repository id is required")
	}

	var errs []error
	for _, repoID := range ids {
		if err := syncRepo(cCtx.Context, env, repoID, cCtx.Bool("publish")); err != nil {
			errs = append(errs, err)
		}
		if cCtx.Context.Err() != nil {
			return fmt.Errorf("sync canceled: %w", cCtx.Context.Err())
		}
	}
	return errors.Join(errs...)
}

func syncRepo(ctx context.Context, env *cmdutil.Env, repoID string, publish bool) error {
	s, err := env.Synchronizer(ctx, repoID)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, s.Cancel)
	defer stop()

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond) // Spinner: ⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏
	sp.Suffix = fmt.Sprintf(" syncing %s", repoID)
	s.OnProgress = func(snap model.Snapshot) {
		sp.Lock()
		sp.Suffix = fmt.Sprintf(" syncing %s: metadata %s, modules %d/%d, %d errors",
			repoID, snap.Metadata.State, snap.Modules.Finished, snap.Modules.Total, snap.Modules.ErrorCount)
		sp.Unlock()
	}
	sp.Start()
	report, err := s.Run(ctx)
	sp.Stop()
	if err != nil {
		return fmt.Errorf("syncing %s: %w", repoID, err)
	}

	printReport(report)
	if !report.Succeeded() {
		return fmt.Errorf("sync of %s did not succeed", repoID)
	}
	if publish {
		if err := env.Publisher().Publish(ctx, repoID); err != nil {
			return fmt.Errorf("publishing %s: %w", repoID, err)
		}
		fmt.Printf("Published %s\n", repoID)
	}
	return nil
}

func printReport(report *model.Report) {
	meta, mods := report.Metadata(), report.Modules()
	fmt.Printf("%s (run %s)\n", report.RepositoryID(), report.ID())
	fmt.Printf("  metadata: %s\n", meta.State)
	if meta.ErrorMessage != "" {
		fmt.Printf("    %s\n", meta.ErrorMessage)
	}
	fmt.Printf("  modules:  %s, %d/%d imported, %d errors, %d removed\n",
		mods.State, mods.Finished-mods.ErrorCount, mods.Total, mods.ErrorCount, report.Removed())
	for _, e := range mods.ModuleErrors {
		fmt.Printf("    %s: %s\n", e.Module, e.Error)
	}
	if mods.ErrorMessage != "" {
		fmt.Printf("    %s\n", mods.ErrorMessage)
	}
}
