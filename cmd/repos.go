package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func listRepos(cCtx *cli.Context) error {
	env, err := openEnv(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	repos, err := env.Repositories.ListRepositories(cCtx.Context)
	if err != nil {
		return err
	}
	for _, r := range repos {
		fmt.Printf("%s\t%s\n", r.ID(), r.DisplayName())
		report, err := env.Repo.LatestSyncReport(cCtx.Context, r.ID())
		if err != nil {
			return err
		}
		if report != nil {
			fmt.Printf("\tlast sync %s: metadata %s, modules %s\n",
				report.UpdatedAt().Format("2006-01-02 15:04:05"), report.Metadata().State, report.Modules().State)
		}
	}
	return nil
}

func bindConsumer(cCtx *cli.Context) error {
	consumerID, repoID := cCtx.Args().Get(0), cCtx.Args().Get(1)
	if consumerID == "" || repoID == "" {
		return fmt.Errorf("a consumer id and a repository id are required")
	}
	env, err := openEnv(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()
	return env.Repositories.BindConsumer(cCtx.Context, consumerID, repoID)
}

func unbindConsumer(cCtx *cli.Context) error {
	consumerID, repoID := cCtx.Args().Get(0), cCtx.Args().Get(1)
	if consumerID == "" || repoID == "" {
		return fmt.Errorf("a consumer id and a repository id are required")
	}
	env, err := openEnv(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()
	return env.Repositories.UnbindConsumer(cCtx.Context, consumerID, repoID)
}

func listModules(cCtx *cli.Context) error {
	repoID := cCtx.Args().First()
	if repoID == "" {
		return fmt.Errorf("a repository id is required")
	}
	env, err := openEnv(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	mods, err := env.Modules.Modules(cCtx.Context, repoID)
	if err != nil {
		return err
	}
	for _, m := range mods {
		fmt.Printf("%s\t%s\t%s\n", m.FullName(), m.Version(), m.Checksum())
	}
	return nil
}
