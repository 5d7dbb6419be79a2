package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func publish(cCtx *cli.Context) error {
	ids := cCtx.Args().Slice()
	if len(ids) == 0 {
		return fmt.Errorf("at least one repository id is required")
	}
	env, err := openEnv(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	publisher := env.Publisher()
	for _, repoID := range ids {
		if _, err := env.Repositories.GetRepositoryByID(cCtx.Context, repoID); err != nil {
			return err
		}
		if err := publisher.Publish(cCtx.Context, repoID); err != nil {
			return fmt.Errorf("publishing %s: %w", repoID, err)
		}
		fmt.Printf("Published %s\n", repoID)
	}
	return nil
}

func unpublish(cCtx *cli.Context) error {
	ids := cCtx.Args().Slice()
	if len(ids) == 0 {
		return fmt.Errorf("at least one repository id is required")
	}
	env, err := openEnv(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	publisher := env.Publisher()
	for _, repoID := range ids {
		if err := publisher.Unpublish(repoID); err != nil {
			return fmt.Errorf("unpublishing %s: %w", repoID, err)
		}
		fmt.Printf("Unpublished %s\n", repoID)
	}
	return nil
}
