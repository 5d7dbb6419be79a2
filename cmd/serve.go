package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pmirror/pmirror/pkg/resolver/api"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

func serve(cCtx *cli.Context) error {
	env, err := openEnv(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	r, err := env.Resolver()
	if err != nil {
		return fmt.Errorf("creating resolver: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(&api.Handlers{Resolver: r}, api.Options{
		ArchiveRoot:   filepath.Join(env.Config.Publish.BaseDir, env.Config.Resolver.Protocol),
		ArchivePrefix: env.Config.Publish.URLPrefix,
	})

	addr := cCtx.String("addr")
	if addr == "" {
		addr = env.Config.Serve.Addr
	}
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("serving releases on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-cCtx.Context.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
