package main

import (
	"context"

	"github.com/canvass-hq/canvass/internal/canvass"
	"github.com/canvass-hq/canvass/internal/logging"
	"github.com/canvass-hq/canvass/internal/prometheus"
	"go.uber.org/zap"
)

func main() {
	go prometheus.Run()

	for {
		ctx, cancel := context.WithCancel(context.Background())

		app, err := canvass.NewApp(cancel)
		if err != nil {
			logging.Logger.Fatal("failed to create canvass app", zap.String("error", err.Error()))
		}

		err = app.Run(ctx)
		if err != nil {
			panic(err)
		}

		<-ctx.Done()

		app.HealthCheckerService.Check()

		cancel()
	}
}
