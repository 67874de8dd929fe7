package main

import (
	"context"
	"sync"
	"time"

	"kimchi-observer/src/config"
	"kimchi-observer/src/grpc_control"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/server"
)

// -----------------------------------------------------------------------------

// startServers orchestrates the startup of the REST/websocket and gRPC servers.
// Both stop when ctx is cancelled.
func startServers(
	ctx context.Context,
	wg *sync.WaitGroup,
	conf *config.Config,
	deps server.Deps,
	appLogger *logger.Logger,
) interfaces.IDataExchanger {

	// 1. REST + websocket
	var apiServer interfaces.IDataExchanger = server.NewAPIServer(conf.MConfig, deps, logger.NewLogger(conf.MConfig, "APIServer"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(ctx); err != nil {
			appLogger.Error("API server failed: %v", err)
		}
	}()

	// 2. gRPC health
	if conf.GrpcPort > 0 {
		control := grpc_control.NewControlService(deps.Health, 5*time.Second, logger.NewLogger(conf.MConfig, "ControlService"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := control.Start(ctx, conf.GrpcHost, conf.GrpcPort); err != nil {
				appLogger.Error("gRPC server failed: %v", err)
			}
		}()
	}

	return apiServer
}

// -----------------------------------------------------------------------------

// runRetention removes rows older than the retention window once an hour.
func runRetention(ctx context.Context, wg *sync.WaitGroup, cleanup func(context.Context) error, appLogger *logger.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cctx, cancel := context.WithTimeout(ctx, time.Minute)
				if err := cleanup(cctx); err != nil {
					appLogger.Warning("Retention cleanup failed: %v", err)
				}
				cancel()
			}
		}
	}()
}
