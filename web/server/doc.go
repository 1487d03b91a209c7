// Package server manages the HTTP server lifecycle with graceful shutdown.
//
// Basic usage:
//
//	srv := server.New(app, server.WithHost(":3000"))
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
//
// Shutdown starts when ctx is done or on SIGINT/SIGTERM. Registered
// shutdown functions run in order before in-flight requests are drained:
//
//	srv := server.New(app,
//		server.WithShutdownFunc(func(ctx context.Context) error {
//			return batches.Wait()
//		}),
//	)
package server
