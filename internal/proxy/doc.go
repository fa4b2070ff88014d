// Package proxy implements the HTTP front end for a local bot API server.
//
// Requests are dispatched three ways:
//
//   - GET/HEAD /file/bot<id>/<path> is served from the sandbox root on disk
//     and never reaches the upstream
//   - POST /bot<id>/GetFile is forwarded, and a successful response has its
//     absolute result.file_path rewritten relative to the bot directory
//   - everything else is forwarded as is, streamed in both directions
//
// # Running the Proxy
//
//	srv, err := proxy.NewServer(cfg, proxy.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := srv.Listen(); err != nil {
//	    return err
//	}
//	go srv.Serve()
//	defer srv.Shutdown(ctx)
//
// Upstream connection failures are answered with 502 and the error text.
// Bot tokens in request paths are masked before they are logged.
package proxy
