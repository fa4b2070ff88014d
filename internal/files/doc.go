// Package files serves bot files straight from the bot API server's storage.
//
// A local bot API server keeps files under <root>/<bot token>/<file path>.
// The hosted API exposes the same files as /file/bot<token>/<file path>;
// this package implements that endpoint on top of the local directory.
//
// # Sandbox
//
// Resolver is the security boundary. Every request path is canonicalized
// against the real filesystem and must land inside the root:
//
//	r := files.NewResolver("/var/lib/telegram-bot-api")
//	path, err := r.Resolve("123:ABC", "photos/file_1.jpg")
//	// errors.Is(err, files.ErrNotFound) for traversal, symlink escape,
//	// missing files and everything else that cannot be served
//
// # Streaming
//
// Streamer writes the file with constant memory. Clients only ever see
// 200 with the contents or a bare 404.
package files
