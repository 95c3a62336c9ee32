// Package api exposes snapshots and file uploads over HTTP.
//
// Server mounts the routes on a gorilla/mux router; Client consumes them
// and implements snapshot.Service and the paste uploader. A 403 response
// maps to snapshot.ErrForbidden and a 404 to snapshot.ErrNotFound.
//
// Routes, relative to the server root:
//
//	GET    /rooms/{room}/snapshots
//	POST   /rooms/{room}/snapshots
//	GET    /rooms/{room}/snapshots/{id}
//	PATCH  /rooms/{room}/snapshots/{id}
//	DELETE /rooms/{room}/snapshots/{id}
//	POST   /rooms/{room}/snapshots/{id}/apply
//	POST   /rooms/{room}/files            (multipart field "file")
package api
