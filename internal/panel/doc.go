// Package panel serves the garden dashboard as an embedded asset.
//
// The dashboard is a single static page that lists the nodes from
// /api/v1/nodes, follows /api/v1/ws for live readings and command events,
// and switches pumps through POST /api/v1/nodes/{id}/pump.
//
// Unknown paths fall back to index.html. Every response is sent with
// Cache-Control: no-cache so an upgraded gateway never serves a stale page.
package panel
