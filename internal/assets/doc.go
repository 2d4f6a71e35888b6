// Package assets embeds the browser chat client.
//
// The client is plain HTML, CSS, and JavaScript with no build step. It talks
// to the gateway's JSON API, reads replies from the /api/send SSE stream, and
// follows room events over /ws so summaries started by one tab show up in
// every tab.
package assets
