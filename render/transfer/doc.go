// Package transfer downloads provider-hosted results to local files.
//
// An Engine walks an ordered list of strategies (net/http, resty, and a
// keep-alive-free client with a browser User-Agent). Each strategy gets a
// fixed number of sequential attempts with 1s, 2s, 4s ... backoff before
// the next one takes over. Non-http(s) locators are rejected up front.
package transfer
