// Package slack adapts Slack's Events API onto the gateway's channel
// adapter contract: signed webhook verification, event parsing, and
// reply delivery via chat.postMessage.
package slack
