// Package dedupe tracks recently seen channel event ids so webhook
// retries do not trigger duplicate agent turns.
package dedupe
