// ABOUTME: In-band reset command parsing with provider/model retargeting.
// ABOUTME: Providers match by equality or unique case-insensitive prefix.

package session

import "strings"

// ResetCommand is a parsed reset trigger.
type ResetCommand struct {
	Trigger          string
	ProviderOverride string
	ModelOverride    string

	// NextText is the prompt that seeds the fresh session: the text that
	// followed the consumed tokens, or the configured greeting.
	NextText string
}

// MatchProvider resolves a token against known provider hints by
// case-insensitive equality or unique prefix.
func MatchProvider(token string, hints []string) (string, bool) {
	lower := strings.ToLower(token)
	if lower == "" {
		return "", false
	}

	var prefixMatch string
	matches := 0
	for _, h := range hints {
		hl := strings.ToLower(h)
		if hl == lower {
			return h, true
		}
		if strings.HasPrefix(hl, lower) {
			prefixMatch = h
			matches++
		}
	}
	if matches == 1 {
		return prefixMatch, true
	}
	return "", false
}

// looksModelLike reports whether a token plausibly names a model rather
// than starting a prompt: it contains a digit or model-id punctuation.
func looksModelLike(token string) bool {
	return strings.ContainsAny(token, "0123456789-_:./")
}

// ParseResetCommand inspects trimmed text for a leading reset trigger.
// Returns nil when the first token is not a configured trigger. For the
// /new trigger, the following token may retarget the provider and model.
func ParseResetCommand(text string, triggers []string, providerHints []string, greeting string) *ResetCommand {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}

	trigger := ""
	for _, t := range triggers {
		if strings.EqualFold(fields[0], t) {
			trigger = t
			break
		}
	}
	if trigger == "" {
		return nil
	}

	cmd := &ResetCommand{Trigger: trigger}
	rest := fields[1:]

	if trigger == "/new" && len(rest) > 0 {
		token := rest[0]
		consumed := false

		if left, right, found := strings.Cut(token, "/"); found {
			if provider, ok := MatchProvider(left, providerHints); ok {
				cmd.ProviderOverride = provider
				if right != "" {
					cmd.ModelOverride = right
				}
			} else {
				cmd.ModelOverride = token
			}
			consumed = true
		} else if provider, ok := MatchProvider(token, providerHints); ok {
			cmd.ProviderOverride = provider
			consumed = true
		} else if looksModelLike(token) {
			cmd.ModelOverride = token
			consumed = true
		}

		if consumed {
			rest = rest[1:]
		}
	}

	cmd.NextText = strings.Join(rest, " ")
	if cmd.NextText == "" {
		cmd.NextText = greeting
	}
	return cmd
}
