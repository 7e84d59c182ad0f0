// Package registry resolves routing keys to backend targets.
//
// The chat table is a rule-ordered prefix lookup: the first rule whose prefix
// matches the model name wins, and an unmatched model falls back to the
// default target. A miss is never an error — resolution is a total function
// so the dispatch layer has exactly one failure mode (transport).
//
// A Registry is built once at startup and never mutated afterwards, so it is
// safe for concurrent reads from any number of in-flight requests.
package registry

import "strings"

// Target is the network address of a downstream inference service, plus the
// operator-facing name used in diagnostics ("llm-node unreachable: …").
type Target struct {
	// Name identifies the backend in logs and error payloads.
	Name string

	// URL is the full endpoint URL, e.g. "http://localhost:9000/v1/chat/completions".
	URL string
}

// Rule maps a model-name prefix to a target. Rules are evaluated in order;
// the first match wins.
type Rule struct {
	Prefix string
	Target Target
}

// Registry holds the immutable routing tables for both request types.
type Registry struct {
	chatRules   []Rule
	chatDefault Target
	speech      Target
}

// New builds a Registry. chatDefault serves any model no rule matches;
// rules may be empty (single-backend deployment, today's default).
func New(chatDefault, speech Target, rules ...Rule) *Registry {
	return &Registry{
		chatRules:   append([]Rule(nil), rules...),
		chatDefault: chatDefault,
		speech:      speech,
	}
}

// ResolveChat returns the chat backend for the given model name.
// First-match-wins over the configured prefix rules; an unmatched (or empty)
// model resolves to the default target.
func (r *Registry) ResolveChat(model string) Target {
	for _, rule := range r.chatRules {
		if strings.HasPrefix(model, rule.Prefix) {
			return rule.Target
		}
	}
	return r.chatDefault
}

// ResolveSpeech returns the speech backend. Speech routing is single-backend
// in this scope; the rule machinery extends here the same way when multiple
// TTS engines are fielded.
func (r *Registry) ResolveSpeech() Target {
	return r.speech
}

// Targets returns the distinct targets the registry can resolve to,
// deduplicated by URL. Used by the health checker to know what to probe.
func (r *Registry) Targets() []Target {
	seen := make(map[string]bool, len(r.chatRules)+2)
	out := make([]Target, 0, len(r.chatRules)+2)

	add := func(t Target) {
		if t.URL == "" || seen[t.URL] {
			return
		}
		seen[t.URL] = true
		out = append(out, t)
	}

	add(r.chatDefault)
	for _, rule := range r.chatRules {
		add(rule.Target)
	}
	add(r.speech)

	return out
}
