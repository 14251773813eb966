package orchestrator

import "testing"

func TestStatesIntent(t *testing.T) {
	rules := DefaultIntentRules()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"i will search", "I will search the checkout logs for errors.", true},
		{"i will now fetch", "I will now fetch the latest events.", true},
		{"contraction", "I'll check the payment group next.", true},
		{"let me", "Let me query the last hour of logs.", true},
		{"going to", "I'm going to look at the auth service first.", true},
		{"am going to", "I am going to scan the ingress logs.", true},
		{"case insensitive", "i will RETRIEVE the events", true},
		{"plain answer", "The service failed because of an OOM kill.", false},
		{"past tense", "I searched the logs and found nothing.", false},
		{"will without verb", "I will be happy to help with that.", false},
		{"mention of tool", "You could search the logs yourself with grep.", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statesIntent(rules, tt.text); got != tt.want {
				t.Errorf("statesIntent(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestStatesIntentCustomRules(t *testing.T) {
	if statesIntent(nil, "I will search the logs.") {
		t.Fatal("empty rule set must never match")
	}
}
