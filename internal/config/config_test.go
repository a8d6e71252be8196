package config

import "testing"

func TestParseTopics(t *testing.T) {
	raw := "AI:Is this about artificial intelligence?:#ai-alerts\nClimate:Is this about climate change?"
	topics, err := ParseTopics(raw)
	if err != nil {
		t.Fatalf("ParseTopics failed: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	if topics[0].Name != "AI" || topics[0].SlackChannel != "#ai-alerts" {
		t.Errorf("unexpected first topic: %+v", topics[0])
	}
	if topics[1].SlackChannel != "" {
		t.Errorf("expected no slack channel for second topic, got %q", topics[1].SlackChannel)
	}
}

func TestParseTopicsMalformed(t *testing.T) {
	if _, err := ParseTopics("justaname"); err == nil {
		t.Error("expected error for topic entry missing a prompt")
	}
}

func TestParseFeedURLs(t *testing.T) {
	urls := ParseFeedURLs("https://a.example/feed.xml; https://b.example/rss ;;")
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %d: %v", len(urls), urls)
	}
}

func TestParseEndpoints(t *testing.T) {
	raw := "localhost|11434|llama3/no_think;remote|11435|mixtral||fallback|11436|phi3"
	endpoints, err := ParseEndpoints(raw)
	if err != nil {
		t.Fatalf("ParseEndpoints failed: %v", err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(endpoints))
	}
	if !endpoints[0].NoThink || endpoints[0].Model != "llama3" {
		t.Errorf("expected no_think llama3, got %+v", endpoints[0])
	}
	if endpoints[1].Fallback == nil || endpoints[1].Fallback.Host != "fallback" {
		t.Errorf("expected fallback endpoint, got %+v", endpoints[1])
	}
}

func TestParseEndpointsMalformed(t *testing.T) {
	if _, err := ParseEndpoints("localhost|notaport|model"); err == nil {
		t.Error("expected error for non-numeric port")
	}
	if _, err := ParseEndpoints("localhost|11434"); err == nil {
		t.Error("expected error for missing model field")
	}
}

func TestFormatAndParseModelNameRoundTrip(t *testing.T) {
	cases := []struct {
		model   string
		noThink bool
	}{
		{"llama3", false},
		{"llama3", true},
		{"mixtral:8x7b", true},
	}
	for _, c := range cases {
		formatted := FormatModelName(c.model, c.noThink)
		gotModel, gotNoThink := ParseModelName(formatted)
		if gotModel != c.model || gotNoThink != c.noThink {
			t.Errorf("round trip failed for %+v: got model=%q noThink=%v", c, gotModel, gotNoThink)
		}
	}
}
