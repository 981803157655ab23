package slackconn

import "testing"

func TestIsAllowedChannel(t *testing.T) {
	open := &Connector{config: Config{}}
	if !open.isAllowedChannel("C123") {
		t.Error("empty filter must allow all channels")
	}

	scoped := &Connector{config: Config{Channels: []string{"C1", "C2"}}}
	if !scoped.isAllowedChannel("C2") {
		t.Error("listed channel rejected")
	}
	if scoped.isAllowedChannel("C9") {
		t.Error("unlisted channel accepted")
	}
}

func TestNewRequiresTokens(t *testing.T) {
	if _, err := New(Config{AppToken: "xapp-x"}, nil, nil, nil); err == nil {
		t.Error("missing bot token accepted")
	}
	if _, err := New(Config{BotToken: "xoxb-x"}, nil, nil, nil); err == nil {
		t.Error("missing app token accepted")
	}
}
