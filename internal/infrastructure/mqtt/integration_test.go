//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_Connect(t *testing.T) {
	client, err := Connect(testConfig(), Topics{Site: "int"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "dobridge-int-sub-track"
	topics := Topics{Site: "int"}

	client, err := Connect(cfg, topics)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	handler := func(string, []byte) error { return nil }
	for _, topic := range []string{topics.CommandAction(), topics.CommandSet()} {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", client.SubscriptionCount())
	}

	if err := client.Unsubscribe(topics.CommandSet()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics.CommandSet()) {
		t.Error("HasSubscription() = true after unsubscribe")
	}
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	cfg := testConfig()
	topics := Topics{Site: "int"}

	cfg.Broker.ClientID = "dobridge-int-pub"
	pub, err := Connect(cfg, topics)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	cfg.Broker.ClientID = "dobridge-int-sub"
	sub, err := Connect(cfg, topics)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	var once sync.Once
	err = sub.Subscribe(topics.AllVariables(), 1, func(topic string, p []byte) error {
		once.Do(func() { received <- topic + "=" + string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(topics.Variable("device_samplerate"), []byte("48000"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if want := "directout/int/variable/device_samplerate=48000"; msg != want {
			t.Errorf("received %q, want %q", msg, want)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}
}
