package directout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tidwall/gjson"
)

// mockSender records written lines.
type mockSender struct {
	mu        sync.Mutex
	lines     []string
	connected bool
	err       error
}

func (m *mockSender) SendLine(_ context.Context, line []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.lines = append(m.lines, string(line))
	return nil
}

func (m *mockSender) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockSender) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *mockSender) {
	t.Helper()
	tr := NewTranslations()
	tr.Rebuild(mustCaps(t), DeviceProdigyMP)
	s := &mockSender{connected: true}
	return NewDispatcher(s, tr, nil), s
}

func TestDispatcher_SeqWraps(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seq, err := d.SendCmd(ctx, GetCommand())
		if err != nil {
			t.Fatalf("SendCmd() error = %v", err)
		}
		if seq != i {
			t.Errorf("seq = %d, want %d", seq, i)
		}
	}

	d.seq = MaxSeq
	for _, want := range []int{MaxSeq, 0, 1} {
		seq, err := d.SendCmd(ctx, GetCommand())
		if err != nil {
			t.Fatalf("SendCmd() error = %v", err)
		}
		if seq != want {
			t.Errorf("seq = %d, want %d", seq, want)
		}
	}

	lines := s.Lines()
	if got := gjson.Get(lines[len(lines)-2], "seq").Int(); got != 0 {
		t.Errorf("wire seq after wrap = %d, want 0", got)
	}
}

func TestDispatcher_NotConnected(t *testing.T) {
	d, s := newTestDispatcher(t)
	s.connected = false

	if _, err := d.SendCmd(context.Background(), GetCommand()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendCmd() error = %v, want ErrNotConnected", err)
	}
	if d.Seq() != 0 {
		t.Errorf("Seq() = %d, want 0 after a refused send", d.Seq())
	}

	d.SetSender(nil)
	if _, err := d.SendCmd(context.Background(), GetCommand()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCmd() without sender error = %v", err)
	}
}

func TestDispatcher_SendSet(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		value    Scalar
		category string
		wantObj  string
		wantVal  string
		wantErr  error
	}{
		{
			name:    "plain value",
			path:    "/settings/input_mute/3",
			value:   BoolValue(true),
			wantObj: `["settings","input_mute",3]`,
			wantVal: `true`,
		},
		{
			name:     "translated value",
			path:     "/settings/routing/0/4",
			value:    StringValue("in_slot1_3"),
			category: CategoryInput,
			wantObj:  `["settings","routing",0,4]`,
			wantVal:  `2`,
		},
		{
			name:     "unknown category passes through",
			path:     "/settings/device_name",
			value:    StringValue("Stage"),
			category: "bogus",
			wantObj:  `["settings","device_name"]`,
			wantVal:  `"Stage"`,
		},
		{
			name:     "untranslatable",
			path:     "/settings/routing/0/4",
			value:    StringValue("in_nowhere"),
			category: CategoryInput,
			wantErr:  ErrUntranslatable,
		},
		{
			name:    "null value",
			path:    "/settings/x",
			value:   Null(),
			wantErr: ErrNotPrimitive,
		},
		{
			name:    "bad path",
			path:    "settings",
			value:   IntValue(1),
			wantErr: ErrInvalidPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, s := newTestDispatcher(t)
			err := d.SendSet(context.Background(), tt.path, tt.value, tt.category)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SendSet() error = %v, want %v", err, tt.wantErr)
				}
				if len(s.Lines()) != 0 {
					t.Errorf("wrote %v on error", s.Lines())
				}
				return
			}
			if err != nil {
				t.Fatalf("SendSet() error = %v", err)
			}
			lines := s.Lines()
			if len(lines) != 1 {
				t.Fatalf("wrote %d lines, want 1", len(lines))
			}
			msg := gjson.Parse(lines[0])
			if got := msg.Get("type").String(); got != CommandSet {
				t.Errorf("type = %q, want set", got)
			}
			if got := msg.Get("obj").Raw; got != tt.wantObj {
				t.Errorf("obj = %s, want %s", got, tt.wantObj)
			}
			if got := msg.Get("payload").Raw; got != tt.wantVal {
				t.Errorf("payload = %s, want %s", got, tt.wantVal)
			}
			if !msg.Get("seq").Exists() {
				t.Error("seq missing")
			}
		})
	}
}

func TestDispatcher_OnSent(t *testing.T) {
	d, s := newTestDispatcher(t)
	var mu sync.Mutex
	var sent []string
	d.SetOnSent(func(cmdType string) {
		mu.Lock()
		sent = append(sent, cmdType)
		mu.Unlock()
	})

	_, _ = d.SendCmd(context.Background(), CmdCommand("flash"))
	s.err = errors.New("broken pipe")
	_, _ = d.SendCmd(context.Background(), GetCommand())

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || sent[0] != CommandCmd {
		t.Errorf("sent = %v, want [cmd]", sent)
	}
	if got := gjson.Get(s.Lines()[0], "payload").String(); got != "flash" {
		t.Errorf("payload = %q, want flash", got)
	}
}
