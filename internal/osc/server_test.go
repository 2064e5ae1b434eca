package osc

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestDispatcher_TypeMatching(t *testing.T) {
	d := NewDispatcher()
	var got []string

	d.Handle("/sys/info", "", func(*Message, net.Addr) error { got = append(got, "none"); return nil })
	d.Handle("/sys/info", "i", func(*Message, net.Addr) error { got = append(got, "i"); return nil })
	d.Handle("/sys/info", "si", func(*Message, net.Addr) error { got = append(got, "si"); return nil })

	tests := []struct {
		msg  *Message
		want string
	}{
		{NewMessage("/sys/info"), "none"},
		{NewMessage("/sys/info", 9000), "i"},
		{NewMessage("/sys/info", "localhost", 9000), "si"},
	}
	for _, tt := range tests {
		got = nil
		if err := d.Dispatch(tt.msg, nil); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", tt.msg.TypeTags(), err)
		}
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("Dispatch(%s) ran %v, want [%s]", tt.msg.TypeTags(), got, tt.want)
		}
	}

	if err := d.Dispatch(NewMessage("/sys/info", "x"), nil); !errors.Is(err, ErrNoMethod) {
		t.Errorf("Dispatch(s) error = %v, want ErrNoMethod", err)
	}
	if err := d.Dispatch(NewMessage("/nope"), nil); !errors.Is(err, ErrNoMethod) {
		t.Errorf("Dispatch(/nope) error = %v, want ErrNoMethod", err)
	}
}

func TestDispatcher_AnyTypesAndUnhandle(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	d.Handle("/monome/grid/led/row", AnyTypes, func(*Message, net.Addr) error { calls++; return nil })

	d.Dispatch(NewMessage("/monome/grid/led/row", 0, 0, 255), nil)
	d.Dispatch(NewMessage("/monome/grid/led/row", 0, 0, 255, 255), nil)
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	d.Unhandle("/monome/grid/led/row")
	if err := d.Dispatch(NewMessage("/monome/grid/led/row", 0, 0, 1), nil); !errors.Is(err, ErrNoMethod) {
		t.Errorf("after Unhandle error = %v, want ErrNoMethod", err)
	}
}

func TestServer_RequestReply(t *testing.T) {
	srv, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer srv.Close()

	srv.Handle("/ping", "si", func(msg *Message, _ net.Addr) error {
		host, _ := msg.String(0)
		port, _ := msg.Int(1)
		to, err := ResolveAddr(host, port)
		if err != nil {
			return err
		}
		return srv.Send(to, NewMessage("/pong", srv.Port()))
	})

	go func() {
		buf := make([]byte, 1500)
		n, from, err := srv.Conn().ReadFrom(buf)
		if err != nil {
			return
		}
		srv.HandlePacket(buf[:n], from)
	}()

	client, err := Dial("127.0.0.1", srv.Port())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	if err := client.Send(NewMessage("/ping", "127.0.0.1", client.LocalAddr().Port)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	reply, err := client.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if reply == nil || reply.Address != "/pong" {
		t.Fatalf("reply = %+v, want /pong", reply)
	}
	if port, _ := reply.Int(0); port != srv.Port() {
		t.Errorf("reply port = %d, want %d", port, srv.Port())
	}
}

func TestClient_ReceiveTimeout(t *testing.T) {
	client, err := Dial("127.0.0.1", 9)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	msg, err := client.Receive(20 * time.Millisecond)
	if err != nil || msg != nil {
		t.Errorf("Receive() = %v, %v; want nil, nil", msg, err)
	}
}

func TestResolveAddr_BadPort(t *testing.T) {
	if _, err := ResolveAddr("localhost", 0); err == nil {
		t.Error("ResolveAddr(port 0) error = nil")
	}
	if _, err := ResolveAddr("localhost", 70000); err == nil {
		t.Error("ResolveAddr(port 70000) error = nil")
	}
}
