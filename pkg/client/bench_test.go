package client

import (
	"testing"
	"time"
)

func BenchmarkCall(b *testing.B) {
	s := newTestServer(b, echoHandler)
	defer s.close()

	c := New(Config{
		Host: "127.0.0.1",
		Port: s.port(),
	})
	defer c.Close()

	if _, err := c.WaitForConnectionTimeout(2 * time.Second); err != nil {
		b.Fatal(err)
	}

	payload := make([]byte, 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var result []byte
		if err := c.Call(&result, "echo", payload); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkConcurrentCalls(b *testing.B) {
	s := newTestServer(b, echoHandler)
	defer s.close()

	c := New(Config{
		Host: "127.0.0.1",
		Port: s.port(),
	})
	defer c.Close()

	if _, err := c.WaitForConnectionTimeout(2 * time.Second); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			var result string
			if err := c.Call(&result, "echo", "ping"); err != nil {
				b.Fatal(err)
			}
		}
	})
}
