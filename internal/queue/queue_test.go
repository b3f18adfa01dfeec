package queue

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestNewProducer_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	if _, err := NewProducer(ProducerConfig{Driver: "carrier-pigeon"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewProducer_KafkaRequiresBrokers(t *testing.T) {
	t.Parallel()

	if _, err := NewProducer(ProducerConfig{Driver: DriverKafka}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestStdioProducer_Publish(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p, err := NewProducer(ProducerConfig{Driver: DriverStdio, Writer: &buf})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	defer p.Close()

	if err := p.Publish(context.Background(), "claims.witness.v1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Publish(context.Background(), "claims.witness.v1", []byte(`{"b":2}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want := "{\"a\":1}\n{\"b\":2}\n"
	if buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}
}

func TestSplitCommaList(t *testing.T) {
	t.Parallel()

	got := SplitCommaList(" a, b ,,c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("SplitCommaList = %v", got)
	}
	if got := SplitCommaList("  "); got != nil {
		t.Fatalf("blank input must yield nil, got %v", got)
	}
}
