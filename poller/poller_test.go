package poller

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modbuscore/gomodbus"
)

// fakeClient implements modbus.Client for poller tests.
type fakeClient struct {
	mu    sync.Mutex
	reads int
}

func (f *fakeClient) ReadCoils(ctx context.Context, address, quantity uint16) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) ReadDiscreteInputs(ctx context.Context, address, quantity uint16) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	data := make([]byte, int(quantity)*2)
	binary.BigEndian.PutUint16(data, 42)
	return data, nil
}

func (f *fakeClient) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) WriteSingleCoil(ctx context.Context, address, value uint16) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) WriteSingleRegister(ctx context.Context, address, value uint16) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) WriteMultipleCoils(ctx context.Context, address, quantity uint16, value []byte) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) WriteMultipleRegisters(ctx context.Context, address, quantity uint16, value []byte) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) ReadExceptionStatus(ctx context.Context) (byte, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeClient) ReportSlaveID(ctx context.Context) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func TestPollerDeliversResults(t *testing.T) {
	client := &fakeClient{}
	tags := []Tag{
		{Name: "temperature", FunctionCode: modbus.FuncCodeReadHoldingRegisters, Address: 10, Quantity: 1, Interval: 5 * time.Millisecond},
	}
	p := New(client, tags, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Poll(ctx)
		close(done)
	}()

	select {
	case result := <-p.ResultChan:
		if result.Tag != "temperature" {
			t.Errorf("Tag = %q, want temperature", result.Tag)
		}
		if result.Err != nil {
			t.Errorf("unexpected error: %v", result.Err)
		}
		if len(result.Data) != 2 {
			t.Errorf("Data length = %d, want 2", len(result.Data))
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	<-done
}

func TestPollerRejectsConcurrentPoll(t *testing.T) {
	client := &fakeClient{}
	tags := []Tag{
		{Name: "t", FunctionCode: modbus.FuncCodeReadHoldingRegisters, Address: 0, Quantity: 1, Interval: 10 * time.Millisecond},
	}
	p := New(client, tags, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Poll(ctx)
	time.Sleep(5 * time.Millisecond)

	if err := p.Poll(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Poll() = %v, want ErrAlreadyRunning", err)
	}
}

func TestPollerUnsupportedFunctionCode(t *testing.T) {
	client := &fakeClient{}
	tags := []Tag{
		{Name: "bad", FunctionCode: modbus.FuncCodeWriteSingleCoil, Address: 0, Quantity: 1, Interval: 5 * time.Millisecond},
	}
	p := New(client, tags, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Poll(ctx)
		close(done)
	}()

	select {
	case result := <-p.ResultChan:
		if result.Err == nil {
			t.Error("expected error for unsupported function code")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	<-done
}
