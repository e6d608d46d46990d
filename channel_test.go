package crossbar

import (
	"reflect"
	"testing"
	"time"
)

func TestChannelStoreOrCreateIsLazyAndMemoized(t *testing.T) {
	c := newChannel("prices.eur", reflect.TypeOf(0.0))
	if c.storeIfExists() != nil {
		t.Fatal("expected no store before first use")
	}
	store := c.storeOrCreate()
	if store == nil {
		t.Fatal("expected store to be created")
	}
	if c.storeOrCreate() != store {
		t.Fatal("expected storeOrCreate to return the same instance on repeated calls")
	}
}

func TestChannelAttachDetachAndSnapshot(t *testing.T) {
	c := newChannel("orders.nyse", reflect.TypeOf(0))
	bus, err := NewBus(CrossBarOptions{}, nil)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Dispose()

	sub := newSubscription(bus, 1, "sub-1", "orders.nyse", false, reflect.TypeOf(0), SubscriptionOptions{}, func(*Envelope) error { return nil })
	defer sub.Dispose()

	c.attach(sub)
	if snapshot := c.snapshotSubscriptions(); len(snapshot) != 1 {
		t.Fatalf("expected 1 attached subscription, got %d", len(snapshot))
	}
	c.detach(sub.id)
	if snapshot := c.snapshotSubscriptions(); len(snapshot) != 0 {
		t.Fatalf("expected 0 attached subscriptions after detach, got %d", len(snapshot))
	}
}

func TestChannelInfoReportsMetadata(t *testing.T) {
	c := newChannel("orders.nyse", reflect.TypeOf(0))
	c.recordPublish("trader-1", time.Now())
	info := c.info()
	if info.Name != "orders.nyse" {
		t.Errorf("Name = %q, want orders.nyse", info.Name)
	}
	if info.PublishCount != 1 {
		t.Errorf("PublishCount = %d, want 1", info.PublishCount)
	}
	if info.LastFrom != "trader-1" {
		t.Errorf("LastFrom = %q, want trader-1", info.LastFrom)
	}
	if info.HasStore {
		t.Error("expected HasStore false before any store use")
	}
	if info.BodyTypeName != "int" {
		t.Errorf("BodyTypeName = %q, want int", info.BodyTypeName)
	}
}
