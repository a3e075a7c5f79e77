package bus

import (
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Ch():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicTaskCreated)
	defer b.Unsubscribe(sub)

	b.Publish(TopicTaskCreated, TaskEvent{TaskID: "task_1", Source: "email"})

	ev := recv(t, sub)
	if ev.Topic != TopicTaskCreated {
		t.Fatalf("topic = %q, want %q", ev.Topic, TopicTaskCreated)
	}
	payload, ok := ev.Payload.(TaskEvent)
	if !ok {
		t.Fatalf("payload type = %T", ev.Payload)
	}
	if payload.TaskID != "task_1" {
		t.Fatalf("task id = %q, want task_1", payload.TaskID)
	}
}

func TestPrefixMatching(t *testing.T) {
	b := New()
	taskSub := b.Subscribe("task.")
	watcherSub := b.Subscribe("watcher.")
	allSub := b.Subscribe("")
	defer b.Unsubscribe(taskSub)
	defer b.Unsubscribe(watcherSub)
	defer b.Unsubscribe(allSub)

	b.Publish(TopicTaskStateChanged, TaskEvent{TaskID: "task_2"})

	ev := recv(t, taskSub)
	if ev.Topic != TopicTaskStateChanged {
		t.Fatalf("task sub got topic %q", ev.Topic)
	}
	recv(t, allSub)

	select {
	case ev := <-watcherSub.Ch():
		t.Fatalf("watcher sub received %q", ev.Topic)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	if _, open := <-sub.Ch(); open {
		t.Fatal("channel still open after Unsubscribe")
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", n)
	}
	// Double unsubscribe must not panic.
	b.Unsubscribe(sub)
}

func TestSlowConsumerDropsEvents(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicWatcherError)
	defer b.Unsubscribe(sub)

	for i := 0; i < defaultBufferSize+10; i++ {
		b.Publish(TopicWatcherError, WatcherEvent{Watcher: "email"})
	}

	if n := len(sub.Ch()); n != defaultBufferSize {
		t.Fatalf("buffered = %d, want %d", n, defaultBufferSize)
	}
}
