package pipeline

import (
	"testing"
	"time"

	"github.com/mdzesseis/eventnorm/internal/rules"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

func mustCompileTranslator(t *testing.T, doc string) types.Translator {
	t.Helper()
	tr, err := rules.Compile([]byte(doc), nil)
	if err != nil {
		t.Fatalf("rules.Compile: %v", err)
	}
	return tr
}

func runProcessorToEOS(t *testing.T, proc *Transformer, queue *types.BoundedQueue) {
	t.Helper()
	done := make(chan struct{})
	go func() { proc.Run(); close(done) }()
	queue.Put(types.EOS)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not exit after EOS")
	}
}

func TestEventProcessorParsesTranslatesAndForwards(t *testing.T) {
	parser := types.ParserFunc(func(text string) (types.Tree, error) {
		return types.Tree{"host": "fw01", "raw": text}, nil
	})
	manager := rules.NewTranslatorsManager(mustCompileTranslator(t, `{"rules": [{"host": {"@move": "device.hostname"}}]}`))

	queue := types.NewBoundedQueue(0)
	sink := &collectingSink{}
	proc := NewEventProcessor("demo-fw", parser, manager, queue, sink, nil, nil)

	in := types.NewEvent(types.Tree{"rawEvent": "fw01 deny", "sourceType": "demo-fw"})
	go func() {
		queue.Put(in)
		queue.Put(types.EOS)
	}()
	proc.Run()

	if len(sink.events) != 2 || !sink.events[1].IsEOS() {
		t.Fatalf("expected exactly one translated event followed by EOS, got %d events", len(sink.events))
	}
	if v, _ := sink.events[0].Data().GetString("device.hostname"); v != "fw01" {
		t.Fatalf("expected device.hostname=fw01, got %q", v)
	}
}

func TestEventProcessorDropsEventMissingRawEvent(t *testing.T) {
	parser := types.ParserFunc(func(text string) (types.Tree, error) { return types.Tree{}, nil })
	manager := rules.NewTranslatorsManager(mustCompileTranslator(t, `{"rules": [{"x": {"@move": "y"}}]}`))

	queue := types.NewBoundedQueue(0)
	sink := &collectingSink{}
	proc := NewEventProcessor("demo-fw", parser, manager, queue, sink, nil, nil)

	go func() {
		queue.Put(types.NewEvent(types.Tree{"sourceType": "demo-fw"}))
		queue.Put(types.EOS)
	}()
	proc.Run()

	if len(sink.events) != 1 || !sink.events[0].IsEOS() {
		t.Fatalf("expected only the trailing EOS for an event with no rawEvent, got %d events", len(sink.events))
	}
}

func TestEventProcessorDropsEventOnParseError(t *testing.T) {
	parser := types.ParserFunc(func(text string) (types.Tree, error) {
		return nil, errParseBoom
	})
	manager := rules.NewTranslatorsManager(mustCompileTranslator(t, `{"rules": [{"x": {"@move": "y"}}]}`))

	queue := types.NewBoundedQueue(0)
	sink := &collectingSink{}
	proc := NewEventProcessor("demo-fw", parser, manager, queue, sink, nil, nil)

	go func() {
		queue.Put(types.NewEvent(types.Tree{"rawEvent": "garbage", "sourceType": "demo-fw"}))
		queue.Put(types.EOS)
	}()
	proc.Run()

	if len(sink.events) != 1 || !sink.events[0].IsEOS() {
		t.Fatalf("expected only the trailing EOS for a parse failure, got %d events", len(sink.events))
	}
}

func TestEventProcessorDropsEventWhenNoTranslatorMatches(t *testing.T) {
	parser := types.ParserFunc(func(text string) (types.Tree, error) {
		return types.Tree{"host": "fw01"}, nil
	})
	manager := rules.NewTranslatorsManager(mustCompileTranslator(t, `{"when": "host = 'never'", "rules": [{"host": {"@move": "device.hostname"}}]}`))

	queue := types.NewBoundedQueue(0)
	sink := &collectingSink{}
	proc := NewEventProcessor("demo-fw", parser, manager, queue, sink, nil, nil)

	go func() {
		queue.Put(types.NewEvent(types.Tree{"rawEvent": "fw01 deny", "sourceType": "demo-fw"}))
		queue.Put(types.EOS)
	}()
	proc.Run()

	if len(sink.events) != 1 || !sink.events[0].IsEOS() {
		t.Fatalf("expected only the trailing EOS when no translator's guard matches, got %d events", len(sink.events))
	}
}

func TestEventProcessorForwardsTranslateMissToRawSink(t *testing.T) {
	parser := types.ParserFunc(func(text string) (types.Tree, error) {
		return types.Tree{"host": "fw01"}, nil
	})
	manager := rules.NewTranslatorsManager(mustCompileTranslator(t, `{"when": "host = 'never'", "rules": [{"host": {"@move": "device.hostname"}}]}`))

	queue := types.NewBoundedQueue(0)
	sink := &collectingSink{}
	rawSink := &collectingSink{}
	proc := NewEventProcessor("demo-fw", parser, manager, queue, sink, rawSink, nil)

	in := types.NewEvent(types.Tree{"rawEvent": "fw01 deny", "sourceType": "demo-fw"})
	go func() {
		queue.Put(in)
		queue.Put(types.EOS)
	}()
	proc.Run()

	if len(sink.events) != 1 || !sink.events[0].IsEOS() {
		t.Fatalf("expected only the trailing EOS on the translated sink on a TranslateMiss, got %d events", len(sink.events))
	}
	if len(rawSink.events) != 1 {
		t.Fatalf("expected the original pre-translate event forwarded to the raw sink, got %d", len(rawSink.events))
	}
	if v, _ := rawSink.events[0].Data().GetString("rawEvent"); v != "fw01 deny" {
		t.Fatalf("expected the raw sink to receive the original event, got %q", v)
	}
}

func TestEventProcessorWritesUnmappedPassthroughBlock(t *testing.T) {
	parser := types.ParserFunc(func(text string) (types.Tree, error) {
		return types.Tree{"host": "fw01", "extra": "untouched"}, nil
	})
	manager := rules.NewTranslatorsManager(mustCompileTranslator(t, `{"rules": [{"host": {"@move": "device.hostname"}}]}`))

	queue := types.NewBoundedQueue(0)
	sink := &collectingSink{}
	proc := NewEventProcessor("demo-fw", parser, manager, queue, sink, nil, nil)

	in := types.NewEvent(types.Tree{"rawEvent": "fw01 deny", "sourceType": "demo-fw", "tenant": "acme"})
	go func() {
		queue.Put(in)
		queue.Put(types.EOS)
	}()
	proc.Run()

	out := sink.events[0].Data()
	if v, _ := out.GetString("unmapped.extra"); v != "untouched" {
		t.Fatalf("expected unclaimed parsed attribute to land under unmapped.extra, got %q", v)
	}
	if v, _ := out.GetString("unmapped.sourceType"); v != "demo-fw" {
		t.Fatalf("expected unmapped.sourceType=demo-fw, got %q", v)
	}
	if v, _ := out.GetString("unmapped.tenant"); v != "acme" {
		t.Fatalf("expected unmapped.tenant=acme, got %q", v)
	}
	if v, _ := out.GetString("unmapped.rawEvent"); v != "fw01 deny" {
		t.Fatalf("expected unmapped.rawEvent to carry the original raw text, got %q", v)
	}
	if _, ok := out.Get("unmapped.host"); ok {
		t.Fatal("expected the claimed 'host' attribute to be excluded from the unmapped block")
	}
}

func TestEventProcessorSignalsEOSDownstreamOnTermination(t *testing.T) {
	parser := types.ParserFunc(func(text string) (types.Tree, error) { return types.Tree{}, nil })
	manager := rules.NewTranslatorsManager(mustCompileTranslator(t, `{"rules": [{"x": {"@move": "y"}}]}`))

	queue := types.NewBoundedQueue(0)
	sink := &collectingSink{}
	proc := NewEventProcessor("demo-fw", parser, manager, queue, sink, nil, nil)
	runProcessorToEOS(t, proc, queue)

	if len(sink.events) != 1 || !sink.events[0].IsEOS() {
		t.Fatalf("expected exactly one EOS forwarded downstream, got %+v", sink.events)
	}
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errParseBoom = boomError{}
