package ft2engine

import (
	"container/list"
	"context"
)

// EngineConfig describes one synthesis engine's voice pool: a Renderer may
// host several distinct engines (e.g. a sample-playback engine and a
// synth-lead engine), each with its own voice-parameter namespace (spec.md
// §5).
type EngineConfig struct {
	Name       string
	VoiceCount int
}

// voicePoolBacklog bounds the per-track pending-command queue used when the
// Renderer can't accept a Dispatch yet (instrument still loading, or the
// audio context is suspended). Once full, the oldest pending batch is
// dropped and an EngineNotice is raised — spec.md §7 treats this as a
// recoverable, reported condition rather than a playback failure.
const voicePoolBacklog = 8

type pendingBatch struct {
	track int
	cmds  []ProcessorCommand
}

// voiceSlot is one concrete, allocated voice: its Renderer handle, which
// engine it belongs to, and which track (if any) currently owns it.
type voiceSlot struct {
	handle VoiceHandle
	engine string
	track  int // -1 = free
	elem   *list.Element
}

// VoiceAllocator is the layer between the Scheduler/Processor and a
// Renderer: it owns the pool of voices for each configured engine, maps
// each track to the voice currently gated on for it (mono per track,
// per spec.md §5), steals the least-recently-used voice within an engine
// when the pool is exhausted, and queues commands that the Renderer
// temporarily can't accept.
type VoiceAllocator struct {
	ctx      context.Context
	renderer Renderer
	notify   func(EngineNotice)

	engines map[string][]*voiceSlot
	lru     *list.List // of *voiceSlot, most-recently-used at the back

	trackVoice map[int]*voiceSlot
	trackEngine map[int]string

	backlog map[int][]pendingBatch
}

// NewVoiceAllocator allocates every configured engine's voice pool up front
// via the Renderer and returns a ready-to-use VoiceAllocator.
func NewVoiceAllocator(ctx context.Context, renderer Renderer, engines []EngineConfig, notify func(EngineNotice)) (*VoiceAllocator, error) {
	va := &VoiceAllocator{
		ctx:         ctx,
		renderer:    renderer,
		notify:      notify,
		engines:     make(map[string][]*voiceSlot),
		lru:         list.New(),
		trackVoice:  make(map[int]*voiceSlot),
		trackEngine: make(map[int]string),
		backlog:     make(map[int][]pendingBatch),
	}

	for _, ec := range engines {
		base, err := renderer.Allocate(ctx, ec.Name, ec.VoiceCount)
		if err != nil {
			return nil, err
		}
		slots := make([]*voiceSlot, ec.VoiceCount)
		for i := 0; i < ec.VoiceCount; i++ {
			slots[i] = &voiceSlot{handle: base + VoiceHandle(i), engine: ec.Name, track: -1}
		}
		va.engines[ec.Name] = slots
	}

	return va, nil
}

// BindTrack assigns a track to an engine; its notes will be gated on voices
// from that engine's pool until rebound.
func (va *VoiceAllocator) BindTrack(track int, engine string) {
	va.trackEngine[track] = engine
}

// Submit routes a tick's worth of ProcessorCommands for one track to the
// Renderer, handling allocation, mono gating, and stealing along the way.
// A Dispatch failure queues the remaining commands (up to voicePoolBacklog)
// instead of dropping them outright.
func (va *VoiceAllocator) Submit(track int, cmds []ProcessorCommand) {
	if len(va.backlog[track]) > 0 {
		va.flushBacklog(track)
	}

	for i, cmd := range cmds {
		if err := va.dispatch(track, cmd); err != nil {
			va.queue(track, cmds[i:])
			return
		}
	}
}

func (va *VoiceAllocator) dispatch(track int, cmd ProcessorCommand) error {
	switch cmd.Kind {
	case CmdNoteOn:
		return va.noteOn(track, cmd)
	case CmdNoteOff, CmdGateOff:
		slot := va.trackVoice[track]
		if slot == nil {
			return nil
		}
		return va.renderer.Dispatch(va.ctx, slot.handle, cmd)
	default:
		slot := va.trackVoice[track]
		if slot == nil {
			// No voice gated yet (e.g. a volume/pan change before the first
			// note-on this session) — harmless, nothing to route to.
			return nil
		}
		return va.renderer.Dispatch(va.ctx, slot.handle, cmd)
	}
}

// noteOn enforces per-track mono gating (spec.md §5): the previous voice, if
// any, is gated off before the new one gates on, so a track never sounds
// two voices at once.
func (va *VoiceAllocator) noteOn(track int, cmd ProcessorCommand) error {
	if prev := va.trackVoice[track]; prev != nil {
		_ = va.renderer.Dispatch(va.ctx, prev.handle, ProcessorCommand{Kind: CmdGateOff})
		va.release(prev)
	}

	engine := va.trackEngine[track]
	if engine == "" {
		engine = defaultEngineName(va.engines)
	}
	slot := va.acquire(engine, track)
	if slot == nil {
		return ErrInstrumentNotReady
	}

	va.trackVoice[track] = slot
	return va.renderer.Dispatch(va.ctx, slot.handle, cmd)
}

// acquire returns a free voice from engine's pool, stealing the
// least-recently-used in-use voice from that same engine if none is free.
func (va *VoiceAllocator) acquire(engine string, track int) *voiceSlot {
	slots := va.engines[engine]
	for _, s := range slots {
		if s.track == -1 {
			va.markUsed(s, track)
			return s
		}
	}

	// Steal: walk the LRU list front-to-back (least recently used first)
	// for a voice belonging to this engine.
	for e := va.lru.Front(); e != nil; e = e.Next() {
		s := e.Value.(*voiceSlot)
		if s.engine == engine {
			_ = va.renderer.Dispatch(va.ctx, s.handle, ProcessorCommand{Kind: CmdGateOff})
			va.release(s)
			va.markUsed(s, track)
			if va.notify != nil {
				va.notify(EngineNotice{Kind: NoticeScheduleLate, Message: "voice pool exhausted, stole oldest voice in engine " + engine})
			}
			return s
		}
	}
	return nil
}

func (va *VoiceAllocator) markUsed(s *voiceSlot, track int) {
	s.track = track
	if s.elem != nil {
		va.lru.Remove(s.elem)
	}
	s.elem = va.lru.PushBack(s)
}

func (va *VoiceAllocator) release(s *voiceSlot) {
	if s.elem != nil {
		va.lru.Remove(s.elem)
		s.elem = nil
	}
	if s.track >= 0 {
		if va.trackVoice[s.track] == s {
			delete(va.trackVoice, s.track)
		}
	}
	s.track = -1
}

func (va *VoiceAllocator) queue(track int, cmds []ProcessorCommand) {
	q := va.backlog[track]
	q = append(q, pendingBatch{track: track, cmds: cmds})
	if len(q) > voicePoolBacklog {
		q = q[len(q)-voicePoolBacklog:]
		if va.notify != nil {
			va.notify(EngineNotice{Kind: NoticeInstrumentNotReady, Message: "voice backlog full, dropped oldest pending batch"})
		}
	}
	va.backlog[track] = q
}

func (va *VoiceAllocator) flushBacklog(track int) {
	q := va.backlog[track]
	va.backlog[track] = nil
	for _, batch := range q {
		for i, cmd := range batch.cmds {
			if err := va.dispatch(batch.track, cmd); err != nil {
				va.queue(batch.track, batch.cmds[i:])
				return
			}
		}
	}
}

func defaultEngineName(engines map[string][]*voiceSlot) string {
	for name := range engines {
		return name
	}
	return ""
}
