package ft2engine

import (
	"context"
	"fmt"
	"sync"
)

// NoteData describes one channel's current note for UI display (spec.md
// §6), grounded on the teacher's NoteDataFor (player_test.go/play.go).
type NoteData struct {
	Note       string // e.g. "C-4", "" if the cell has no note
	Instrument int    // 1-based, 0 if none
}

// EventHandler receives EngineNotices published via Player.On.
type EventHandler func(EngineNotice)

// Player is the public facade over the parser, scheduler and voice
// allocator: the Control API described in spec.md §6. Grounded on the
// teacher's Player type (player.go) and its IsPlaying/Position/NoteDataFor/
// Mute surface (cmd/modplay/play.go), regrounded onto the Scheduler/
// VoiceAllocator split this engine uses internally.
type Player struct {
	mu   sync.Mutex
	song *Song

	scheduler *Scheduler
	allocator *VoiceAllocator
	engines   []EngineConfig

	mute uint // bitmask, channel 1 in LSB, as the teacher's Player.Mute

	handlers []EventHandler
	handlerWg sync.WaitGroup
	cancel    context.CancelFunc
}

// NewPlayer constructs a Player bound to a Renderer/AudioClock pair. The
// Renderer must accept at least one EngineConfig; a plain sample-playback
// engine sized to the song's channel count is the common case.
func NewPlayer(ctx context.Context, renderer Renderer, clock AudioClock, engines []EngineConfig) (*Player, error) {
	p := &Player{}
	allocator, err := NewVoiceAllocator(ctx, renderer, engines, p.publish)
	if err != nil {
		return nil, fmt.Errorf("ft2engine: constructing voice allocator: %w", err)
	}
	p.allocator = allocator
	p.engines = engines
	return p, nil
}

// LoadSong replaces the currently loaded song. Playback, if running, is
// stopped first.
func (p *Player) LoadSong(song *Song) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler != nil {
		p.scheduler.Stop()
		p.scheduler = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.song = song
}

// Start begins playback of the loaded song from its current position.
// Mirrors the teacher's Player.Start (cmd/modplay usage).
func (p *Player) Start(ctx context.Context, clock AudioClock) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.song == nil {
		return fmt.Errorf("ft2engine: no song loaded")
	}
	if p.scheduler == nil {
		p.scheduler = NewScheduler(p.song, p.allocator, clock)
		if len(p.engines) > 0 {
			for i := 0; i < p.song.Channels; i++ {
				p.allocator.BindTrack(i, p.engines[0].Name)
			}
		}
		runCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		p.handlerWg.Add(1)
		go p.pump(runCtx)
	}
	p.scheduler.Play(ctx)
	return nil
}

// StartOffline prepares the scheduler for synchronous, non-real-time
// rendering (cmd/render): it binds tracks and marks playback active, but
// never starts the wall-clock driver goroutine. Callers drive progress
// themselves via AdvanceTo.
func (p *Player) StartOffline(clock AudioClock) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.song == nil {
		return fmt.Errorf("ft2engine: no song loaded")
	}
	p.scheduler = NewScheduler(p.song, p.allocator, clock)
	if len(p.engines) > 0 {
		for i := 0; i < p.song.Channels; i++ {
			p.allocator.BindTrack(i, p.engines[0].Name)
		}
	}
	p.scheduler.nextTickTime = clock.Now()
	p.scheduler.state = StatePlaying
	return nil
}

// AdvanceTo schedules every tick up to horizon seconds of audio-clock time,
// reporting whether the song is still playing. Only valid after
// StartOffline.
func (p *Player) AdvanceTo(horizon float64) bool {
	p.mu.Lock()
	sched := p.scheduler
	p.mu.Unlock()
	if sched == nil {
		return false
	}
	return sched.AdvanceTo(horizon)
}

// Pause suspends playback without resetting position.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler != nil {
		p.scheduler.Pause()
	}
}

// Stop halts playback and resets to the top of the song.
func (p *Player) Stop() {
	p.mu.Lock()
	sched := p.scheduler
	cancel := p.cancel
	p.mu.Unlock()
	if sched != nil {
		sched.Stop()
	}
	if cancel != nil {
		cancel()
	}
	p.handlerWg.Wait()
}

// IsPlaying reports whether the transport is actively advancing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scheduler != nil && p.scheduler.state == StatePlaying
}

// Position reports the current playback position.
func (p *Player) Position() Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler == nil {
		return Position{}
	}
	return p.scheduler.Position()
}

// Seek jumps to (order, row).
func (p *Player) Seek(order, row int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler != nil {
		p.scheduler.Seek(order, row)
	}
}

// SetLoopCurrentPattern toggles single-pattern looping.
func (p *Player) SetLoopCurrentPattern(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler != nil {
		p.scheduler.SetLoopCurrentPattern(v)
	}
}

// SetLoopSong toggles whole-song looping.
func (p *Player) SetLoopSong(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler != nil {
		p.scheduler.SetLoopSong(v)
	}
}

// Mute sets the mute bitmask, channel 1 in the LSB, mirroring the teacher's
// Player.Mute field. Playback does not consult the mask: muted channels are
// still scheduled and rendered, and only Muted reads it back.
func (p *Player) Mute(mask uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mute = mask
}

// Muted reports whether the given zero-based channel is currently muted.
func (p *Player) Muted(channel int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mute&(1<<uint(channel)) != 0
}

// NoteDataFor reports the decoded note/instrument for every channel at
// (order, row), for UI display — it does not require playback to be
// running.
func (p *Player) NoteDataFor(order, row int) []NoteData {
	p.mu.Lock()
	song := p.song
	p.mu.Unlock()
	if song == nil {
		return nil
	}
	pattern := song.PatternAt(order)
	if pattern == nil {
		return nil
	}
	out := make([]NoteData, pattern.Channels)
	for ci := 0; ci < pattern.Channels; ci++ {
		cell := pattern.Cell(row, ci)
		nd := NoteData{}
		if cell.Period > 0 {
			nd.Note = periodToNoteName(cell.Period)
		}
		nd.Instrument = int(cell.SampleNumber)
		out[ci] = nd
	}
	return out
}

// On registers a handler for EngineNotices. The engine publishes
// NoticeContextSuspended when the audio clock is suspended,
// NoticeInstrumentNotReady when a track's command backlog overflows, and
// NoticeScheduleLate when a voice is stolen; nothing in the engine publishes
// NoticeMalformedEffect.
func (p *Player) On(handler EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

func (p *Player) publish(n EngineNotice) {
	p.mu.Lock()
	handlers := append([]EventHandler(nil), p.handlers...)
	p.mu.Unlock()
	for _, h := range handlers {
		h(n)
	}
}

// pump forwards the Scheduler's notice channel to registered handlers until
// ctx is cancelled.
func (p *Player) pump(ctx context.Context) {
	defer p.handlerWg.Done()
	p.mu.Lock()
	sched := p.scheduler
	p.mu.Unlock()
	if sched == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sched.Notices():
			if !ok {
				return
			}
			p.publish(n)
		}
	}
}

// noteNames mirrors the teacher's notes table (player.go) for NoteDataFor's
// human-readable output.
var noteNames = [12]string{"C-", "C#", "D-", "D#", "E-", "F-", "F#", "G-", "G#", "A-", "A#", "B-"}

// periodToNoteName maps a raw Amiga period to its tracker note name, the
// display-only conversion the teacher's periodToNote/noteStr perform.
func periodToNoteName(period uint16) string {
	freq := periodToFrequency(float64(period))
	midi := frequencyToMIDI(freq)
	octave := midi/12 - 1
	name := noteNames[((midi%12)+12)%12]
	return fmt.Sprintf("%s%d", name, octave)
}
