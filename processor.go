package ft2engine

import "math"

// CommandKind tags a ProcessorCommand, the processor's only way of talking
// to the Voice Allocator (spec.md §5 — "polymorphism over effect types").
type CommandKind int

const (
	CmdSetFrequency CommandKind = iota
	CmdSetVolume
	CmdSetPan
	CmdNoteOn
	CmdNoteOff
	CmdGateOff
	CmdSetGlobalVolume
)

// ProcessorCommand is one instruction emitted for a single track on a single
// tick. A tick can emit zero, one, or several commands (e.g. a fresh note
// emits CmdSetFrequency, CmdSetPan and CmdNoteOn).
type ProcessorCommand struct {
	Kind         CommandKind
	Frequency    float64
	Volume       float64
	Pan          float64
	MIDI         int
	InstrumentID int
}

// retriggerVolumeTable implements Rxy's x-nibble volume change, indexed
// directly by the nibble (spec.md §4.2): entries 1-5 and 9-13 are added to
// the volume, entries 6, 7, 14 and 15 multiply it, and 0 and 8 leave it as is.
var retriggerVolumeTable = [16]float64{
	0: 1.0, 1: -1.0 / 64, 2: -2.0 / 64, 3: -4.0 / 64,
	4: -8.0 / 64, 5: -16.0 / 64, 6: 2.0 / 3, 7: 0.5,
	8: 1.0, 9: 1.0 / 64, 10: 2.0 / 64, 11: 4.0 / 64,
	12: 8.0 / 64, 13: 16.0 / 64, 14: 1.5, 15: 2.0,
}

// Processor turns a track's current Step plus its persistent
// TrackEffectState into ProcessorCommands. One Processor is shared by every
// track; it carries only the global (song-wide) mixer state, not any
// per-track memory (spec.md §3 keeps that in TrackEffectState).
type Processor struct {
	GlobalVolume float64 // 0..1, spec.md §4.2's Gxx/Hxy target
}

// NewProcessor returns a Processor with global volume at unity.
func NewProcessor() *Processor {
	return &Processor{GlobalVolume: 1}
}

// Tick0 applies the effects and note/instrument/volume changes that take
// effect once, on the first tick of a row (spec.md §4.2's tick-0 column).
func (p *Processor) Tick0(track *TrackEffectState, step *Step, speed int) []ProcessorCommand {
	var cmds []ProcessorCommand

	eff := EffectCommand{}
	if step.Effect != nil {
		eff = *step.Effect
	}

	// Tone portamento sets its target but must not retrigger the note.
	isTonePorta := eff.Type == EffectTonePorta || eff.Type == EffectTonePortaVol

	if step.InstrumentID != nil {
		track.InstrumentID = *step.InstrumentID
	}

	// Row-entry protocol step 2: a bare row with no effect and no new note
	// consumes a carried-over EDx overflow from the previous row (spec.md
	// §4.2, §8 scenario 3).
	if eff.Type == EffectNone && step.MIDI == nil && !step.IsNoteOff && track.CarryDelayedNote != nil {
		cn := track.CarryDelayedNote
		track.CarryDelayedNote = nil
		track.CurrentMIDI = cn.MIDI
		track.setFrequency(cn.Frequency)
		if cn.Pan != nil {
			track.setPan(*cn.Pan)
		}
		track.setVolume(cn.Velocity)
		return []ProcessorCommand{
			{Kind: CmdSetFrequency, Frequency: track.CurrentFrequency},
			{Kind: CmdSetPan, Pan: track.Pan},
			{Kind: CmdNoteOn, MIDI: track.CurrentMIDI, Volume: track.CurrentVolume * p.GlobalVolume, InstrumentID: track.InstrumentID},
		}
	}

	switch {
	case step.IsNoteOff:
		cmds = append(cmds, ProcessorCommand{Kind: CmdNoteOff})
	case step.MIDI != nil && isTonePorta:
		track.TargetMIDI = *step.MIDI
		if step.Frequency != nil {
			track.TargetFrequency = *step.Frequency
		} else {
			track.TargetFrequency = midiToFrequency(*step.MIDI)
		}
		if eff.Param() != 0 {
			track.LastTonePorta = int(eff.Param())
		}
		track.TonePortaSpeed = track.LastTonePorta
		track.TonePortaOn = true
	case step.MIDI != nil:
		track.ResetTransient()
		track.CurrentMIDI = *step.MIDI
		track.TonePortaOn = false
		if step.Frequency != nil {
			track.setPeriod(frequencyToPeriodOf(*step.Frequency))
		} else {
			track.setFrequency(midiToFrequency(*step.MIDI))
		}
		if step.Velocity != nil {
			track.setVolume(*step.Velocity)
		}
		if step.Pan != nil {
			track.setPan(*step.Pan)
		}
		vel := track.CurrentVolume
		if eff.Type == EffectExtEffect && eff.ExtSubtype == ExtNoteDelay && eff.ParamY != 0 {
			pan := track.Pan
			dn := &delayedNote{MIDI: track.CurrentMIDI, Frequency: track.CurrentFrequency, Velocity: vel, Pan: &pan}
			if int(eff.ParamY) >= speed {
				// ProTracker overflow quirk (spec.md §4.2/§9): a delay tick
				// beyond this row's tick count never fires here — it carries
				// over and fires on tick 0 of the next row instead.
				track.CarryDelayedNote = dn
			} else {
				// Delayed note: hold it and let TickN fire the note-on later.
				track.NoteDelayTick = int(eff.ParamY)
				track.DelayedNote = dn
			}
			cmds = append(cmds, ProcessorCommand{Kind: CmdSetFrequency, Frequency: track.CurrentFrequency})
			return cmds
		}
		cmds = append(cmds,
			ProcessorCommand{Kind: CmdSetFrequency, Frequency: track.CurrentFrequency},
			ProcessorCommand{Kind: CmdSetPan, Pan: track.Pan},
			ProcessorCommand{Kind: CmdNoteOn, MIDI: track.CurrentMIDI, Volume: vel * p.GlobalVolume, InstrumentID: track.InstrumentID},
		)
	default:
		if step.Velocity != nil {
			track.setVolume(*step.Velocity)
			cmds = append(cmds, ProcessorCommand{Kind: CmdSetVolume, Volume: track.CurrentVolume * p.GlobalVolume})
		}
		if step.Pan != nil {
			track.setPan(*step.Pan)
			cmds = append(cmds, ProcessorCommand{Kind: CmdSetPan, Pan: track.Pan})
		}
	}

	cmds = append(cmds, p.applyTick0Effect(track, eff)...)

	// Row-entry protocol step 6: every tick-0 invocation must carry at least
	// one Pitch command so the scheduler always has a heartbeat (spec.md
	// §4.2).
	hasPitch := false
	for _, c := range cmds {
		if c.Kind == CmdSetFrequency {
			hasPitch = true
			break
		}
	}
	if !hasPitch {
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetFrequency, Frequency: track.CurrentFrequency})
	}
	return cmds
}

func (p *Processor) applyTick0Effect(track *TrackEffectState, eff EffectCommand) []ProcessorCommand {
	var cmds []ProcessorCommand

	switch eff.Type {
	case EffectArpeggio:
		if eff.Param() != 0 {
			track.LastArpeggio = eff.Param()
		}
		track.Arpeggio.X = int(eff.ParamX)
		track.Arpeggio.Y = int(eff.ParamY)
		track.Arpeggio.Tick = 0

	case EffectSetVolume:
		v := float64(clampInt(int(eff.Param()), 0, 64)) / 64
		track.setVolume(v)
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetVolume, Volume: track.CurrentVolume * p.GlobalVolume})

	case EffectSetPan:
		track.setPan((float64(eff.Param()) - 128) / 128)
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetPan, Pan: track.Pan})

	case EffectSetGlobalVol:
		p.GlobalVolume = clampFloat(float64(clampInt(int(eff.Param()), 0, 64))/64, 0, 1)
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetGlobalVolume, Volume: p.GlobalVolume})

	case EffectVibrato:
		if eff.ParamX != 0 {
			track.Vibrato.Speed = int(eff.ParamX)
		}
		if eff.ParamY != 0 {
			track.Vibrato.Depth = int(eff.ParamY)
		}
		track.Vibrato.Fine = false

	case EffectFineVibrato:
		if eff.ParamX != 0 {
			track.Vibrato.Speed = int(eff.ParamX)
		}
		if eff.ParamY != 0 {
			track.Vibrato.Depth = int(eff.ParamY)
		}
		track.Vibrato.Fine = true

	case EffectTremolo:
		if eff.ParamX != 0 {
			track.Tremolo.Speed = int(eff.ParamX)
		}
		if eff.ParamY != 0 {
			track.Tremolo.Depth = int(eff.ParamY)
		}

	case EffectSampleOffset:
		off := eff.Param()
		if off != 0 {
			track.LastSampleOff = off
		}

	case EffectTonePorta, EffectTonePortaVol:
		// Row-entry protocol: resolve speed from xy or memory, then perform
		// one slide step on tick 0 so the row doesn't stop one step short
		// (spec.md §4.2). Safe to run unconditionally: on a fresh tone-porta
		// note-on this is the row's only slide step; on a continuation row
		// it re-resolves TonePortaSpeed from LastTonePorta the same way the
		// new-note branch does.
		if eff.Param() != 0 {
			track.LastTonePorta = int(eff.Param())
		}
		track.TonePortaSpeed = track.LastTonePorta
		if cmd, ok := applyTonePorta(track); ok {
			cmds = append(cmds, cmd)
		}
		if eff.Type == EffectTonePortaVol {
			applyVolSlideMemory(track, eff.Param())
		}

	case EffectVolSlide, EffectVibratoVol:
		applyVolSlideMemory(track, eff.Param())

	case EffectPanSlide:
		if eff.Param() != 0 {
			track.LastPanSlide = eff.Param()
		}

	case EffectGlobalVolSlide:
		// shares the same up/down nibble encoding as VolSlide, applied to
		// global volume rather than track volume in TickN.

	case EffectExtEffect:
		cmds = append(cmds, p.applyTick0ExtEffect(track, eff)...)

	case EffectRetrigVol:
		param := eff.Param()
		if param != 0 {
			track.LastRetrigParam = param
		}
		track.Retrigger.Interval = int(track.LastRetrigParam & 0xF)
		track.Retrigger.VolChange = int(track.LastRetrigParam >> 4)
		track.Retrigger.Tick = 0

	case EffectTremor:
		if eff.ParamX != 0 {
			track.TremorOnTicks = int(eff.ParamX)
		}
		if eff.ParamY != 0 {
			track.TremorOffTicks = int(eff.ParamY)
		}

	case EffectKeyOff:
		if eff.Param() == 0 {
			cmds = append(cmds, ProcessorCommand{Kind: CmdNoteOff})
		}
	}

	return cmds
}

func (p *Processor) applyTick0ExtEffect(track *TrackEffectState, eff EffectCommand) []ProcessorCommand {
	var cmds []ProcessorCommand
	switch eff.ExtSubtype {
	case ExtFinePortaUp:
		amt := int(eff.ParamY)
		if amt != 0 {
			track.LastPortaUp = amt
		}
		track.setFrequency(periodToFrequency(clampPeriod(currentPeriod(track) - float64(track.LastPortaUp))))
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetFrequency, Frequency: track.CurrentFrequency})

	case ExtFinePortaDown:
		amt := int(eff.ParamY)
		if amt != 0 {
			track.LastPortaDown = amt
		}
		track.setFrequency(periodToFrequency(clampPeriod(currentPeriod(track) + float64(track.LastPortaDown))))
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetFrequency, Frequency: track.CurrentFrequency})

	case ExtGlissandoCtrl:
		track.Glissando = eff.ParamY != 0

	case ExtSetVibratoWave:
		track.Vibrato.Waveform = Waveform(eff.ParamY & 0x3)

	case ExtSetTremoloWave:
		track.Tremolo.Waveform = Waveform(eff.ParamY & 0x3)

	case ExtFineVolUp:
		track.setVolume(track.CurrentVolume + float64(eff.ParamY)/64)
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetVolume, Volume: track.CurrentVolume * p.GlobalVolume})

	case ExtFineVolDown:
		track.setVolume(track.CurrentVolume - float64(eff.ParamY)/64)
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetVolume, Volume: track.CurrentVolume * p.GlobalVolume})

	case ExtNoteCut:
		if eff.ParamY == 0 {
			cmds = append(cmds, ProcessorCommand{Kind: CmdGateOff})
		} else {
			track.NoteCutTick = int(eff.ParamY)
		}

	case ExtNoteDelay:
		// handled in Tick0's note-dispatch switch; nothing more to do when
		// there was no accompanying new note.

	case ExtRetrigger:
		// Same per-tick mechanism as Rxy, but E9x has no volume-change
		// nibble: force the table index that leaves volume unchanged
		// (spec.md §4.2/§6).
		track.Retrigger.Interval = int(eff.ParamY)
		track.Retrigger.VolChange = 0
		track.Retrigger.Tick = 0

	case ExtSetFinetune:
		nibble := int(eff.ParamY)
		steps := nibble
		if nibble >= 8 {
			steps = nibble - 16
		}
		ratio := math.Pow(2, (float64(steps)/8)/12)
		track.setFrequency(track.CurrentFrequency * ratio)
		track.TargetFrequency *= ratio
		if track.TargetPeriod != 0 {
			track.TargetPeriod = clampPeriod(track.TargetPeriod / ratio)
		}
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetFrequency, Frequency: track.CurrentFrequency})
	}
	return cmds
}

// TickN applies the effects that act every tick after tick 0 (spec.md
// §4.2's per-tick column): vibrato/tremolo LFOs, slides, tone portamento,
// arpeggio, tremor, retrigger, and delayed/cut notes.
func (p *Processor) TickN(track *TrackEffectState, step *Step, tick, speed int) []ProcessorCommand {
	var cmds []ProcessorCommand

	eff := EffectCommand{}
	if step.Effect != nil {
		eff = *step.Effect
	}

	if track.DelayedNote != nil && tick == track.NoteDelayTick {
		dn := track.DelayedNote
		track.CurrentMIDI = dn.MIDI
		track.setFrequency(dn.Frequency)
		if dn.Pan != nil {
			track.setPan(*dn.Pan)
		}
		track.DelayedNote = nil
		cmds = append(cmds,
			ProcessorCommand{Kind: CmdSetFrequency, Frequency: track.CurrentFrequency},
			ProcessorCommand{Kind: CmdSetPan, Pan: track.Pan},
			ProcessorCommand{Kind: CmdNoteOn, MIDI: track.CurrentMIDI, Volume: dn.Velocity * p.GlobalVolume, InstrumentID: track.InstrumentID},
		)
	}

	if track.NoteCutTick >= 0 && tick == track.NoteCutTick {
		cmds = append(cmds, ProcessorCommand{Kind: CmdGateOff})
		track.NoteCutTick = -1
	}

	switch eff.Type {
	case EffectPortaUp:
		if eff.Param() != 0 {
			track.LastPortaUp = int(eff.Param())
		}
		track.setFrequency(periodToFrequency(clampPeriod(currentPeriod(track) - float64(track.LastPortaUp))))
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetFrequency, Frequency: track.CurrentFrequency})

	case EffectPortaDown:
		if eff.Param() != 0 {
			track.LastPortaDown = int(eff.Param())
		}
		track.setFrequency(periodToFrequency(clampPeriod(currentPeriod(track) + float64(track.LastPortaDown))))
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetFrequency, Frequency: track.CurrentFrequency})

	case EffectTonePorta, EffectTonePortaVol:
		if cmd, ok := applyTonePorta(track); ok {
			cmds = append(cmds, cmd)
		}
		if eff.Type == EffectTonePortaVol {
			cmds = append(cmds, applyVolSlideTick(track, p, 64)...)
		}

	case EffectVibrato, EffectVibratoVol, EffectFineVibrato:
		cmds = append(cmds, applyVibrato(track)...)
		if eff.Type == EffectVibratoVol {
			cmds = append(cmds, applyVolSlideTick(track, p, 64)...)
		}

	case EffectTremolo:
		cmds = append(cmds, applyTremolo(track)...)

	case EffectVolSlide:
		cmds = append(cmds, applyVolSlideTick(track, p, 128)...)

	case EffectGlobalVolSlide:
		up := eff.ParamX
		down := eff.ParamY
		delta := float64(up)/64 - float64(down)/64
		p.GlobalVolume = clampFloat(p.GlobalVolume+delta, 0, 1)
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetGlobalVolume, Volume: p.GlobalVolume})

	case EffectPanSlide:
		up := track.LastPanSlide >> 4
		down := track.LastPanSlide & 0xF
		delta := float64(up)/64 - float64(down)/64
		track.setPan(track.Pan + delta)
		cmds = append(cmds, ProcessorCommand{Kind: CmdSetPan, Pan: track.Pan})

	case EffectRetrigVol:
		if track.Retrigger.Interval > 0 {
			track.Retrigger.Tick++
			if track.Retrigger.Tick >= track.Retrigger.Interval {
				track.Retrigger.Tick = 0
				change := retriggerVolumeTable[track.Retrigger.VolChange]
				switch track.Retrigger.VolChange {
				case 0, 8:
				case 6, 7, 14, 15:
					track.setVolume(track.CurrentVolume * change)
				default:
					track.setVolume(track.CurrentVolume + change)
				}
				cmds = append(cmds,
					ProcessorCommand{Kind: CmdNoteOn, MIDI: track.CurrentMIDI, Volume: track.CurrentVolume * p.GlobalVolume, InstrumentID: track.InstrumentID},
				)
			}
		}

	case EffectTremor:
		cycle := track.TremorOnTicks + track.TremorOffTicks
		if cycle > 0 {
			pos := tick % cycle
			vol := track.CurrentVolume * p.GlobalVolume
			if pos >= track.TremorOnTicks {
				vol = 0
			}
			cmds = append(cmds, ProcessorCommand{Kind: CmdSetVolume, Volume: vol})
		}

	case EffectKeyOff:
		if tick == int(eff.Param()) {
			cmds = append(cmds, ProcessorCommand{Kind: CmdNoteOff})
		}

	case EffectExtEffect:
		if eff.ExtSubtype == ExtRetrigger && track.Retrigger.Interval > 0 {
			track.Retrigger.Tick++
			if track.Retrigger.Tick >= track.Retrigger.Interval {
				track.Retrigger.Tick = 0
				cmds = append(cmds,
					ProcessorCommand{Kind: CmdNoteOn, MIDI: track.CurrentMIDI, Volume: track.CurrentVolume * p.GlobalVolume, InstrumentID: track.InstrumentID},
				)
			}
		}
	}

	if track.Arpeggio.X != 0 || track.Arpeggio.Y != 0 {
		if eff.Type == EffectArpeggio {
			cmds = append(cmds, applyArpeggioTick(track, tick)...)
		}
	}

	return cmds
}

func applyArpeggioTick(track *TrackEffectState, tick int) []ProcessorCommand {
	step := tick % 3
	semitones := 0
	switch step {
	case 1:
		semitones = track.Arpeggio.X
	case 2:
		semitones = track.Arpeggio.Y
	}

	if track.CurrentPeriod != 0 {
		// MOD import: arpeggiate in period space, wrapping to DC (spec.md
		// §4.2/§3) rather than below the minimum playable period.
		shifted := track.CurrentPeriod / math.Pow(2, float64(semitones)/12)
		if shifted < minPeriod {
			shifted = 0
		}
		freq := periodToFrequency(clampPeriod(shifted))
		return []ProcessorCommand{{Kind: CmdSetFrequency, Frequency: freq}}
	}

	base := track.CurrentFrequency
	freq := base * math.Pow(2, float64(semitones)/12)
	return []ProcessorCommand{{Kind: CmdSetFrequency, Frequency: freq}}
}

func applyTonePorta(track *TrackEffectState) (ProcessorCommand, bool) {
	if !track.TonePortaOn {
		return ProcessorCommand{}, false
	}
	cur := currentPeriod(track)
	target := frequencyToPeriodOf(track.TargetFrequency)
	speed := float64(track.TonePortaSpeed)

	if cur < target {
		cur += speed
		if cur > target {
			cur = target
		}
	} else if cur > target {
		cur -= speed
		if cur < target {
			cur = target
		}
	}
	if cur == target {
		track.TonePortaOn = false
	}
	track.setFrequency(periodToFrequency(clampPeriod(cur)))
	freq := track.CurrentFrequency
	if track.Glissando {
		freq = quantizeToSemitone(freq)
	}
	return ProcessorCommand{Kind: CmdSetFrequency, Frequency: freq}, true
}

// quantizeToSemitone snaps a frequency to the nearest equal-tempered
// semitone, used when glissando control (E3x) is enabled during tone
// portamento (spec.md §4.2's extEffect table).
func quantizeToSemitone(freq float64) float64 {
	if freq <= 0 {
		return freq
	}
	midi := math.Round(69 + 12*math.Log2(freq/440))
	return 440 * math.Pow(2, (midi-69)/12)
}

func applyVibrato(track *TrackEffectState) []ProcessorCommand {
	v := waveformValue(track.Vibrato.Waveform, track.Vibrato.Phase, track.waveRNG())
	depth := float64(track.Vibrato.Depth)
	if track.Vibrato.Fine {
		depth /= 4
	}
	semitones := v * depth / 16
	track.Vibrato.Phase += track.Vibrato.Speed
	freq := track.CurrentFrequency * math.Pow(2, semitones/12)
	return []ProcessorCommand{{Kind: CmdSetFrequency, Frequency: freq}}
}

func applyTremolo(track *TrackEffectState) []ProcessorCommand {
	v := waveformValue(track.Tremolo.Waveform, track.Tremolo.Phase, track.waveRNG())
	depth := float64(track.Tremolo.Depth) / 64
	track.Tremolo.Phase += track.Tremolo.Speed
	vol := clampFloat(track.CurrentVolume+v*depth, 0, 1)
	return []ProcessorCommand{{Kind: CmdSetVolume, Volume: vol}}
}

func applyVolSlideMemory(track *TrackEffectState, param uint8) {
	if param != 0 {
		track.LastVolSlide = param
	}
	track.VolSlide.Mode = volSlideNormal
}

// applyVolSlideTick applies the Axy/5xy/6xy volume slide for the current
// tick. Axy (EffectVolSlide) uses a /128 divisor; 5xy/6xy's embedded slide
// keeps /64, per spec.md §4.2's per-effect table.
func applyVolSlideTick(track *TrackEffectState, p *Processor, divisor float64) []ProcessorCommand {
	up := track.LastVolSlide >> 4
	down := track.LastVolSlide & 0xF
	delta := float64(up)/divisor - float64(down)/divisor
	track.setVolume(track.CurrentVolume + delta)
	return []ProcessorCommand{{Kind: CmdSetVolume, Volume: track.CurrentVolume * p.GlobalVolume}}
}

// currentPeriod returns the track's pitch expressed as a period, deriving
// one from frequency if the track isn't already in period mode.
func currentPeriod(track *TrackEffectState) float64 {
	if track.CurrentPeriod != 0 {
		return track.CurrentPeriod
	}
	return frequencyToPeriod(track.CurrentFrequency)
}

func frequencyToPeriodOf(freq float64) float64 { return frequencyToPeriod(freq) }

// midiToFrequency converts a MIDI note number to Hz (A4=69=440Hz), used when
// a Step carries a MIDI note with no explicit Frequency (spec.md §9).
func midiToFrequency(midi int) float64 {
	return 440 * math.Pow(2, float64(midi-69)/12)
}
