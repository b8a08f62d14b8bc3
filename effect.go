package ft2engine

// EffectType enumerates the full FT2-style effect command surface this
// engine parses and executes (spec.md §6). Extended commands (Exy) are all
// represented as ExtEffect with a distinct ExtSubtype.
type EffectType int

const (
	EffectNone EffectType = iota
	EffectArpeggio
	EffectPortaUp
	EffectPortaDown
	EffectTonePorta
	EffectVibrato
	EffectTonePortaVol
	EffectVibratoVol
	EffectTremolo
	EffectSetPan
	EffectSampleOffset
	EffectVolSlide
	EffectPosJump
	EffectSetVolume
	EffectPatBreak
	EffectExtEffect
	EffectSetGlobalVol
	EffectGlobalVolSlide
	EffectKeyOff
	EffectPanSlide
	EffectRetrigVol
	EffectTremor
	EffectFineVibrato
)

// ExtSubtype enumerates the Exy extended-effect subcommands.
type ExtSubtype int

const (
	ExtNone ExtSubtype = iota
	ExtFinePortaUp
	ExtFinePortaDown
	ExtGlissandoCtrl
	ExtSetVibratoWave
	ExtSetFinetune
	ExtPatLoop
	ExtSetTremoloWave
	ExtRetrigger
	ExtFineVolUp
	ExtFineVolDown
	ExtNoteCut
	ExtNoteDelay
	ExtPatDelay
)

// EffectCommand is a tagged effect instance: a type plus the two 4-bit
// nibble parameters of the packed command byte, or (for ExtEffect) the
// extended subtype and its own nibble parameter.
type EffectCommand struct {
	Type       EffectType
	ParamX     uint8 // high nibble
	ParamY     uint8 // low nibble
	ExtSubtype ExtSubtype
}

// Param reassembles the original packed byte (x<<4 | y).
func (e EffectCommand) Param() uint8 { return e.ParamX<<4 | e.ParamY }

// Raw MOD effect command numbers (the low nibble of pattern byte 2).
const (
	modCmdArpeggio    = 0x0
	modCmdPortaUp     = 0x1
	modCmdPortaDown   = 0x2
	modCmdTonePorta   = 0x3
	modCmdVibrato     = 0x4
	modCmdTonePortVol = 0x5
	modCmdVibratoVol  = 0x6
	modCmdTremolo     = 0x7
	modCmdSetPan      = 0x8
	modCmdSampleOff   = 0x9
	modCmdVolSlide    = 0xA
	modCmdPosJump     = 0xB
	modCmdSetVolume   = 0xC
	modCmdPatBreak    = 0xD
	modCmdExtended    = 0xE
	modCmdSetSpeed    = 0xF
)

// Extended (Exy) subcommand nibbles.
const (
	extFinePortaUp    = 0x1
	extFinePortaDown  = 0x2
	extGlissandoCtrl  = 0x3
	extSetVibratoWave = 0x4
	extSetFinetune    = 0x5
	extPatLoop        = 0x6
	extSetTremoloWave = 0x7
	extRetrigger      = 0x9
	extFineVolUp      = 0xA
	extFineVolDown    = 0xB
	extNoteCut        = 0xC
	extNoteDelay      = 0xD
	extPatDelay       = 0xE
)

var extSubtypeTable = map[uint8]ExtSubtype{
	extFinePortaUp:    ExtFinePortaUp,
	extFinePortaDown:  ExtFinePortaDown,
	extGlissandoCtrl:  ExtGlissandoCtrl,
	extSetVibratoWave: ExtSetVibratoWave,
	extSetFinetune:    ExtSetFinetune,
	extPatLoop:        ExtPatLoop,
	extSetTremoloWave: ExtSetTremoloWave,
	extRetrigger:      ExtRetrigger,
	extFineVolUp:      ExtFineVolUp,
	extFineVolDown:    ExtFineVolDown,
	extNoteCut:        ExtNoteCut,
	extNoteDelay:      ExtNoteDelay,
	extPatDelay:       ExtPatDelay,
}

// DecodeMODEffect turns a raw (cmd, param) pair from a PatternCell into a
// tagged EffectCommand, the same byte-to-tagged-variant translation idiom
// the teacher's s3m.go uses for convertS3MEffect. Unknown commands decode to
// EffectNone: spec.md §4.2 says malformed/unknown effects degrade to no-op.
func DecodeMODEffect(cmd, param uint8) EffectCommand {
	x := param >> 4
	y := param & 0xF

	ec := EffectCommand{ParamX: x, ParamY: y}

	switch cmd {
	case modCmdArpeggio:
		if param == 0 {
			ec.Type = EffectNone
		} else {
			ec.Type = EffectArpeggio
		}
	case modCmdPortaUp:
		ec.Type = EffectPortaUp
	case modCmdPortaDown:
		ec.Type = EffectPortaDown
	case modCmdTonePorta:
		ec.Type = EffectTonePorta
	case modCmdVibrato:
		ec.Type = EffectVibrato
	case modCmdTonePortVol:
		ec.Type = EffectTonePortaVol
	case modCmdVibratoVol:
		ec.Type = EffectVibratoVol
	case modCmdTremolo:
		ec.Type = EffectTremolo
	case modCmdSetPan:
		ec.Type = EffectSetPan
	case modCmdSampleOff:
		ec.Type = EffectSampleOffset
	case modCmdVolSlide:
		ec.Type = EffectVolSlide
	case modCmdPosJump:
		ec.Type = EffectPosJump
	case modCmdSetVolume:
		ec.Type = EffectSetVolume
	case modCmdPatBreak:
		ec.Type = EffectPatBreak
	case modCmdExtended:
		ec.Type = EffectExtEffect
		ec.ExtSubtype = extSubtypeTable[x] // zero value ExtNone if unrecognized
	case modCmdSetSpeed:
		// Not surfaced as an EffectCommand: Step.SpeedCommand/TempoCommand
		// carry this (spec.md §4.3's first scheduling pass consumes it
		// directly), so from the effect processor's point of view this is a
		// no-op.
		ec.Type = EffectNone
	default:
		ec.Type = EffectNone
	}

	return ec
}

// FT2-only effect types (G/H/K/P/R/T/U) have no MOD nibble encoding — they
// exist for callers building EffectCommand values directly (e.g. from a
// format other than raw MOD bytes, or from tests), not from DecodeMODEffect.
