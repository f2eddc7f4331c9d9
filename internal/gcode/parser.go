package gcode

import (
	"math"
	"strconv"
	"strings"
)

// MoveKind classifies a motion block of a program.
type MoveKind int

const (
	Rapid   MoveKind = iota // G0 travel, XY or mixed
	Cut                     // G1 with XY motion
	Plunge                  // G1 straight down
	Retract                 // any straight move up
)

func (k MoveKind) String() string {
	switch k {
	case Rapid:
		return "rapid"
	case Cut:
		return "cut"
	case Plunge:
		return "plunge"
	case Retract:
		return "retract"
	}
	return "unknown"
}

// Position is an absolute machine position in millimetres.
type Position struct {
	X, Y, Z float64
}

// Move is one motion block, resolved against the modal state that preceded it.
type Move struct {
	Kind     MoveKind
	From, To Position
	Feed     float64 // mm/min in effect for the block
}

// planar is the XY distance covered by the move.
func (m Move) planar() float64 {
	return math.Hypot(m.To.X-m.From.X, m.To.Y-m.From.Y)
}

// Parse reads absolute-mode G0/G1 programs such as those written by
// Generator. The motion mode and feed rate are modal, so an axis-only
// block repeats the last G0 or G1. Arcs, canned cycles and incremental
// mode are not interpreted; blocks using them are ignored.
func Parse(code string) []Move {
	var (
		moves  []Move
		pos    Position
		feed   float64
		motion = -1
	)
	for _, line := range strings.Split(code, "\n") {
		words := blockWords(line)
		if len(words) == 0 {
			continue
		}
		next := pos
		hasAxis := false
		for _, w := range words {
			switch w.letter {
			case 'G':
				switch w.value {
				case 0, 1:
					motion = int(w.value)
				case 2, 3:
					motion = -1
				}
			case 'X':
				next.X, hasAxis = w.value, true
			case 'Y':
				next.Y, hasAxis = w.value, true
			case 'Z':
				next.Z, hasAxis = w.value, true
			case 'F':
				feed = w.value
			}
		}
		if !hasAxis || motion < 0 {
			continue
		}
		moves = append(moves, Move{
			Kind: kindOf(motion == 0, pos, next),
			From: pos,
			To:   next,
			Feed: feed,
		})
		pos = next
	}
	return moves
}

type word struct {
	letter byte
	value  float64
}

// blockWords splits one line into address words with comments removed.
// Both ";" trailing comments and "( )" inline comments are understood.
func blockWords(line string) []word {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	for {
		open := strings.IndexByte(line, '(')
		if open < 0 {
			break
		}
		end := strings.IndexByte(line[open:], ')')
		if end < 0 {
			line = line[:open]
			break
		}
		line = line[:open] + " " + line[open+end+1:]
	}
	line = strings.ToUpper(line)

	var words []word
	for i := 0; i < len(line); {
		c := line[i]
		if c < 'A' || c > 'Z' {
			i++
			continue
		}
		j := i + 1
		for j < len(line) && (line[j] == ' ' || line[j] == '\t') {
			j++
		}
		start := j
		for j < len(line) && strings.IndexByte("0123456789.+-", line[j]) >= 0 {
			j++
		}
		if j == start {
			i++
			continue
		}
		if v, err := strconv.ParseFloat(line[start:j], 64); err == nil {
			words = append(words, word{letter: c, value: v})
		}
		i = j
	}
	return words
}

func kindOf(rapid bool, from, to Position) MoveKind {
	const eps = 1e-3
	dz := to.Z - from.Z
	planar := math.Abs(to.X-from.X) > eps || math.Abs(to.Y-from.Y) > eps
	switch {
	case dz > eps && !planar:
		return Retract
	case rapid:
		return Rapid
	case dz < -eps && !planar:
		return Plunge
	default:
		return Cut
	}
}

// Stats summarizes a program.
type Stats struct {
	Moves       int     `json:"moves"`
	Plunges     int     `json:"plunges"`
	Retracts    int     `json:"retracts"`
	CutLength   float64 `json:"cut_length"`   // XY distance at feed, mm
	RapidLength float64 `json:"rapid_length"` // XY distance at rapid, mm
	MinZ        float64 `json:"min_z"`
	CutTime     float64 `json:"cut_time"` // minutes at programmed feed, plunges included
}

// Summarize totals a parsed program. Rapid time is left out because it
// depends on the machine rather than on the program.
func Summarize(moves []Move) Stats {
	s := Stats{Moves: len(moves)}
	for _, m := range moves {
		switch m.Kind {
		case Rapid:
			s.RapidLength += m.planar()
		case Cut:
			s.CutLength += m.planar()
			s.CutTime += feedMinutes(m.planar(), m.Feed)
		case Plunge:
			s.Plunges++
			s.CutTime += feedMinutes(m.From.Z-m.To.Z, m.Feed)
		case Retract:
			s.Retracts++
		}
		if m.To.Z < s.MinZ {
			s.MinZ = m.To.Z
		}
	}
	return s
}

// Measure parses and summarizes in one step.
func Measure(code string) Stats {
	return Summarize(Parse(code))
}

func feedMinutes(dist, feed float64) float64 {
	if feed <= 0 {
		return 0
	}
	return dist / feed
}
