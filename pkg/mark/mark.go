package mark

import (
	"iter"
	"regexp"
	"sort"
	"strconv"

	"github.com/quka-ai/ragstream/pkg/types"
)

var (
	NumberedCitationRegexp = regexp.MustCompile(`\[(\d+)\]`)
	// short ids are wrapped by a matching pair of [] or 【】.
	ShortIDRegexp = regexp.MustCompile(`\[([a-f0-9]{7})\]|【([a-f0-9]{7})】`)
)

type SegmentType int8

const (
	SEGMENT_TEXT SegmentType = iota + 1
	SEGMENT_NUMBERED_CITATION
	SEGMENT_SHORT_ID
)

// Segment is either plain text or a resolved reference. Text always holds the
// source characters the segment covers.
type Segment struct {
	Type     SegmentType
	Text     string
	Number   int
	ShortID  string
	Citation *types.NumberedCitation
	Passage  *types.PassageRecord
}

func (s Segment) IsReference() bool {
	return s.Type == SEGMENT_NUMBERED_CITATION || s.Type == SEGMENT_SHORT_ID
}

type marker struct {
	start, end int
	kind       SegmentType
	number     int
	shortID    string
}

// scanMarkers lists numbered markers before short id markers, then sorts by
// offset. The sort is stable, so at equal offsets numbered markers come first.
func scanMarkers(text string) []marker {
	var markers []marker
	for _, loc := range NumberedCitationRegexp.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			// overflowing digits can never index a citation
			n = 0
		}
		markers = append(markers, marker{start: loc[0], end: loc[1], kind: SEGMENT_NUMBERED_CITATION, number: n})
	}
	for _, loc := range ShortIDRegexp.FindAllStringSubmatchIndex(text, -1) {
		m := marker{start: loc[0], end: loc[1], kind: SEGMENT_SHORT_ID}
		if loc[2] >= 0 {
			m.shortID = text[loc[2]:loc[3]]
		} else {
			m.shortID = text[loc[4]:loc[5]]
		}
		markers = append(markers, m)
	}
	sort.SliceStable(markers, func(i, j int) bool {
		return markers[i].start < markers[j].start
	})
	return markers
}

func (m marker) resolve(text string, citations []types.NumberedCitation, table types.ShortIDTable) (Segment, bool) {
	seg := Segment{Type: m.kind, Text: text[m.start:m.end]}
	switch m.kind {
	case SEGMENT_NUMBERED_CITATION:
		if m.number < 1 || m.number > len(citations) {
			return seg, false
		}
		c := citations[m.number-1]
		seg.Number = m.number
		seg.Citation = &c
		return seg, true
	case SEGMENT_SHORT_ID:
		p, ok := table.Lookup(m.shortID)
		if !ok {
			return seg, false
		}
		seg.ShortID = m.shortID
		seg.Passage = &p
		return seg, true
	}
	return seg, false
}

// Resolve splits text into plain segments and resolved citation references.
// A numbered marker [n] resolves against citations[n-1], a short id marker
// against table. Unresolved markers are yielded as plain text. The sequence
// holds no state and can be iterated any number of times.
func Resolve(text string, citations []types.NumberedCitation, table types.ShortIDTable) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		var (
			markers = scanMarkers(text)
			cursor  int
		)
		for i := 0; i < len(markers); {
			// markers sharing a start offset compete for the same characters
			j := i + 1
			for j < len(markers) && markers[j].start == markers[i].start {
				j++
			}
			group := markers[i:j]
			i = j

			if group[0].start < cursor {
				continue
			}
			if group[0].start > cursor {
				if !yield(Segment{Type: SEGMENT_TEXT, Text: text[cursor:group[0].start]}) {
					return
				}
			}

			var (
				seg      Segment
				resolved bool
			)
			for _, m := range group {
				if seg, resolved = m.resolve(text, citations, table); resolved {
					cursor = m.end
					break
				}
			}
			if !resolved {
				seg = Segment{Type: SEGMENT_TEXT, Text: text[group[0].start:group[0].end]}
				cursor = group[0].end
			}
			if !yield(seg) {
				return
			}
		}
		if cursor < len(text) {
			yield(Segment{Type: SEGMENT_TEXT, Text: text[cursor:]})
		}
	}
}

// References returns only the resolved references of text, in order.
func References(text string, citations []types.NumberedCitation, table types.ShortIDTable) []Segment {
	var refs []Segment
	for seg := range Resolve(text, citations, table) {
		if seg.IsReference() {
			refs = append(refs, seg)
		}
	}
	return refs
}
